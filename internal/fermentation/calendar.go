// Package fermentation derives the 90-day eco-enzyme schedule from a project and its
// uploads. Every function is pure: the current time is always passed in.
package fermentation

import (
	"errors"
	"time"

	"herbit/internal/model"
)

const (
	TotalDays    = 90
	DaysPerMonth = 30
	DaysPerWeek  = 7
	Months       = 3
	Weeks        = 13

	CheckinPoints        = 1
	MilestonePhotoPoints = 50
	TotalMilestonePoints = Months * MilestonePhotoPoints
)

var (
	// ErrInvalidAnchor is returned by callers that need an error for a project
	// without start or harvest date.
	ErrInvalidAnchor = errors.New("fermentation has no start or harvest date")
	ErrDayOutOfRange = errors.New("day index out of range")
)

// WarningKind classifies non-fatal findings about the input data.
type WarningKind string

const (
	WarningDataIntegrity    WarningKind = "data_integrity"
	WarningOutOfRangeUpload WarningKind = "out_of_range_upload"
)

// Warning is a non-fatal finding. Callers log it; it never stops a computation.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}

// Midnight returns the start of t's calendar day in loc.
func Midnight(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// ResolveAnchor returns midnight of fermentation day 1. The start date wins when
// present; otherwise the harvest date minus 90 days is used. A zero time means the
// fermentation has not started.
func ResolveAnchor(p model.Project, loc *time.Location) (time.Time, []Warning) {
	var start, end time.Time
	if p.StartDate != nil && !p.StartDate.IsZero() {
		start = Midnight(*p.StartDate, loc)
	}
	if p.EndDate != nil && !p.EndDate.IsZero() {
		end = Midnight(*p.EndDate, loc)
	}

	switch {
	case !start.IsZero():
		var warnings []Warning
		if !end.IsZero() && !end.Equal(start.AddDate(0, 0, TotalDays)) {
			warnings = append(warnings, Warning{
				Kind: WarningDataIntegrity,
				Message: "harvest date " + end.Format(time.DateOnly) +
					" is not 90 days after start date " + start.Format(time.DateOnly) + "; using start date",
			})
		}
		return start, warnings
	case !end.IsZero():
		return end.AddDate(0, 0, -TotalDays), nil
	default:
		return time.Time{}, nil
	}
}

// HarvestDate is the day after the last fermentation day.
func HarvestDate(anchor time.Time) time.Time {
	if anchor.IsZero() {
		return time.Time{}
	}
	return anchor.AddDate(0, 0, TotalDays)
}

// daysBetween counts calendar days from a to b in a's location, ignoring DST shifts.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua) / (24 * time.Hour))
}

// DayIndexForDate maps t to its 1-based day in the window: 0 before the anchor and
// 90 from the last day on.
func DayIndexForDate(anchor, t time.Time) int {
	if anchor.IsZero() {
		return 0
	}
	diff := daysBetween(anchor, t)
	switch {
	case diff < 0:
		return 0
	case diff >= TotalDays:
		return TotalDays
	default:
		return diff + 1
	}
}

// DateForDayIndex is the inverse of DayIndexForDate for days 1..90.
func DateForDayIndex(anchor time.Time, dayIndex int) (time.Time, error) {
	if anchor.IsZero() {
		return time.Time{}, ErrInvalidAnchor
	}
	if dayIndex < 1 || dayIndex > TotalDays {
		return time.Time{}, ErrDayOutOfRange
	}
	return anchor.AddDate(0, 0, dayIndex-1), nil
}

// CurrentDayIndex is DayIndexForDate evaluated at now.
func CurrentDayIndex(anchor, now time.Time) int {
	return DayIndexForDate(anchor, now)
}

// ElapsedDays counts the full days since the anchor, clamped to [0,90].
func ElapsedDays(anchor, now time.Time) int {
	if anchor.IsZero() {
		return 0
	}
	diff := daysBetween(anchor, now)
	if diff < 0 {
		return 0
	}
	if diff > TotalDays {
		return TotalDays
	}
	return diff
}

func dateOrZero(anchor time.Time, dayIndex int) time.Time {
	d, err := DateForDayIndex(anchor, dayIndex)
	if err != nil {
		return time.Time{}
	}
	return d
}
