package fermentation

import (
	"fmt"
	"time"

	"herbit/internal/model"
)

// Timeline is the read-only view model handed to presentation code.
type Timeline struct {
	ProjectID       string              `json:"projectId,omitempty"`
	Status          model.ProjectStatus `json:"status"`
	Started         bool                `json:"started"`
	Claimed         bool                `json:"claimed"`
	Anchor          time.Time           `json:"anchor,omitempty"`
	HarvestDate     time.Time           `json:"harvestDate,omitempty"`
	CurrentDayIndex int                 `json:"currentDayIndex"`
	ActiveWeek      int                 `json:"activeWeek"`
	Days            []DayState          `json:"days"`
	CheckedDays     int                 `json:"checkedDays"`
	Photos          map[int]Photo       `json:"photos"`
	Milestones      map[int]bool        `json:"milestones"`
	Months          []MonthSummary      `json:"months"`
	Weeks           []WeekBucket        `json:"weeks"`
	Eligibility     Eligibility         `json:"eligibility"`
	CanClaimFinal   bool                `json:"canClaimFinal"`
	DaysCompleted   int                 `json:"daysCompleted"`
	DaysRemaining   int                 `json:"daysRemaining"`
	ProgressPct     int                 `json:"progressPct"`
	TotalPrePoints  float64             `json:"totalPrePoints"`
	TotalWeightKg   float64             `json:"totalWeightKg"`
	Recipe          Recipe              `json:"recipe"`
	MilestonePoints int                 `json:"milestonePoints"`
	DroppedUploads  int                 `json:"droppedUploads"`
	Warnings        []Warning           `json:"warnings,omitempty"`
}

// Day returns the state of a 1-based day, or false when out of range.
func (t Timeline) Day(dayIndex int) (DayState, bool) {
	if dayIndex < 1 || dayIndex > len(t.Days) {
		return DayState{}, false
	}
	return t.Days[dayIndex-1], true
}

// CheckedToday reports whether the current day already has a check-in.
func (t Timeline) CheckedToday() bool {
	d, ok := t.Day(t.CurrentDayIndex)
	return ok && d.Checked
}

// Build derives the timeline of a project at now. A nil project yields the
// not-started view.
func Build(p *model.Project, uploads []model.Upload, now time.Time, loc *time.Location) Timeline {
	var project model.Project
	if p != nil {
		project = *p
	}
	if project.Status == "" {
		project.Status = model.StatusNotStarted
	}

	anchor, warnings := ResolveAnchor(project, loc)
	checkins, dropped := aggregateCheckins(anchor, uploads)
	if dropped > 0 {
		warnings = append(warnings, Warning{
			Kind:    WarningOutOfRangeUpload,
			Message: fmt.Sprintf("%d check-in upload(s) outside days 1-%d ignored", dropped, TotalDays),
		})
	}
	current := CurrentDayIndex(anchor, now)
	elapsed := ElapsedDays(anchor, now)

	t := Timeline{
		ProjectID:       project.ID,
		Status:          project.Status,
		Started:         !anchor.IsZero(),
		Claimed:         project.Closed(),
		Anchor:          anchor,
		HarvestDate:     HarvestDate(anchor),
		CurrentDayIndex: current,
		ActiveWeek:      ActiveWeek(current),
		Days:            make([]DayState, 0, TotalDays),
		CheckedDays:     checkins.Count(),
		Photos:          BuildPhotos(uploads),
		Milestones:      MilestonesUploaded(uploads),
		Months:          make([]MonthSummary, 0, Months),
		Weeks:           WeekBuckets(0, checkins, anchor, current),
		DaysCompleted:   elapsed,
		DaysRemaining:   TotalDays - elapsed,
		ProgressPct:     percent(elapsed, TotalDays),
		TotalPrePoints:  TotalPrePoints(uploads),
		TotalWeightKg:   TotalWeightKg(project, uploads),
		MilestonePoints: MilestonePoints(uploads),
		DroppedUploads:  dropped,
		Warnings:        warnings,
	}
	t.Recipe = RecipeFor(t.TotalWeightKg)

	for day := 1; day <= TotalDays; day++ {
		t.Days = append(t.Days, dayState(day, checkins, anchor, current))
	}
	for month := 1; month <= Months; month++ {
		t.Months = append(t.Months, Summarize(month, checkins, anchor, current))
	}

	t.Eligibility = EvaluateClaim(project, uploads, checkins, anchor, now)
	t.CanClaimFinal = t.Eligibility.Claimable
	return t
}
