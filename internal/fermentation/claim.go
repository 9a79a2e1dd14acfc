package fermentation

import (
	"time"

	"herbit/internal/model"
)

// ClaimBlocker names a reason the final reward cannot be claimed yet.
type ClaimBlocker string

const (
	BlockerNotStarted       ClaimBlocker = "not_started"
	BlockerWindowOpen       ClaimBlocker = "window_open"
	BlockerMissingCheckins  ClaimBlocker = "missing_checkins"
	BlockerMissingMilestone ClaimBlocker = "missing_milestone"
	BlockerAlreadyClaimed   ClaimBlocker = "already_claimed"
)

// Eligibility is the advisory result of EvaluateClaim. The API re-validates claims.
type Eligibility struct {
	Claimable         bool           `json:"claimable"`
	CurrentDay        int            `json:"currentDay"`
	CheckedDays       int            `json:"checkedDays"`
	MissingDays       []int          `json:"missingDays,omitempty"`
	MissingMilestones []int          `json:"missingMilestones,omitempty"`
	Blockers          []ClaimBlocker `json:"blockers,omitempty"`
}

// EvaluateClaim checks the final claim rules: the window has elapsed, all 90 days are
// checked in, the three milestone photos exist and the project is not claimed yet.
func EvaluateClaim(p model.Project, uploads []model.Upload, checkins Checkins, anchor, now time.Time) Eligibility {
	e := Eligibility{
		CurrentDay:  CurrentDayIndex(anchor, now),
		CheckedDays: checkins.Count(),
	}

	if anchor.IsZero() {
		e.Blockers = append(e.Blockers, BlockerNotStarted)
	} else if e.CurrentDay < TotalDays {
		e.Blockers = append(e.Blockers, BlockerWindowOpen)
	}

	if e.CheckedDays < TotalDays {
		for day := 1; day <= e.CurrentDay; day++ {
			if !checkins[day].Checked {
				e.MissingDays = append(e.MissingDays, day)
			}
		}
		e.Blockers = append(e.Blockers, BlockerMissingCheckins)
	}

	done := MilestonesUploaded(uploads)
	for month := 1; month <= Months; month++ {
		if !done[month] {
			e.MissingMilestones = append(e.MissingMilestones, month)
		}
	}
	if len(e.MissingMilestones) > 0 {
		e.Blockers = append(e.Blockers, BlockerMissingMilestone)
	}

	if p.Closed() {
		e.Blockers = append(e.Blockers, BlockerAlreadyClaimed)
	}

	e.Claimable = len(e.Blockers) == 0
	return e
}

// CanClaimFinal reports whether EvaluateClaim finds no blocker.
func CanClaimFinal(p model.Project, uploads []model.Upload, checkins Checkins, anchor, now time.Time) bool {
	return EvaluateClaim(p, uploads, checkins, anchor, now).Claimable
}
