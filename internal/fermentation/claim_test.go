package fermentation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"herbit/internal/model"
)

func fullRun(anchor time.Time, months ...int) []model.Upload {
	var uploads []model.Upload
	for d := 0; d < TotalDays; d++ {
		uploads = append(uploads, checkinAt(anchor.AddDate(0, 0, d).Add(8*time.Hour)))
	}
	for _, m := range months {
		uploads = append(uploads, milestoneAt(m, anchor.AddDate(0, 0, m*DaysPerMonth-1).Add(12*time.Hour), "https://img/m.jpg"))
	}
	return uploads
}

func claimFor(p model.Project, uploads []model.Upload, now time.Time) Eligibility {
	anchor, _ := ResolveAnchor(p, time.UTC)
	return EvaluateClaim(p, uploads, BuildCheckins(anchor, uploads), anchor, now)
}

func TestCanClaimFinal(t *testing.T) {
	anchor := day(2024, 1, 1)
	ongoing := model.Project{ID: "p1", StartDate: &anchor, Status: model.StatusOngoing}
	now := day(2024, 4, 1)

	t.Run("complete run is claimable", func(t *testing.T) {
		e := claimFor(ongoing, fullRun(anchor, 1, 2, 3), now)
		assert.True(t, e.Claimable)
		assert.Empty(t, e.Blockers)
		assert.Equal(t, 90, e.CheckedDays)
		assert.Equal(t, 90, e.CurrentDay)
	})

	t.Run("missing month two photo", func(t *testing.T) {
		e := claimFor(ongoing, fullRun(anchor, 1, 3), now)
		assert.False(t, e.Claimable)
		assert.Equal(t, []int{2}, e.MissingMilestones)
		assert.Equal(t, []ClaimBlocker{BlockerMissingMilestone}, e.Blockers)
	})

	t.Run("zero uploads", func(t *testing.T) {
		assert.False(t, CanClaimFinal(ongoing, nil, BuildCheckins(anchor, nil), anchor, now))
	})

	t.Run("gap in check-ins", func(t *testing.T) {
		uploads := fullRun(anchor, 1, 2, 3)
		uploads = append(uploads[:44], uploads[45:]...)
		e := claimFor(ongoing, uploads, now)
		assert.False(t, e.Claimable)
		assert.Equal(t, []int{45}, e.MissingDays)
		assert.Contains(t, e.Blockers, BlockerMissingCheckins)
	})

	t.Run("duplicate check-ins do not fill gaps", func(t *testing.T) {
		uploads := fullRun(anchor, 1, 2, 3)
		uploads[44] = checkinAt(anchor.Add(20 * time.Hour))
		e := claimFor(ongoing, uploads, now)
		assert.Equal(t, 89, e.CheckedDays)
		assert.False(t, e.Claimable)
	})

	t.Run("window still open", func(t *testing.T) {
		e := claimFor(ongoing, fullRun(anchor, 1, 2, 3), day(2024, 3, 29))
		assert.Equal(t, 89, e.CurrentDay)
		assert.Equal(t, []ClaimBlocker{BlockerWindowOpen}, e.Blockers)
	})

	t.Run("already claimed", func(t *testing.T) {
		claimed := ongoing
		claimed.IsClaimed = true
		e := claimFor(claimed, fullRun(anchor, 1, 2, 3), now)
		assert.Equal(t, []ClaimBlocker{BlockerAlreadyClaimed}, e.Blockers)

		completed := ongoing
		completed.Status = model.StatusCompleted
		assert.False(t, claimFor(completed, fullRun(anchor, 1, 2, 3), now).Claimable)
	})

	t.Run("not started", func(t *testing.T) {
		e := claimFor(model.Project{ID: "p2"}, nil, now)
		assert.Contains(t, e.Blockers, BlockerNotStarted)
		assert.Equal(t, 0, e.CurrentDay)
	})
}
