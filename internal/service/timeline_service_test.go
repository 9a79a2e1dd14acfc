package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"herbit/internal/ecoenzim"
	"herbit/internal/fermentation"
	"herbit/internal/model"
)

const herbitID = "69030abde003c64806d5b2bb"

func TestViewNotLinked(t *testing.T) {
	h := newHarness(t, at(2024, 1, 15, 10))
	_, err := h.timeline.View(context.Background(), &model.User{ID: 1})
	assert.ErrorIs(t, err, ErrNotLinked)
}

func TestViewBuildsTimeline(t *testing.T) {
	h := newHarness(t, at(2024, 1, 15, 10))
	user := h.linkedUser(t, herbitID)
	p := h.ongoing(herbitID, at(2024, 1, 1, 8))
	h.api.addUploads(
		checkin(p.ID, at(2024, 1, 1, 9)),
		checkin(p.ID, at(2024, 1, 14, 20)),
	)

	view, err := h.timeline.View(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, view.Stale)
	require.NotNil(t, view.Project)
	assert.Equal(t, 15, view.Timeline.CurrentDayIndex)
	assert.Equal(t, 2, view.Timeline.CheckedDays)
	assert.False(t, view.Timeline.CheckedToday())

	d16, ok := view.Timeline.Day(16)
	require.True(t, ok)
	assert.False(t, d16.Unlocked)
	d14, _ := view.Timeline.Day(14)
	assert.True(t, d14.Unlocked)
	assert.True(t, d14.Checked)
}

func TestViewNoProject(t *testing.T) {
	h := newHarness(t, at(2024, 1, 15, 10))
	user := h.linkedUser(t, herbitID)

	view, err := h.timeline.View(context.Background(), user)
	require.NoError(t, err)
	assert.Nil(t, view.Project)
	assert.False(t, view.Timeline.Started)
	assert.Equal(t, 0, view.Timeline.CurrentDayIndex)
}

func TestViewFallsBackToSnapshot(t *testing.T) {
	h := newHarness(t, at(2024, 1, 15, 10))
	user := h.linkedUser(t, herbitID)
	p := h.ongoing(herbitID, at(2024, 1, 1, 8))
	h.api.addUploads(checkin(p.ID, at(2024, 1, 15, 7)))

	_, err := h.timeline.View(context.Background(), user)
	require.NoError(t, err)

	h.api.setFail(ecoenzim.ErrUnavailable)
	h.now = at(2024, 1, 16, 10)

	view, err := h.timeline.View(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, view.Stale)
	assert.True(t, at(2024, 1, 15, 10).Equal(view.FetchedAt))
	assert.Equal(t, 16, view.Timeline.CurrentDayIndex, "stale data is rebuilt at the current time")
	assert.Equal(t, 1, view.Timeline.CheckedDays)
}

func TestViewRejectedByAPIIsNotServedFromSnapshot(t *testing.T) {
	for _, status := range []int{401, 403, 404} {
		h := newHarness(t, at(2024, 1, 15, 10))
		user := h.linkedUser(t, herbitID)
		p := h.ongoing(herbitID, at(2024, 1, 1, 8))
		h.api.addUploads(checkin(p.ID, at(2024, 1, 15, 7)))

		_, err := h.timeline.View(context.Background(), user)
		require.NoError(t, err)

		h.api.setFail(&ecoenzim.APIError{Endpoint: "projects.list", Status: status})
		view, err := h.timeline.View(context.Background(), user)
		var apiErr *ecoenzim.APIError
		require.ErrorAs(t, err, &apiErr, "status %d", status)
		assert.Equal(t, status, apiErr.Status)
		assert.Nil(t, view.Project)
		assert.Empty(t, view.Uploads)
	}
}

func TestViewServerErrorFallsBackToSnapshot(t *testing.T) {
	h := newHarness(t, at(2024, 1, 15, 10))
	user := h.linkedUser(t, herbitID)
	h.ongoing(herbitID, at(2024, 1, 1, 8))

	_, err := h.timeline.View(context.Background(), user)
	require.NoError(t, err)

	h.api.setFail(&ecoenzim.APIError{Endpoint: "projects.list", Status: 502})
	view, err := h.timeline.View(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, view.Stale)
}

func TestLoadLiveNeverServesSnapshot(t *testing.T) {
	h := newHarness(t, at(2024, 1, 15, 10))
	h.ongoing(herbitID, at(2024, 1, 1, 8))

	_, err := h.timeline.LoadLive(context.Background(), herbitID)
	require.NoError(t, err)

	h.api.setFail(ecoenzim.ErrUnavailable)
	_, err = h.timeline.LoadLive(context.Background(), herbitID)
	assert.ErrorIs(t, err, ecoenzim.ErrUnavailable)
}

func TestSharedFetchesAreScopedToToken(t *testing.T) {
	ctx := context.Background()
	anonymous := flightKey(ctx, herbitID)
	withToken := flightKey(ecoenzim.WithAccessToken(ctx, "tok"), herbitID)
	otherToken := flightKey(ecoenzim.WithAccessToken(ctx, "tok2"), herbitID)

	assert.NotEqual(t, anonymous, withToken)
	assert.NotEqual(t, withToken, otherToken)
	assert.Equal(t, withToken, flightKey(ecoenzim.WithAccessToken(ctx, "tok"), herbitID))
}

func TestUnreachable(t *testing.T) {
	assert.True(t, unreachable(ecoenzim.ErrUnavailable))
	assert.True(t, unreachable(errors.New("dial tcp: connection refused")))
	assert.True(t, unreachable(&ecoenzim.APIError{Status: 500}))
	assert.False(t, unreachable(&ecoenzim.APIError{Status: 401}))
	assert.False(t, unreachable(context.Canceled))
}

func TestViewWithoutSnapshotReturnsError(t *testing.T) {
	h := newHarness(t, at(2024, 1, 15, 10))
	user := h.linkedUser(t, herbitID)
	h.api.setFail(ecoenzim.ErrUnavailable)

	_, err := h.timeline.View(context.Background(), user)
	assert.ErrorIs(t, err, ecoenzim.ErrUnavailable)
}

func TestCheckIn(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, at(2024, 1, 15, 10))
	user := h.linkedUser(t, herbitID)
	p := h.ongoing(herbitID, at(2024, 1, 1, 8))

	view, err := h.timeline.CheckIn(ctx, user)
	require.NoError(t, err)
	assert.True(t, view.Timeline.CheckedToday())
	assert.Equal(t, 1, view.Timeline.CheckedDays)

	uploads := h.api.uploadsOf(p.ID)
	require.Len(t, uploads, 1)
	assert.True(t, uploads[0].IsCheckin())
	assert.Equal(t, float64(fermentation.CheckinPoints), uploads[0].PrePointsEarned)
	assert.Equal(t, herbitID, uploads[0].UserID)

	_, err = h.timeline.CheckIn(ctx, user)
	assert.ErrorIs(t, err, ErrAlreadyCheckedIn)
	assert.Len(t, h.api.uploadsOf(p.ID), 1)
}

func TestCheckInGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("no project", func(t *testing.T) {
		h := newHarness(t, at(2024, 1, 15, 10))
		_, err := h.timeline.CheckIn(ctx, h.linkedUser(t, herbitID))
		assert.ErrorIs(t, err, ErrNoProject)
	})

	t.Run("project without dates", func(t *testing.T) {
		h := newHarness(t, at(2024, 1, 15, 10))
		h.api.addProject(model.Project{ID: "p1", UserID: herbitID, Status: model.StatusNotStarted})
		_, err := h.timeline.CheckIn(ctx, h.linkedUser(t, herbitID))
		assert.ErrorIs(t, err, ErrNotStarted)
	})

	t.Run("window closed", func(t *testing.T) {
		h := newHarness(t, at(2024, 4, 2, 10))
		h.ongoing(herbitID, at(2024, 1, 1, 8))
		_, err := h.timeline.CheckIn(ctx, h.linkedUser(t, herbitID))
		assert.ErrorIs(t, err, ErrDayLocked)
	})

	t.Run("before start", func(t *testing.T) {
		h := newHarness(t, at(2024, 1, 1, 10))
		h.ongoing(herbitID, at(2024, 1, 3, 8))
		_, err := h.timeline.CheckIn(ctx, h.linkedUser(t, herbitID))
		assert.ErrorIs(t, err, ErrDayLocked)
	})

	t.Run("api down", func(t *testing.T) {
		h := newHarness(t, at(2024, 1, 15, 10))
		h.ongoing(herbitID, at(2024, 1, 1, 8))
		h.api.setFail(ecoenzim.ErrUnavailable)
		_, err := h.timeline.CheckIn(ctx, h.linkedUser(t, herbitID))
		assert.ErrorIs(t, err, ecoenzim.ErrUnavailable)
	})
}

func TestCheckInConcurrentSubmissions(t *testing.T) {
	h := newHarness(t, at(2024, 1, 15, 10))
	user := h.linkedUser(t, herbitID)
	p := h.ongoing(herbitID, at(2024, 1, 1, 8))

	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		go func() {
			u := *user
			_, err := h.timeline.CheckIn(context.Background(), &u)
			errs <- err
		}()
	}
	var ok, dup int
	for i := 0; i < 5; i++ {
		err := <-errs
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyCheckedIn):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 4, dup)
	assert.Len(t, h.api.uploadsOf(p.ID), 1)
}

func TestUploadMilestone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, at(2024, 1, 30, 10))
	user := h.linkedUser(t, herbitID)
	p := h.ongoing(herbitID, at(2024, 1, 1, 8))

	_, err := h.timeline.UploadMilestone(ctx, user, 4, "https://img.example/a.jpg")
	assert.ErrorIs(t, err, ErrInvalidMonth)

	_, err = h.timeline.UploadMilestone(ctx, user, 1, "not a url")
	assert.ErrorIs(t, err, ErrInvalidPhotoURL)
	_, err = h.timeline.UploadMilestone(ctx, user, 1, "ftp://img.example/a.jpg")
	assert.ErrorIs(t, err, ErrInvalidPhotoURL)

	_, err = h.timeline.UploadMilestone(ctx, user, 2, "https://img.example/a.jpg")
	assert.ErrorIs(t, err, ErrMilestoneNotDue)

	view, err := h.timeline.UploadMilestone(ctx, user, 1, " https://img.example/a.jpg ")
	require.NoError(t, err)
	photo, ok := view.Timeline.Photos[1]
	require.True(t, ok)
	assert.Equal(t, "https://img.example/a.jpg", photo.URL)
	assert.Equal(t, fermentation.MilestonePhotoPoints, view.Timeline.MilestonePoints)
	assert.False(t, view.Timeline.CheckedToday(), "a milestone photo is not a check-in")

	_, err = h.timeline.UploadMilestone(ctx, user, 1, "https://img.example/b.jpg")
	assert.ErrorIs(t, err, ErrMilestoneExists)

	uploads := h.api.uploadsOf(p.ID)
	require.Len(t, uploads, 1)
	month, ok := uploads[0].Milestone()
	assert.True(t, ok)
	assert.Equal(t, 1, month)
}

func TestUploadMilestoneWithoutPhotoURLCounts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, at(2024, 1, 30, 10))
	user := h.linkedUser(t, herbitID)
	p := h.ongoing(herbitID, at(2024, 1, 1, 8))
	bare := milestone(p.ID, 1, at(2024, 1, 30, 8))
	bare.PhotoURL = ""
	h.api.addUploads(bare)

	_, err := h.timeline.UploadMilestone(ctx, user, 1, "https://img.example/a.jpg")
	assert.ErrorIs(t, err, ErrMilestoneExists)
	assert.Len(t, h.api.uploadsOf(p.ID), 1)
}

func TestStartFermentation(t *testing.T) {
	ctx := context.Background()
	now := at(2024, 2, 10, 21)
	h := newHarness(t, now)
	user := h.linkedUser(t, herbitID)

	_, err := h.timeline.StartFermentation(ctx, user, -1)
	assert.ErrorIs(t, err, ErrInvalidWeight)

	view, err := h.timeline.StartFermentation(ctx, user, 3)
	require.NoError(t, err)
	require.NotNil(t, view.Project)
	assert.True(t, now.Equal(*view.Project.StartDate))
	assert.True(t, now.AddDate(0, 0, 90).Equal(*view.Project.EndDate))
	assert.Equal(t, 1, view.Timeline.CurrentDayIndex)
	assert.Empty(t, view.Timeline.Warnings)
	assert.Equal(t, fermentation.RecipeFor(3), view.Timeline.Recipe)

	_, err = h.timeline.StartFermentation(ctx, user, 3)
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestAddWaste(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, at(2024, 2, 10, 9))
	user := h.linkedUser(t, herbitID)

	for _, kg := range []float64{0, -2, 0.04, 0.1, 1000} {
		_, err := h.timeline.AddWaste(ctx, user, kg)
		assert.ErrorIs(t, err, ErrInvalidWeight, "kg=%v", kg)
	}

	view, err := h.timeline.AddWaste(ctx, user, 1.5)
	require.NoError(t, err)
	require.NotNil(t, view.Project, "a project is created on the first waste entry")
	assert.Equal(t, 1.5, view.Timeline.TotalWeightKg)
	assert.Equal(t, float64(15), view.Timeline.TotalPrePoints)
	assert.True(t, view.Timeline.CheckedToday())

	_, err = h.timeline.AddWaste(ctx, user, 2)
	assert.ErrorIs(t, err, ErrAlreadyCheckedIn, "one entry per day")

	h.now = at(2024, 2, 11, 9)
	view, err = h.timeline.AddWaste(ctx, user, 2)
	require.NoError(t, err)
	assert.Equal(t, 3.5, view.Timeline.TotalWeightKg)
	assert.Equal(t, 2, view.Timeline.CheckedDays)
	assert.Len(t, h.api.uploadsOf(view.Project.ID), 2)

	h.now = at(2024, 2, 12, 9)
	view, err = h.timeline.AddWaste(ctx, user, 0.15)
	require.NoError(t, err)
	assert.Equal(t, 3.7, view.Timeline.TotalWeightKg, "smallest entry still counts as waste")
}

func TestAddWasteAfterCheckIn(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, at(2024, 1, 15, 10))
	user := h.linkedUser(t, herbitID)
	p := h.ongoing(herbitID, at(2024, 1, 1, 8))

	_, err := h.timeline.CheckIn(ctx, user)
	require.NoError(t, err)

	_, err = h.timeline.AddWaste(ctx, user, 2)
	assert.ErrorIs(t, err, ErrAlreadyCheckedIn)

	var sameDay int
	for _, u := range h.api.uploadsOf(p.ID) {
		if u.IsCheckin() {
			sameDay++
		}
	}
	assert.Equal(t, 1, sameDay)
}

func TestClaim(t *testing.T) {
	ctx := context.Background()

	t.Run("not eligible", func(t *testing.T) {
		h := newHarness(t, at(2024, 4, 1, 10))
		user := h.linkedUser(t, herbitID)
		p := h.ongoing(herbitID, at(2024, 1, 1, 8))
		h.completeRun(p)
		uploads := h.api.uploads
		h.api.uploads = append(uploads[:44:44], uploads[45:]...)

		_, elig, err := h.timeline.Claim(ctx, user)
		assert.ErrorIs(t, err, ErrNotEligible)
		assert.Contains(t, err.Error(), string(fermentation.BlockerMissingCheckins))
		assert.Equal(t, []int{45}, elig.MissingDays)
	})

	t.Run("window still open", func(t *testing.T) {
		h := newHarness(t, at(2024, 3, 1, 10))
		user := h.linkedUser(t, herbitID)
		h.ongoing(herbitID, at(2024, 1, 1, 8))

		_, elig, err := h.timeline.Claim(ctx, user)
		assert.ErrorIs(t, err, ErrNotEligible)
		assert.Contains(t, elig.Blockers, fermentation.BlockerWindowOpen)
	})

	t.Run("eligible", func(t *testing.T) {
		h := newHarness(t, at(2024, 4, 1, 10))
		user := h.linkedUser(t, herbitID)
		p := h.ongoing(herbitID, at(2024, 1, 1, 8))
		h.completeRun(p)

		res, elig, err := h.timeline.Claim(ctx, user)
		require.NoError(t, err)
		assert.True(t, elig.Claimable)
		assert.Equal(t, float64(240), res.Points)
		assert.True(t, h.api.projects[0].IsClaimed)
	})

	t.Run("already claimed", func(t *testing.T) {
		h := newHarness(t, at(2024, 4, 1, 10))
		user := h.linkedUser(t, herbitID)
		start := at(2024, 1, 1, 0)
		h.api.addProject(model.Project{ID: "p1", UserID: herbitID, StartDate: &start, Status: model.StatusOngoing, IsClaimed: true})

		_, _, err := h.timeline.Claim(ctx, user)
		assert.ErrorIs(t, err, ErrAlreadyClaimed)
	})
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, at(2024, 1, 15, 10))
	user := h.linkedUser(t, herbitID)
	h.ongoing(herbitID, at(2024, 1, 1, 8))

	_, err := h.timeline.View(ctx, user)
	require.NoError(t, err)

	require.NoError(t, h.timeline.Reset(ctx, user))
	assert.Empty(t, h.api.projects)
	_, _, found, err := h.db.Load(ctx, herbitID)
	require.NoError(t, err)
	assert.False(t, found)

	assert.ErrorIs(t, h.timeline.Reset(ctx, user), ErrNoProject)
}

func TestRefreshAll(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, at(2024, 1, 15, 10))
	h.ongoing("a", at(2024, 1, 1, 8))
	h.ongoing("b", at(2024, 1, 2, 8))

	users := []model.User{{ID: 1, HerbitUserID: "a"}, {ID: 2, HerbitUserID: "b"}, {ID: 3}}
	failed, err := h.timeline.RefreshAll(ctx, users)
	require.NoError(t, err)
	assert.Equal(t, 1, failed, "unlinked user counts as a failure")

	payload, _, found, err := h.db.Load(ctx, "b")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "p-b", payload.Project.ID)
}

func TestNormalizePhotoURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"https://img.example/x.jpg", "https://img.example/x.jpg", true},
		{"  http://a.b/c  ", "http://a.b/c", true},
		{"", "", false},
		{"/relative/path.jpg", "", false},
		{"javascript:alert(1)", "", false},
	}
	for _, tt := range tests {
		got, err := normalizePhotoURL(tt.in)
		if !tt.ok {
			assert.ErrorIs(t, err, ErrInvalidPhotoURL, tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestLockIsPerUser(t *testing.T) {
	h := newHarness(t, time.Now())
	unlockA := h.timeline.lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := h.timeline.lock("b")
		unlockB()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock for b blocked behind a")
	}
	unlockA()
}

func TestLockEntriesAreReleased(t *testing.T) {
	h := newHarness(t, time.Now())
	unlock := h.timeline.lock("a")

	acquired := make(chan func())
	go func() { acquired <- h.timeline.lock("a") }()

	require.Eventually(t, func() bool {
		h.timeline.mu.Lock()
		defer h.timeline.mu.Unlock()
		return h.timeline.locks["a"] != nil && h.timeline.locks["a"].refs == 2
	}, time.Second, 5*time.Millisecond)

	unlock()
	second := <-acquired
	h.timeline.mu.Lock()
	assert.Len(t, h.timeline.locks, 1, "still held by the waiter")
	h.timeline.mu.Unlock()

	second()
	h.timeline.mu.Lock()
	assert.Empty(t, h.timeline.locks)
	h.timeline.mu.Unlock()
}
