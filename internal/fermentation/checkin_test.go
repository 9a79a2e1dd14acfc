package fermentation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"herbit/internal/model"
)

func checkinAt(t time.Time) model.Upload {
	return model.Upload{ProjectID: "p1", UploadedDate: t, PrePointsEarned: CheckinPoints}
}

func milestoneAt(month int, t time.Time, url string) model.Upload {
	return model.Upload{ProjectID: "p1", UploadedDate: t, MonthNumber: ptr(month), PhotoURL: url, PrePointsEarned: MilestonePhotoPoints}
}

func TestBuildCheckinsEmpty(t *testing.T) {
	assert.Empty(t, BuildCheckins(day(2024, 1, 1), nil))
	assert.Empty(t, BuildCheckins(time.Time{}, []model.Upload{checkinAt(day(2024, 1, 1))}))
}

func TestBuildCheckins(t *testing.T) {
	anchor := day(2024, 1, 1)
	uploads := []model.Upload{
		checkinAt(time.Date(2024, 1, 3, 18, 0, 0, 0, time.UTC)),
		checkinAt(time.Date(2024, 1, 3, 7, 0, 0, 0, time.UTC)),
		checkinAt(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)),
		milestoneAt(1, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), "https://img/1.jpg"),
		{ProjectID: "p1", UploadedDate: day(2024, 1, 4), MonthNumber: ptr(0)},
		checkinAt(day(2023, 12, 31)),
		checkinAt(day(2024, 3, 31)),
	}

	checkins, dropped := aggregateCheckins(anchor, uploads)

	assert.Equal(t, 2, dropped)
	assert.Len(t, checkins, 3)
	assert.Equal(t, time.Date(2024, 1, 3, 7, 0, 0, 0, time.UTC), checkins[3].At, "earliest upload wins")
	assert.True(t, checkins[1].Checked)
	assert.False(t, checkins[2].Checked, "milestone photo is not a check-in")
	assert.True(t, checkins[4].Checked, "month number 0 counts as absent")
	assert.Equal(t, 3, checkins.Count())
}

func TestBuildPhotos(t *testing.T) {
	uploads := []model.Upload{
		milestoneAt(2, day(2024, 3, 2), "https://img/2b.jpg"),
		milestoneAt(2, day(2024, 3, 1), "https://img/2a.jpg"),
		milestoneAt(1, day(2024, 1, 30), ""),
		{ProjectID: "p1", UploadedDate: day(2024, 3, 1), MonthNumber: ptr(4), PhotoURL: "https://img/4.jpg"},
		checkinAt(day(2024, 1, 1)),
	}

	photos := BuildPhotos(uploads)

	assert.Len(t, photos, 1)
	assert.Equal(t, "https://img/2a.jpg", photos[2].URL)
	assert.Equal(t, map[int]bool{1: true, 2: true}, MilestonesUploaded(uploads))
}

func TestMilestoneDue(t *testing.T) {
	assert.False(t, MilestoneDue(1, 29))
	assert.True(t, MilestoneDue(1, 30))
	assert.False(t, MilestoneDue(2, 59))
	assert.True(t, MilestoneDue(3, 90))
	assert.False(t, MilestoneDue(4, 90))
	assert.False(t, MilestoneDue(0, 90))
}
