package fermentation

import (
	"time"

	"herbit/internal/model"
)

// Checkin marks a fermentation day as done.
type Checkin struct {
	Checked bool      `json:"checked"`
	At      time.Time `json:"at"`
}

// Checkins is keyed by 1-based day index.
type Checkins map[int]Checkin

// Count returns the number of distinct checked days.
func (c Checkins) Count() int {
	n := 0
	for day, ci := range c {
		if ci.Checked && day >= 1 && day <= TotalDays {
			n++
		}
	}
	return n
}

// Photo is the milestone picture submitted for a month.
type Photo struct {
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// BuildCheckins collects the daily check-ins inside the window. Milestone uploads are
// skipped, the earliest upload wins for a day and uploads outside days 1..90 are
// dropped.
func BuildCheckins(anchor time.Time, uploads []model.Upload) Checkins {
	checkins, _ := aggregateCheckins(anchor, uploads)
	return checkins
}

func aggregateCheckins(anchor time.Time, uploads []model.Upload) (Checkins, int) {
	checkins := make(Checkins)
	if anchor.IsZero() {
		return checkins, 0
	}
	dropped := 0
	for _, u := range uploads {
		if !u.IsCheckin() {
			continue
		}
		diff := daysBetween(anchor, u.UploadedDate)
		if diff < 0 || diff >= TotalDays {
			dropped++
			continue
		}
		day := diff + 1
		if prev, ok := checkins[day]; ok && !u.UploadedDate.Before(prev.At) {
			continue
		}
		checkins[day] = Checkin{Checked: true, At: u.UploadedDate}
	}
	return checkins, dropped
}

// BuildPhotos returns the earliest milestone photo per month.
func BuildPhotos(uploads []model.Upload) map[int]Photo {
	photos := make(map[int]Photo)
	for _, u := range uploads {
		month, ok := u.Milestone()
		if !ok || u.PhotoURL == "" {
			continue
		}
		if prev, ok := photos[month]; ok && !u.UploadedDate.Before(prev.UploadedAt) {
			continue
		}
		photos[month] = Photo{URL: u.PhotoURL, UploadedAt: u.UploadedDate}
	}
	return photos
}

// MilestonesUploaded reports which month numbers have a milestone upload.
func MilestonesUploaded(uploads []model.Upload) map[int]bool {
	done := make(map[int]bool, Months)
	for _, u := range uploads {
		if month, ok := u.Milestone(); ok {
			done[month] = true
		}
	}
	return done
}

// Unlocked reports whether a day may be checked in given the current day.
func Unlocked(dayIndex, currentDay int) bool {
	return dayIndex >= 1 && dayIndex <= TotalDays && dayIndex <= currentDay
}

// MilestoneDue reports whether the photo for month may be submitted.
func MilestoneDue(month, currentDay int) bool {
	return month >= 1 && month <= Months && currentDay >= month*DaysPerMonth
}
