package model

import "time"

// Upload is an immutable event on a project: a daily check-in, a milestone photo or
// a waste-weight entry.
type Upload struct {
	ID              string    `json:"_id,omitempty"`
	ProjectID       string    `json:"ecoenzimProjectId"`
	UserID          string    `json:"userId,omitempty"`
	UploadedDate    time.Time `json:"uploadedDate"`
	MonthNumber     *int      `json:"monthNumber,omitempty"`
	PhotoURL        string    `json:"photoUrl,omitempty"`
	PrePointsEarned float64   `json:"prePointsEarned"`
	Verified        bool      `json:"verified,omitempty"`
}

// IsCheckin reports whether the upload carries no month number.
func (u Upload) IsCheckin() bool {
	return u.MonthNumber == nil || *u.MonthNumber == 0
}

// Milestone returns the month number of a milestone photo upload.
func (u Upload) Milestone() (int, bool) {
	if u.MonthNumber == nil {
		return 0, false
	}
	m := *u.MonthNumber
	if m < 1 || m > 3 {
		return 0, false
	}
	return m, true
}
