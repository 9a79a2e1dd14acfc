package model

import "time"

// ProjectStatus is the lifecycle state reported by the ecoenzim API.
type ProjectStatus string

const (
	StatusNotStarted ProjectStatus = "not_started"
	StatusOngoing    ProjectStatus = "ongoing"
	StatusCompleted  ProjectStatus = "completed"
)

// Project is a fermentation batch as served by the ecoenzim API.
type Project struct {
	ID                 string        `json:"_id"`
	UserID             string        `json:"userId"`
	OrganicWasteWeight float64       `json:"organicWasteWeight,omitempty"`
	StartDate          *time.Time    `json:"startDate,omitempty"`
	EndDate            *time.Time    `json:"endDate,omitempty"`
	Status             ProjectStatus `json:"status"`
	Started            bool          `json:"started,omitempty"`
	IsClaimed          bool          `json:"isClaimed"`
	Points             float64       `json:"points,omitempty"`
	PrePointsEarned    float64       `json:"prePointsEarned,omitempty"`
	CanClaim           bool          `json:"canClaim,omitempty"`
	ClaimedAt          *time.Time    `json:"claimedAt,omitempty"`
}

// Active reports whether the project is the user's current batch.
func (p Project) Active() bool {
	return p.Status == StatusOngoing || p.Status == StatusNotStarted || p.Started
}

// Closed reports whether the final reward was already taken.
func (p Project) Closed() bool {
	return p.Status == StatusCompleted || p.IsClaimed
}

// NewProject is the body of POST /projects.
type NewProject struct {
	UserID             string    `json:"userId"`
	OrganicWasteWeight float64   `json:"organicWasteWeight"`
	StartDate          time.Time `json:"startDate"`
	EndDate            time.Time `json:"endDate"`
}

// ClaimResult is the body returned by POST /projects/{id}/claim.
type ClaimResult struct {
	Message string  `json:"message,omitempty"`
	Points  float64 `json:"points"`
}
