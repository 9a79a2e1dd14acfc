package model

import "time"

// Snapshot keeps the last project and uploads fetched from the ecoenzim API for a
// Herbit user. It is served stale when the API is unreachable.
type Snapshot struct {
	ID           uint   `gorm:"primaryKey"`
	HerbitUserID string `gorm:"uniqueIndex"`
	ProjectID    string
	Payload      []byte
	FetchedAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SnapshotPayload is the JSON document stored in Snapshot.Payload.
type SnapshotPayload struct {
	Project *Project `json:"project"`
	Uploads []Upload `json:"uploads"`
}
