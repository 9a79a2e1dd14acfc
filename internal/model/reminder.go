package model

import "time"

// ReminderKind distinguishes the notifications the scheduler sends.
type ReminderKind string

const (
	ReminderCheckin   ReminderKind = "checkin"
	ReminderMilestone ReminderKind = "milestone"
	ReminderClaim     ReminderKind = "claim"
)

// ReminderLog records that a reminder was delivered for a calendar day.
// UserID + Kind + Day form a unique key so a reminder is never sent twice.
type ReminderLog struct {
	ID        uint         `gorm:"primaryKey"`
	UserID    uint         `gorm:"index;uniqueIndex:idx_reminder_once"`
	Kind      ReminderKind `gorm:"size:32;uniqueIndex:idx_reminder_once"`
	Day       string       `gorm:"size:10;uniqueIndex:idx_reminder_once"` // 2006-01-02
	SentAt    time.Time
	CreatedAt time.Time
}
