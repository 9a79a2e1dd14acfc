package model

import "time"

// User stores Telegram user metadata and the Herbit account it is linked to.
type User struct {
	ID               uint  `gorm:"primaryKey"`
	TelegramID       int64 `gorm:"uniqueIndex"`
	ChatID           int64
	FirstName        string
	LastName         string
	Username         string
	HerbitUserID     string `gorm:"index"`
	AccessToken      string
	RemindersEnabled bool `gorm:"default:true"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Linked reports whether the user has attached a Herbit account.
func (u User) Linked() bool {
	return u.HerbitUserID != ""
}
