package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"herbit/internal/model"
)

// ReminderRepository remembers which reminders were already delivered.
type ReminderRepository struct {
	db *gorm.DB
}

func NewReminderRepository(db *gorm.DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

// MarkSent records a reminder for the day. It returns false when the reminder was
// already recorded, so callers send each reminder at most once.
func (r *ReminderRepository) MarkSent(ctx context.Context, userID uint, kind model.ReminderKind, day string, sentAt time.Time) (bool, error) {
	entry := model.ReminderLog{UserID: userID, Kind: kind, Day: day, SentAt: sentAt}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
	if res.Error != nil {
		return false, fmt.Errorf("mark reminder: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Forget removes a reminder record, used when delivery failed after MarkSent.
func (r *ReminderRepository) Forget(ctx context.Context, userID uint, kind model.ReminderKind, day string) error {
	if err := r.db.WithContext(ctx).Where("user_id = ? AND kind = ? AND day = ?", userID, kind, day).
		Delete(&model.ReminderLog{}).Error; err != nil {
		return fmt.Errorf("forget reminder: %w", err)
	}
	return nil
}

// PruneBefore deletes records older than the given day.
func (r *ReminderRepository) PruneBefore(ctx context.Context, day string) (int64, error) {
	res := r.db.WithContext(ctx).Where("day < ?", day).Delete(&model.ReminderLog{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune reminders: %w", res.Error)
	}
	return res.RowsAffected, nil
}

