package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"herbit/internal/model"
)

// UserRepository handles CRUD for users.
type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// UpsertFromTelegram finds or creates a user based on TelegramID and updates basic profile info.
func (r *UserRepository) UpsertFromTelegram(ctx context.Context, telegramID, chatID int64, firstName, lastName, username string) (*model.User, error) {
	var user model.User
	db := r.db.WithContext(ctx)
	err := db.Where("telegram_id = ?", telegramID).First(&user).Error
	switch {
	case err == nil:
		updates := map[string]interface{}{
			"chat_id":    chatID,
			"first_name": firstName,
			"last_name":  lastName,
			"username":   username,
		}
		if err := db.Model(&user).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update user: %w", err)
		}
		return &user, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = model.User{
			TelegramID:       telegramID,
			ChatID:           chatID,
			FirstName:        firstName,
			LastName:         lastName,
			Username:         username,
			RemindersEnabled: true,
		}
		if err := db.Create(&user).Error; err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		return &user, nil
	default:
		return nil, fmt.Errorf("find user: %w", err)
	}
}

func (r *UserRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Link attaches a Herbit account to the user. An empty herbitUserID unlinks.
func (r *UserRepository) Link(ctx context.Context, user *model.User, herbitUserID, accessToken string) error {
	updates := map[string]interface{}{
		"herbit_user_id": herbitUserID,
		"access_token":   accessToken,
	}
	if err := r.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return fmt.Errorf("link user: %w", err)
	}
	user.HerbitUserID = herbitUserID
	user.AccessToken = accessToken
	return nil
}

func (r *UserRepository) SetReminders(ctx context.Context, user *model.User, enabled bool) error {
	if err := r.db.WithContext(ctx).Model(user).Update("reminders_enabled", enabled).Error; err != nil {
		return fmt.Errorf("set reminders: %w", err)
	}
	user.RemindersEnabled = enabled
	return nil
}

// ListLinked returns every user attached to a Herbit account.
func (r *UserRepository) ListLinked(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := r.db.WithContext(ctx).Where("herbit_user_id <> ?", "").Order("id ASC").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}
