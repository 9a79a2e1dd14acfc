package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"herbit/internal/auth"
	"herbit/internal/model"
	"herbit/internal/repository"
)

// TelegramProfile is the subset of a Telegram user the bot stores.
type TelegramProfile struct {
	TelegramID int64
	ChatID     int64
	FirstName  string
	LastName   string
	Username   string
}

// AccountService links Telegram users to Herbit accounts.
type AccountService struct {
	users     *repository.UserRepository
	snapshots *repository.SnapshotRepository
	now       func() time.Time
	log       *zap.Logger
}

func NewAccountService(users *repository.UserRepository, snapshots *repository.SnapshotRepository, log *zap.Logger) *AccountService {
	return &AccountService{users: users, snapshots: snapshots, now: time.Now, log: log}
}

// Ensure creates or refreshes the stored Telegram user.
func (s *AccountService) Ensure(ctx context.Context, p TelegramProfile) (*model.User, error) {
	return s.users.UpsertFromTelegram(ctx, p.TelegramID, p.ChatID, p.FirstName, p.LastName, p.Username)
}

// Link attaches the account named by credential: a raw user id or the web app's
// access token.
func (s *AccountService) Link(ctx context.Context, user *model.User, credential string) (auth.Account, error) {
	acc, err := auth.Resolve(credential, s.now())
	if err != nil {
		return acc, fmt.Errorf("resolve account: %w", err)
	}
	previous := user.HerbitUserID
	if err := s.users.Link(ctx, user, acc.UserID, acc.AccessToken); err != nil {
		return acc, err
	}
	if previous != "" && previous != acc.UserID {
		s.dropSnapshot(ctx, previous)
	}
	s.log.Info("account linked",
		zap.Int64("telegram_id", user.TelegramID),
		zap.String("herbit_user", acc.UserID),
		zap.Bool("with_token", acc.AccessToken != ""),
	)
	return acc, nil
}

func (s *AccountService) Unlink(ctx context.Context, user *model.User) error {
	if !user.Linked() {
		return ErrNotLinked
	}
	previous := user.HerbitUserID
	if err := s.users.Link(ctx, user, "", ""); err != nil {
		return err
	}
	s.dropSnapshot(ctx, previous)
	return nil
}

func (s *AccountService) SetReminders(ctx context.Context, user *model.User, enabled bool) error {
	return s.users.SetReminders(ctx, user, enabled)
}

func (s *AccountService) ListLinked(ctx context.Context) ([]model.User, error) {
	return s.users.ListLinked(ctx)
}

func (s *AccountService) dropSnapshot(ctx context.Context, herbitUserID string) {
	if err := s.snapshots.Delete(ctx, herbitUserID); err != nil {
		s.log.Warn("delete snapshot", zap.String("herbit_user", herbitUserID), zap.Error(err))
	}
}
