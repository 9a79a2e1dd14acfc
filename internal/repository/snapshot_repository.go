package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"herbit/internal/model"
)

// SnapshotRepository stores the last project and uploads fetched per Herbit user.
type SnapshotRepository struct {
	db *gorm.DB
}

func NewSnapshotRepository(db *gorm.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Save replaces the snapshot of a Herbit user.
func (r *SnapshotRepository) Save(ctx context.Context, herbitUserID string, payload model.SnapshotPayload, fetchedAt time.Time) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	snap := model.Snapshot{
		HerbitUserID: herbitUserID,
		Payload:      data,
		FetchedAt:    fetchedAt,
	}
	if payload.Project != nil {
		snap.ProjectID = payload.Project.ID
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "herbit_user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"project_id", "payload", "fetched_at", "updated_at"}),
	}).Create(&snap).Error
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot, or found=false when there is none.
func (r *SnapshotRepository) Load(ctx context.Context, herbitUserID string) (payload model.SnapshotPayload, fetchedAt time.Time, found bool, err error) {
	var snap model.Snapshot
	err = r.db.WithContext(ctx).Where("herbit_user_id = ?", herbitUserID).First(&snap).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return payload, fetchedAt, false, nil
	case err != nil:
		return payload, fetchedAt, false, fmt.Errorf("find snapshot: %w", err)
	}
	if err := json.Unmarshal(snap.Payload, &payload); err != nil {
		return payload, fetchedAt, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return payload, snap.FetchedAt, true, nil
}

func (r *SnapshotRepository) Delete(ctx context.Context, herbitUserID string) error {
	if err := r.db.WithContext(ctx).Where("herbit_user_id = ?", herbitUserID).
		Delete(&model.Snapshot{}).Error; err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}
