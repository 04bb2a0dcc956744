package repository

import (
	"context"

	"github.com/oggyb/blind-match/internal/db"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueueRepository stores users waiting for a partner.
type QueueRepository struct {
	db *gorm.DB
}

// NewQueueRepository creates a new repository bound to the given DB connection.
func NewQueueRepository(database *gorm.DB) *QueueRepository {
	return &QueueRepository{db: database}
}

// WithTx returns a copy of the repository that runs on tx.
func (r *QueueRepository) WithTx(tx *gorm.DB) *QueueRepository {
	return &QueueRepository{db: tx}
}

// Enqueue marks the user as waiting.
//
// Behavior:
//   - If the user has no row → a new active row is inserted.
//   - If a row exists (active or historical) → it is flipped back to active.
//   - Unique user_id makes repeated calls idempotent.
//
// Example:
//
//	repo.Enqueue(ctx, 42)
func (r *QueueRepository) Enqueue(ctx context.Context, userID uint64) error {
	entry := db.QueueEntry{UserID: userID, IsActive: true}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"is_active", "updated_at"}),
		}).
		Create(&entry).Error
}

// ListActive returns active entries in insertion order.
func (r *QueueRepository) ListActive(ctx context.Context, limit int) ([]db.QueueEntry, error) {
	var entries []db.QueueEntry
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// Deactivate closes the active entries of the given users.
// Rows stay in the table as history.
func (r *QueueRepository) Deactivate(ctx context.Context, userIDs ...uint64) error {
	if len(userIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&db.QueueEntry{}).
		Where("user_id IN ? AND is_active = ?", userIDs, true).
		Update("is_active", false).Error
}
