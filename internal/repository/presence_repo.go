package repository

import (
	"context"

	"github.com/oggyb/blind-match/internal/db"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PresenceRepository stores presence rows and typing flags.
// Staleness is never applied here; readers decide what "fresh" means.
type PresenceRepository struct {
	db *gorm.DB
}

// NewPresenceRepository creates a new repository bound to the given DB connection.
func NewPresenceRepository(database *gorm.DB) *PresenceRepository {
	return &PresenceRepository{db: database}
}

// UpsertPresence writes the user's presence row.
func (r *PresenceRepository) UpsertPresence(ctx context.Context, p *db.Presence) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"is_online", "last_seen", "updated_at"}),
		}).
		Create(p).Error
}

// GetPresence returns the user's presence row, or nil if never seen.
func (r *PresenceRepository) GetPresence(ctx context.Context, userID uint64) (*db.Presence, error) {
	var rows []db.Presence
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

// UpsertTyping writes the (match, user) typing row.
//
// Behavior:
//   - One row per (match_id, user_id), overwritten in place.
//   - A nil StartedAt clears the stored timestamp.
func (r *PresenceRepository) UpsertTyping(ctx context.Context, ts *db.TypingStatus) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "match_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"is_typing", "started_at", "updated_at"}),
		}).
		Create(ts).Error
}

// GetTyping returns the stored typing row, or nil if the user never typed.
func (r *PresenceRepository) GetTyping(ctx context.Context, matchID, userID uint64) (*db.TypingStatus, error) {
	var rows []db.TypingStatus
	err := r.db.WithContext(ctx).
		Where("match_id = ? AND user_id = ?", matchID, userID).
		Limit(1).
		Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}
