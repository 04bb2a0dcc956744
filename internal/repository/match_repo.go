package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oggyb/blind-match/internal/db"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SlotTakenError is returned by ClaimSlots when a user already occupies a
// live match. UserID says which side lost the race.
type SlotTakenError struct {
	UserID uint64
}

func (e *SlotTakenError) Error() string {
	return fmt.Sprintf("user %d already has a live match", e.UserID)
}

// MatchRepository provides data access for matches, their slots and the
// per-viewer reveal acknowledgements.
type MatchRepository struct {
	db *gorm.DB
}

// NewMatchRepository creates a new repository bound to the given DB connection.
func NewMatchRepository(database *gorm.DB) *MatchRepository {
	return &MatchRepository{db: database}
}

// WithTx returns a copy of the repository that runs on tx.
func (r *MatchRepository) WithTx(tx *gorm.DB) *MatchRepository {
	return &MatchRepository{db: tx}
}

// GetByID loads a match. Returns gorm.ErrRecordNotFound when missing.
func (r *MatchRepository) GetByID(ctx context.Context, id uint64) (*db.Match, error) {
	var m db.Match
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// GetLiveForUser returns the match the user's slot points at, or nil.
//
// Behavior:
//   - The slot table is the source of truth, so at most one row comes back.
//   - Returns (nil, nil) when the user is searching.
func (r *MatchRepository) GetLiveForUser(ctx context.Context, userID uint64) (*db.Match, error) {
	var matches []db.Match
	err := r.db.WithContext(ctx).
		Table("matches m").
		Select("m.*").
		Joins("JOIN match_slots s ON s.match_id = m.id").
		Where("s.user_id = ?", userID).
		Limit(1).
		Find(&matches).Error
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}

// Create inserts a new match row.
func (r *MatchRepository) Create(ctx context.Context, m *db.Match) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// ClaimSlots inserts a slot row for each party of m.
//
// Behavior:
//   - The slot primary key rejects a second live match for the same user.
//   - On a duplicate, returns *SlotTakenError naming the user; the caller's
//     transaction must roll back.
//   - UserA is claimed first, so the requester side is reported first.
func (r *MatchRepository) ClaimSlots(ctx context.Context, m *db.Match) error {
	for _, uid := range []uint64{m.UserAID, m.UserBID} {
		err := r.db.WithContext(ctx).Create(&db.MatchSlot{UserID: uid, MatchID: m.ID}).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return &SlotTakenError{UserID: uid}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ReleaseSlots frees both parties of a match so they can search again.
func (r *MatchRepository) ReleaseSlots(ctx context.Context, matchID uint64) error {
	return r.db.WithContext(ctx).
		Where("match_id = ?", matchID).
		Delete(&db.MatchSlot{}).Error
}

// UpdateIfVersion applies updates only if the row still has the given version.
//
// Behavior:
//   - Bumps version as part of the same UPDATE.
//   - Returns false (no error) when another writer got there first; the
//     caller should re-read and re-decide.
//
// Example:
//
//	ok, err := repo.UpdateIfVersion(ctx, m.ID, m.Version, map[string]any{"status": "revealed"})
func (r *MatchRepository) UpdateIfVersion(ctx context.Context, id, version uint64, updates map[string]any) (bool, error) {
	values := make(map[string]any, len(updates)+1)
	for k, v := range updates {
		values[k] = v
	}
	values["version"] = version + 1

	res := r.db.WithContext(ctx).
		Model(&db.Match{}).
		Where("id = ? AND version = ?", id, version).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// IncrementMessages bumps the message counter.
func (r *MatchRepository) IncrementMessages(ctx context.Context, id uint64) error {
	return r.db.WithContext(ctx).
		Model(&db.Match{}).
		Where("id = ?", id).
		UpdateColumn("total_messages", gorm.Expr("total_messages + 1")).Error
}

// MarkRevealSeen records that userID has looked at the revealed match.
// Re-marking keeps the first timestamp.
func (r *MatchRepository) MarkRevealSeen(ctx context.Context, matchID, userID uint64, at time.Time) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&db.RevealView{MatchID: matchID, UserID: userID, SeenAt: at}).Error
}

// RevealSeenAt returns when userID acknowledged the reveal, or nil.
func (r *MatchRepository) RevealSeenAt(ctx context.Context, matchID, userID uint64) (*time.Time, error) {
	var views []db.RevealView
	err := r.db.WithContext(ctx).
		Where("match_id = ? AND user_id = ?", matchID, userID).
		Limit(1).
		Find(&views).Error
	if err != nil || len(views) == 0 {
		return nil, err
	}
	return &views[0].SeenAt, nil
}
