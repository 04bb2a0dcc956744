package repository

import (
	"context"

	"github.com/oggyb/blind-match/internal/compat"
	"github.com/oggyb/blind-match/internal/db"

	"gorm.io/gorm"
)

// UserRepository reads user accounts and maintains the exit counter.
// Account lifecycle itself belongs to account management.
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new repository bound to the given DB connection.
func NewUserRepository(database *gorm.DB) *UserRepository {
	return &UserRepository{db: database}
}

// WithTx returns a copy of the repository that runs on tx.
func (r *UserRepository) WithTx(tx *gorm.DB) *UserRepository {
	return &UserRepository{db: tx}
}

// GetByID loads one user. Returns gorm.ErrRecordNotFound when missing.
func (r *UserRepository) GetByID(ctx context.Context, id uint64) (*db.User, error) {
	var u db.User
	if err := r.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// Exists reports whether a user row exists.
func (r *UserRepository) Exists(ctx context.Context, id uint64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&db.User{}).Where("id = ?", id).Count(&count).Error
	return count > 0, err
}

// GetByIDs loads users keyed by id. Missing ids are simply absent.
func (r *UserRepository) GetByIDs(ctx context.Context, ids []uint64) (map[uint64]db.User, error) {
	out := make(map[uint64]db.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []db.User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

// FindCandidates returns users the requester could be paired with,
// before the compatibility filter runs.
//
// Behavior:
//   - Only active, non-banned accounts other than the requester.
//   - Age within the requester's window (defaults applied).
//   - Excludes anyone holding a match slot anywhere in the system.
//   - Ordered by id ASC so scans are deterministic (first-fit, no ranking).
//
// Example:
//
//	repo.FindCandidates(ctx, requester, 500)
func (r *UserRepository) FindCandidates(ctx context.Context, requester *db.User, limit int) ([]db.User, error) {
	minAge, maxAge := compat.AgeWindow(requester.Preferences)

	var users []db.User
	err := r.db.WithContext(ctx).
		Where("id <> ?", requester.ID).
		Where("active = ? AND banned = ?", true, false).
		Where("age BETWEEN ? AND ?", minAge, maxAge).
		Where("NOT EXISTS (SELECT 1 FROM match_slots s WHERE s.user_id = users.id)").
		Order("id ASC").
		Limit(limit).
		Find(&users).Error
	return users, err
}

// DecrementExits spends one skip-exit for free-tier users with exits left.
//
// Behavior:
//   - Single conditional UPDATE, so concurrent exits never go below zero.
//   - Pro tier rows are never touched.
//   - Returns whether a row was decremented.
func (r *UserRepository) DecrementExits(ctx context.Context, userID uint64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&db.User{}).
		Where("id = ? AND subscription_tier = ? AND exits_remaining > 0", userID, db.TierFree).
		UpdateColumn("exits_remaining", gorm.Expr("exits_remaining - 1"))
	return res.RowsAffected == 1, res.Error
}
