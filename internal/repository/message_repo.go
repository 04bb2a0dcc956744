package repository

import (
	"context"

	"github.com/oggyb/blind-match/internal/db"
	"github.com/oggyb/blind-match/internal/utils/pagination"

	"gorm.io/gorm"
)

// MessageRepository persists chat messages.
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new repository bound to the given DB connection.
func NewMessageRepository(database *gorm.DB) *MessageRepository {
	return &MessageRepository{db: database}
}

// WithTx returns a copy of the repository that runs on tx.
func (r *MessageRepository) WithTx(tx *gorm.DB) *MessageRepository {
	return &MessageRepository{db: tx}
}

// Create inserts a message. The caller assigns the id.
func (r *MessageRepository) Create(ctx context.Context, msg *db.Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

// List returns a match's messages, newest first.
//
// Behavior:
//   - Ordered by id DESC (snowflake ids are time-ordered).
//   - Supports cursor-based pagination via paginationToken.
//   - The next token is nil on the last page.
//
// Example:
//
//	repo.List(ctx, 7, nil, 50) // latest 50 messages of match 7
func (r *MessageRepository) List(
	ctx context.Context,
	matchID uint64,
	paginationToken *string,
	limit int,
) ([]db.Message, *string, error) {
	var messages []db.Message

	cursor, err := pagination.Decode(getString(paginationToken))
	if err != nil {
		return nil, nil, err
	}

	query := r.db.WithContext(ctx).
		Where("match_id = ?", matchID).
		Order("id DESC").
		Limit(limit + 1)

	if cursor.BeforeID > 0 {
		query = query.Where("id < ?", cursor.BeforeID)
	}

	if err := query.Find(&messages).Error; err != nil {
		return nil, nil, err
	}

	// pagination: build next cursor if needed
	var nextToken *string
	if len(messages) > limit {
		last := messages[limit-1]
		token, _ := pagination.Encode(pagination.Cursor{BeforeID: last.ID})
		nextToken = &token
		messages = messages[:limit]
	}

	return messages, nextToken, nil
}

// getString safely dereferences a string pointer for pagination tokens.
func getString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
