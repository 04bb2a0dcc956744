// Package views shapes persisted rows into the JSON the REST surface returns.
// Views are always built for a specific viewer.
package views

import (
	"strconv"
	"time"

	"github.com/oggyb/blind-match/internal/db"
)

type Match struct {
	ID                 uint64     `json:"id"`
	PartnerID          uint64     `json:"partner_id"`
	Status             string     `json:"status"`
	RevealRequestedBy  *uint64    `json:"reveal_requested_by,omitempty"`
	RevealRequestedAt  *time.Time `json:"reveal_requested_at,omitempty"`
	RevealAvailableAt  time.Time  `json:"reveal_available_at"`
	RevealedAt         *time.Time `json:"revealed_at,omitempty"`
	RevealSeenAt       *time.Time `json:"reveal_seen_at,omitempty"`
	ExitedBy           *uint64    `json:"exited_by,omitempty"`
	ExitStage          *string    `json:"exit_stage,omitempty"`
	TotalMessages      int        `json:"total_messages"`
	CompatibilityScore float64    `json:"compatibility_score"`
	CreatedAt          time.Time  `json:"created_at"`
}

// NewMatch builds the viewer's perspective of m. seenAt may be nil.
func NewMatch(m *db.Match, viewerID uint64, seenAt *time.Time) *Match {
	if m == nil {
		return nil
	}
	return &Match{
		ID:                 m.ID,
		PartnerID:          m.PartnerOf(viewerID),
		Status:             m.Status,
		RevealRequestedBy:  m.RevealRequestedBy,
		RevealRequestedAt:  m.RevealRequestedAt,
		RevealAvailableAt:  m.RevealAvailableAt,
		RevealedAt:         m.RevealedAt,
		RevealSeenAt:       seenAt,
		ExitedBy:           m.ExitedBy,
		ExitStage:          m.ExitStage,
		TotalMessages:      m.TotalMessages,
		CompatibilityScore: m.CompatibilityScore,
		CreatedAt:          m.CreatedAt,
	}
}

// Message ids are snowflakes; they go out as strings so JavaScript
// clients do not lose precision.
type Message struct {
	ID           string    `json:"id"`
	MatchID      uint64    `json:"match_id"`
	SenderID     uint64    `json:"sender_id"`
	Content      string    `json:"content"`
	ClientTempID string    `json:"client_temp_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func NewMessage(m *db.Message) Message {
	return Message{
		ID:           strconv.FormatInt(m.ID, 10),
		MatchID:      m.MatchID,
		SenderID:     m.SenderID,
		Content:      m.Content,
		ClientTempID: m.ClientTempID,
		CreatedAt:    m.CreatedAt,
	}
}

func NewMessages(msgs []db.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for i := range msgs {
		out = append(out, NewMessage(&msgs[i]))
	}
	return out
}
