package db

import (
	"time"
)

// Subscription tiers.
const (
	TierFree = "free"
	TierPro  = "pro"
)

// Match statuses. Transitions only move forward:
// active -> revealed -> exited_*, or active -> exited_*.
const (
	MatchStatusActive   = "active"
	MatchStatusRevealed = "revealed"
	MatchStatusExitedA  = "exited_a"
	MatchStatusExitedB  = "exited_b"
)

// Exit stages recorded on exit.
const (
	ExitStagePreReveal  = "pre_reveal"
	ExitStagePostReveal = "post_reveal"
)

// Preferences are the matching criteria a user applies to candidates.
// Zero values mean "unset" and fall back to defaults in the compat package.
type Preferences struct {
	AgeMin        int
	AgeMax        int
	MaxDistanceKm float64
}

// User is owned by account management; this service only reads it, apart
// from the ExitsRemaining counter.
//
// Indexes:
//   - idx_users_candidate(active, banned, age)
//     Narrows the candidate scan of find-match to eligible accounts.
type User struct {
	ID               uint64      `gorm:"primaryKey;autoIncrement"`
	Username         string      `gorm:"uniqueIndex;size:64;not null"`
	Email            string      `gorm:"uniqueIndex;size:128;not null"`
	PasswordHash     string      `gorm:"size:255;not null"`
	Active           bool        `gorm:"default:true;index:idx_users_candidate,priority:1"`
	Banned           bool        `gorm:"default:false;index:idx_users_candidate,priority:2"`
	Age              int         `gorm:"not null;index:idx_users_candidate,priority:3"`
	Gender           string      `gorm:"size:16;not null"`
	Seeking          string      `gorm:"size:16;not null"`
	Latitude         *float64    `gorm:"type:double"`
	Longitude        *float64    `gorm:"type:double"`
	SubscriptionTier string      `gorm:"size:16;not null;default:'free'"`
	ExitsRemaining   int         `gorm:"not null;default:0"`
	Preferences      Preferences `gorm:"embedded;embeddedPrefix:pref_"`
	LastLoginAt      time.Time
	CreatedAt        time.Time `gorm:"autoCreateTime"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

// QueueEntry marks a user waiting for a compatible partner.
//
// UserID is unique: enqueueing is an upsert that flips IsActive back on.
// Inactive rows are kept as history and never purged.
type QueueEntry struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	UserID    uint64    `gorm:"uniqueIndex;not null"`
	IsActive  bool      `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// Match is one blind pairing. Rows are never deleted.
//
// Indexes:
//   - idx_match_user_a_status(user_a_id, status)
//   - idx_match_user_b_status(user_b_id, status)
//     Both serve "current match for user" lookups from either slot.
//
// Fields:
//   - RevealAvailableAt: forced-reveal deadline, fixed at creation.
//   - Version: bumped on every mutation; writers compare-and-swap on it.
type Match struct {
	ID                 uint64 `gorm:"primaryKey;autoIncrement"`
	UserAID            uint64 `gorm:"not null;index:idx_match_user_a_status,priority:1"`
	UserBID            uint64 `gorm:"not null;index:idx_match_user_b_status,priority:1"`
	Status             string `gorm:"size:16;not null;index:idx_match_user_a_status,priority:2;index:idx_match_user_b_status,priority:2"`
	RevealRequestedBy  *uint64
	RevealRequestedAt  *time.Time
	RevealAvailableAt  time.Time `gorm:"not null"`
	RevealedAt         *time.Time
	ExitedBy           *uint64
	ExitedAt           *time.Time
	ExitStage          *string   `gorm:"size:16"`
	TotalMessages      int       `gorm:"not null;default:0"`
	CompatibilityScore float64   `gorm:"not null;default:0"`
	Version            uint64    `gorm:"not null;default:0"`
	CreatedAt          time.Time `gorm:"autoCreateTime"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime"`
}

// HasUser reports whether userID is one of the two parties.
func (m *Match) HasUser(userID uint64) bool {
	return m.UserAID == userID || m.UserBID == userID
}

// PartnerOf returns the other party. Callers must check HasUser first.
func (m *Match) PartnerOf(userID uint64) uint64 {
	if m.UserAID == userID {
		return m.UserBID
	}
	return m.UserAID
}

// IsLive reports whether the pairing still occupies both users.
func (m *Match) IsLive() bool {
	return m.Status == MatchStatusActive || m.Status == MatchStatusRevealed
}

// MatchSlot holds one row per user currently in a live match.
// The primary key on UserID is what makes "one live match per user" hold
// under concurrent inserts.
type MatchSlot struct {
	UserID    uint64    `gorm:"primaryKey;autoIncrement:false"`
	MatchID   uint64    `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// Message is a persisted chat line. IDs are snowflakes, so ordering by ID
// is ordering by creation time.
type Message struct {
	ID           int64     `gorm:"primaryKey;autoIncrement:false"`
	MatchID      uint64    `gorm:"not null;index:idx_message_match_id,priority:1"`
	SenderID     uint64    `gorm:"not null"`
	Content      string    `gorm:"type:text;not null"`
	ClientTempID string    `gorm:"size:64"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

// TypingStatus is one row per (match, user), upserted on every change.
type TypingStatus struct {
	MatchID   uint64 `gorm:"primaryKey;autoIncrement:false"`
	UserID    uint64 `gorm:"primaryKey;autoIncrement:false"`
	IsTyping  bool   `gorm:"not null"`
	StartedAt *time.Time
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// Presence is the durable copy of a user's liveness. Redis holds a hot copy.
type Presence struct {
	UserID    uint64    `gorm:"primaryKey;autoIncrement:false"`
	IsOnline  bool      `gorm:"not null"`
	LastSeen  time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// RevealView records that a viewer has looked at a revealed match.
type RevealView struct {
	MatchID uint64    `gorm:"primaryKey;autoIncrement:false"`
	UserID  uint64    `gorm:"primaryKey;autoIncrement:false"`
	SeenAt  time.Time `gorm:"not null"`
}

// All lists every model for AutoMigrate.
func All() []any {
	return []any{
		&User{}, &QueueEntry{}, &Match{}, &MatchSlot{},
		&Message{}, &TypingStatus{}, &Presence{}, &RevealView{},
	}
}
