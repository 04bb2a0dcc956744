// Package protocol defines the frames exchanged over the realtime channel.
// Every frame is an Envelope{type, data}; data is typed per event.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Client → server.
const (
	TypeJoinMatch   = "join-match"
	TypeLeaveMatch  = "leave-match"
	TypeSendMessage = "send-message"
	TypeTyping      = "typing"
	TypeHeartbeat   = "heartbeat"
)

// Server → client.
const (
	TypeJoined           = "joined"
	TypePartnerOnline    = "partner-online"
	TypePartnerOffline   = "partner-offline"
	TypeNewMessage       = "new-message"
	TypeMessageConfirmed = "message-confirmed"
	TypeMessageFailed    = "message-failed"
	TypePartnerTyping    = "partner-typing"
	TypeRevealRequested  = "reveal-requested"
	TypeMatchRevealed    = "match-revealed"
	TypeMatchExited      = "match-exited"
	TypeHeartbeatAck     = "heartbeat-ack"
	TypeError            = "error"
)

// Error codes carried by TypeError frames.
const (
	ErrCodeBadFrame    = 4000
	ErrCodeForbidden   = 4003
	ErrCodeNotFound    = 4004
	ErrCodeNotInRoom   = 4009
	ErrCodeRateLimited = 4029
	ErrCodeInternal    = 5000
)

// Message statuses.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
)

type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// New builds an envelope around data. A nil data yields a bare frame.
func New(typ string, data any) Envelope {
	env := Envelope{Type: typ}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			env.Data = raw
		}
	}
	return env
}

// Parse decodes a raw frame and requires a type.
func Parse(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("invalid frame: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("invalid frame: missing type")
	}
	return env, nil
}

// Decode unmarshals the envelope's data into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: missing data", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: %w", e.Type, err)
	}
	return nil
}

// Bytes encodes the envelope for the wire.
func (e Envelope) Bytes() []byte {
	b, _ := json.Marshal(e)
	return b
}

// --- inbound payloads ---

type JoinMatch struct {
	MatchID uint64 `json:"match_id"`
}

type SendMessage struct {
	MatchID      uint64 `json:"match_id"`
	Content      string `json:"content"`
	ClientTempID string `json:"client_temp_id"`
}

type Typing struct {
	MatchID  uint64 `json:"match_id"`
	IsTyping bool   `json:"is_typing"`
}

// --- outbound payloads ---

type Joined struct {
	MatchID       uint64 `json:"match_id"`
	PartnerOnline bool   `json:"partner_online"`
}

type PartnerStatus struct {
	MatchID uint64 `json:"match_id"`
	UserID  uint64 `json:"user_id"`
}

// Message is carried by both new-message (pending) and message-confirmed.
// ID is empty while pending; clients reconcile on ClientTempID.
type Message struct {
	ID           string    `json:"id,omitempty"`
	ClientTempID string    `json:"client_temp_id,omitempty"`
	MatchID      uint64    `json:"match_id"`
	SenderID     uint64    `json:"sender_id"`
	Content      string    `json:"content"`
	Status       string    `json:"status"`
	SentAt       time.Time `json:"sent_at"`
}

type PartnerTyping struct {
	MatchID  uint64 `json:"match_id"`
	UserID   uint64 `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// MatchUpdate announces reveal and exit transitions to the room.
type MatchUpdate struct {
	MatchID   uint64     `json:"match_id"`
	Status    string     `json:"status"`
	ActorID   uint64     `json:"actor_id"`
	ExitStage string     `json:"exit_stage,omitempty"`
	At        *time.Time `json:"at,omitempty"`
}

type HeartbeatAck struct {
	LastSeen time.Time `json:"last_seen"`
}

type Error struct {
	Code         int    `json:"code"`
	Message      string `json:"message"`
	ClientTempID string `json:"client_temp_id,omitempty"`
}
