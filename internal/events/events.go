// Package events publishes match lifecycle events for downstream consumers
// (analytics, email templating). Publishing never fails the caller.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

// Event types.
const (
	TypeMatchCreated    = "match.created"
	TypeMatchQueued     = "match.queued"
	TypeRevealRequested = "reveal.requested"
	TypeMatchRevealed   = "match.revealed"
	TypeMatchExited     = "match.exited"
	TypeMessageSent     = "message.sent"
)

// Event is the wire payload. Attrs carries type-specific extras.
type Event struct {
	Type    string            `json:"type"`
	MatchID uint64            `json:"match_id,omitempty"`
	UserID  uint64            `json:"user_id,omitempty"`
	At      time.Time         `json:"at"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// Publisher is what the services depend on.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// messageWriter is the subset of *kafka.Writer we use.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to one topic, keyed by match id so a
// match's events stay ordered within a partition.
type KafkaPublisher struct {
	w   messageWriter
	log *slog.Logger
}

// NewKafkaPublisher builds an async writer; delivery errors surface through
// the writer's completion callback and are only logged.
func NewKafkaPublisher(brokers []string, topic string, log *slog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		Async:                  true,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Warn("lifecycle events not delivered", "count", len(msgs), "err", err)
			}
		},
	}
	return newKafkaPublisher(w, log)
}

func newKafkaPublisher(w messageWriter, log *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{w: w, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	value, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("encode lifecycle event", "type", ev.Type, "err", err)
		return
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatUint(ev.MatchID, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		p.log.Warn("publish lifecycle event", "type", ev.Type, "match_id", ev.MatchID, "err", err)
	}
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// Nop drops events; used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
