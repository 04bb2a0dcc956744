// Package notify hands push notifications to a bounded worker pool.
// Delivery is fire-and-forget: callers never wait and never see failures.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/oggyb/blind-match/internal/metrics"
)

// Notification kinds.
const (
	KindMatchFound      = "match_found"
	KindRevealRequested = "reveal_requested"
	KindRevealed        = "revealed"
	KindPartnerExited   = "partner_exited"
	KindNewMessage      = "new_message"
)

// Notification is one push addressed to a user.
type Notification struct {
	UserID  uint64
	Kind    string
	MatchID uint64
	Title   string
	Body    string
}

// Sender delivers a single notification. Transport lives outside this service.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// Notifier is what the services depend on.
type Notifier interface {
	Notify(n Notification)
}

// Dispatcher runs Sender calls on an ants pool.
type Dispatcher struct {
	pool    *ants.Pool
	sender  Sender
	timeout time.Duration
	log     *slog.Logger
}

// NewDispatcher builds a non-blocking pool of the given size. When the pool
// is saturated new notifications are dropped rather than queued.
func NewDispatcher(size int, timeout time.Duration, sender Sender, log *slog.Logger) (*Dispatcher, error) {
	if size <= 0 {
		size = 1
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pool, err := ants.NewPool(size,
		ants.WithNonblocking(true),
		ants.WithExpiryDuration(10*time.Second),
		ants.WithPanicHandler(func(p any) {
			log.Error("push task panic", "panic", p, "stack", string(debug.Stack()))
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{pool: pool, sender: sender, timeout: timeout, log: log}, nil
}

// Notify submits n and returns immediately.
func (d *Dispatcher) Notify(n Notification) {
	err := d.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.sender.Send(ctx, n); err != nil {
			metrics.PushDropped.WithLabelValues("send_failed").Inc()
			d.log.Warn("push send failed", "user_id", n.UserID, "kind", n.Kind, "err", err)
		}
	})
	if err != nil {
		reason := "submit_failed"
		if errors.Is(err, ants.ErrPoolOverload) {
			reason = "overload"
		}
		metrics.PushDropped.WithLabelValues(reason).Inc()
		d.log.Warn("push dropped", "user_id", n.UserID, "kind", n.Kind, "err", err)
	}
}

// Close waits up to timeout for in-flight sends.
func (d *Dispatcher) Close(timeout time.Duration) error {
	return d.pool.ReleaseTimeout(timeout)
}

// LogSender logs notifications instead of delivering them.
type LogSender struct {
	Log *slog.Logger
}

func (s LogSender) Send(_ context.Context, n Notification) error {
	s.Log.Info("push", "user_id", n.UserID, "kind", n.Kind, "match_id", n.MatchID, "title", n.Title)
	return nil
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(Notification) {}
