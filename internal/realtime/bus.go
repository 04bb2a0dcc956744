package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Bus relays room frames between instances over Redis pub/sub.
type Bus struct {
	rdb     *redis.Client
	channel string
	log     *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once
}

func NewBus(rdb *redis.Client, channel string, log *slog.Logger) *Bus {
	return &Bus{rdb: rdb, channel: channel, log: log, ready: make(chan struct{})}
}

// Publish implements Publisher.
func (b *Bus) Publish(ctx context.Context, f Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", b.channel, err)
	}
	return nil
}

// Ready is closed once the subscription is confirmed.
func (b *Bus) Ready() <-chan struct{} { return b.ready }

// Run subscribes and hands every frame to deliver until ctx is done.
func (b *Bus) Run(ctx context.Context, deliver func(Frame)) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.readyOnce.Do(func() { close(b.ready) })
	b.log.Info("room bus subscribed", "channel", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var f Frame
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
				b.log.Warn("dropping malformed bus frame", "err", err)
				continue
			}
			deliver(f)
		}
	}
}
