package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/oggyb/blind-match/internal/cache"
	"github.com/oggyb/blind-match/internal/config"
	"github.com/oggyb/blind-match/internal/events"
	"github.com/oggyb/blind-match/internal/notify"
	"github.com/oggyb/blind-match/internal/realtime/protocol"
	"gorm.io/gorm"
)

// Broadcaster pushes a frame to everyone in a match room.
type Broadcaster interface {
	Publish(ctx context.Context, matchID uint64, env protocol.Envelope)
}

// AppContext holds shared dependencies (DB, Redis, Logger, etc.)
type AppContext struct {
	Config      *config.Config
	DB          *gorm.DB
	RedisCache  *cache.RedisCache
	Logger      *slog.Logger
	Notifier    notify.Notifier
	Events      events.Publisher
	Broadcaster Broadcaster
	Now         func() time.Time
}

// New creates a new AppContext. Optional collaborators default to no-ops
// and can be replaced by the caller before services are built.
func New(cfg *config.Config, db *gorm.DB, rdb *cache.RedisCache, logger *slog.Logger) *AppContext {
	return &AppContext{
		Config:      cfg,
		DB:          db,
		RedisCache:  rdb,
		Logger:      logger,
		Notifier:    notify.Nop{},
		Events:      events.Nop{},
		Broadcaster: nopBroadcaster{},
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

type nopBroadcaster struct{}

func (nopBroadcaster) Publish(context.Context, uint64, protocol.Envelope) {}
