// Package testutil wires an isolated AppContext for service tests:
// in-memory SQLite, miniredis, a controllable clock and recording
// collaborators.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/oggyb/blind-match/internal/app"
	"github.com/oggyb/blind-match/internal/cache"
	"github.com/oggyb/blind-match/internal/config"
	"github.com/oggyb/blind-match/internal/db"
	"github.com/oggyb/blind-match/internal/events"
	"github.com/oggyb/blind-match/internal/logger"
	"github.com/oggyb/blind-match/internal/notify"
	"github.com/oggyb/blind-match/internal/realtime/protocol"
)

// Env bundles everything a service test needs.
type Env struct {
	App        *app.AppContext
	DB         *gorm.DB
	Redis      *miniredis.Miniredis
	Clock      *Clock
	Broadcasts *Broadcasts
	Notes      *Notes
	Events     *Events
}

// NewEnv spins up an in-memory SQLite DB and a miniredis, applies
// migrations, and wires them into an AppContext.
//
// Each test gets its own isolated DB + Redis. The DB is pinned to a single
// connection so concurrent tests exercise application-level races, not
// SQLite's table locks.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Discard,
		NowFunc:        func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Migrate(gdb))

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := config.New()
	cfg.Redis.Addr = mr.Addr()
	cfg.Kafka.Brokers = nil
	cfg.Scoring.URL = ""

	rc := cache.NewRedisCache(cfg)
	t.Cleanup(func() { _ = rc.Close() })

	clock := NewClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	env := &Env{
		DB:         gdb,
		Redis:      mr,
		Clock:      clock,
		Broadcasts: &Broadcasts{},
		Notes:      &Notes{},
		Events:     &Events{},
	}

	appCtx := app.New(cfg, gdb, rc, logger.Discard())
	appCtx.Now = clock.Now
	appCtx.Broadcaster = env.Broadcasts
	appCtx.Notifier = env.Notes
	appCtx.Events = env.Events
	env.App = appCtx

	return env
}

// SeedUser inserts u, filling account columns the core does not care about.
func SeedUser(t *testing.T, gdb *gorm.DB, u db.User) db.User {
	t.Helper()
	if u.Username == "" {
		u.Username = fmt.Sprintf("user%d", u.ID)
	}
	if u.Email == "" {
		u.Email = fmt.Sprintf("%s@test.com", u.Username)
	}
	if u.PasswordHash == "" {
		u.PasswordHash = "x"
	}
	if u.SubscriptionTier == "" {
		u.SubscriptionTier = db.TierFree
	}
	u.Active = true
	require.NoError(t, gdb.Create(&u).Error)
	return u
}

// Loc returns a coordinate pointer pair.
func Loc(lat, lng float64) (*float64, *float64) {
	return &lat, &lng
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock { return &Clock{now: start} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Broadcast is one recorded room publish.
type Broadcast struct {
	MatchID uint64
	Env     protocol.Envelope
}

// Broadcasts records room publishes.
type Broadcasts struct {
	mu  sync.Mutex
	all []Broadcast
}

func (b *Broadcasts) Publish(_ context.Context, matchID uint64, env protocol.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, Broadcast{MatchID: matchID, Env: env})
}

// OfType returns the recorded publishes with the given frame type.
func (b *Broadcasts) OfType(typ string) []Broadcast {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Broadcast
	for _, x := range b.all {
		if x.Env.Type == typ {
			out = append(out, x)
		}
	}
	return out
}

// Notes records push notifications synchronously.
type Notes struct {
	mu  sync.Mutex
	all []notify.Notification
}

func (n *Notes) Notify(note notify.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.all = append(n.all, note)
}

func (n *Notes) For(userID uint64, kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, x := range n.all {
		if x.UserID == userID && x.Kind == kind {
			count++
		}
	}
	return count
}

// Events records lifecycle events.
type Events struct {
	mu  sync.Mutex
	all []events.Event
}

func (e *Events) Publish(_ context.Context, ev events.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, ev)
}

func (e *Events) Count(typ string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	count := 0
	for _, x := range e.all {
		if x.Type == typ {
			count++
		}
	}
	return count
}
