package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew_Defaults(t *testing.T) {
	t.Setenv("MYSQL_DSN", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg := New()

	assert.Equal(t, 12, cfg.Match.RevealMinHours)
	assert.Equal(t, 120, cfg.Match.RevealMaxHours)
	assert.Equal(t, 2*time.Minute, cfg.Presence.OnlineWindow)
	assert.Equal(t, 5*time.Second, cfg.Presence.TypingStale)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Contains(t, cfg.DB.DSN, "parseTime=true")
}

func TestNew_Overrides(t *testing.T) {
	t.Setenv("MYSQL_DSN", "u:p@tcp(db:3306)/x")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092 ,")
	t.Setenv("TYPING_STALE_AFTER", "3s")
	t.Setenv("REVEAL_MAX_HOURS", "48")
	t.Setenv("WS_BUS_ENABLED", "off")

	cfg := New()

	assert.Equal(t, "u:p@tcp(db:3306)/x", cfg.DB.DSN)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 3*time.Second, cfg.Presence.TypingStale)
	assert.Equal(t, 48, cfg.Match.RevealMaxHours)
	assert.False(t, cfg.Realtime.BusEnabled)
}

func TestNew_BadNumbersFallBack(t *testing.T) {
	t.Setenv("REDIS_DB", "not-a-number")
	t.Setenv("WS_MESSAGES_PER_SECOND", "fast")

	cfg := New()

	assert.Equal(t, 0, cfg.Redis.DB)
	assert.Equal(t, float64(5), cfg.Realtime.MessagesPerSecond)
}
