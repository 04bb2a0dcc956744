package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App struct {
		ENV string
	}

	Log struct {
		Level     string
		Format    string
		Component string
		Source    bool
	}

	DB struct {
		DSN      string
		Host     string
		Port     string
		User     string
		Password string
		Name     string
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	GRPC struct {
		Host string
		Port string
	}

	HTTP struct {
		Host            string
		Port            string
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
	}

	Auth struct {
		JWTSecret     string
		TokenTTL      time.Duration
		InternalToken string
	}

	Match struct {
		RevealMinHours     int
		RevealMaxHours     int
		CandidateScanLimit int
		QueueScanLimit     int
	}

	Presence struct {
		OnlineWindow time.Duration
		TypingStale  time.Duration
		CacheTTL     time.Duration
	}

	Realtime struct {
		SendQueue         int
		MessagesPerSecond float64
		Burst             int
		PartyCacheSize    int
		BusChannel        string
		BusEnabled        bool
	}

	Scoring struct {
		URL     string
		Timeout time.Duration
	}

	Push struct {
		PoolSize int
		Timeout  time.Duration
	}

	Kafka struct {
		Brokers []string
		Topic   string
	}

	Snowflake struct {
		Node int64
	}
}

func New() *Config {
	// .env is optional; real environment always wins.
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.App.ENV = getEnvDefault("APP_ENV", "development")

	// Logger
	cfg.Log.Level = getEnvDefault("LOG_LEVEL", "info")
	cfg.Log.Format = getEnvDefault("LOG_FORMAT", "text")
	cfg.Log.Component = getEnvDefault("LOG_COMPONENT", "blind_match")
	cfg.Log.Source = isTruthy(os.Getenv("LOG_SOURCE"))

	// Database
	cfg.DB.DSN = os.Getenv("MYSQL_DSN")
	if cfg.DB.DSN == "" {
		cfg.DB.Host = getEnvDefault("DB_HOST", "localhost")
		cfg.DB.Port = getEnvDefault("DB_PORT", "3306")
		cfg.DB.User = getEnvDefault("DB_USER", "root")
		cfg.DB.Password = getEnvDefault("DB_PASSWORD", "root")
		cfg.DB.Name = getEnvDefault("DB_NAME", "blind_match")

		cfg.DB.DSN = fmt.Sprintf(
			"%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
			cfg.DB.User, cfg.DB.Password, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name,
		)
	}

	// Redis
	cfg.Redis.Addr = getEnvDefault("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnvDefault("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	// gRPC (health + reflection only)
	cfg.GRPC.Host = getEnvDefault("GRPC_HOST", "127.0.0.1")
	cfg.GRPC.Port = getEnvDefault("GRPC_PORT", "50051")

	// HTTP
	cfg.HTTP.Host = getEnvDefault("HTTP_HOST", "0.0.0.0")
	cfg.HTTP.Port = getEnvDefault("HTTP_PORT", "8080")
	cfg.HTTP.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second)
	cfg.HTTP.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", 15*time.Second)
	cfg.HTTP.ShutdownTimeout = getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second)

	// Auth
	cfg.Auth.JWTSecret = getEnvDefault("JWT_SECRET", "dev-secret-change-me")
	cfg.Auth.TokenTTL = getEnvDuration("JWT_TTL", 24*time.Hour)
	cfg.Auth.InternalToken = getEnvDefault("INTERNAL_TOKEN", "")

	// Matching
	cfg.Match.RevealMinHours = getEnvInt("REVEAL_MIN_HOURS", 12)
	cfg.Match.RevealMaxHours = getEnvInt("REVEAL_MAX_HOURS", 120)
	cfg.Match.CandidateScanLimit = getEnvInt("MATCH_CANDIDATE_SCAN_LIMIT", 500)
	cfg.Match.QueueScanLimit = getEnvInt("MATCH_QUEUE_SCAN_LIMIT", 500)

	// Presence / typing
	cfg.Presence.OnlineWindow = getEnvDuration("PRESENCE_ONLINE_WINDOW", 2*time.Minute)
	cfg.Presence.TypingStale = getEnvDuration("TYPING_STALE_AFTER", 5*time.Second)
	cfg.Presence.CacheTTL = getEnvDuration("PRESENCE_CACHE_TTL", 10*time.Minute)

	// Realtime channel
	cfg.Realtime.SendQueue = getEnvInt("WS_SEND_QUEUE", 64)
	cfg.Realtime.MessagesPerSecond = getEnvFloat("WS_MESSAGES_PER_SECOND", 5)
	cfg.Realtime.Burst = getEnvInt("WS_MESSAGE_BURST", 10)
	cfg.Realtime.PartyCacheSize = getEnvInt("WS_PARTY_CACHE_SIZE", 4096)
	cfg.Realtime.BusChannel = getEnvDefault("WS_BUS_CHANNEL", "blind_match:rooms")
	cfg.Realtime.BusEnabled = isTruthy(getEnvDefault("WS_BUS_ENABLED", "true"))

	// Scoring collaborator (optional)
	cfg.Scoring.URL = getEnvDefault("SCORING_URL", "")
	cfg.Scoring.Timeout = getEnvDuration("SCORING_TIMEOUT", 2*time.Second)

	// Push dispatch
	cfg.Push.PoolSize = getEnvInt("PUSH_POOL_SIZE", 64)
	cfg.Push.Timeout = getEnvDuration("PUSH_TIMEOUT", 5*time.Second)

	// Kafka lifecycle events (optional)
	cfg.Kafka.Brokers = splitList(os.Getenv("KAFKA_BROKERS"))
	cfg.Kafka.Topic = getEnvDefault("KAFKA_TOPIC", "blind_match.lifecycle")

	cfg.Snowflake.Node = int64(getEnvInt("SNOWFLAKE_NODE", 1))

	return cfg
}

func getEnvDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) int {
	if v, err := strconv.Atoi(getEnvDefault(k, "")); err == nil {
		return v
	}
	return def
}

func getEnvFloat(k string, def float64) float64 {
	if v, err := strconv.ParseFloat(getEnvDefault(k, ""), 64); err == nil {
		return v
	}
	return def
}

func getEnvDuration(k string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnvDefault(k, "")); err == nil {
		return v
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}
