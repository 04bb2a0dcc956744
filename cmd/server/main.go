package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"golang.org/x/sync/errgroup"

	"github.com/oggyb/blind-match/internal/app"
	"github.com/oggyb/blind-match/internal/auth"
	"github.com/oggyb/blind-match/internal/cache"
	"github.com/oggyb/blind-match/internal/config"
	"github.com/oggyb/blind-match/internal/db"
	"github.com/oggyb/blind-match/internal/events"
	"github.com/oggyb/blind-match/internal/logger"
	"github.com/oggyb/blind-match/internal/notify"
	"github.com/oggyb/blind-match/internal/realtime"
	"github.com/oggyb/blind-match/internal/scoring"
	"github.com/oggyb/blind-match/internal/server"
	"github.com/oggyb/blind-match/internal/service/chat"
	"github.com/oggyb/blind-match/internal/service/matching"
	"github.com/oggyb/blind-match/internal/service/presence"
	"github.com/oggyb/blind-match/internal/service/reveal"
)

func main() {
	if err := run(); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.New()

	// Init logger (global singleton)
	logger.InitFromConfig(cfg)
	log := logger.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Init DB
	database, err := db.NewDB(cfg)
	if err != nil {
		log.Error("failed to init db", "err", err)
		return err
	}

	// Init Redis
	redisCache := cache.NewRedisCache(cfg)
	if err := redisCache.Ping(ctx); err != nil {
		log.Error("failed to connect to redis", "err", err)
		return err
	}
	defer redisCache.Close()

	appCtx := app.New(cfg, database, redisCache, log)

	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	// Push notifications go through a bounded pool; the transport is a log line.
	dispatcher, err := notify.NewDispatcher(cfg.Push.PoolSize, cfg.Push.Timeout, notify.LogSender{Log: log}, log)
	if err != nil {
		return err
	}
	defer func() { _ = dispatcher.Close(cfg.Push.Timeout) }()
	appCtx.Notifier = dispatcher

	if len(cfg.Kafka.Brokers) > 0 {
		publisher := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		defer func() { _ = publisher.Close() }()
		appCtx.Events = publisher
		log.Info("lifecycle events enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	hub := realtime.NewHub(log)
	appCtx.Broadcaster = hub
	var bus *realtime.Bus
	if cfg.Realtime.BusEnabled {
		bus = realtime.NewBus(redisCache.Client, cfg.Realtime.BusChannel, log)
		hub.UseBus(bus)
	}

	node, err := snowflake.NewNode(cfg.Snowflake.Node)
	if err != nil {
		return err
	}

	var scorer scoring.Scorer
	if cfg.Scoring.URL != "" {
		scorer = scoring.NewHTTPScorer(cfg.Scoring.URL, cfg.Scoring.Timeout, log)
	}
	policy := scoring.NewPolicy(scorer, cfg.Match.RevealMinHours, cfg.Match.RevealMaxHours,
		rand.New(rand.NewSource(time.Now().UnixNano())), log)

	revealSvc := reveal.NewService(appCtx)
	matchSvc := matching.NewService(appCtx, policy, revealSvc)
	presenceSvc := presence.NewService(appCtx)
	chatSvc := chat.NewService(appCtx, node, presenceSvc)

	wsHandler, err := realtime.NewHandler(appCtx, hub, chatSvc, presenceSvc, matchSvc)
	if err != nil {
		return err
	}

	router := server.NewRouter(cfg, tokens, log,
		matching.NewRegistrar(matchSvc, revealSvc),
		reveal.NewRegistrar(revealSvc),
		chat.NewRegistrar(chatSvc),
		presence.NewRegistrar(presenceSvc, hub),
		wsHandler,
	)
	health := server.NewHealthRegistrar()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.StartHTTPServer(gctx, cfg, router, log)
	})
	g.Go(func() error {
		return server.StartGRPCServer(gctx, cfg, log, health)
	})
	if bus != nil {
		g.Go(func() error {
			return bus.Run(gctx, hub.Deliver)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		health.Shutdown()
		hub.Shutdown()
		return nil
	})

	health.SetServing(true)
	return g.Wait()
}
