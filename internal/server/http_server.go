package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oggyb/blind-match/internal/auth"
	"github.com/oggyb/blind-match/internal/config"
	"github.com/oggyb/blind-match/internal/middleware"
)

// NewRouter builds the gin engine with the shared middleware chain and the
// /v1 (bearer auth) and /internal/v1 (service token) groups.
func NewRouter(cfg *config.Config, tokens *auth.Tokens, log *slog.Logger, registrars ...RouteRegistrar) *gin.Engine {
	if cfg.App.ENV != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(log), middleware.AccessLog(), middleware.Metrics())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	routes := Routes{
		API:      r.Group("/v1", middleware.Auth(tokens)),
		Internal: r.Group("/internal/v1", middleware.InternalToken(cfg.Auth.InternalToken)),
	}
	for _, reg := range registrars {
		reg.RegisterRoutes(routes)
	}
	return r
}

// StartHTTPServer serves handler until ctx is cancelled, then drains
// in-flight requests for up to the configured shutdown timeout.
func StartHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler, log *slog.Logger) error {
	addr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
	// no WriteTimeout: it would cut long-lived websocket connections
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		IdleTimeout:       2 * cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server on %s: %w", addr, err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	log.Info("shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}
