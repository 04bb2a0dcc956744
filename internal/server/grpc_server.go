package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/oggyb/blind-match/internal/config"
)

// StartGRPCServer boots the operational gRPC listener and registers all
// provided services. It serves until ctx is cancelled.
func StartGRPCServer(ctx context.Context, cfg *config.Config, log *slog.Logger, registrars ...Registrar) error {
	addr := net.JoinHostPort(cfg.GRPC.Host, cfg.GRPC.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	grpcServer := grpc.NewServer()

	// register all services
	for _, r := range registrars {
		r.Register(grpcServer)
	}

	// enable reflection for easier debugging with grpcurl
	reflection.Register(grpcServer)

	go func() {
		<-ctx.Done()
		log.Info("shutting down gRPC server")
		grpcServer.GracefulStop()
	}()

	log.Info("starting gRPC server", "addr", addr)
	return grpcServer.Serve(lis)
}

// HealthRegistrar exposes grpc.health.v1 backed by a readiness probe.
type HealthRegistrar struct {
	srv *health.Server
}

// NewHealthRegistrar reports NOT_SERVING until SetServing is called.
func NewHealthRegistrar() *HealthRegistrar {
	srv := health.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthRegistrar{srv: srv}
}

func (h *HealthRegistrar) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// SetServing flips the overall status.
func (h *HealthRegistrar) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus("", st)
}

// Shutdown marks every service NOT_SERVING.
func (h *HealthRegistrar) Shutdown() {
	h.srv.Shutdown()
}
