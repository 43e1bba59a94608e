// Package grpc serves the standard gRPC health protocol, with one service
// entry per catalogued model.
package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/ekisa-team/pathflow/internal/model"
)

// ModelServicePrefix prefixes the health service name of each model.
const ModelServicePrefix = "pathflow.model/"

// Server reports whether the orchestrator and each of its models can serve.
type Server struct {
	grpc    *grpc.Server
	health  *health.Server
	catalog *model.Catalog
	known   map[string]struct{}
	logger  *slog.Logger
	addr    string
}

// NewServer creates a gRPC server reporting the health of every model in catalog.
func NewServer(addr string, catalog *model.Catalog, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		grpc:    grpc.NewServer(),
		health:  health.NewServer(),
		catalog: catalog,
		known:   make(map[string]struct{}),
		logger:  logger,
		addr:    addr,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)
	s.Sync()
	return s
}

// Sync publishes the current catalog: valid models serve, invalid ones do not,
// and models that disappeared are reported as unknown.
func (s *Server) Sync() {
	seen := make(map[string]struct{})
	for _, e := range s.catalog.List() {
		status := healthpb.HealthCheckResponse_SERVING
		if !e.Valid() {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		s.health.SetServingStatus(ModelServicePrefix+e.Name, status)
		seen[e.Name] = struct{}{}
	}
	for name := range s.known {
		if _, ok := seen[name]; !ok {
			s.health.SetServingStatus(ModelServicePrefix+name, healthpb.HealthCheckResponse_SERVICE_UNKNOWN)
		}
	}
	s.known = seen
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	s.logger.Debug("Health status synced", "models", len(seen))
}

// Health exposes the health service, mainly for in-process checks.
func (s *Server) Health() healthpb.HealthServer {
	return s.health
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gRPC server listening", "addr", lis.Addr().String())
		errCh <- s.grpc.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}
