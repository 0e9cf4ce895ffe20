// Package health exposes the engine's readiness over the standard
// grpc.health.v1 protocol. Each component ("cache", "storage") is reported
// as its own service name; the empty name reflects overall readiness, which
// only depends on components marked critical.
package health

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/voyagehub/assetsync/internal/logging"
)

const DefaultCheckInterval = 15 * time.Second

// CheckFunc reports whether a component is usable.
type CheckFunc func(ctx context.Context) bool

type check struct {
	name     string
	fn       CheckFunc
	critical bool
}

type Server struct {
	address  string
	interval time.Duration
	logger   logging.Logger
	health   *health.Server

	mu     sync.Mutex
	checks []check
}

func NewServer(address string, interval time.Duration, l logging.Logger) *Server {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return &Server{
		address:  address,
		interval: interval,
		logger:   l.With("module", "health"),
		health:   health.NewServer(),
	}
}

// AddCheck registers a component. A failing critical component marks the
// whole process NOT_SERVING; a failing non-critical one only itself.
func (s *Server) AddCheck(component string, critical bool, fn CheckFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks = append(s.checks, check{name: component, fn: fn, critical: critical})
}

// Refresh runs every check once and publishes the results.
func (s *Server) Refresh(ctx context.Context) {
	s.mu.Lock()
	checks := append([]check(nil), s.checks...)
	s.mu.Unlock()

	overall := healthpb.HealthCheckResponse_SERVING
	for _, c := range checks {
		st := healthpb.HealthCheckResponse_SERVING
		if !c.fn(ctx) {
			st = healthpb.HealthCheckResponse_NOT_SERVING
			s.logger.Warn(ctx, "component unhealthy", "component", c.name, "critical", c.critical)
			if c.critical {
				overall = healthpb.HealthCheckResponse_NOT_SERVING
			}
		}
		s.health.SetServingStatus(c.name, st)
	}
	s.health.SetServingStatus("", overall)
}

// Run listens on the configured address and serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve serves on lis until ctx ends, refreshing the checks periodically.
// The overall status reads SERVING until the first check completes.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.loggingInterceptor))
	healthpb.RegisterHealthServer(srv, s.health)

	go func() {
		s.Refresh(ctx)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Refresh(ctx)
			case <-ctx.Done():
				s.logger.Info(ctx, "Stopping health server...")
				s.health.Shutdown()
				srv.GracefulStop()
				return
			}
		}
	}()

	s.logger.Info(ctx, "Starting health server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *Server) loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Debug(ctx, "grpc call", "method", info.FullMethod, "duration", time.Since(start).String(), "error", err)
	return resp, err
}
