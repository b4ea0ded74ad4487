// Package grpcapi serves the standard gRPC health service.  Its serving
// status follows the same readiness probe that backs /readyz.
package grpcapi

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported alongside the overall ("")
// status.
const ServiceName = "bulletin"

const defaultProbeInterval = 10 * time.Second

type Config struct {
	Addr string
	// Ready is the readiness probe.  Nil means always serving.
	Ready func(ctx context.Context) error
	// Interval between probes.  Zero means 10s.
	Interval time.Duration
	Logger   *log.Logger
}

// Server owns a grpc.Server with the health service registered and a loop
// that refreshes the serving status.
type Server struct {
	addr     string
	ready    func(ctx context.Context) error
	interval time.Duration
	logger   *log.Logger

	grpc   *grpc.Server
	health *health.Server

	stopOnce sync.Once
	done     chan struct{}
}

func NewServer(cfg Config) *Server {
	s := &Server{
		addr:     cfg.Addr,
		ready:    cfg.Ready,
		interval: cfg.Interval,
		logger:   cfg.Logger,
		grpc:     grpc.NewServer(),
		health:   health.NewServer(),
		done:     make(chan struct{}),
	}
	if s.interval <= 0 {
		s.interval = defaultProbeInterval
	}
	if s.logger == nil {
		s.logger = log.New(io.Discard, "", 0)
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start(ctx context.Context) error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve runs the probe loop and serves gRPC on l.  It returns nil after a
// graceful Stop.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.Probe(ctx)

	go s.loop(ctx)

	if err := s.grpc.Serve(l); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *Server) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}

// Probe runs the readiness check once and publishes the result.
func (s *Server) Probe(ctx context.Context) {
	if s.ready == nil {
		s.setStatus(healthpb.HealthCheckResponse_SERVING)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.ready(ctx); err != nil {
		s.logger.Printf("grpc health: not ready: %v", err)
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
}

func (s *Server) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Stop marks the service as shutting down and stops gracefully, falling back
// to a hard stop when ctx expires first.
func (s *Server) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		close(s.done)
		s.health.Shutdown()

		stopped := make(chan struct{})
		go func() {
			s.grpc.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			s.grpc.Stop()
		}
	})
}
