package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"gatehouse.org/internal/obs"
)

// GRPCServer serves the standard gRPC health protocol, driven by the same
// readiness probe as /readyz.
type GRPCServer struct {
	health    *health.Server
	readiness ReadyProbe
	interval  time.Duration
}

// NewGRPCServer creates the health service wrapper. A zero interval polls
// every 10 seconds.
func NewGRPCServer(r ReadyProbe, interval time.Duration) *GRPCServer {
	if r == nil {
		r = PingProbe(nil)
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &GRPCServer{
		health:    health.NewServer(),
		readiness: r,
		interval:  interval,
	}
}

// Register attaches the health service to srv.
func (s *GRPCServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
}

// Refresh probes readiness once and publishes the result for the overall
// server and the named service.
func (s *GRPCServer) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if err := s.readiness.Check(ctx); err != nil {
		obs.Logger().WithError(err).Warn("readiness probe failed")
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	obs.SetReady(status == healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(serviceName, status)
	return status
}

// Run refreshes readiness until ctx ends, then marks everything not serving.
func (s *GRPCServer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}
