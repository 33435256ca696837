package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"guildhall.org/internal/obs"
)

// HealthServer exposes the standard gRPC health service. Its serving status
// follows the readiness probe.
type HealthServer struct {
	*health.Server
	readiness readinessChecker
}

func NewHealthServer(r readinessChecker) *HealthServer {
	if r == nil {
		r = ReadyProbe{}
	}
	return &HealthServer{Server: health.NewServer(), readiness: r}
}

// Register adds the health service to s.
func (h *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.Server)
}

// Refresh runs the readiness probe once and publishes the result for the
// overall server and for the named service.
func (h *HealthServer) Refresh(ctx context.Context) bool {
	status := healthpb.HealthCheckResponse_SERVING
	err := h.readiness.Check(ctx)
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		obs.Logger().WithError(err).Warn("readiness check failed")
	}
	h.SetServingStatus("", status)
	h.SetServingStatus(serviceName, status)
	obs.SetReady(err == nil)
	return err == nil
}

// Run refreshes the status every interval until ctx ends, then reports
// NOT_SERVING for good.
func (h *HealthServer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	h.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			h.Shutdown()
			return
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}
