package grpc

import (
	"context"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const probeTimeout = 5 * time.Second

// watch runs the probe every probeInterval and mirrors its outcome into the
// health status until ctx is done.
func (s *GRPCServer) watch(ctx context.Context) {
	ticker := time.NewTicker(s.probeInterval)
	defer ticker.Stop()

	serving := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if ok := s.check(ctx); ok != serving {
			serving = ok
			if ok {
				s.logger.Info(ctx, "dependency probe recovered")
				s.setStatus(healthpb.HealthCheckResponse_SERVING)
			} else {
				s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
			}
		}
	}
}

func (s *GRPCServer) check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := s.probe(ctx); err != nil {
		s.logger.Warn(ctx, "dependency probe failed", "error", err)
		return false
	}
	return true
}
