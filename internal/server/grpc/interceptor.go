package grpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// loggingInterceptor logs each unary call. Health checks are polled
// constantly, so they only show up at debug level.
func (s *GRPCServer) loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	args := []any{
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"duration", time.Since(start),
	}
	switch {
	case err != nil:
		s.logger.Warn(ctx, "grpc call failed", append(args, "error", err)...)
	case info.FullMethod == healthpb.Health_Check_FullMethodName:
		s.logger.Debug(ctx, "grpc call", args...)
	default:
		s.logger.Info(ctx, "grpc call", args...)
	}

	return resp, err
}
