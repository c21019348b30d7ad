package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// MetricsRecorder receives one observation per finished call.
type MetricsRecorder interface {
	RecordGRPCRequest(ctx context.Context, method, code string, duration time.Duration)
	IncGRPCInflight(method string)
	DecGRPCInflight(method string)
}

// MetricsUnaryInterceptor collects metrics for unary RPCs.
func MetricsUnaryInterceptor(m MetricsRecorder) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		m.IncGRPCInflight(info.FullMethod)
		defer m.DecGRPCInflight(info.FullMethod)

		resp, err := handler(ctx, req)
		m.RecordGRPCRequest(ctx, info.FullMethod, status.Code(err).String(), time.Since(start))
		return resp, err
	}
}
