package interceptors

import (
	"google.golang.org/grpc"

	"github.com/goclaw/memoria/pkg/logger"
)

// ChainBuilder helps build interceptor chains in the correct order
type ChainBuilder struct {
	unaryInterceptors  []grpc.UnaryServerInterceptor
	streamInterceptors []grpc.StreamServerInterceptor
}

// NewChainBuilder creates a new interceptor chain builder
func NewChainBuilder() *ChainBuilder {
	return &ChainBuilder{}
}

// WithRecovery adds recovery interceptor (should be first)
func (b *ChainBuilder) WithRecovery(log logger.Logger) *ChainBuilder {
	b.unaryInterceptors = append(b.unaryInterceptors, RecoveryUnaryInterceptor(log))
	b.streamInterceptors = append(b.streamInterceptors, RecoveryStreamInterceptor(log))
	return b
}

// WithRequestID adds request ID interceptor
func (b *ChainBuilder) WithRequestID() *ChainBuilder {
	b.unaryInterceptors = append(b.unaryInterceptors, RequestIDUnaryInterceptor())
	b.streamInterceptors = append(b.streamInterceptors, RequestIDStreamInterceptor())
	return b
}

// WithTracing adds tracing interceptor
func (b *ChainBuilder) WithTracing() *ChainBuilder {
	b.unaryInterceptors = append(b.unaryInterceptors, TracingUnaryInterceptor())
	return b
}

// WithLogging adds logging interceptor
func (b *ChainBuilder) WithLogging(log logger.Logger) *ChainBuilder {
	b.unaryInterceptors = append(b.unaryInterceptors, LoggingUnaryInterceptor(log))
	b.streamInterceptors = append(b.streamInterceptors, LoggingStreamInterceptor(log))
	return b
}

// WithMetrics adds metrics interceptor. A nil recorder adds nothing.
func (b *ChainBuilder) WithMetrics(m MetricsRecorder) *ChainBuilder {
	if m == nil {
		return b
	}
	b.unaryInterceptors = append(b.unaryInterceptors, MetricsUnaryInterceptor(m))
	return b
}

// WithRateLimit adds rate limiting interceptor
func (b *ChainBuilder) WithRateLimit(requestsPerSecond float64, burst int) *ChainBuilder {
	if requestsPerSecond <= 0 {
		return b
	}
	b.unaryInterceptors = append(b.unaryInterceptors, RateLimitUnaryInterceptor(NewRateLimiter(requestsPerSecond, burst)))
	return b
}

// WithValidation adds validation interceptor
func (b *ChainBuilder) WithValidation() *ChainBuilder {
	b.unaryInterceptors = append(b.unaryInterceptors, ValidationUnaryInterceptor())
	return b
}

// Build returns the configured interceptors as server options
func (b *ChainBuilder) Build() []grpc.ServerOption {
	opts := make([]grpc.ServerOption, 0, 2)

	if len(b.unaryInterceptors) > 0 {
		opts = append(opts, grpc.ChainUnaryInterceptor(b.unaryInterceptors...))
	}

	if len(b.streamInterceptors) > 0 {
		opts = append(opts, grpc.ChainStreamInterceptor(b.streamInterceptors...))
	}

	return opts
}

// DefaultChain returns the chain the server installs:
// recovery -> request_id -> tracing -> logging -> metrics -> rate_limit -> validation
func DefaultChain(log logger.Logger, m MetricsRecorder, requestsPerSecond float64, burst int) *ChainBuilder {
	return NewChainBuilder().
		WithRecovery(log).
		WithRequestID().
		WithTracing().
		WithLogging(log).
		WithMetrics(m).
		WithRateLimit(requestsPerSecond, burst).
		WithValidation()
}
