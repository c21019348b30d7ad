package interceptors

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// limiterIdle is how long an idle client's bucket is kept.
const limiterIdle = 10 * time.Minute

// RateLimiter keeps one token bucket per client address. Buckets of idle
// clients expire.
type RateLimiter struct {
	limiters *cache.Cache
	rate     rate.Limit
	burst    int
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: cache.New(limiterIdle, limiterIdle),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

// limiter returns the client's bucket, refreshing its expiry. Two racing
// first calls may each create a bucket; the loser's single token is lost.
func (rl *RateLimiter) limiter(clientID string) *rate.Limiter {
	if v, ok := rl.limiters.Get(clientID); ok {
		l := v.(*rate.Limiter)
		rl.limiters.SetDefault(clientID, l)
		return l
	}
	l := rate.NewLimiter(rl.rate, rl.burst)
	if err := rl.limiters.Add(clientID, l, cache.DefaultExpiration); err != nil {
		if v, ok := rl.limiters.Get(clientID); ok {
			return v.(*rate.Limiter)
		}
	}
	return l
}

// RateLimitUnaryInterceptor enforces rate limiting per client
func RateLimitUnaryInterceptor(rl *RateLimiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if rl == nil || rl.rate <= 0 || strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}

		res := rl.limiter(clientID(ctx)).Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			secs := int(delay.Seconds()) + 1
			_ = grpc.SetHeader(ctx, metadata.Pairs("retry-after", strconv.Itoa(secs)))
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}

		return handler(ctx, req)
	}
}

// clientID is the caller's host, or "anonymous" when the transport does not
// expose a peer.
func clientID(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "anonymous"
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
