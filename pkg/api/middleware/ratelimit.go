package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/goclaw/memoria/pkg/api/response"
)

// clientIdle is how long an idle client's bucket is kept.
const clientIdle = 10 * time.Minute

// clientLimiters keeps one token bucket per client host.
type clientLimiters struct {
	buckets *cache.Cache
	rate    rate.Limit
	burst   int
}

func newClientLimiters(rps float64, burst int) *clientLimiters {
	return &clientLimiters{
		buckets: cache.New(clientIdle, clientIdle),
		rate:    rate.Limit(rps),
		burst:   burst,
	}
}

// get returns the client's bucket and refreshes its expiry.
func (c *clientLimiters) get(client string) *rate.Limiter {
	if v, ok := c.buckets.Get(client); ok {
		l := v.(*rate.Limiter)
		c.buckets.SetDefault(client, l)
		return l
	}
	l := rate.NewLimiter(c.rate, c.burst)
	if err := c.buckets.Add(client, l, cache.DefaultExpiration); err != nil {
		if v, ok := c.buckets.Get(client); ok {
			return v.(*rate.Limiter)
		}
	}
	return l
}

// RateLimit returns a middleware giving every client host its own token
// bucket. The buckets are shared by every handler the middleware wraps, so
// one budget covers all routes of a group. Requests beyond the burst get 429
// with a Retry-After hint. A non-positive rate disables the middleware.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst <= 0 {
		burst = int(math.Ceil(rps))
	}
	limiters := newClientLimiters(rps, burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := limiters.get(clientHost(r)).Reserve()
			if !res.OK() {
				tooMany(w, r, time.Second)
				return
			}
			if delay := res.Delay(); delay > 0 {
				res.Cancel()
				tooMany(w, r, delay)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientHost is the host part of the peer address.
func clientHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func tooMany(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	secs := int(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	response.Error(w,
		http.StatusTooManyRequests,
		response.ErrCodeRateLimited,
		"Rate limit exceeded",
		GetRequestID(r.Context()),
	)
}
