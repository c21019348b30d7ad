package client

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// retryAfterKey carries the server's rate-limit hint in whole seconds.
const retryAfterKey = "retry-after"

// call is one attempt of a read RPC. opts must be passed to the stub so the
// response metadata can be inspected.
type call[T any] func(ctx context.Context, opts ...grpc.CallOption) (T, error)

// withRetry runs fn until it succeeds, fails with a non-retryable code,
// or the policy's attempts run out. A retry-after hint from the server
// stretches the next wait; a hint longer than MaxBackoff ends the retries
// with the server's error.
func withRetry[T any](c *Client, ctx context.Context, fn call[T]) (T, error) {
	var zero T
	p := c.retryPolicy
	if p == nil || p.MaxAttempts <= 1 {
		return fn(ctx)
	}

	backoff := p.InitialBackoff
	var lastErr error
	for attempt := 1; ; attempt++ {
		var header, trailer metadata.MD
		resp, err := fn(ctx, grpc.Header(&header), grpc.Trailer(&trailer))
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !p.retryable(err) {
			return zero, err
		}
		if attempt >= p.MaxAttempts {
			break
		}

		wait := backoff
		if hint, ok := retryAfter(header, trailer); ok {
			if hint > p.MaxBackoff {
				return zero, err
			}
			wait = max(wait, hint)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
		backoff = min(time.Duration(float64(backoff)*p.BackoffMultiplier), p.MaxBackoff)
	}
	return zero, fmt.Errorf("max retry attempts reached: %w", lastErr)
}

// retryable reports whether err carries one of the policy's codes.
func (p *RetryPolicy) retryable(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	for _, name := range p.RetryableErrors {
		if strings.EqualFold(st.Code().String(), name) {
			return true
		}
	}
	return false
}

// retryAfter reads the hint from either header or trailer metadata; a
// rejected call may arrive as a trailers-only response.
func retryAfter(mds ...metadata.MD) (time.Duration, bool) {
	for _, md := range mds {
		vals := md.Get(retryAfterKey)
		if len(vals) == 0 {
			continue
		}
		secs, err := strconv.Atoi(vals[0])
		if err != nil || secs < 0 {
			continue
		}
		return time.Duration(secs) * time.Second, true
	}
	return 0, false
}

// IsNotFound checks if error is NotFound
func IsNotFound(err error) bool {
	return hasCode(err, codes.NotFound)
}

// IsInvalidArgument checks if error is InvalidArgument
func IsInvalidArgument(err error) bool {
	return hasCode(err, codes.InvalidArgument)
}

// IsUnavailable checks if error is Unavailable
func IsUnavailable(err error) bool {
	return hasCode(err, codes.Unavailable)
}

// IsDeadlineExceeded checks if error is DeadlineExceeded
func IsDeadlineExceeded(err error) bool {
	return hasCode(err, codes.DeadlineExceeded)
}

// IsResourceExhausted reports a rate-limited call.
func IsResourceExhausted(err error) bool {
	return hasCode(err, codes.ResourceExhausted)
}

func hasCode(err error, code codes.Code) bool {
	return GetErrorCode(err) == code
}

// GetErrorCode extracts the gRPC code, codes.Unknown for other errors.
func GetErrorCode(err error) codes.Code {
	st, ok := status.FromError(err)
	if !ok {
		return codes.Unknown
	}
	return st.Code()
}
