// Package handlers provides the HTTP handlers of the memory API.
package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"

	"github.com/goclaw/memoria/pkg/api/middleware"
	"github.com/goclaw/memoria/pkg/api/response"
	"github.com/goclaw/memoria/pkg/memory"
)

// DefaultMaxBodyBytes bounds request bodies when no limit is configured.
const DefaultMaxBodyBytes int64 = 1 << 20

func getRequestID(ctx context.Context) string {
	if id := middleware.GetRequestID(ctx); id != "" {
		return id
	}
	return "unknown"
}

// decodeJSON reads a size-bounded JSON body into dst and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, v *validator.Validate, dst any) error {
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return maxBytes
		}
		return fmt.Errorf("%w: read request body: %v", response.ErrInvalidInput, err)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", response.ErrInvalidInput, err)
	}
	if err := v.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", response.ErrValidationFailed, err)
	}
	return nil
}

// engineError maps memory errors onto the response error vocabulary.
func engineError(err error) error {
	switch {
	case errors.Is(err, memory.ErrInvalidEntityID),
		errors.Is(err, memory.ErrUnknownCategory),
		errors.Is(err, memory.ErrUnknownSource),
		errors.Is(err, memory.ErrDimensionMismatch):
		return fmt.Errorf("%w: %v", response.ErrInvalidInput, err)
	case errors.Is(err, memory.ErrNotFound):
		return fmt.Errorf("%w: %v", response.ErrNotFound, err)
	case errors.Is(err, memory.ErrNotShareable):
		return fmt.Errorf("%w: %v", response.ErrConflict, err)
	case errors.Is(err, memory.ErrEngineClosed):
		return fmt.Errorf("%w: %v", response.ErrServiceUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", response.ErrTimeout, err)
	default:
		return err
	}
}

// queryInt parses a positive integer query parameter, clamped to max.
func queryInt(r *http.Request, key string, def, max int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", response.ErrInvalidInput, key)
	}
	if n > max {
		n = max
	}
	return n, nil
}
