// Package kit holds the transport-neutral plumbing shared by the MCP and
// HTTP surfaces: the Endpoint type, its middlewares and the request-scoped
// context keys.
package kit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/docextract/docerr"
)

// Endpoint is one operation, independent of how it is reached.
type Endpoint func(ctx context.Context, req any) (any, error)

// Middleware wraps an Endpoint.
type Middleware func(next Endpoint) Endpoint

// Chain composes middlewares left to right: the first is the outermost.
func Chain(mws ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// RequestID attaches a UUIDv7 request id unless the context already has one.
func RequestID() Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			if GetRequestID(ctx) == "" {
				ctx = WithRequestID(ctx, NewRequestID())
			}
			return next(ctx, req)
		}
	}
}

// NewRequestID returns a time-ordered id. It falls back to a random v4
// when the v7 clock source fails.
func NewRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Logging logs every call with its duration and, on failure, the error code.
func Logging(logger *slog.Logger) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				"request_id", GetRequestID(ctx),
				"transport", GetTransport(ctx),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if err != nil {
				logger.ErrorContext(ctx, "call failed", append(attrs, "code", docerr.KindOf(err).Code(), "error", err)...)
			} else {
				logger.DebugContext(ctx, "call ok", attrs...)
			}
			return resp, err
		}
	}
}

// Timeout bounds each call. d <= 0 disables it.
func Timeout(d time.Duration) Middleware {
	return func(next Endpoint) Endpoint {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req any) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// Recovery turns a panic below it into an internal docerr.Error.
func Recovery() Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			return docerr.Guard("endpoint", map[string]string{"request_id": GetRequestID(ctx)}, func() (any, error) {
				return next(ctx, req)
			})
		}
	}
}
