// Package shield provides the HTTP middleware in front of the extraction
// API: security headers, body limits, request ids and rate limiting.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultAPIStack(100 << 20) {
//	    r.Use(mw)
//	}
//	rl := shield.NewRateLimiter(map[string]shield.RateLimitConfig{
//	    "POST /extract": {MaxRequests: 30, WindowSeconds: 60, Enabled: true},
//	}, "/health")
//	rl.StartReloader(done)
//	r.Use(rl.Middleware)
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// DefaultAPIStack returns the standard middleware stack for the extraction
// API, ordered HeadToGet → SecurityHeaders → MaxBody → RequestID.
// Rate limiting is added separately since it needs rules.
func DefaultAPIStack(maxBody int64) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(maxBody),
		RequestID,
	}
}
