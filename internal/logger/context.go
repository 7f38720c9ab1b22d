package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds request-scoped logging context for the proxy path.
type LogContext struct {
	RequestID   string    // chi request ID
	ClientIP    string    // client IP address (without port)
	UpstreamURL string    // normalized upstream URL
	Fingerprint string    // cache key, set once computed
	StartTime   time.Time // for duration calculation
}

// WithContext returns a new context carrying the given LogContext.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from ctx, or nil if not present.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// appendContextFields prepends LogContext fields to args so they appear
// first in output.
func appendContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	ctxArgs := make([]any, 0, 8+len(args))
	if lc.RequestID != "" {
		ctxArgs = append(ctxArgs, KeyRequestID, lc.RequestID)
	}
	if lc.ClientIP != "" {
		ctxArgs = append(ctxArgs, KeyClientIP, lc.ClientIP)
	}
	if lc.UpstreamURL != "" {
		ctxArgs = append(ctxArgs, KeyURL, lc.UpstreamURL)
	}
	if lc.Fingerprint != "" {
		ctxArgs = append(ctxArgs, KeyFingerprint, lc.Fingerprint)
	}
	return append(ctxArgs, args...)
}
