// Package audit emits structured security audit events.
package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"identity.org/internal/identity"
	"identity.org/internal/ids"
	"identity.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// requestIDFromContext extracts the audit request id from context if present.
func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit log entry enriched with request and principal
// context. Each entry carries a sortable audit id.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}

	logger := obs.Logger()
	entry := logger.Info().
		Str("type", "audit").
		Str("audit_id", ids.New()).
		Str("event", event).
		Str("ts", time.Now().UTC().Format(time.RFC3339Nano))

	if rid := requestIDFromContext(ctx); rid != "" {
		entry = entry.Str("request_id", rid)
	}
	if principal, ok := identity.PrincipalFromContext(ctx); ok {
		entry = entry.Str("user_id", principal.User.ID.String())
	}

	if len(fields) > 0 {
		copyFields := make(map[string]any, len(fields))
		for k, v := range fields {
			copyFields[k] = v
		}
		entry = entry.Interface("fields", copyFields)
	} else {
		entry = entry.Interface("fields", map[string]any{})
	}

	entry.Send()
	return nil
}

// Recorder adapts LogEvent to the identity core's event callback.
func Recorder() identity.EventFunc {
	return func(ctx context.Context, event string, fields map[string]any) {
		_ = LogEvent(ctx, event, fields)
	}
}
