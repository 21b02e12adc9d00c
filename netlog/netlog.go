// Package netlog provides structured JSON logging for the networking core,
// adapted from the teacher's HTTP request logger
// (pkg/middleware/logging.go) from request/response logging to
// task-lifecycle and cache-event logging.
package netlog

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "request-id"

// WithRequestID stores a correlation id on ctx, for propagation through a
// task's lifecycle (preProcess -> process -> finished).
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the correlation id, generating a new
// uuid-based one (same scheme as the teacher's generateRequestID) if ctx
// carries none.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

// Level mirrors the teacher's INFO/WARN/ERROR triage by HTTP status, here
// triaged by event severity instead.
type Level string

const (
	Info  Level = "INFO"
	Warn  Level = "WARN"
	Error Level = "ERROR"
)

// Event logs a structured entry with the given fields, the same
// map[string]interface{}-marshaled-to-JSON-then-log.Printf approach as the
// teacher's logRequest/LogWithRequestID.
func Event(ctx context.Context, level Level, message string, fields map[string]interface{}) {
	entry := map[string]interface{}{
		"request_id": RequestIDFromContext(ctx),
		"message":    message,
	}
	for k, v := range fields {
		entry[k] = v
	}

	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("[ERROR] netlog: failed to marshal log entry: %v", err)
		log.Printf("[%s] %s", level, message)
		return
	}

	log.Printf("[%s] %s", level, string(data))
}

// Infof, Warnf and Errorf are thin convenience wrappers over Event that fix
// the level.
func Infof(ctx context.Context, message string, fields map[string]interface{}) {
	Event(ctx, Info, message, fields)
}

func Warnf(ctx context.Context, message string, fields map[string]interface{}) {
	Event(ctx, Warn, message, fields)
}

func Errorf(ctx context.Context, message string, fields map[string]interface{}) {
	Event(ctx, Error, message, fields)
}
