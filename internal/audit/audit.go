package audit

import (
	"context"
	"strings"
	"time"

	"provreg.org/internal/ids"
	"provreg.org/internal/obs"
)

// Provisioning event names.
const (
	EventRoleStored      = "role.stored"
	EventRoleActivated   = "role.activated"
	EventRoleDeactivated = "role.deactivated"
	EventUserStored      = "user.stored"
	EventUserLocked      = "user.locked"
	EventUserUnlocked    = "user.unlocked"
	EventUserActivated   = "user.activated"
	EventUserDeactivated = "user.deactivated"
	EventPasswordChanged = "user.password_changed"
	EventRequestFiled    = "request.filed"
	EventRequestApproved = "request.approved"
	EventRequestRejected = "request.rejected"
)

// Event is one fire-and-forget audit record. ActorUUID may be empty when
// the action is self-service (for example filing an account request).
type Event struct {
	Event       string
	ActorUUID   string
	SubjectUUID string
	Fields      map[string]any
}

// Sink accepts audit events. Implementations must not block provisioning:
// a sink failure is the sink's problem, never the caller's.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches a correlation id that LogSink copies onto every
// event emitted under this context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogSink writes events as JSON lines through the shared logger.
type LogSink struct{}

// NewLogSink returns a Sink backed by the process logger.
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Emit writes one audit line. It never returns an error for payload
// problems; marshaling failures fall back to a plain error line inside obs.
func (s *LogSink) Emit(ctx context.Context, ev Event) error {
	entry := map[string]any{
		"id":    ids.New(),
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": ev.Event,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if ev.ActorUUID != "" {
		entry["actor_uuid"] = ev.ActorUUID
	}
	if ev.SubjectUUID != "" {
		entry["subject_uuid"] = ev.SubjectUUID
	}
	if len(ev.Fields) > 0 {
		fields := make(map[string]any, len(ev.Fields))
		for k, v := range ev.Fields {
			fields[k] = v
		}
		entry["fields"] = fields
	}
	obs.Emit(entry)
	return nil
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) error { return nil }
