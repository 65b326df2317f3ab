package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"provreg.org/internal/obs"
)

func TestLogSinkEmit(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	ctx := WithRequestID(context.Background(), "req-123")

	sink := NewLogSink()
	err := sink.Emit(ctx, Event{
		Event:       EventRequestApproved,
		ActorUUID:   "approver-1",
		SubjectUUID: "request-9",
		Fields:      map[string]any{"login": "jdoe"},
	})
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	line := buf.String()
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != EventRequestApproved {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["actor_uuid"] != "approver-1" {
		t.Fatalf("unexpected actor: %v", entry["actor_uuid"])
	}
	if entry["id"] == "" {
		t.Fatal("expected an entry id")
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["login"] != "jdoe" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestNopSink(t *testing.T) {
	if err := (NopSink{}).Emit(context.Background(), Event{Event: "ignored"}); err != nil {
		t.Fatalf("NopSink must never fail: %v", err)
	}
}
