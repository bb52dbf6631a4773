package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/google/uuid"

	"identity.org/internal/identity"
	"identity.org/internal/obs"
)

func TestLogEvent(t *testing.T) {
	var buf bytes.Buffer
	obs.SetOutput(&buf)
	defer obs.SetOutput(os.Stdout)

	userID := uuid.New()
	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = identity.ContextWithPrincipal(ctx, identity.UserWithRoles{
		User: identity.User{ID: userID, Email: "alice@example.com"},
	})

	if err := LogEvent(ctx, "account.locked", map[string]any{"attempts": 3}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
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
	if entry["event"] != "account.locked" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["user_id"] != userID.String() {
		t.Fatalf("unexpected user id: %v", entry["user_id"])
	}
	if id, ok := entry["audit_id"].(string); !ok || len(id) != 26 {
		t.Fatalf("audit_id missing or malformed: %v", entry["audit_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["attempts"] != float64(3) {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}

	if err := LogEvent(ctx, "  ", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}
