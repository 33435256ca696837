package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"guildhall.org/internal/activity"
	"guildhall.org/internal/auth"
	"guildhall.org/internal/obs"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	logger := obs.Logger()
	original := logger.Out
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(original) })
	return &buf
}

func TestLogEvent(t *testing.T) {
	buf := captureLog(t)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = auth.ContextWithCaller(ctx, "alice")

	if err := LogEvent(ctx, "audit.test", map[string]any{"foo": "bar"}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "audit.test" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["caller"] != "alice" {
		t.Fatalf("unexpected caller: %v", entry["caller"])
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("timestamp missing: %v", entry)
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["foo"] != "bar" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}

	if err := LogEvent(ctx, "  ", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}

func TestNotifierLogsActivity(t *testing.T) {
	buf := captureLog(t)

	evt := activity.Event{
		ID:             "evt-1",
		Kind:           activity.TreasuryWithdrawal,
		OrganizationID: "acme",
		Actor:          "admin",
		Target:         "payee",
		Amount:         75,
		Asset:          "NATIVE",
		OccurredAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := (Notifier{}).Notify(context.Background(), evt); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	fields := entry["fields"].(map[string]any)
	if entry["event"] != "treasury.withdrawal" || fields["org_id"] != "acme" || fields["amount"] != float64(75) {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if _, ok := fields["proposal_id"]; ok {
		t.Fatalf("empty fields should be omitted: %v", fields)
	}
}
