package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"gatehouse.org/internal/obs"
)

func TestLogEvent(t *testing.T) {
	logger := obs.Logger()
	original := logger.Out
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = WithActor(ctx, "user-42")

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
	if entry["user_id"] != "user-42" {
		t.Fatalf("unexpected user id: %v", entry["user_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["foo"] != "bar" {
		t.Fatalf("fields missing or incorrect: %v", entry["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event")
	}
}

func TestRingEvictsOldest(t *testing.T) {
	log := NewLog(3)
	for i := 0; i < 5; i++ {
		log.Append(Entry{UserID: fmt.Sprintf("u%d", i), Check: "permission:users.read", Granted: true})
	}
	if log.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", log.Len())
	}
	entries := log.Entries()
	if entries[0].UserID != "u2" || entries[2].UserID != "u4" {
		t.Fatalf("unexpected retained entries: %+v", entries)
	}
	recent := log.Recent(2)
	if len(recent) != 2 || recent[0].UserID != "u4" || recent[1].UserID != "u3" {
		t.Fatalf("unexpected recent entries: %+v", recent)
	}
}

func TestQueriesAndStats(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	log := NewLog(0)
	if log.Cap() != DefaultCapacity {
		t.Fatalf("expected default capacity, got %d", log.Cap())
	}
	log.Append(Entry{UserID: "a", Granted: true, Context: "users", Timestamp: now.Add(-2 * time.Hour)})
	log.Append(Entry{UserID: "a", Granted: false, Context: "roles", Timestamp: now.Add(-10 * time.Minute)})
	log.Append(Entry{UserID: "b", Granted: false, Context: "users", Timestamp: now})

	if got := len(log.ByUser("a")); got != 2 {
		t.Fatalf("ByUser: got %d", got)
	}
	if got := len(log.ByContext("users")); got != 2 {
		t.Fatalf("ByContext: got %d", got)
	}
	if got := len(log.Failures()); got != 2 {
		t.Fatalf("Failures: got %d", got)
	}

	stats := log.Stats(now)
	if stats.Total != 3 || stats.Granted != 1 || stats.Denied != 2 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if stats.UniqueUsers != 2 {
		t.Fatalf("unexpected unique users: %d", stats.UniqueUsers)
	}
	if stats.RecentActivity != 2 {
		t.Fatalf("unexpected recent activity: %d", stats.RecentActivity)
	}
	if stats.ByContext["users"] != 2 || stats.ByContext["roles"] != 1 {
		t.Fatalf("unexpected context breakdown: %v", stats.ByContext)
	}

	log.Clear()
	if log.Len() != 0 {
		t.Fatal("expected empty log after Clear")
	}
}

func TestAppendFillsIdentity(t *testing.T) {
	log := NewLog(2)
	stored := log.Append(Entry{UserID: "a"})
	if stored.ID == "" || stored.Timestamp.IsZero() {
		t.Fatalf("expected id and timestamp, got %+v", stored)
	}
}
