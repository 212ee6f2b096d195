package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/loykin/sshapp/internal/history"
)

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := t.TempDir() + "/test.db"

	sink, err := New("file:" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	events := []history.Event{
		{Type: history.EventStartRequested, OccurredAt: time.Now().UTC(), Service: "ignite", Node: "ducker@h1:22"},
		{Type: history.EventInitialized, OccurredAt: time.Now().UTC(), Service: "ignite", State: "INITIALIZED"},
		{Type: history.EventBroken, OccurredAt: time.Now().UTC(), Service: "ignite", State: "BROKEN", Message: "boom"},
		{Type: history.EventStopped, OccurredAt: time.Now().UTC(), Service: "other", Node: "ducker@h2:22"},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send %s event: %v", e.Type, err)
		}
	}

	n, err := sink.Count(ctx, "ignite")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 events for ignite, got %d", n)
	}
}

func TestSQLiteSink_InMemory(t *testing.T) {
	sink, err := New("sqlite://:memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	if err := sink.Send(ctx, history.Event{Type: history.EventCleaned, OccurredAt: time.Now(), Service: "mem"}); err != nil {
		t.Fatalf("Failed to send event: %v", err)
	}
	if n, _ := sink.Count(ctx, "mem"); n != 1 {
		t.Fatalf("expected 1 event, got %d", n)
	}
}

func TestSQLiteSink_Errors(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
	if _, err := NewWithTable(":memory:", "bad table;"); err == nil {
		t.Fatalf("expected error for invalid table name")
	}
}

func TestSQLiteSink_ContextCancellation(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sink.Send(ctx, history.Event{Type: history.EventTimeout, OccurredAt: time.Now(), Service: "x"}); err == nil {
		t.Fatalf("expected error with cancelled context")
	}
}
