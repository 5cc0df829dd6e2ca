package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/aloudlabs/aloud-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	// Writes and reads are no-ops without a database.
	if err := es.AppendTransition(ctx, Transition{SessionID: "s", RequestID: "r", State: "finished"}); err != nil {
		t.Fatalf("append on ephemeral store: %v", err)
	}
	trs, err := es.SessionTimeline(ctx, "s", 10)
	if err != nil || trs != nil {
		t.Fatalf("expected empty timeline, got %v (%v)", trs, err)
	}
}

func TestAppendAndQueryTimeline(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "session"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	sessionID := "session-123"
	if err := es.AppendSession(context.Background(), sessionID, "aloud-node-1"); err != nil {
		t.Fatalf("append session: %v", err)
	}

	states := []string{"queued", "loading", "speaking", "finished"}
	for _, state := range states {
		tr := Transition{
			SessionID: sessionID,
			RequestID: "req-1",
			Engine:    "remote",
			State:     state,
			Text:      "hello there",
		}
		if err := es.AppendTransition(context.Background(), tr); err != nil {
			t.Fatalf("append transition %q: %v", state, err)
		}
	}

	trs, err := es.SessionTimeline(context.Background(), sessionID, 10)
	if err != nil {
		t.Fatalf("session timeline: %v", err)
	}
	if len(trs) != len(states) {
		t.Fatalf("expected %d transitions, got %d", len(states), len(trs))
	}
	for i, state := range states {
		if trs[i].State != state {
			t.Fatalf("transition %d: expected state %q, got %q", i, state, trs[i].State)
		}
	}
	if trs[0].Text != "hello there" {
		t.Fatalf("unexpected text: %q", trs[0].Text)
	}

	byReq, err := es.RequestTimeline(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("request timeline: %v", err)
	}
	if len(byReq) != len(states) {
		t.Fatalf("expected %d transitions for request, got %d", len(states), len(byReq))
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "events.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(context.Background(), "old-session", "node"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.AppendTransition(context.Background(), Transition{SessionID: "old-session", RequestID: "r0", State: "finished"}); err != nil {
		t.Fatalf("append transition: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.AppendSession(context.Background(), "new-session", "node"); err != nil {
		t.Fatalf("append session: %v", err)
	}
	if err := es.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	trs, err := es.SessionTimeline(context.Background(), "old-session", 10)
	if err != nil {
		t.Fatalf("session timeline: %v", err)
	}
	if len(trs) != 0 {
		t.Fatalf("expected old session pruned")
	}
}
