package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/alfa/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "events.db")
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenEphemeral(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "ephemeral"})
	if err := es.Record(context.Background(), Event{SessionID: "s", Type: "started"}); err != nil {
		t.Fatalf("ephemeral record should be a no-op: %v", err)
	}
	events, err := es.ListSessionEvents(context.Background(), "s", 10)
	if err != nil || events != nil {
		t.Fatalf("expected nothing stored, got %v %v", events, err)
	}
}

func TestRecordAndList(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "session"})
	ctx := context.Background()

	if err := es.Record(ctx, Event{SessionID: "session-123", CharacterID: "pai", Type: "started", Key: "pai:b", Letter: "b", Outcome: "started", Source: "custom"}); err != nil {
		t.Fatalf("record started: %v", err)
	}
	if err := es.Record(ctx, Event{SessionID: "session-123", CharacterID: "pai", Type: "finished", Key: "pai:b", Letter: "b", Payload: []byte(`{"x":1}`)}); err != nil {
		t.Fatalf("record finished: %v", err)
	}
	events, err := es.ListSessionEvents(ctx, "session-123", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != "started" || events[0].Source != "custom" || events[0].Key != "pai:b" {
		t.Fatalf("unexpected first event %+v", events[0])
	}
	if string(events[1].Payload) != `{"x":1}` {
		t.Fatalf("unexpected payload: %s", events[1].Payload)
	}
	if err := es.Record(ctx, Event{Type: "started"}); err == nil {
		t.Fatalf("expected error for missing session id")
	}
}

func TestLetterCounts(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent"})
	ctx := context.Background()
	for _, e := range []Event{
		{SessionID: "a", CharacterID: "mae", Type: "started", Letter: "a"},
		{SessionID: "a", CharacterID: "mae", Type: "replayed", Letter: "a"},
		{SessionID: "a", CharacterID: "mae", Type: "finished", Letter: "a"},
		{SessionID: "b", CharacterID: "mae", Type: "fallback", Letter: "z"},
		{SessionID: "b", CharacterID: "", Type: "started", Letter: "c"},
	} {
		if err := es.Record(ctx, e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	counts, err := es.LetterCounts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if len(counts) != 3 {
		t.Fatalf("expected 3 rows, got %+v", counts)
	}
	if counts[0] != (LetterCount{CharacterID: "mae", Letter: "a", Plays: 2}) {
		t.Fatalf("unexpected top letter %+v", counts[0])
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1})
	ctx := context.Background()

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.Record(ctx, Event{SessionID: "old-session", Type: "started", Letter: "a"}); err != nil {
		t.Fatalf("record old: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.Record(ctx, Event{SessionID: "new-session", Type: "started", Letter: "b"}); err != nil {
		t.Fatalf("record new: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListSessionEvents(ctx, "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old session pruned")
	}
	events, err = es.ListSessionEvents(ctx, "new-session", 10)
	if err != nil || len(events) != 1 {
		t.Fatalf("expected new session kept, got %d %v", len(events), err)
	}
}
