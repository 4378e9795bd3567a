package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/loqalabs/alfa/internal/catalog"
	"github.com/loqalabs/alfa/internal/config"
	"github.com/loqalabs/alfa/internal/eventstore"
	"github.com/loqalabs/alfa/internal/settings"
	"github.com/loqalabs/alfa/internal/voice"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestRuntime(t *testing.T) (*Runtime, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()
	log := newLogger()

	store, err := settings.Open(ctx, config.SettingsConfig{Path: filepath.Join(dir, "settings.db")}, log)
	if err != nil {
		t.Fatalf("open settings: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	events, err := eventstore.Open(ctx, config.EventStoreConfig{Path: filepath.Join(dir, "events.db"), RetentionMode: "session"}, log)
	if err != nil {
		t.Fatalf("open events: %v", err)
	}
	t.Cleanup(func() { _ = events.Close() })

	fsys := fstest.MapFS{
		"letters/A.mp3": {Data: []byte("a")},
		"letters/B.mp3": {Data: []byte("b")},
		"pai/B.wav":     {Data: []byte("b")},
	}

	r := New(config.Default(), log)
	r.settings = store
	r.events = events
	r.voices = voice.NewTableFS(fsys, "/sounds", nil)

	mux := http.NewServeMux()
	r.routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return r, srv
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestLettersEndpoint(t *testing.T) {
	_, srv := newTestRuntime(t)
	var letters []catalog.Letter
	if code := getJSON(t, srv.URL+"/v1/letters", &letters); code != http.StatusOK {
		t.Fatalf("unexpected status %d", code)
	}
	if len(letters) != 26 || letters[0].Glyph != "A" {
		t.Fatalf("unexpected letters %+v", letters[:1])
	}
}

func TestCharacterEndpoints(t *testing.T) {
	r, srv := newTestRuntime(t)
	if _, err := r.settings.SetLetterSound(context.Background(), "pai", "z", "file:///data/pai/Z.m4a"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var chars []characterView
	if code := getJSON(t, srv.URL+"/v1/characters", &chars); code != http.StatusOK {
		t.Fatalf("unexpected status %d", code)
	}
	if len(chars) != len(catalog.Characters()) {
		t.Fatalf("expected every character, got %d", len(chars))
	}

	var pai characterView
	if code := getJSON(t, srv.URL+"/v1/characters/pai", &pai); code != http.StatusOK {
		t.Fatalf("unexpected status %d", code)
	}
	if len(pai.BundledLetters) != 1 || pai.BundledLetters[0] != "b" {
		t.Fatalf("unexpected bundled coverage %v", pai.BundledLetters)
	}
	if len(pai.CustomLetters) != 1 || pai.CustomLetters[0] != "z" {
		t.Fatalf("unexpected custom letters %v", pai.CustomLetters)
	}

	if code := getJSON(t, srv.URL+"/v1/characters/nobody", nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestPlayEndpointValidates(t *testing.T) {
	_, srv := newTestRuntime(t)
	cases := []struct {
		body string
		want int
	}{
		{`{"letter_id":`, http.StatusBadRequest},
		{`{"letter_id":"7"}`, http.StatusBadRequest},
		{`{"letter_id":"a","character_id":"ghost"}`, http.StatusBadRequest},
		{`{"letter_id":"a","character_id":"pai"}`, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		resp, err := http.Post(srv.URL+"/v1/play", "application/json", strings.NewReader(tc.body))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Fatalf("body %s: expected %d, got %d", tc.body, tc.want, resp.StatusCode)
		}
	}
}

func TestStatsAndSessionEvents(t *testing.T) {
	r, srv := newTestRuntime(t)
	ctx := context.Background()
	for _, e := range []eventstore.Event{
		{SessionID: "s1", CharacterID: "mae", Type: "started", Key: "mae:a", Letter: "a", Outcome: "started", Source: "bundled", Payload: []byte(`{"outcome":"started"}`)},
		{SessionID: "s1", CharacterID: "mae", Type: "finished", Key: "mae:a", Letter: "a", Outcome: "finished", Source: "bundled"},
	} {
		if err := r.events.Record(ctx, e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	var counts []eventstore.LetterCount
	if code := getJSON(t, srv.URL+"/v1/stats", &counts); code != http.StatusOK {
		t.Fatalf("unexpected status %d", code)
	}
	if len(counts) != 1 || counts[0].Plays != 1 || counts[0].Letter != "a" {
		t.Fatalf("unexpected counts %+v", counts)
	}

	var events []eventView
	if code := getJSON(t, srv.URL+"/v1/sessions/s1/events", &events); code != http.StatusOK {
		t.Fatalf("unexpected status %d", code)
	}
	if len(events) != 2 || events[0].Type != "started" || len(events[0].Status) == 0 {
		t.Fatalf("unexpected events %+v", events)
	}
	if code := getJSON(t, srv.URL+"/v1/sessions/s1/events?limit=x", nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", code)
	}
}

func TestReadyRequiresBus(t *testing.T) {
	r, srv := newTestRuntime(t)
	r.ready.Store(true)
	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected not ready without bus, got %d", resp.StatusCode)
	}
}
