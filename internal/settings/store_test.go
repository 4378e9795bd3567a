package settings

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/alfa/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.SettingsConfig{Path: filepath.Join(t.TempDir(), "settings.db")}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open settings: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLoadEmpty(t *testing.T) {
	s := openStore(t)
	all, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected empty map, got %v", all)
	}
	cs, err := s.Get(context.Background(), "pai")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cs.PhotoURI != nil || cs.LetterSounds == nil || len(cs.LetterSounds) != 0 {
		t.Fatalf("unexpected defaults %+v", cs)
	}
}

func TestSaveMergesPartialUpdates(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	photo := "file:///data/pai/photo.jpg"
	if _, err := s.Save(ctx, "pai", Patch{PhotoURI: &photo}); err != nil {
		t.Fatalf("save photo: %v", err)
	}
	if _, err := s.Save(ctx, "pai", Patch{LetterSounds: map[string]string{"b": "file:///data/pai/B.m4a"}}); err != nil {
		t.Fatalf("save sounds: %v", err)
	}

	cs, err := s.Get(ctx, "pai")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cs.PhotoURI == nil || *cs.PhotoURI != photo {
		t.Fatalf("photo lost by sounds update: %+v", cs)
	}
	if cs.LetterSounds["b"] != "file:///data/pai/B.m4a" {
		t.Fatalf("expected b recording, got %v", cs.LetterSounds)
	}

	none := ""
	cs, err = s.Save(ctx, "pai", Patch{PhotoURI: &none})
	if err != nil {
		t.Fatalf("clear photo: %v", err)
	}
	if cs.PhotoURI != nil {
		t.Fatalf("expected photo cleared")
	}
	if len(cs.LetterSounds) != 1 {
		t.Fatalf("expected recordings to survive photo clear")
	}
}

func TestSetLetterSound(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if _, err := s.SetLetterSound(ctx, "mae", "a", "file:///a.m4a"); err != nil {
		t.Fatalf("set a: %v", err)
	}
	if _, err := s.SetLetterSound(ctx, "mae", "c", "file:///c.m4a"); err != nil {
		t.Fatalf("set c: %v", err)
	}
	cs, err := s.SetLetterSound(ctx, "mae", "a", "")
	if err != nil {
		t.Fatalf("remove a: %v", err)
	}
	if _, ok := cs.LetterSounds["a"]; ok {
		t.Fatalf("expected a removed")
	}
	if cs.LetterSounds["c"] != "file:///c.m4a" {
		t.Fatalf("expected c kept, got %v", cs.LetterSounds)
	}
	if _, err := s.SetLetterSound(ctx, "", "a", "x"); err == nil {
		t.Fatalf("expected error for empty character")
	}
}

func TestBlobShape(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	if _, err := s.SetLetterSound(ctx, "vo", "z", "file:///z.m4a"); err != nil {
		t.Fatalf("set: %v", err)
	}
	var raw string
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, StorageKey).Scan(&raw); err != nil {
		t.Fatalf("read blob: %v", err)
	}
	if !strings.Contains(raw, `"vo":{"photoUri":null,"letterSounds":{"z":"file:///z.m4a"}}`) {
		t.Fatalf("unexpected blob %s", raw)
	}
}

func TestCorruptBlobLoadsEmpty(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	if _, err := s.db.ExecContext(ctx, `INSERT INTO kv(key, value, updated_at) VALUES(?, ?, ?)`, StorageKey, []byte("{not json"), time.Now().UTC()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	all, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected empty map for corrupt blob")
	}
}

func TestPaths(t *testing.T) {
	root := t.TempDir()
	p := Paths{Root: root}

	if got := p.LetterSoundPath("pai", "b"); got != filepath.Join(root, "pai", "B.m4a") {
		t.Fatalf("unexpected letter path %s", got)
	}
	if got := p.PhotoPath("pai"); got != filepath.Join(root, "pai", "photo.jpg") {
		t.Fatalf("unexpected photo path %s", got)
	}
	if got := p.LetterSoundPathFor("pai", "b", "/tmp/rec.WAV"); got != filepath.Join(root, "pai", "B.wav") {
		t.Fatalf("unexpected imported path %s", got)
	}
	if got := p.LetterSoundPathFor("pai", "b", "/tmp/rec"); got != filepath.Join(root, "pai", "B.m4a") {
		t.Fatalf("unexpected default imported path %s", got)
	}
	at := time.UnixMilli(1700000000123)
	if got := p.PhotoPathAt("pai", at); got != filepath.Join(root, "pai", "photo_1700000000123.jpg") {
		t.Fatalf("unexpected timestamped path %s", got)
	}

	src := filepath.Join(t.TempDir(), "rec.m4a")
	if err := os.WriteFile(src, []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	dst := p.LetterSoundPath("tia", "q")
	if err := p.Import("tia", src, dst); err != nil {
		t.Fatalf("import: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "audio" {
		t.Fatalf("expected copied recording, got %q %v", data, err)
	}
	if uri := FileURI(dst); !strings.HasPrefix(uri, "file://") {
		t.Fatalf("unexpected uri %s", uri)
	}
}

func TestImportOntoItselfKeepsRecording(t *testing.T) {
	p := Paths{Root: t.TempDir()}
	dst := p.LetterSoundPath("tia", "q")
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	rel, err := filepath.Rel(mustGetwd(t), dst)
	if err != nil {
		rel = dst
	}
	if err := p.Import("tia", rel, dst); err != nil {
		t.Fatalf("import: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil || string(data) != "audio" {
		t.Fatalf("expected recording untouched, got %q %v", data, err)
	}

	missing := p.LetterSoundPath("tia", "z")
	if err := p.Import("tia", missing, missing); err == nil {
		t.Fatalf("expected missing source to fail")
	}
}

func mustGetwd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	return wd
}
