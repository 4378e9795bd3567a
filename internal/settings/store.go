package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loqalabs/alfa/internal/config"
	_ "modernc.org/sqlite"
)

// StorageKey is the row holding every character's settings as one JSON blob.
const StorageKey = "@alfa/character_settings"

// CharacterSettings is what a family customized for one character.
type CharacterSettings struct {
	PhotoURI     *string           `json:"photoUri"`
	LetterSounds map[string]string `json:"letterSounds"`
}

// Map is keyed by character id.
type Map map[string]CharacterSettings

// Patch updates a character. Nil fields keep their current value; a PhotoURI
// pointing at an empty string clears the photo.
type Patch struct {
	PhotoURI     *string
	LetterSounds map[string]string
}

func defaultSettings() CharacterSettings {
	return CharacterSettings{LetterSounds: map[string]string{}}
}

// Store persists character settings in a SQLite key/value table.
type Store struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
	mu    sync.Mutex
}

// Open creates the database file and schema when missing.
func Open(ctx context.Context, cfg config.SettingsConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create settings dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, log: log.With(slog.String("component", "settings")), clock: time.Now}
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value BLOB NOT NULL,
    updated_at TIMESTAMP NOT NULL
);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init settings schema: %w", err)
	}
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load returns every character's settings. A missing or unreadable blob
// yields an empty map.
func (s *Store) Load(ctx context.Context) (Map, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, StorageKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Map{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	all := Map{}
	if err := json.Unmarshal(raw, &all); err != nil {
		s.log.Warn("discarding unreadable settings blob", slog.String("error", err.Error()))
		return Map{}, nil
	}
	return all, nil
}

// Get returns one character's settings, or the defaults.
func (s *Store) Get(ctx context.Context, characterID string) (CharacterSettings, error) {
	all, err := s.Load(ctx)
	if err != nil {
		return defaultSettings(), err
	}
	cs, ok := all[characterID]
	if !ok {
		return defaultSettings(), nil
	}
	if cs.LetterSounds == nil {
		cs.LetterSounds = map[string]string{}
	}
	return cs, nil
}

// Save merges p into the character's settings and writes the whole blob back.
func (s *Store) Save(ctx context.Context, characterID string, p Patch) (CharacterSettings, error) {
	return s.update(ctx, characterID, func(cs *CharacterSettings) {
		if p.PhotoURI != nil {
			if *p.PhotoURI == "" {
				cs.PhotoURI = nil
			} else {
				uri := *p.PhotoURI
				cs.PhotoURI = &uri
			}
		}
		if p.LetterSounds != nil {
			cs.LetterSounds = p.LetterSounds
		}
	})
}

// SetLetterSound records a custom recording for one letter; an empty uri
// removes it.
func (s *Store) SetLetterSound(ctx context.Context, characterID, letterID, uri string) (CharacterSettings, error) {
	return s.update(ctx, characterID, func(cs *CharacterSettings) {
		sounds := make(map[string]string, len(cs.LetterSounds)+1)
		for k, v := range cs.LetterSounds {
			sounds[k] = v
		}
		if uri == "" {
			delete(sounds, letterID)
		} else {
			sounds[letterID] = uri
		}
		cs.LetterSounds = sounds
	})
}

func (s *Store) update(ctx context.Context, characterID string, apply func(*CharacterSettings)) (CharacterSettings, error) {
	if characterID == "" {
		return CharacterSettings{}, errors.New("character id must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.Load(ctx)
	if err != nil {
		return CharacterSettings{}, err
	}
	next, ok := all[characterID]
	if !ok {
		next = defaultSettings()
	}
	apply(&next)
	if next.LetterSounds == nil {
		next.LetterSounds = map[string]string{}
	}
	all[characterID] = next

	if err := s.write(ctx, all); err != nil {
		return CharacterSettings{}, err
	}
	return next, nil
}

func (s *Store) write(ctx context.Context, all Map) error {
	data, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kv(key, value, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		StorageKey, data, s.clock().UTC())
	if err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
