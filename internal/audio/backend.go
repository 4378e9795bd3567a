package audio

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/loqalabs/alfa/internal/config"
	"github.com/loqalabs/alfa/internal/player"
)

// Backend is a player.Backend that owns device or process resources.
type Backend interface {
	player.Backend
	Close() error
}

type nopCloser struct {
	player.Backend
}

func (nopCloser) Close() error { return nil }

// New builds the backend selected by cfg.Mode.
func New(cfg config.AudioConfig, log *slog.Logger) (Backend, error) {
	log = log.With(slog.String("component", "audio"), slog.String("mode", cfg.Mode))
	client := &http.Client{Timeout: time.Duration(cfg.FetchTimeoutMS) * time.Millisecond}

	switch cfg.Mode {
	case "", "mock":
		return nopCloser{NewMockBackend(time.Duration(cfg.MockDurationMS)*time.Millisecond, client)}, nil
	case "speaker":
		b, err := newSpeakerBackend(cfg.SampleRate, cfg.BufferMS, cfg.MasterVolume, client, log)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "exec":
		b, err := NewExecBackend(cfg.Command, client, log)
		if err != nil {
			return nil, err
		}
		return nopCloser{b}, nil
	default:
		return nil, fmt.Errorf("unknown audio mode %q", cfg.Mode)
	}
}
