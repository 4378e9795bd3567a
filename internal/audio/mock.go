package audio

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/loqalabs/alfa/internal/player"
)

var (
	errReleased   = errors.New("audio: handle released")
	errNotPlaying = errors.New("audio: handle not playing")
)

type mockBackend struct {
	duration time.Duration
	client   *http.Client
}

// NewMockBackend returns handles that play silently for duration. Sources are
// still checked for existence so missing clips fail like on a device.
func NewMockBackend(duration time.Duration, client *http.Client) player.Backend {
	if client == nil {
		client = http.DefaultClient
	}
	return &mockBackend{duration: duration, client: client}
}

func (m *mockBackend) Open(ctx context.Context, src player.Source) (player.Handle, error) {
	if err := checkSource(ctx, m.client, src.URI); err != nil {
		return nil, err
	}
	return &mockHandle{duration: m.duration}, nil
}

type mockHandle struct {
	mu       sync.Mutex
	duration time.Duration
	timer    *time.Timer
	gen      int
	playing  bool
	released bool
	onFinish func()
}

func (h *mockHandle) Play(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return errReleased
	}
	if h.playing {
		return nil
	}
	h.startLocked()
	return nil
}

func (h *mockHandle) Replay(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return errReleased
	}
	if !h.playing {
		return errNotPlaying
	}
	h.stopLocked()
	h.startLocked()
	return nil
}

func (h *mockHandle) Stop(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
	return nil
}

func (h *mockHandle) Release(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
	h.released = true
	h.onFinish = nil
	return nil
}

func (h *mockHandle) OnFinish(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onFinish = fn
}

func (h *mockHandle) startLocked() {
	h.gen++
	gen := h.gen
	h.playing = true
	h.timer = time.AfterFunc(h.duration, func() { h.finish(gen) })
}

func (h *mockHandle) stopLocked() {
	h.gen++
	h.playing = false
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
}

func (h *mockHandle) finish(gen int) {
	h.mu.Lock()
	if gen != h.gen || !h.playing {
		h.mu.Unlock()
		return
	}
	h.playing = false
	h.timer = nil
	fn := h.onFinish
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
}
