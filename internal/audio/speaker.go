package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/speaker"
	"github.com/gopxl/beep/wav"

	"github.com/loqalabs/alfa/internal/player"
)

const resampleQuality = 4

var errFinished = errors.New("audio: clip already finished")

// speakerBackend plays decoded clips through the system audio device.
type speakerBackend struct {
	sampleRate beep.SampleRate
	volume     float64
	client     *http.Client
	log        *slog.Logger
}

func newSpeakerBackend(sampleRate, bufferMS int, volume float64, client *http.Client, log *slog.Logger) (*speakerBackend, error) {
	sr := beep.SampleRate(sampleRate)
	if err := speaker.Init(sr, sr.N(time.Duration(bufferMS)*time.Millisecond)); err != nil {
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	log.Info("audio device initialized", slog.Int("sample_rate", sampleRate), slog.Int("buffer_ms", bufferMS))
	return &speakerBackend{sampleRate: sr, volume: volume, client: client, log: log}, nil
}

func (b *speakerBackend) Open(ctx context.Context, src player.Source) (player.Handle, error) {
	rc, err := openSource(ctx, b.client, src.URI)
	if err != nil {
		return nil, err
	}
	stream, format, err := decode(rc, extension(src.URI))
	if err != nil {
		rc.Close()
		return nil, err
	}
	b.log.Debug("clip decoded",
		slog.String("uri", src.URI),
		slog.Int("sample_rate", int(format.SampleRate)),
		slog.Int("channels", format.NumChannels))
	return &speakerHandle{
		stream: stream,
		format: format,
		target: b.sampleRate,
		volume: b.volume,
	}, nil
}

// Close silences everything still queued on the device.
func (b *speakerBackend) Close() error {
	speaker.Clear()
	return nil
}

// decode picks a decoder by extension. m4a is not decodable here and is
// reported as unsupported so the player falls back.
func decode(rc io.ReadSeekCloser, ext string) (beep.StreamSeekCloser, beep.Format, error) {
	switch ext {
	case ".wav":
		s, f, err := wav.Decode(rc)
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("decode wav: %w", err)
		}
		return s, f, nil
	case ".mp3":
		s, f, err := mp3.Decode(rc)
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("decode mp3: %w", err)
		}
		return s, f, nil
	default:
		return nil, beep.Format{}, fmt.Errorf("unsupported clip format %q", ext)
	}
}

// gain converts a linear 0..1 master volume into effects.Volume's exponent.
func gain(volume float64) (exponent float64, silent bool) {
	if volume <= 0 {
		return 0, true
	}
	return math.Log2(volume), false
}

type speakerHandle struct {
	mu       sync.Mutex
	stream   beep.StreamSeekCloser
	format   beep.Format
	target   beep.SampleRate
	volume   float64
	ctrl     *beep.Ctrl
	gen      int
	playing  bool
	released bool
	done     atomic.Bool
	onFinish func()
}

func (h *speakerHandle) Play(context.Context) error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return errReleased
	}
	if h.playing {
		h.mu.Unlock()
		return nil
	}
	h.gen++
	gen := h.gen
	h.done.Store(false)

	var s beep.Streamer = h.stream
	if h.format.SampleRate != h.target {
		s = beep.Resample(resampleQuality, h.format.SampleRate, h.target, s)
	}
	exp, silent := gain(h.volume)
	vol := &effects.Volume{Streamer: s, Base: 2, Volume: exp, Silent: silent}
	// The callback runs on the speaker goroutine with the speaker lock held.
	h.ctrl = &beep.Ctrl{Streamer: beep.Seq(vol, beep.Callback(func() {
		h.done.Store(true)
		go h.finish(gen)
	}))}
	h.playing = true
	ctrl := h.ctrl
	h.mu.Unlock()

	speaker.Play(ctrl)
	return nil
}

func (h *speakerHandle) Replay(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return errReleased
	}
	if !h.playing {
		return errNotPlaying
	}
	if h.done.Load() {
		return errFinished
	}
	speaker.Lock()
	err := h.stream.Seek(0)
	h.ctrl.Paused = false
	speaker.Unlock()
	if err != nil {
		return fmt.Errorf("rewind clip: %w", err)
	}
	return nil
}

func (h *speakerHandle) Stop(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
	return nil
}

func (h *speakerHandle) Release(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.stopLocked()
	h.released = true
	h.onFinish = nil
	return h.stream.Close()
}

func (h *speakerHandle) OnFinish(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onFinish = fn
}

func (h *speakerHandle) stopLocked() {
	h.gen++
	if h.playing && h.ctrl != nil {
		// A nil streamer makes the speaker drop the ctrl on its next pull.
		speaker.Lock()
		h.ctrl.Streamer = nil
		speaker.Unlock()
	}
	h.playing = false
	h.ctrl = nil
}

func (h *speakerHandle) finish(gen int) {
	h.mu.Lock()
	if gen != h.gen || !h.playing {
		h.mu.Unlock()
		return
	}
	h.playing = false
	h.ctrl = nil
	fn := h.onFinish
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
}
