package audio

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/alfa/internal/player"
)

// FilePlaceholder is replaced by the clip path in exec player commands.
const FilePlaceholder = "{file}"

// execBackend hands each clip to an external player such as
// "ffplay -nodisp -autoexit {file}" or "afplay {file}".
type execBackend struct {
	cmd    []string
	client *http.Client
	log    *slog.Logger
}

func NewExecBackend(command string, client *http.Client, log *slog.Logger) (player.Backend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse audio command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("audio command empty")
	}
	hasPlaceholder := false
	for _, a := range args {
		if strings.Contains(a, FilePlaceholder) {
			hasPlaceholder = true
			break
		}
	}
	if !hasPlaceholder {
		args = append(args, FilePlaceholder)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &execBackend{cmd: args, client: client, log: log}, nil
}

func (b *execBackend) Open(ctx context.Context, src player.Source) (player.Handle, error) {
	if p, ok := localPath(src.URI); ok {
		if err := checkSource(ctx, b.client, p); err != nil {
			return nil, err
		}
		return &execHandle{argv: b.argv(p), log: b.log}, nil
	}

	// Remote clips are downloaded so the external player sees a plain file.
	data, err := fetch(ctx, b.client, src.URI)
	if err != nil {
		return nil, err
	}
	f, err := os.CreateTemp("", "alfa-clip-*"+extension(src.URI))
	if err != nil {
		return nil, fmt.Errorf("create temp clip: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("write temp clip: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("close temp clip: %w", err)
	}
	return &execHandle{argv: b.argv(f.Name()), tmp: f.Name(), log: b.log}, nil
}

func (b *execBackend) argv(file string) []string {
	out := make([]string, len(b.cmd))
	for i, a := range b.cmd {
		out[i] = strings.ReplaceAll(a, FilePlaceholder, file)
	}
	return out
}

type execHandle struct {
	mu       sync.Mutex
	argv     []string
	tmp      string
	log      *slog.Logger
	proc     *exec.Cmd
	gen      int
	playing  bool
	released bool
	exitErr  error
	onFinish func()
}

func (h *execHandle) Play(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return errReleased
	}
	if h.playing {
		return nil
	}
	h.exitErr = nil
	return h.startLocked()
}

// Replay restarts the external player from the beginning of the clip.
func (h *execHandle) Replay(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return errReleased
	}
	if !h.playing {
		return errNotPlaying
	}
	h.stopLocked()
	h.exitErr = nil
	return h.startLocked()
}

func (h *execHandle) Stop(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
	return nil
}

func (h *execHandle) Release(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.stopLocked()
	h.released = true
	h.onFinish = nil
	if h.tmp != "" {
		if err := os.Remove(h.tmp); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove temp clip: %w", err)
		}
	}
	return nil
}

func (h *execHandle) OnFinish(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onFinish = fn
}

func (h *execHandle) startLocked() error {
	cmd := exec.Command(h.argv[0], h.argv[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start audio command: %w", err)
	}
	h.gen++
	gen := h.gen
	h.proc = cmd
	h.playing = true
	go func() {
		err := cmd.Wait()
		h.exited(gen, err)
	}()
	return nil
}

func (h *execHandle) stopLocked() {
	h.gen++
	if h.playing && h.proc != nil && h.proc.Process != nil {
		_ = h.proc.Process.Kill()
	}
	h.playing = false
	h.proc = nil
}

func (h *execHandle) exited(gen int, err error) {
	h.mu.Lock()
	if gen != h.gen || !h.playing {
		h.mu.Unlock()
		return
	}
	h.playing = false
	h.proc = nil
	h.exitErr = err
	fn := h.onFinish
	h.mu.Unlock()

	// The clip is over either way; a non-zero exit is reported as a failed
	// playback but still ends the session.
	if err != nil {
		h.log.Warn("audio command failed",
			slog.String("command", h.argv[0]),
			slog.String("error", err.Error()))
	}
	if fn != nil {
		fn()
	}
}

// lastExit returns the error of the most recent natural exit, nil when clean.
func (h *execHandle) lastExit() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitErr
}
