package player

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Options configures a Player.
type Options struct {
	FallbackURI string
	Logger      *slog.Logger
	// Observer receives every playback event. It must not block.
	Observer func(Event)
}

// Player narrates letters with at most one live audio handle at a time.
type Player struct {
	backend  Backend
	voices   VoiceTable
	fallback string
	log      *slog.Logger
	observer func(Event)
	sess     session
	metrics  playerMetrics
}

type playerMetrics struct {
	requests  metric.Int64Counter
	replays   metric.Int64Counter
	fallbacks metric.Int64Counter
	stale     metric.Int64Counter
	failures  metric.Int64Counter
}

func New(backend Backend, voices VoiceTable, opts Options) *Player {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	p := &Player{
		backend:  backend,
		voices:   voices,
		fallback: opts.FallbackURI,
		log:      logger.With(slog.String("component", "player")),
		observer: opts.Observer,
	}
	if err := p.initMetrics(); err != nil {
		p.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return p
}

func (p *Player) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/alfa/player")
	var err error
	if p.metrics.requests, err = meter.Int64Counter("alfa.player.requests", metric.WithDescription("Playback requests received")); err != nil {
		return err
	}
	if p.metrics.replays, err = meter.Int64Counter("alfa.player.replays", metric.WithDescription("Requests served by restarting the active handle")); err != nil {
		return err
	}
	if p.metrics.fallbacks, err = meter.Int64Counter("alfa.player.fallbacks", metric.WithDescription("Requests that played the default clip after a failure")); err != nil {
		return err
	}
	if p.metrics.stale, err = meter.Int64Counter("alfa.player.stale", metric.WithDescription("Handles discarded because a newer request won")); err != nil {
		return err
	}
	p.metrics.failures, err = meter.Int64Counter("alfa.player.failures", metric.WithDescription("Requests that played nothing"))
	return err
}

// Trigger plays req and drops the result. Audio problems never reach the caller.
func (p *Player) Trigger(ctx context.Context, req Request) {
	outcome, err := p.Play(ctx, req)
	if err != nil {
		p.log.Debug("letter playback failed",
			slog.String("letter", req.LetterID),
			slog.String("outcome", outcome.String()),
			slog.String("error", err.Error()))
	}
}

// Play narrates req.LetterID in the requested character's voice.
func (p *Player) Play(ctx context.Context, req Request) (Outcome, error) {
	if req.LetterID == "" {
		return OutcomeNoop, nil
	}
	if p.sess.isClosed() {
		return OutcomeNoop, ErrClosed
	}
	key := NewKey(req.CharacterID, req.LetterID)
	add(ctx, p.metrics.requests, key)

	if h, ok := p.sess.activeFor(key); ok {
		err := h.Replay(ctx)
		if err == nil {
			add(ctx, p.metrics.replays, key)
			p.emit(Event{Type: EventReplayed, Key: key})
			return OutcomeReplayed, nil
		}
		p.log.Debug("replay failed, reloading", slog.String("key", string(key)),
			slog.String("error", (&PlaybackError{Kind: ReplayFailure, Err: err}).Error()))
		if p.sess.clearIf(h) {
			p.releaseHandle(h)
		}
	}

	if prev := p.sess.releaseSession(); prev != nil {
		p.releaseHandle(prev)
	}

	id := p.sess.issueRequest()
	src := p.resolve(req)

	err := p.start(ctx, id, key, src)
	switch {
	case err == nil:
		p.emit(Event{Type: EventStarted, Key: key, RequestID: id, Source: src})
		return OutcomeStarted, nil
	case errors.Is(err, ErrStale):
		return OutcomeStale, nil
	case p.sess.isStale(id):
		// A newer request owns the session; give up without a fallback.
		return p.superseded(ctx, key, id, src), nil
	case src.Kind == SourceFallback:
		return p.fail(ctx, key, id, src, err)
	}

	fb := DefaultFallback(p.fallback)
	fbErr := p.start(ctx, id, key, fb)
	switch {
	case fbErr == nil:
		add(ctx, p.metrics.fallbacks, key)
		p.emit(Event{Type: EventFallback, Key: key, RequestID: id, Source: fb, Err: err})
		return OutcomeFallback, nil
	case errors.Is(fbErr, ErrStale):
		return OutcomeStale, nil
	default:
		return p.fail(ctx, key, id, fb, errors.Join(err, fbErr))
	}
}

// Active reports the key of the current session.
func (p *Player) Active() (Key, bool) {
	key, h := p.sess.current()
	return key, h != nil
}

// Close releases the active handle and invalidates in-flight requests.
func (p *Player) Close(ctx context.Context) error {
	h := p.sess.shutdown()
	if h == nil {
		return nil
	}
	return h.Release(ctx)
}

// resolve picks custom recording, then bundled clip, then the default fallback.
func (p *Player) resolve(req Request) Source {
	if uri, ok := req.CustomSounds[req.LetterID]; ok && uri != "" {
		return CustomRecording(req.LetterID, uri)
	}
	if p.voices != nil {
		if uri, ok := p.voices.Lookup(req.CharacterID, req.LetterID); ok {
			return Bundled(req.LetterID, uri)
		}
	}
	p.log.Debug("no clip for letter, using default",
		slog.String("character", req.CharacterID),
		slog.String("letter", req.LetterID),
		slog.String("reason", SourceResolutionMiss.String()))
	return DefaultFallback(p.fallback)
}

// start opens src, installs the handle when id is still current, and starts it.
func (p *Player) start(ctx context.Context, id RequestID, key Key, src Source) error {
	h, err := p.backend.Open(ctx, src)
	if err != nil {
		return &PlaybackError{Kind: HandleCreationFailure, Source: src, Err: err}
	}

	installed, displaced := p.sess.installSession(id, key, h)
	if !installed {
		p.releaseHandle(h)
		p.superseded(ctx, key, id, src)
		return ErrStale
	}
	if displaced != nil {
		p.releaseHandle(displaced)
	}

	h.OnFinish(func() { p.finished(h, key, id, src) })

	if err := h.Play(ctx); err != nil {
		p.sess.clearIf(h)
		p.releaseHandle(h)
		return &PlaybackError{Kind: HandleCreationFailure, Source: src, Err: err}
	}
	return nil
}

// finished runs on natural completion of h.
func (p *Player) finished(h Handle, key Key, id RequestID, src Source) {
	p.sess.clearIf(h)
	p.releaseHandle(h)
	p.emit(Event{Type: EventFinished, Key: key, RequestID: id, Source: src})
}

func (p *Player) superseded(ctx context.Context, key Key, id RequestID, src Source) Outcome {
	add(ctx, p.metrics.stale, key)
	p.emit(Event{Type: EventStale, Key: key, RequestID: id, Source: src,
		Err: &PlaybackError{Kind: StaleCompletion, Source: src, Err: ErrStale}})
	return OutcomeStale
}

func (p *Player) fail(ctx context.Context, key Key, id RequestID, src Source, err error) (Outcome, error) {
	add(ctx, p.metrics.failures, key)
	p.emit(Event{Type: EventFailed, Key: key, RequestID: id, Source: src, Err: err})
	return OutcomeFailed, err
}

func (p *Player) releaseHandle(h Handle) {
	if err := h.Release(context.Background()); err != nil {
		p.log.Debug("release failed", slog.String("error", err.Error()))
	}
}

func (p *Player) emit(evt Event) {
	if p.observer != nil {
		p.observer(evt)
	}
}

func add(ctx context.Context, counter metric.Int64Counter, key Key) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("key", string(key))))
}
