package narrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/alfa/internal/bus"
	"github.com/loqalabs/alfa/internal/catalog"
	"github.com/loqalabs/alfa/internal/config"
	"github.com/loqalabs/alfa/internal/eventstore"
	"github.com/loqalabs/alfa/internal/player"
	"github.com/loqalabs/alfa/internal/protocol"
	"github.com/loqalabs/alfa/internal/settings"
)

// observedBuffer bounds how many player events may queue before new ones are
// dropped. The player observer must never block.
const observedBuffer = 64

// Player is the part of *player.Player the service drives.
type Player interface {
	Play(ctx context.Context, req player.Request) (player.Outcome, error)
}

// SettingsReader supplies per-character recordings.
type SettingsReader interface {
	Get(ctx context.Context, characterID string) (settings.CharacterSettings, error)
}

// Recorder persists playback events.
type Recorder interface {
	Record(ctx context.Context, evt eventstore.Event) error
}

// Publisher sends JSON messages on the bus.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

type sessionRef struct {
	sessionID   string
	traceID     string
	characterID string
	letterID    string
}

// Service turns letter play requests from the bus into player calls.
type Service struct {
	cfg      config.NarratorConfig
	bus      *bus.Client
	pub      Publisher
	settings SettingsReader
	events   Recorder
	player   Player
	tracer   trace.Tracer
	observed chan player.Event
	subs     []*nats.Subscription
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[player.Key]sessionRef
}

func NewService(parent context.Context, cfg config.NarratorConfig, busClient *bus.Client, store SettingsReader, events Recorder, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:      cfg,
		bus:      busClient,
		settings: store,
		events:   events,
		tracer:   otel.Tracer("github.com/loqalabs/alfa/narrator"),
		observed: make(chan player.Event, observedBuffer),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[player.Key]sessionRef),
		logger:   log.With(slog.String("component", "narrator")),
	}
	if busClient != nil {
		s.pub = busClient
	}
	return s
}

// Observe is the player observer. It only enqueues.
func (s *Service) Observe(evt player.Event) {
	select {
	case s.observed <- evt:
	default:
		s.logger.Warn("dropping player event", slog.String("type", string(evt.Type)), slog.String("key", string(evt.Key)))
	}
}

// Start subscribes to the bus and begins forwarding player events to p.
func (s *Service) Start(p Player) error {
	s.player = p
	s.wg.Add(1)
	go s.forwardEvents()

	if !s.cfg.Enabled || s.bus == nil {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectLetterPlay, s.handlePlay)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)

	sub, err = s.bus.Conn().Subscribe(protocol.SubjectCharacterUpdated, s.handleCharacterUpdated)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

func (s *Service) Close() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.cancel()
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.bus == nil || len(s.subs) > 0 }

func (s *Service) handlePlay(msg *nats.Msg) {
	var req protocol.PlayRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode play request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, time.Duration(s.cfg.RequestTimeoutMS)*time.Millisecond)
		defer cancel()
		s.play(ctx, req)
	}()
}

func (s *Service) handleCharacterUpdated(msg *nats.Msg) {
	var upd protocol.CharacterUpdated
	if err := json.Unmarshal(msg.Data, &upd); err != nil {
		s.logger.Warn("failed to decode character update", slogError(err))
		return
	}
	// Settings are read on every request, so there is nothing to invalidate.
	s.logger.Info("character updated",
		slog.String("character", upd.CharacterID),
		slog.String("letter", upd.LetterID))
}

// play runs one request to completion and publishes its status.
func (s *Service) play(ctx context.Context, req protocol.PlayRequest) protocol.PlaybackStatus {
	req.LetterID = strings.ToLower(strings.TrimSpace(req.LetterID))
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}

	ctx, span := s.tracer.Start(ctx, "narrator.play", trace.WithAttributes(
		attribute.String("alfa.session_id", req.SessionID),
		attribute.String("alfa.character_id", req.CharacterID),
		attribute.String("alfa.letter_id", req.LetterID),
	))
	defer span.End()

	if len(req.CustomSounds) == 0 && req.CharacterID != "" && s.settings != nil {
		cs, err := s.settings.Get(ctx, req.CharacterID)
		if err != nil {
			s.logger.Warn("failed to load character settings", slog.String("character", req.CharacterID), slogError(err))
		} else {
			req.CustomSounds = cs.LetterSounds
		}
	}

	key := player.NewKey(req.CharacterID, req.LetterID)
	if req.LetterID != "" {
		s.remember(key, sessionRef{
			sessionID:   req.SessionID,
			traceID:     req.TraceID,
			characterID: req.CharacterID,
			letterID:    req.LetterID,
		})
	}

	outcome, err := s.player.Play(ctx, player.Request{
		CharacterID:  req.CharacterID,
		LetterID:     req.LetterID,
		CustomSounds: req.CustomSounds,
	})
	span.SetAttributes(attribute.String("alfa.outcome", outcome.String()))

	status := protocol.PlaybackStatus{
		SessionID: req.SessionID,
		Key:       string(key),
		Letter:    req.LetterID,
		Outcome:   outcome.String(),
		Timestamp: time.Now().UTC(),
	}
	if l, ok := catalog.LetterByID(req.LetterID); ok {
		status.Animal = l.AnimalName
		status.Emoji = l.Emoji
		status.Message = catalog.Message(nil)
	}
	if err != nil {
		status.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "playback failed")
		if !errors.Is(err, player.ErrClosed) {
			s.logger.Warn("letter playback failed",
				slog.String("session_id", req.SessionID),
				slog.String("key", string(key)),
				slogError(err))
		}
	}
	s.publish(status)
	return status
}

func (s *Service) remember(key player.Key, ref sessionRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key] = ref
}

func (s *Service) lookup(key player.Key, finished bool) (sessionRef, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.sessions[key]
	if ok && finished {
		delete(s.sessions, key)
	}
	return ref, ok
}

func (s *Service) forwardEvents() {
	defer s.wg.Done()
	for {
		select {
		case evt := <-s.observed:
			s.handleEvent(evt)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Service) handleEvent(evt player.Event) {
	ref, ok := s.lookup(evt.Key, evt.Type == player.EventFinished)
	if !ok {
		// Played directly, without a bus request.
		ref = sessionRef{sessionID: "local", letterID: evt.Source.Letter}
	}

	status := protocol.PlaybackStatus{
		SessionID: ref.sessionID,
		Key:       string(evt.Key),
		Letter:    ref.letterID,
		Outcome:   string(evt.Type),
		Timestamp: time.Now().UTC(),
	}
	if evt.Type != player.EventReplayed {
		status.Source = evt.Source.Kind.String()
	}
	if evt.Err != nil {
		status.Error = evt.Err.Error()
	}

	if s.events != nil {
		payload, _ := json.Marshal(status)
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		err := s.events.Record(ctx, eventstore.Event{
			SessionID:   ref.sessionID,
			TraceID:     ref.traceID,
			CharacterID: ref.characterID,
			Type:        string(evt.Type),
			Key:         string(evt.Key),
			Letter:      ref.letterID,
			Outcome:     status.Outcome,
			Source:      status.Source,
			Payload:     payload,
			CreatedAt:   status.Timestamp,
		})
		cancel()
		if err != nil {
			s.logger.Warn("failed to record playback event", slogError(err))
		}
	}

	if evt.Type == player.EventFinished {
		s.publish(status)
	}
}

func (s *Service) publish(status protocol.PlaybackStatus) {
	if !s.cfg.PublishStatus || s.pub == nil {
		return
	}
	if err := s.pub.PublishJSON(protocol.SubjectLetterStatus, status); err != nil {
		s.logger.Warn("failed to publish playback status", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
