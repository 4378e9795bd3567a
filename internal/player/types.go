package player

import (
	"context"
	"errors"
	"fmt"
)

// SourceKind tags where a clip comes from.
type SourceKind int

const (
	SourceBundled SourceKind = iota
	SourceCustom
	SourceFallback
)

func (k SourceKind) String() string {
	switch k {
	case SourceBundled:
		return "bundled"
	case SourceCustom:
		return "custom"
	case SourceFallback:
		return "fallback"
	default:
		return fmt.Sprintf("source(%d)", int(k))
	}
}

// Source describes the clip a handle should be opened from.
type Source struct {
	Kind   SourceKind
	Letter string
	URI    string
}

// Bundled returns the source for a clip shipped with the app.
func Bundled(letterID, uri string) Source {
	return Source{Kind: SourceBundled, Letter: letterID, URI: uri}
}

// CustomRecording returns the source for a recording made by the family.
func CustomRecording(letterID, uri string) Source {
	return Source{Kind: SourceCustom, Letter: letterID, URI: uri}
}

// DefaultFallback returns the well-known clip used when nothing specific resolves.
func DefaultFallback(uri string) Source {
	return Source{Kind: SourceFallback, URI: uri}
}

// Key identifies "the same sound" across requests.
type Key string

// NewKey builds characterID:letterID, or just letterID without a character.
func NewKey(characterID, letterID string) Key {
	if characterID == "" {
		return Key(letterID)
	}
	return Key(characterID + ":" + letterID)
}

// RequestID is captured by a request when it is issued.
type RequestID uint64

// Request asks the player to narrate one letter.
type Request struct {
	CharacterID  string
	LetterID     string
	CustomSounds map[string]string
}

// Handle is a single playable clip owned by the audio subsystem.
//
// Release must be idempotent: the completion path and the supersede path can
// both release the same handle.
type Handle interface {
	Play(ctx context.Context) error
	Replay(ctx context.Context) error
	Stop(ctx context.Context) error
	Release(ctx context.Context) error
	// OnFinish registers fn to run once when playback ends naturally.
	OnFinish(fn func())
}

// Backend creates handles from sources. Open may block while the clip loads.
type Backend interface {
	Open(ctx context.Context, src Source) (Handle, error)
}

// VoiceTable resolves the bundled clip for a character and letter.
type VoiceTable interface {
	Lookup(characterID, letterID string) (string, bool)
}

// Outcome summarizes what a Play call ended up doing.
type Outcome int

const (
	OutcomeNoop Outcome = iota
	OutcomeReplayed
	OutcomeStarted
	OutcomeFallback
	OutcomeStale
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoop:
		return "noop"
	case OutcomeReplayed:
		return "replayed"
	case OutcomeStarted:
		return "started"
	case OutcomeFallback:
		return "fallback"
	case OutcomeStale:
		return "stale"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ErrorKind classifies playback failures.
type ErrorKind int

const (
	SourceResolutionMiss ErrorKind = iota
	HandleCreationFailure
	StaleCompletion
	ReplayFailure
)

func (k ErrorKind) String() string {
	switch k {
	case SourceResolutionMiss:
		return "source resolution miss"
	case HandleCreationFailure:
		return "handle creation failure"
	case StaleCompletion:
		return "stale completion"
	case ReplayFailure:
		return "replay failure"
	default:
		return fmt.Sprintf("error kind %d", int(k))
	}
}

// PlaybackError carries the failing source alongside the backend error.
type PlaybackError struct {
	Kind   ErrorKind
	Source Source
	Err    error
}

func (e *PlaybackError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (%s %s)", e.Kind, e.Source.Kind, e.Source.URI)
	}
	return fmt.Sprintf("%s (%s %s): %v", e.Kind, e.Source.Kind, e.Source.URI, e.Err)
}

func (e *PlaybackError) Unwrap() error { return e.Err }

var (
	// ErrStale reports a request superseded while its handle was loading.
	ErrStale = errors.New("player: request superseded")
	// ErrClosed reports a call on a torn down player.
	ErrClosed = errors.New("player: closed")
)

// EventType names observer notifications.
type EventType string

const (
	EventStarted  EventType = "started"
	EventReplayed EventType = "replayed"
	EventFallback EventType = "fallback"
	EventStale    EventType = "stale"
	EventFinished EventType = "finished"
	EventFailed   EventType = "failed"
)

// Event is delivered to the observer for every state change.
type Event struct {
	Type      EventType
	Key       Key
	RequestID RequestID
	Source    Source
	Err       error
}
