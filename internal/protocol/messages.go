package protocol

import "time"

// PlayRequest asks the narrator to play one letter.
type PlayRequest struct {
	SessionID    string            `json:"session_id"`
	CharacterID  string            `json:"character_id,omitempty"`
	LetterID     string            `json:"letter_id"`
	CustomSounds map[string]string `json:"custom_sounds,omitempty"`
	TraceID      string            `json:"trace_id,omitempty"`
}

// PlaybackStatus reports what the player did with a request, and later when
// the clip finished.
type PlaybackStatus struct {
	SessionID string    `json:"session_id"`
	Key       string    `json:"key"`
	Letter    string    `json:"letter"`
	Animal    string    `json:"animal,omitempty"`
	Emoji     string    `json:"emoji,omitempty"`
	Message   string    `json:"message,omitempty"`
	Outcome   string    `json:"outcome"`
	Source    string    `json:"source,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CharacterUpdated is broadcast after a photo or recording changed.
type CharacterUpdated struct {
	CharacterID string    `json:"character_id"`
	LetterID    string    `json:"letter_id,omitempty"`
	PhotoURI    string    `json:"photo_uri,omitempty"`
	SoundURI    string    `json:"sound_uri,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

const (
	SubjectLetterPlay       = "alfa.letter.play"
	SubjectLetterStatus     = "alfa.letter.status"
	SubjectCharacterUpdated = "alfa.character.updated"
)
