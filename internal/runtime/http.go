package runtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/loqalabs/alfa/internal/catalog"
	"github.com/loqalabs/alfa/internal/protocol"
)

// characterView is a catalog character plus what is available to narrate it.
type characterView struct {
	catalog.Character
	PhotoURI       *string  `json:"photo_uri"`
	BundledLetters []string `json:"bundled_letters"`
	CustomLetters  []string `json:"custom_letters"`
}

func (r *Runtime) routes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("GET /v1/letters", r.handleLetters)
	mux.HandleFunc("GET /v1/characters", r.handleCharacters)
	mux.HandleFunc("GET /v1/characters/{id}", r.handleCharacter)
	mux.HandleFunc("POST /v1/play", r.handlePlay)
	mux.HandleFunc("GET /v1/stats", r.handleStats)
	mux.HandleFunc("GET /v1/sessions/{id}/events", r.handleSessionEvents)
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.bus.Healthy() && (r.narrator == nil || r.narrator.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleLetters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, catalog.Letters())
}

func (r *Runtime) handleCharacters(w http.ResponseWriter, req *http.Request) {
	chars := catalog.Characters()
	out := make([]characterView, 0, len(chars))
	for _, c := range chars {
		view, err := r.characterView(req, c)
		if err != nil {
			r.httpError(w, http.StatusInternalServerError, "load character settings", err)
			return
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

func (r *Runtime) handleCharacter(w http.ResponseWriter, req *http.Request) {
	c, ok := catalog.CharacterByID(req.PathValue("id"))
	if !ok {
		http.NotFound(w, req)
		return
	}
	view, err := r.characterView(req, c)
	if err != nil {
		r.httpError(w, http.StatusInternalServerError, "load character settings", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (r *Runtime) characterView(req *http.Request, c catalog.Character) (characterView, error) {
	view := characterView{Character: c, BundledLetters: []string{}, CustomLetters: []string{}}
	if r.voices != nil {
		if covered := r.voices.Coverage(c.ID); covered != nil {
			view.BundledLetters = covered
		}
	}
	if r.settings == nil {
		return view, nil
	}
	cs, err := r.settings.Get(req.Context(), c.ID)
	if err != nil {
		return view, err
	}
	view.PhotoURI = cs.PhotoURI
	for letter := range cs.LetterSounds {
		view.CustomLetters = append(view.CustomLetters, letter)
	}
	sort.Strings(view.CustomLetters)
	return view, nil
}

// handlePlay forwards a request onto the bus so HTTP and bus callers share
// the narrator path.
func (r *Runtime) handlePlay(w http.ResponseWriter, req *http.Request) {
	var body protocol.PlayRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		r.httpError(w, http.StatusBadRequest, "decode play request", err)
		return
	}
	if _, ok := catalog.LetterByID(body.LetterID); !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown letter"})
		return
	}
	if body.CharacterID != "" {
		if _, ok := catalog.CharacterByID(body.CharacterID); !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown character"})
			return
		}
	}
	if !r.bus.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "bus unavailable"})
		return
	}
	if body.SessionID == "" {
		body.SessionID = uuid.NewString()
	}
	if err := r.bus.PublishJSON(protocol.SubjectLetterPlay, body); err != nil {
		r.httpError(w, http.StatusBadGateway, "publish play request", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": body.SessionID})
}

func (r *Runtime) handleStats(w http.ResponseWriter, req *http.Request) {
	if r.events == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	counts, err := r.events.LetterCounts(req.Context())
	if err != nil {
		r.httpError(w, http.StatusInternalServerError, "count plays", err)
		return
	}
	if counts == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

type eventView struct {
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	Letter    string          `json:"letter"`
	Outcome   string          `json:"outcome"`
	Source    string          `json:"source,omitempty"`
	Status    json.RawMessage `json:"status,omitempty"`
	CreatedAt string          `json:"created_at"`
}

func (r *Runtime) handleSessionEvents(w http.ResponseWriter, req *http.Request) {
	limit := 100
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}
	out := []eventView{}
	if r.events != nil {
		events, err := r.events.ListSessionEvents(req.Context(), req.PathValue("id"), limit)
		if err != nil {
			r.httpError(w, http.StatusInternalServerError, "list events", err)
			return
		}
		for _, e := range events {
			v := eventView{Type: e.Type, Key: e.Key, Letter: e.Letter, Outcome: e.Outcome, Source: e.Source}
			if json.Valid(e.Payload) {
				v.Status = e.Payload
			}
			if !e.CreatedAt.IsZero() {
				v.CreatedAt = e.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00")
			}
			out = append(out, v)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (r *Runtime) httpError(w http.ResponseWriter, status int, msg string, err error) {
	r.logger.Warn(msg, slog.String("error", err.Error()))
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
