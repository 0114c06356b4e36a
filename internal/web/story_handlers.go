package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"Story-Loom/server/internal/engine"
	"Story-Loom/server/internal/events"
	"Story-Loom/server/internal/interfaces"
	"Story-Loom/server/internal/models"
)

// SessionHandlers serves the read side of a session and its reset
type SessionHandlers struct {
	store  interfaces.SessionStore
	engine Engine
}

// NewSessionHandlers creates a new session handlers instance
func NewSessionHandlers(store interfaces.SessionStore, eng Engine) *SessionHandlers {
	return &SessionHandlers{
		store:  store,
		engine: eng,
	}
}

// SessionView is what a client needs to render a session from scratch
type SessionView struct {
	ID              string              `json:"id"`
	Title           string              `json:"title"`
	PromoImageURL   string              `json:"promo_image_url"`
	FinalVideoURL   string              `json:"final_video_url,omitempty"`
	ActionsConsumed int                 `json:"actions_consumed"`
	TotalActions    int                 `json:"total_actions"`
	Characters      []models.Character  `json:"characters"`
	Events          []json.RawMessage   `json:"events"`
	State           *events.ClientState `json:"state"`
}

// SessionResponse is the envelope of every session endpoint
type SessionResponse struct {
	Success bool                   `json:"success"`
	Session *SessionView           `json:"session,omitempty"`
	Units   []models.NarrativeUnit `json:"units,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// GetSession returns the session with its encoded log and replayed state
func (h *SessionHandlers) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	session, err := h.store.GetSession(r.Context(), sessionID)
	if err != nil {
		h.fail(w, sessionID, err)
		return
	}
	evs, err := h.store.Events(r.Context(), sessionID)
	if err != nil {
		h.fail(w, sessionID, err)
		return
	}
	encoded, err := events.EncodeLog(evs)
	if err != nil {
		h.fail(w, sessionID, err)
		return
	}
	state := events.Replay(evs)

	writeJSON(w, http.StatusOK, SessionResponse{
		Success: true,
		Session: &SessionView{
			ID:              session.ID,
			Title:           session.Title,
			PromoImageURL:   session.PromoImageURL,
			FinalVideoURL:   session.FinalVideoURL,
			ActionsConsumed: session.ActionsConsumed,
			TotalActions:    session.TotalActions,
			Characters:      session.Characters,
			Events:          encoded,
			State:           &state,
		},
	})
}

// ListUnits returns the session's narrative units by number
func (h *SessionHandlers) ListUnits(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	if _, err := h.store.GetSession(r.Context(), sessionID); err != nil {
		h.fail(w, sessionID, err)
		return
	}
	units, err := h.store.Units(r.Context(), sessionID)
	if err != nil {
		h.fail(w, sessionID, err)
		return
	}
	if units == nil {
		units = []models.NarrativeUnit{}
	}

	writeJSON(w, http.StatusOK, SessionResponse{
		Success: true,
		Units:   units,
	})
}

// ResetSession empties the log and removes every unit
func (h *SessionHandlers) ResetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	if h.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, SessionResponse{
			Success: false,
			Error:   "Story engine not initialized",
		})
		return
	}
	if err := h.engine.Reset(r.Context(), sessionID); err != nil {
		if errors.Is(err, engine.ErrTurnAlreadyInProgress) {
			writeJSON(w, http.StatusConflict, SessionResponse{
				Success: false,
				Error:   publicMessage(err),
			})
			return
		}
		h.fail(w, sessionID, err)
		return
	}

	writeJSON(w, http.StatusOK, SessionResponse{Success: true})
}

// fail maps store errors to a status and an opaque message
func (h *SessionHandlers) fail(w http.ResponseWriter, sessionID string, err error) {
	if errors.Is(err, interfaces.ErrSessionNotFound) {
		writeJSON(w, http.StatusNotFound, SessionResponse{
			Success: false,
			Error:   "Session not found",
		})
		return
	}
	log.Printf("[Sessions] Request for session %s failed: %v", sessionID, err)
	writeJSON(w, http.StatusInternalServerError, SessionResponse{
		Success: false,
		Error:   "Internal error",
	})
}
