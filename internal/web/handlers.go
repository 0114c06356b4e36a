package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"Story-Loom/server/internal/interfaces"
)

// WebSocket upgrader configuration
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Clients are served from another origin
	},
}

// MediaStats reports the load of the media queue
type MediaStats interface {
	QueueSize() int
	ActiveCount() int
}

// RouterOptions carries the optional sources of the health and debug endpoints
type RouterOptions struct {
	Media       MediaStats
	Generations interfaces.GenerationLister
}

type Handlers struct {
	store interfaces.SessionStore
	hub   *SessionHub
	media MediaStats
}

func NewHandlers(store interfaces.SessionStore, hub *SessionHub, media MediaStats) *Handlers {
	return &Handlers{
		store: store,
		hub:   hub,
		media: media,
	}
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":  "ok",
		"service": "story-loom",
		"clients": h.hub.GetClientCount(),
	}
	if h.media != nil {
		health["media_queued"] = h.media.QueueSize()
		health["media_active"] = h.media.ActiveCount()
	}
	writeJSON(w, http.StatusOK, health)
}

// CORS middleware
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Max-Age", "300")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestLogger logs every request with its duration
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("[HTTP] %s %s (%s)", r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}

// NewRouter wires the session API, the debug API and the websocket endpoint
func NewRouter(store interfaces.SessionStore, eng Engine, hub *SessionHub, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Use(corsMiddleware)

	handlers := NewHandlers(store, hub, opts.Media)
	sessions := NewSessionHandlers(store, eng)
	debug := NewDebugHandlers(opts.Generations)

	r.Get("/health", handlers.HealthCheck)
	r.Get("/ws", handlers.ServeSession)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/sessions/{session_id}", func(r chi.Router) {
			r.Get("/", sessions.GetSession)
			r.Get("/units", sessions.ListUnits)
			r.Post("/reset", sessions.ResetSession)
		})
		r.Get("/debug/generations", debug.ListGenerations)
	})

	return r
}

// ServeSession upgrades a client of the session named by ?key= to a
// websocket. Unknown keys are rejected before the upgrade.
func (h *Handlers) ServeSession(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusUnauthorized, "missing session key")
		return
	}
	if _, err := h.store.GetSession(r.Context(), key); err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			writeError(w, http.StatusUnauthorized, "unknown session key")
			return
		}
		log.Printf("[HTTP] Failed to load session %s: %v", key, err)
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[HTTP] Upgrade failed for session %s: %v", key, err)
		return
	}

	client := newClient(h.hub, key, conn)
	if !h.hub.join(client) {
		log.Printf("[HTTP] Hub stopped, dropping client for session %s", key)
		conn.Close()
		return
	}
	go client.readPump()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
