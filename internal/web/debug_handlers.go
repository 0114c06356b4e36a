package web

import (
	"log"
	"net/http"
	"strconv"

	"Story-Loom/server/internal/interfaces"
)

const (
	defaultPerPage = 20
	maxPerPage     = 500
)

// DebugHandlers exposes the media backend's generation history
type DebugHandlers struct {
	generations interfaces.GenerationLister
}

// NewDebugHandlers creates debug handlers over lister, which may be nil
func NewDebugHandlers(lister interfaces.GenerationLister) *DebugHandlers {
	return &DebugHandlers{generations: lister}
}

// GenerationsResponse is the envelope of the generation listing
type GenerationsResponse struct {
	Success bool                       `json:"success"`
	Page    int                        `json:"page,omitempty"`
	PerPage int                        `json:"per_page,omitempty"`
	Result  *interfaces.GenerationPage `json:"result,omitempty"`
	Error   string                     `json:"error,omitempty"`
}

// ListGenerations returns one page of generations, ?page= counting from 1
func (h *DebugHandlers) ListGenerations(w http.ResponseWriter, r *http.Request) {
	if h.generations == nil {
		writeJSON(w, http.StatusServiceUnavailable, GenerationsResponse{
			Success: false,
			Error:   "Media backend not configured",
		})
		return
	}

	page, ok := queryInt(r, "page", 1)
	if !ok || page < 1 {
		writeJSON(w, http.StatusBadRequest, GenerationsResponse{Success: false, Error: "invalid page"})
		return
	}
	perPage, ok := queryInt(r, "per_page", defaultPerPage)
	if !ok || perPage < 1 || perPage > maxPerPage {
		writeJSON(w, http.StatusBadRequest, GenerationsResponse{Success: false, Error: "invalid per_page"})
		return
	}

	result, err := h.generations.ListGenerations(r.Context(), perPage, perPage*(page-1))
	if err != nil {
		log.Printf("[Debug] Failed to list generations (page %d): %v", page, err)
		writeJSON(w, http.StatusBadGateway, GenerationsResponse{
			Success: false,
			Error:   "Failed to list generations",
		})
		return
	}

	writeJSON(w, http.StatusOK, GenerationsResponse{
		Success: true,
		Page:    page,
		PerPage: perPage,
		Result:  result,
	})
}

// queryInt reads an integer query parameter, returning def when it is absent
func queryInt(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}
