package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aramnhammer/mqtt-to-influxdb/internal/deadletter"
)

// DeadLetterList is the list response.
type DeadLetterList struct {
	DeadLetters []deadletter.Entry `json:"dead_letters"`
	Count       int                `json:"count"`
	Total       int                `json:"total"`
}

// handleListDeadLetters returns the newest dead-letter entries.
//
// Query parameters:
//   - limit: max results (default 50, max 500)
func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	if s.deadLetters == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "dead-letter journal not enabled")
		return
	}

	limit := deadletter.DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.deadLetters.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list dead letters", "error", err)
		writeInternalError(w, "failed to list dead letters")
		return
	}

	total, err := s.deadLetters.Count(r.Context())
	if err != nil {
		s.logger.Error("failed to count dead letters", "error", err)
		writeInternalError(w, "failed to count dead letters")
		return
	}

	writeJSON(w, http.StatusOK, DeadLetterList{
		DeadLetters: entries,
		Count:       len(entries),
		Total:       total,
	})
}

// handleGetDeadLetter returns one entry by ID.
func (s *Server) handleGetDeadLetter(w http.ResponseWriter, r *http.Request) {
	if s.deadLetters == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "dead-letter journal not enabled")
		return
	}

	id := chi.URLParam(r, "id")
	entry, err := s.deadLetters.GetByID(r.Context(), id)
	if errors.Is(err, deadletter.ErrNotFound) {
		writeNotFound(w, "dead letter not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get dead letter", "id", id, "error", err)
		writeInternalError(w, "failed to get dead letter")
		return
	}

	writeJSON(w, http.StatusOK, entry)
}
