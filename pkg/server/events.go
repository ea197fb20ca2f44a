package server

import (
	"net/http"
	"strconv"
	"time"

	"legion/pkg/store"
)

const defaultEventLimit = 100

// handleListEvents handles GET /api/events?type=&source=&after=&limit=.
// It reads the persisted event log, newest first.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.EventQueryOpts{
		Type:   q.Get("type"),
		Source: q.Get("source"),
		Limit:  defaultEventLimit,
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		opts.Limit = n
	}
	if raw := q.Get("after"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after timestamp, want RFC3339")
			return
		}
		opts.After = &ts
	}

	events, err := s.st.QueryEvents(r.Context(), opts)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
