// Package server exposes the REST API and the websocket endpoint. Mutating
// handlers confirm acceptance only; callers observe downstream effects
// (minion replies, task completions) on the event stream.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"legion/pkg/bridge"
	"legion/pkg/channel"
	"legion/pkg/entity"
	"legion/pkg/minion"
	"legion/pkg/persona"
	"legion/pkg/store"
	"legion/pkg/task"
)

// Server is the main HTTP server for the Legion API.
type Server struct {
	channels *channel.Service
	roster   *minion.Roster
	tasks    *task.Orchestrator
	st       *store.Store
	personas *persona.Library
	bridge   *bridge.Bridge
	mux      *http.ServeMux
}

// New creates a new Server with all routes registered. The persona
// library may be nil when spawns always carry inline personas.
func New(ch *channel.Service, ro *minion.Roster, orch *task.Orchestrator, st *store.Store, lib *persona.Library, br *bridge.Bridge) *Server {
	s := &Server{
		channels: ch,
		roster:   ro,
		tasks:    orch,
		st:       st,
		personas: lib,
		bridge:   br,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// routes registers all HTTP routes on the server mux.
func (s *Server) routes() {
	// Health
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// Channels
	s.mux.HandleFunc("POST /api/channels", s.handleCreateChannel)
	s.mux.HandleFunc("GET /api/channels", s.handleListChannels)
	s.mux.HandleFunc("GET /api/channels/{id}", s.handleGetChannel)
	s.mux.HandleFunc("DELETE /api/channels/{id}", s.handleDeleteChannel)
	s.mux.HandleFunc("POST /api/channels/{id}/messages", s.handlePostMessage)
	s.mux.HandleFunc("GET /api/channels/{id}/messages", s.handleListMessages)
	s.mux.HandleFunc("POST /api/channels/{id}/members", s.handleAddMember)
	s.mux.HandleFunc("DELETE /api/channels/{id}/members/{member}", s.handleRemoveMember)

	// Minions
	s.mux.HandleFunc("POST /api/minions", s.handleSpawnMinion)
	s.mux.HandleFunc("GET /api/minions", s.handleListMinions)
	s.mux.HandleFunc("GET /api/minions/{id}", s.handleGetMinion)
	s.mux.HandleFunc("DELETE /api/minions/{id}", s.handleDespawnMinion)

	// Tasks
	s.mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	s.mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	s.mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	s.mux.HandleFunc("DELETE /api/tasks/{id}", s.handleDeleteTask)
	s.mux.HandleFunc("POST /api/tasks/{id}/assign", s.handleAssignTask)
	s.mux.HandleFunc("POST /api/tasks/{id}/start", s.handleStartTask)
	s.mux.HandleFunc("POST /api/tasks/{id}/progress", s.handleTaskProgress)
	s.mux.HandleFunc("POST /api/tasks/{id}/fail", s.handleFailTask)
	s.mux.HandleFunc("POST /api/tasks/{id}/cancel", s.handleCancelTask)
	s.mux.HandleFunc("POST /api/tasks/{id}/decompose", s.handleDecomposeTask)

	// Event log
	s.mux.HandleFunc("GET /api/events", s.handleListEvents)

	// Live event stream
	if s.bridge != nil {
		s.mux.HandleFunc("GET /ws", bridge.HandleWebSocket(s.bridge))
	}
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "legion",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data) //nolint:errcheck // response already committed
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps the error taxonomy onto HTTP statuses: bad input is 400,
// unknown ids are 404, illegal state transitions are 409.
func fail(w http.ResponseWriter, err error) {
	var verr *entity.ValidationError
	var nferr *entity.NotFoundError
	var ierr *entity.InvariantError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.As(err, &nferr):
		writeError(w, http.StatusNotFound, nferr.Error())
	case errors.As(err, &ierr):
		writeError(w, http.StatusConflict, ierr.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decode reads a JSON request body into v.
func decode(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
