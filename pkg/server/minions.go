package server

import (
	"net/http"

	"legion/pkg/entity"
)

type spawnMinionRequest struct {
	MinionID string `json:"minion_id"`
	// Either a persona library key or an inline persona.
	PersonaKey string          `json:"persona_key,omitempty"`
	Persona    *entity.Persona `json:"persona,omitempty"`
}

// handleSpawnMinion handles POST /api/minions.
func (s *Server) handleSpawnMinion(w http.ResponseWriter, r *http.Request) {
	var req spawnMinionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var p entity.Persona
	switch {
	case req.Persona != nil:
		p = *req.Persona
	case req.PersonaKey != "":
		if s.personas == nil {
			writeError(w, http.StatusBadRequest, "no persona library configured")
			return
		}
		var ok bool
		p, ok = s.personas.Get(req.PersonaKey)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown persona key: "+req.PersonaKey)
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "persona or persona_key is required")
		return
	}

	m, err := s.roster.Spawn(r.Context(), req.MinionID, p)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// handleListMinions handles GET /api/minions. Despawned minions are
// excluded.
func (s *Server) handleListMinions(w http.ResponseWriter, r *http.Request) {
	ms, err := s.st.ListMinions(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

// handleGetMinion handles GET /api/minions/{id}.
func (s *Server) handleGetMinion(w http.ResponseWriter, r *http.Request) {
	m, err := s.st.GetMinion(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleDespawnMinion handles DELETE /api/minions/{id}.
func (s *Server) handleDespawnMinion(w http.ResponseWriter, r *http.Request) {
	if err := s.roster.Despawn(r.Context(), r.PathValue("id")); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "despawned"})
}
