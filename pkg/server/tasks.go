package server

import (
	"net/http"

	"legion/pkg/task"
)

type createTaskRequest struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Priority     int      `json:"priority"`
	Dependencies []string `json:"dependencies"`
}

// handleCreateTask handles POST /api/tasks.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	t, err := s.tasks.Create(r.Context(), task.CreateParams{
		Title:        req.Title,
		Description:  req.Description,
		Priority:     req.Priority,
		Dependencies: req.Dependencies,
	})
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// handleListTasks handles GET /api/tasks.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	ts, err := s.tasks.List(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

// handleGetTask handles GET /api/tasks/{id}.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleDeleteTask handles DELETE /api/tasks/{id}.
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.tasks.Delete(r.Context(), r.PathValue("id")); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type assignTaskRequest struct {
	MinionIDs []string `json:"minion_ids"`
}

// handleAssignTask handles POST /api/tasks/{id}/assign.
func (s *Server) handleAssignTask(w http.ResponseWriter, r *http.Request) {
	var req assignTaskRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	t, err := s.tasks.Assign(r.Context(), r.PathValue("id"), req.MinionIDs)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleStartTask handles POST /api/tasks/{id}/start.
func (s *Server) handleStartTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.Start(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type taskProgressRequest struct {
	Progress int `json:"progress"`
}

// handleTaskProgress handles POST /api/tasks/{id}/progress.
func (s *Server) handleTaskProgress(w http.ResponseWriter, r *http.Request) {
	var req taskProgressRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	t, err := s.tasks.UpdateProgress(r.Context(), r.PathValue("id"), req.Progress)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type failTaskRequest struct {
	Reason string `json:"reason"`
}

// handleFailTask handles POST /api/tasks/{id}/fail.
func (s *Server) handleFailTask(w http.ResponseWriter, r *http.Request) {
	var req failTaskRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	t, err := s.tasks.Fail(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleCancelTask handles POST /api/tasks/{id}/cancel.
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type decomposeTaskRequest struct {
	Subtasks []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Priority    int    `json:"priority"`
	} `json:"subtasks"`
}

// handleDecomposeTask handles POST /api/tasks/{id}/decompose.
func (s *Server) handleDecomposeTask(w http.ResponseWriter, r *http.Request) {
	var req decomposeTaskRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	specs := make([]task.SubtaskSpec, 0, len(req.Subtasks))
	for _, st := range req.Subtasks {
		specs = append(specs, task.SubtaskSpec{
			Title:       st.Title,
			Description: st.Description,
			Priority:    st.Priority,
		})
	}
	t, err := s.tasks.Decompose(r.Context(), r.PathValue("id"), specs)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
