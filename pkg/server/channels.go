package server

import (
	"net/http"
	"strconv"

	"legion/pkg/channel"
	"legion/pkg/entity"
)

type createChannelRequest struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Members   []string `json:"members"`
	CreatedBy string   `json:"created_by"`
}

// handleCreateChannel handles POST /api/channels.
func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var req createChannelRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ch, err := s.channels.Create(r.Context(), channel.CreateParams{
		Name:      req.Name,
		Type:      entity.ChannelType(req.Type),
		Members:   req.Members,
		CreatedBy: req.CreatedBy,
	})
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ch)
}

// handleListChannels handles GET /api/channels.
func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	chs, err := s.channels.List(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chs)
}

// handleGetChannel handles GET /api/channels/{id}.
func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := s.channels.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

// handleDeleteChannel handles DELETE /api/channels/{id}.
func (s *Server) handleDeleteChannel(w http.ResponseWriter, r *http.Request) {
	if err := s.channels.Delete(r.Context(), r.PathValue("id")); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type postMessageRequest struct {
	SenderID   string            `json:"sender_id"`
	SenderType string            `json:"sender_type"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata"`
}

// handlePostMessage handles POST /api/channels/{id}/messages. Success
// confirms the append; any minion replies arrive later on the event
// stream.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	m, err := s.channels.PostMessage(r.Context(), channel.PostParams{
		ChannelID:  r.PathValue("id"),
		SenderID:   req.SenderID,
		SenderType: entity.SenderType(req.SenderType),
		Content:    req.Content,
		Metadata:   req.Metadata,
	})
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// handleListMessages handles GET /api/channels/{id}/messages?limit=N.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	msgs, err := s.channels.Messages(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type memberRequest struct {
	MemberID string `json:"member_id"`
}

// handleAddMember handles POST /api/channels/{id}/members.
func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.channels.AddMember(r.Context(), r.PathValue("id"), req.MemberID); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

// handleRemoveMember handles DELETE /api/channels/{id}/members/{member}.
func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	if err := s.channels.RemoveMember(r.Context(), r.PathValue("id"), r.PathValue("member")); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}
