package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/haven-chat/haven/internal/chat"
	"github.com/haven-chat/haven/internal/store"
)

const maxTitleLength = 100

type createSessionRequest struct {
	Title     string  `json:"title"`
	Type      string  `json:"type"`
	PartnerID *string `json:"partnerId"`
}

type renameSessionRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	sessions, err := s.store.SessionsForUser(r.Context(), userID)
	if err != nil {
		s.logger.Error("listing sessions failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch sessions")
		return
	}
	if sessions == nil {
		sessions = []*store.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Type != store.TypeCouples && req.Type != store.TypePrivate {
		writeError(w, http.StatusBadRequest, "Session type must be couples or private")
		return
	}

	partnerID := req.PartnerID
	if req.Type == store.TypePrivate {
		partnerID = nil
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = s.defaultTitle(r, userID, req.Type)
	}

	sess, err := s.store.CreateSession(r.Context(), userID, partnerID, title, req.Type)
	if err != nil {
		s.logger.Error("creating session failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// defaultTitle numbers a fresh session within the user's sessions of the
// same type: "Private Session 3", "Couples Session 1".
func (s *Server) defaultTitle(r *http.Request, userID, sessionType string) string {
	label := "Private Session"
	if sessionType == store.TypeCouples {
		label = "Couples Session"
	}

	sessions, err := s.store.SessionsForUser(r.Context(), userID)
	if err != nil {
		return "New Session"
	}
	n := 1
	for _, sess := range sessions {
		if sess.Type == sessionType {
			n++
		}
	}
	return fmt.Sprintf("%s %d", label, n)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	sess, ok := s.sessionForParticipant(w, r, userID)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	sess, ok := s.sessionForParticipant(w, r, userID)
	if !ok {
		return
	}

	var req renameSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" || len([]rune(title)) > maxTitleLength {
		writeError(w, http.StatusBadRequest, "Title must be between 1 and 100 characters")
		return
	}

	if err := s.store.RenameSession(r.Context(), sess.ID, title); err != nil {
		s.logger.Error("renaming session failed", "session_id", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to rename session")
		return
	}

	// Keep connected participants in sync with the new title.
	if s.registry != nil {
		event := chat.TitleUpdateEvent{Type: chat.EventTitleUpdate, SessionID: sess.ID, Title: title}
		s.registry.Send(sess.CreatorID, event)
		if sess.PartnerID != nil {
			s.registry.Send(*sess.PartnerID, event)
		}
	}

	updated, err := s.store.Session(r.Context(), sess.ID)
	if err != nil {
		s.logger.Error("reloading session failed", "session_id", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to rename session")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	sess, ok := s.sessionForParticipant(w, r, userID)
	if !ok {
		return
	}

	if err := s.store.DeleteSession(r.Context(), sess.ID); err != nil {
		s.logger.Error("deleting session failed", "session_id", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sessionForParticipant loads the session in the path and verifies the
// user participates in it. On failure the response is already written.
func (s *Server) sessionForParticipant(w http.ResponseWriter, r *http.Request, userID string) (*store.Session, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid session id")
		return nil, false
	}

	sess, err := s.store.Session(r.Context(), id)
	if errors.Is(err, store.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "Session not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("loading session failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch session")
		return nil, false
	}

	if !participant(sess, userID) {
		writeError(w, http.StatusForbidden, "Access denied")
		return nil, false
	}
	return sess, true
}

func participant(sess *store.Session, userID string) bool {
	if sess.CreatorID == userID {
		return true
	}
	return sess.Type == store.TypeCouples && sess.PartnerID != nil && *sess.PartnerID == userID
}
