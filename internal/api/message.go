package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/haven-chat/haven/internal/chat"
	"github.com/haven-chat/haven/internal/store"
)

type postMessageRequest struct {
	Content    string `json:"content"`
	SenderName string `json:"senderName"`
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	sess, ok := s.sessionForParticipant(w, r, userID)
	if !ok {
		return
	}

	msgs, err := s.store.SessionMessages(r.Context(), sess.ID, 0)
	if err != nil {
		s.logger.Error("listing messages failed", "session_id", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch messages")
		return
	}

	// Decorate assistant messages with their display identity so clients
	// render the therapist consistently with the live stream.
	out := make([]chat.MessagePayload, 0, len(msgs))
	for _, m := range msgs {
		payload := chat.MessagePayload{
			ID:        m.ID,
			SessionID: m.SessionID,
			SenderID:  m.SenderID,
			IsAI:      m.IsAI,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		}
		if m.IsAI {
			payload.Sender = &chat.AssistantSender
		}
		out = append(out, payload)
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePostMessage accepts a message over HTTP instead of the websocket.
// The reply streams to connected participants; the returned ids let a
// client without a live connection poll the stream status.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	sess, ok := s.sessionForParticipant(w, r, userID)
	if !ok {
		return
	}

	var req postMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "Message content is required")
		return
	}

	res, err := s.chat.Route(r.Context(), sess.ID, chat.Sender{ID: userID, Name: req.SenderName}, req.Content)
	if err != nil {
		s.logger.Error("routing message failed", "session_id", sess.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to process message")
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid message id")
		return
	}

	msg, err := s.store.Message(r.Context(), id)
	if errors.Is(err, store.ErrMessageNotFound) {
		writeError(w, http.StatusNotFound, "Message not found")
		return
	}
	if err != nil {
		s.logger.Error("loading message failed", "message_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch message")
		return
	}

	sess, err := s.store.Session(r.Context(), msg.SessionID)
	if err != nil {
		s.logger.Error("loading session failed", "session_id", msg.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch message")
		return
	}
	if !participant(sess, userID) {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}

	status, err := s.chat.ReplyStatus(r.Context(), id)
	if err != nil {
		s.logger.Error("reading stream status failed", "message_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch stream status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}
