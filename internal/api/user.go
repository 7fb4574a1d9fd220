package api

import (
	"errors"
	"net/http"

	"github.com/haven-chat/haven/internal/store"
)

type putUserRequest struct {
	Email           string `json:"email"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	ProfileImageURL string `json:"profileImageUrl"`
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	u, err := s.store.User(r.Context(), userID)
	if errors.Is(err, store.ErrUserNotFound) {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		s.logger.Error("loading user failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch user")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// handlePutUser mirrors the profile from the identity provider into the
// local store, so partner lookups and display names have something to
// resolve against.
func (s *Server) handlePutUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	var req putUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	u, err := s.store.UpsertUser(r.Context(), store.User{
		ID:              userID,
		Email:           req.Email,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		ProfileImageURL: req.ProfileImageURL,
	})
	if err != nil {
		s.logger.Error("upserting user failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to save user")
		return
	}
	writeJSON(w, http.StatusOK, u)
}
