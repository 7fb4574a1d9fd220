package api

import (
	"errors"
	"net/http"

	"github.com/haven-chat/haven/internal/store"
)

type createPartnerRequest struct {
	PartnerID string `json:"partnerId"`
}

func (s *Server) handleListPartners(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	partners, err := s.store.PartnersOf(r.Context(), userID)
	if err != nil {
		s.logger.Error("listing partners failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch partners")
		return
	}
	if partners == nil {
		partners = []*store.Partnership{}
	}
	writeJSON(w, http.StatusOK, partners)
}

func (s *Server) handleCreatePartner(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}

	var req createPartnerRequest
	if err := decodeJSON(r, &req); err != nil || req.PartnerID == "" {
		writeError(w, http.StatusBadRequest, "Partner id is required")
		return
	}
	if req.PartnerID == userID {
		writeError(w, http.StatusBadRequest, "Cannot partner with yourself")
		return
	}

	if _, err := s.store.User(r.Context(), req.PartnerID); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "Partner user not found")
			return
		}
		s.logger.Error("loading partner user failed", "partner_id", req.PartnerID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create partnership")
		return
	}

	existing, err := s.store.Partnership(r.Context(), userID, req.PartnerID)
	if err != nil {
		s.logger.Error("checking partnership failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create partnership")
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "Partnership already exists")
		return
	}

	p, err := s.store.CreatePartnership(r.Context(), userID, req.PartnerID)
	if err != nil {
		s.logger.Error("creating partnership failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create partnership")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}
