package api

import "net/http"

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports readiness: the database must be reachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	body := map[string]any{"status": "ready"}
	if s.registry != nil {
		body["connections"] = s.registry.Count()
	}
	writeJSON(w, http.StatusOK, body)
}
