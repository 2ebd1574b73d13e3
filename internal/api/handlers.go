package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"voltledger/internal/apperr"
)

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		s.writeError(w, r, apperr.NotFound("realtime updates disabled"))
		return
	}
	c := claims(r)
	s.hub.ServeWS(w, r, c.UserID, c.IsAdmin)
}
