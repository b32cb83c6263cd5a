package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dgnsrekt/livefeed/internal/provider"
)

type Server struct {
	provider *provider.Provider
	refresh  *RefreshManager
	logger   *zap.Logger
}

func NewServer(p *provider.Provider, refresh *RefreshManager, logger *zap.Logger) *Server {
	return &Server{
		provider: p,
		refresh:  refresh,
		logger:   logger,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.provider.Status())
}

// GetEvent returns the cached event details, if the event is being followed.
func (s *Server) GetEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	event, ok := s.provider.EventSnapshot(eventID)
	if !ok || event == nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "event not cached: " + eventID})
		return
	}
	s.writeJSON(w, http.StatusOK, event)
}

func (s *Server) GetSports(w http.ResponseWriter, r *http.Request) {
	sports, ok := s.provider.SportsSnapshot()
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "sports not cached"})
		return
	}
	s.writeJSON(w, http.StatusOK, sports)
}

func (s *Server) RefreshConnection(w http.ResponseWriter, r *http.Request) {
	result, err := s.refresh.Refresh(r.Context())
	switch {
	case errors.Is(err, ErrRefreshInProgress):
		s.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, ErrRefreshTimeout):
		s.writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: err.Error()})
	case err != nil:
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	default:
		s.writeJSON(w, http.StatusOK, result)
	}
}
