package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dgnsrekt/livefeed/internal/content"
)

// StreamEvent serves merged event-details snapshots over SSE. Each message
// of the subscription becomes one event named after its state. The stream
// ends when the subscription fails or closes.
func (s *Server) StreamEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	// Check if SSE is supported
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	sub, err := s.provider.SubscribeEventDetails(r.Context(), eventID)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, content.ErrUserSessionNotFound):
			status = http.StatusServiceUnavailable
		case errors.Is(err, content.ErrResourceNotFound), errors.Is(err, content.ErrResourceUnavailableOrDeleted):
			status = http.StatusNotFound
		}
		s.writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	defer sub.Release()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	clientID := uuid.NewString()
	s.logger.Info("stream client connected",
		zap.String("client_id", clientID),
		zap.String("event_id", eventID),
		zap.String("remote_addr", r.RemoteAddr),
	)
	defer s.logger.Info("stream client disconnected", zap.String("client_id", clientID))

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			if err := writeEvent(w, msg); err != nil {
				s.logger.Debug("failed to write to client", zap.Error(err))
				return
			}
			flusher.Flush()
			if msg.State == content.StateFailed {
				return
			}
		}
	}
}

type ssePayload struct {
	Subscription string `json:"subscription,omitempty"`
	Content      any    `json:"content,omitempty"`
	Error        string `json:"error,omitempty"`
}

func writeEvent[T any](w http.ResponseWriter, msg content.Message[T]) error {
	var payload ssePayload
	switch msg.State {
	case content.StateConnected:
		if msg.Subscription != nil {
			payload.Subscription = msg.Subscription.ID()
		}
	case content.StateContentUpdate:
		payload.Content = msg.Content
	case content.StateFailed:
		if msg.Err != nil {
			payload.Error = msg.Err.Error()
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", msg.State, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.State, data)
	return err
}
