package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kumocrawler/kumocrawler/internal/event"
	"github.com/kumocrawler/kumocrawler/internal/metrics"
)

// stream attaches an SSE consumer to the task's event log. The full history
// is replayed first, then live events follow; the server closes the
// connection itself after relaying the terminal event. A client disconnect
// only detaches this consumer, it never stops the background worker.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	log, err := s.registry.Channel(taskID)
	if err != nil {
		http.Error(w, "Task ID not found.", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	metrics.SubscriberAttached()
	defer metrics.SubscriberDetached()

	// Greeting confirms the stream is live before any replayed history.
	if err := writeSSE(w, event.Info("Log stream connected.")); err != nil {
		return
	}
	flusher.Flush()

	for evt := range log.Subscribe(r.Context()) {
		if err := writeSSE(w, evt); err != nil {
			s.logger.Debug("stream consumer went away",
				zap.String("task_id", taskID), zap.Error(err))
			return
		}
		flusher.Flush()
		if evt.Terminal() {
			break
		}
	}
	s.logger.Debug("stream closed", zap.String("task_id", taskID))
}

func writeSSE(w http.ResponseWriter, evt event.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}
