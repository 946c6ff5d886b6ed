package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/vintagevision/vintagevision/internal/model"
)

// sseSink writes progress events as server-sent events, one frame per
// event, named after the event type.
type sseSink struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	broken  bool
}

func newSSESink(w http.ResponseWriter) (*sseSink, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &sseSink{w: w, flusher: f}, true
}

func (s *sseSink) Emit(ev model.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		zap.L().Error("sse: encode event", zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		// The client went away; the request context cancels the run.
		s.broken = true
		return
	}
	s.flusher.Flush()
}
