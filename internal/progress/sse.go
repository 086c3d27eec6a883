package progress

import (
	"fmt"
	"net/http"
	"time"

	"github.com/segmentio/encoding/json"
)

// sseKeepalive is the idle interval between comment frames that hold
// proxies open.
const sseKeepalive = 15 * time.Second

// ServeSSE streams a job's events to an HTTP response as
// text/event-stream frames. It returns when the stream terminates or
// the client goes away; a client disconnect does not touch the job.
func ServeSSE(w http.ResponseWriter, r *http.Request, s *Stream) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, cancel := s.Subscribe()
	defer cancel()

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return nil
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return nil
			}
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return nil
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("encode event: %w", err)
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Event, payload); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}
