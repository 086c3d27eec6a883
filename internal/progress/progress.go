// Package progress carries per-job event streams from the pipeline to
// HTTP subscribers. Each job owns one Stream; events arrive in producer
// order, late subscribers start from a snapshot of the latest event,
// and the stream closes when the job reaches a terminal state.
package progress

import (
	"log/slog"
	"sync"

	"github.com/librettohq/libretto/internal/types"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber
// that falls this far behind is dropped rather than blocking the
// producer.
const subscriberBuffer = 64

// Stream is the ordered event channel of a single job.
type Stream struct {
	mu     sync.Mutex
	subs   map[*subscriber]bool
	last   types.Event
	seen   bool
	closed bool
	done   chan struct{}
}

type subscriber struct {
	ch chan types.Event
}

func newStream() *Stream {
	return &Stream{
		subs: make(map[*subscriber]bool),
		done: make(chan struct{}),
	}
}

// Publish fans an event out to all subscribers without blocking. A
// done or error event is terminal: it closes the stream after
// delivery. Events published after the terminal one are dropped.
func (s *Stream) Publish(ev types.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.last = ev
	s.seen = true

	for sub := range s.subs {
		select {
		case sub.ch <- ev:
		default:
			delete(s.subs, sub)
			close(sub.ch)
		}
	}

	if ev.Event == types.EventDone || ev.Event == types.EventError {
		s.closed = true
		for sub := range s.subs {
			delete(s.subs, sub)
			close(sub.ch)
		}
		close(s.done)
	}
}

// Subscribe attaches a consumer. If events have already been
// published, the latest one is delivered first as a snapshot. The
// returned channel closes when the stream terminates or the consumer
// falls behind; cancel detaches early.
func (s *Stream) Subscribe() (<-chan types.Event, func()) {
	return s.subscribe(subscriberBuffer)
}

func (s *Stream) subscribe(buffer int) (<-chan types.Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &subscriber{ch: make(chan types.Event, buffer+1)}
	if s.seen {
		sub.ch <- s.last
	}
	if s.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}

	s.subs[sub] = true
	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.subs[sub] {
			delete(s.subs, sub)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// Done closes when the stream reaches a terminal state.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Closed reports whether a terminal event has been published.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Last returns the most recent event and whether one exists.
func (s *Stream) Last() (types.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.seen
}

// Hub indexes streams by job id. Streams stay resolvable after their
// terminal event so late subscribers still get the snapshot; Release
// drops them when the job record itself is pruned.
type Hub struct {
	mu      sync.RWMutex
	streams map[string]*Stream
	logger  *slog.Logger
}

// NewHub builds an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		streams: make(map[string]*Stream),
		logger:  logger.With("component", "progress"),
	}
}

// Register creates (or returns) the stream for a job id.
func (h *Hub) Register(jobID string) *Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	if st, ok := h.streams[jobID]; ok {
		return st
	}
	st := newStream()
	h.streams[jobID] = st
	return st
}

// Stream resolves a job's stream.
func (h *Hub) Stream(jobID string) (*Stream, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st, ok := h.streams[jobID]
	return st, ok
}

// Release forgets a job's stream, closing it if still open.
func (h *Hub) Release(jobID string) {
	h.mu.Lock()
	st, ok := h.streams[jobID]
	delete(h.streams, jobID)
	h.mu.Unlock()
	if ok && !st.Closed() {
		h.logger.Warn("releasing live progress stream", "job_id", jobID)
		st.Publish(types.ErrorEvent("stream", "released", "job stream released before completion"))
	}
}
