package types

// EventKind is the type tag of a progress event.
type EventKind string

const (
	// EventProgress reports forward motion of a running job.
	EventProgress EventKind = "progress"
	// EventError reports a terminal failure, with Reason machine-readable.
	EventError EventKind = "error"
	// EventDone reports successful completion.
	EventDone EventKind = "done"
)

// Event is one record on a job's progress stream. Events are delivered in
// the producer's causal order. Percent is present when the step has a
// meaningful completion fraction.
type Event struct {
	Event   EventKind `json:"event"`
	Step    string    `json:"step"`
	Message string    `json:"message"`
	Percent *int      `json:"percent,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Data    any       `json:"data,omitempty"`
}

// Progress builds a progress event with a percent.
func Progress(step, message string, percent int) Event {
	return Event{Event: EventProgress, Step: step, Message: message, Percent: &percent}
}

// ErrorEvent builds an error event with a machine-readable reason.
func ErrorEvent(step, reason, message string) Event {
	return Event{Event: EventError, Step: step, Reason: reason, Message: message}
}

// Done builds a completion event. Data carries operation results for streams
// whose consumers need the payload (translate returns the rendered html).
func Done(step, message string, data any) Event {
	return Event{Event: EventDone, Step: step, Message: message, Data: data}
}
