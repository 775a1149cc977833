// Package channel provides the two sources of job-status events: a
// persistent push stream and an interval poller. Both deliver through
// the same Event contract so the tracking layer can consume either
// without knowing which is attached.
package channel

import "research-dashboard/internal/domain"

// EventKind classifies messages delivered by a channel.
type EventKind string

const (
	// KindOpened signals the channel established its connection.
	KindOpened EventKind = "opened"
	// KindStatus carries a job status payload.
	KindStatus EventKind = "status"
	// KindResult signals the backend published the final result.
	KindResult EventKind = "result"
	// KindClosed signals an orderly shutdown of the channel.
	KindClosed EventKind = "closed"
	// KindError signals an abnormal termination of the channel.
	KindError EventKind = "error"
)

// Event is one message from an update channel. A channel emits its
// events in arrival order and closes the Events stream after a
// KindClosed or KindError event; it never restarts itself.
type Event struct {
	Kind   EventKind
	JobID  string
	Status domain.StatusEvent
	Reason string
	Err    error
}

// Channel is a source of job-status events.
type Channel interface {
	// Events returns the delivery stream. It is closed once the
	// channel terminates, normally or otherwise.
	Events() <-chan Event
	// Stop tears the channel down. It returns immediately without
	// waiting for any in-flight work and is safe to call repeatedly.
	Stop()
}
