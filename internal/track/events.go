package track

import (
	"sync"
	"time"

	"research-dashboard/internal/domain"
)

// FeedEventType classifies entries in the tracking activity feed.
type FeedEventType string

const (
	FeedTypeStatus FeedEventType = "status"
	FeedTypeLog    FeedEventType = "log"
	FeedTypeResult FeedEventType = "result"
	FeedTypeError  FeedEventType = "error"
)

// FeedEvent is a sequenced payload consumed by UI subscribers.
type FeedEvent struct {
	Seq       int64            `json:"seq"`
	Timestamp time.Time        `json:"timestamp"`
	JobID     string           `json:"jobId"`
	Type      FeedEventType    `json:"type"`
	Status    domain.JobStatus `json:"status,omitempty"`
	Stage     string           `json:"stage,omitempty"`
	Progress  int              `json:"progress,omitempty"`
	Message   string           `json:"message,omitempty"`
}

// Feed stores recent tracking events and provides incremental reads.
type Feed struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []FeedEvent
	notify    func(FeedEvent)
}

// NewFeed creates a bounded in-memory event buffer.
func NewFeed(maxEvents int) *Feed {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &Feed{
		maxEvents: maxEvents,
		events:    make([]FeedEvent, 0, maxEvents),
	}
}

// SetNotifier registers a callback invoked for every published event,
// after it is buffered. Used to push events to the UI shell.
func (f *Feed) SetNotifier(notify func(FeedEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notify = notify
}

// Publish appends one event and assigns sequence and timestamp.
func (f *Feed) Publish(event FeedEvent) FeedEvent {
	f.mu.Lock()

	f.nextSeq++
	event.Seq = f.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	f.events = append(f.events, event)
	if len(f.events) > f.maxEvents {
		trim := len(f.events) - f.maxEvents
		f.events = append([]FeedEvent(nil), f.events[trim:]...)
	}
	notify := f.notify
	f.mu.Unlock()

	if notify != nil {
		notify(event)
	}
	return event
}

// Since returns events with sequence strictly greater than seq.
func (f *Feed) Since(seq int64) []FeedEvent {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.events) == 0 {
		return nil
	}

	out := make([]FeedEvent, 0, len(f.events))
	for _, event := range f.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// Reset discards all buffered events and restarts the sequence.
func (f *Feed) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSeq = 0
	f.events = f.events[:0]
}
