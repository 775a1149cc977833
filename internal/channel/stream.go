package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"research-dashboard/internal/domain"
)

// StreamConn is the subset of a websocket connection the stream reads.
type StreamConn interface {
	ReadJSON(v any) error
	Close() error
}

// StreamDialer establishes push connections, injectable for tests.
type StreamDialer interface {
	Dial(ctx context.Context, rawURL string) (StreamConn, error)
}

// wsDialer dials real websocket connections via gorilla/websocket.
type wsDialer struct{}

// Dial opens a websocket connection to the given URL.
func (wsDialer) Dial(ctx context.Context, rawURL string) (StreamConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// streamFrame is one push message; Type mirrors the server's event
// names: status, result, close.
type streamFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// StreamChannel holds one persistent push connection for a job.
//
// The channel terminates itself on read errors or a server close frame
// and never reconnects; falling back to polling is the tracker's
// decision, not the channel's.
type StreamChannel struct {
	jobID  string
	url    string
	dialer StreamDialer
	logger *slog.Logger

	events chan Event

	mu      sync.Mutex
	conn    StreamConn
	opened  bool
	stopped bool
}

// NewStreamChannel builds a stream channel for one job id.
func NewStreamChannel(streamBaseURL, jobID string, logger *slog.Logger) *StreamChannel {
	return newStreamChannel(streamBaseURL, jobID, wsDialer{}, logger)
}

// NewStreamChannelForTests builds a stream channel with an injectable dialer.
func NewStreamChannelForTests(streamBaseURL, jobID string, dialer StreamDialer, logger *slog.Logger) *StreamChannel {
	return newStreamChannel(streamBaseURL, jobID, dialer, logger)
}

func newStreamChannel(streamBaseURL, jobID string, dialer StreamDialer, logger *slog.Logger) *StreamChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamChannel{
		jobID:  jobID,
		url:    streamURL(streamBaseURL, jobID),
		dialer: dialer,
		logger: logger,
		events: make(chan Event, 16),
	}
}

// streamURL builds the per-job stream endpoint.
func streamURL(base, jobID string) string {
	return fmt.Sprintf("%s/api/research/stream/%s", base, url.PathEscape(jobID))
}

// Events returns the delivery stream.
func (s *StreamChannel) Events() <-chan Event {
	return s.events
}

// Open dials the stream and starts the read loop. Opening an already
// open channel is a no-op; at most one connection exists per job id.
func (s *StreamChannel) Open(ctx context.Context) {
	s.mu.Lock()
	if s.opened || s.stopped {
		s.mu.Unlock()
		return
	}
	s.opened = true
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop closes the connection and ends the read loop.
func (s *StreamChannel) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if !s.opened {
		// Never dialed; nothing will close the stream for us.
		close(s.events)
	}
}

// run dials, reads frames until termination, and closes the stream.
func (s *StreamChannel) run(ctx context.Context) {
	defer close(s.events)

	conn, err := s.dialer.Dial(ctx, s.url)
	if err != nil {
		if !s.isStopped() {
			s.logger.Warn("stream dial failed", "job_id", s.jobID, "error", err)
			s.emit(Event{Kind: KindError, JobID: s.jobID, Err: err})
		}
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()

	s.emit(Event{Kind: KindOpened, JobID: s.jobID})

	for {
		var frame streamFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if s.isStopped() {
				s.emit(Event{Kind: KindClosed, JobID: s.jobID, Reason: "stopped"})
				return
			}
			s.logger.Warn("stream read failed", "job_id", s.jobID, "error", err)
			_ = conn.Close()
			s.emit(Event{Kind: KindError, JobID: s.jobID, Err: err})
			return
		}

		switch frame.Type {
		case "status":
			var status domain.StatusEvent
			if err := json.Unmarshal(frame.Data, &status); err != nil {
				// Malformed payloads are absorbed; the next frame
				// or the poll fallback carries the state forward.
				s.logger.Warn("stream status decode failed", "job_id", s.jobID, "error", err)
				continue
			}
			if status.JobID == "" {
				status.JobID = s.jobID
			}
			s.emit(Event{Kind: KindStatus, JobID: s.jobID, Status: status})
		case "result":
			s.emit(Event{Kind: KindResult, JobID: s.jobID})
		case "close":
			_ = conn.Close()
			s.emit(Event{Kind: KindClosed, JobID: s.jobID, Reason: "server close"})
			return
		default:
			s.logger.Debug("stream frame ignored", "job_id", s.jobID, "type", frame.Type)
		}
	}
}

// emit delivers one event without blocking a stopped consumer forever.
func (s *StreamChannel) emit(event Event) {
	select {
	case s.events <- event:
	default:
		s.logger.Warn("stream event dropped, consumer stalled",
			"job_id", s.jobID, "kind", event.Kind)
	}
}

// isStopped reports whether Stop was called.
func (s *StreamChannel) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
