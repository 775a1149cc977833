package channel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"research-dashboard/internal/domain"
)

// DefaultPollInterval is the job-status polling cadence.
const DefaultPollInterval = 3 * time.Second

// StatusFetcher issues one status request; the api client satisfies it.
type StatusFetcher interface {
	JobStatus(ctx context.Context, jobID string) (domain.StatusEvent, error)
}

// PollOptions tunes an interval poller.
type PollOptions struct {
	// Interval between status requests; DefaultPollInterval when zero.
	Interval time.Duration
	// StopOn ends polling once it returns true for a received status.
	StopOn func(domain.JobStatus) bool
}

// PollChannel requests job status on a fixed interval while armed.
//
// Failed requests are absorbed and retried on the next tick; only a
// StopOn match or an external Stop ends the loop. Stop is synchronous:
// the channel reports stopped without awaiting any in-flight request,
// and a response arriving after Stop is discarded.
type PollChannel struct {
	jobID   string
	fetcher StatusFetcher
	opts    PollOptions
	logger  *slog.Logger

	events   chan Event
	stop     chan struct{}
	stopOnce sync.Once

	mu     sync.Mutex
	armed  bool
	cancel context.CancelFunc
}

// NewPollChannel builds a poller for one job id.
func NewPollChannel(fetcher StatusFetcher, jobID string, opts PollOptions, logger *slog.Logger) *PollChannel {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PollChannel{
		jobID:   jobID,
		fetcher: fetcher,
		opts:    opts,
		logger:  logger,
		events:  make(chan Event, 16),
		stop:    make(chan struct{}),
	}
}

// Events returns the delivery stream.
func (p *PollChannel) Events() <-chan Event {
	return p.events
}

// Start arms the poller. Starting an armed poller is a no-op.
func (p *PollChannel) Start(ctx context.Context) {
	p.mu.Lock()
	if p.armed {
		p.mu.Unlock()
		return
	}
	select {
	case <-p.stop:
		p.mu.Unlock()
		return
	default:
	}
	p.armed = true
	ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	go p.run(ctx)
}

// Stop disarms the poller immediately.
func (p *PollChannel) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		p.mu.Lock()
		armed := p.armed
		if p.cancel != nil {
			p.cancel()
		}
		p.mu.Unlock()
		if !armed {
			close(p.events)
		}
	})
}

// run polls until a StopOn match, Stop, or context cancellation.
func (p *PollChannel) run(ctx context.Context) {
	defer close(p.events)

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		event, err := p.fetcher.JobStatus(ctx, p.jobID)
		if err != nil {
			// Transport failures recover on the next tick.
			p.logger.Debug("status poll failed", "job_id", p.jobID, "error", err)
			continue
		}

		select {
		case <-p.stop:
			// Response landed after Stop; nobody may observe it.
			return
		case p.events <- Event{Kind: KindStatus, JobID: p.jobID, Status: event}:
		}

		if p.opts.StopOn != nil && p.opts.StopOn(event.Status) {
			select {
			case p.events <- Event{Kind: KindClosed, JobID: p.jobID, Reason: "terminal status"}:
			case <-p.stop:
			}
			return
		}
	}
}
