// Package readiness polls the knowledge-base indexing state for a job
// until it reaches a terminal uploaded or failed state. The poller is
// deliberately decoupled from job tracking: indexing can lag report
// generation, so it may still be running after the job completes.
package readiness

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"research-dashboard/internal/domain"
)

// DefaultInterval is the readiness polling cadence.
const DefaultInterval = 5 * time.Second

// DefaultTimeout bounds background polling for abandoned jobs.
const DefaultTimeout = 5 * time.Minute

// ErrEmptyJobID is returned when watching is attempted without a job id.
var ErrEmptyJobID = errors.New("job id is required")

// InfoFetcher issues one readiness request; the api client satisfies it.
type InfoFetcher interface {
	ReadinessInfo(ctx context.Context, jobID string) (domain.ReadinessInfo, error)
}

// Config wires a poller's collaborators.
type Config struct {
	Fetcher  InfoFetcher
	Interval time.Duration
	Timeout  time.Duration
	Logger   *slog.Logger
	// OnTerminal fires once when polling reaches uploaded or failed.
	OnTerminal func(domain.ReadinessInfo)
}

// Poller tracks readiness for exactly one job at a time.
type Poller struct {
	fetcher    InfoFetcher
	interval   time.Duration
	timeout    time.Duration
	logger     *slog.Logger
	onTerminal func(domain.ReadinessInfo)

	mu         sync.Mutex
	generation int
	info       domain.ReadinessInfo
	cancel     context.CancelFunc
}

// NewPoller builds an idle readiness poller.
func NewPoller(cfg Config) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Poller{
		fetcher:    cfg.Fetcher,
		interval:   interval,
		timeout:    timeout,
		logger:     logger,
		onTerminal: cfg.OnTerminal,
		info:       domain.ReadinessInfo{State: domain.ReadinessChecking},
	}
}

// Watch starts polling readiness for a job, replacing any prior watch.
func (p *Poller) Watch(jobID string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return ErrEmptyJobID
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)

	p.mu.Lock()
	p.teardownLocked()
	p.generation++
	gen := p.generation
	p.info = domain.ReadinessInfo{JobID: jobID, State: domain.ReadinessChecking}
	p.cancel = cancel
	p.mu.Unlock()

	p.logger.Info("readiness watch started", "job_id", jobID)
	go p.run(ctx, gen, jobID)
	return nil
}

// Stop ends any active watch and resets to checking.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.teardownLocked()
	p.generation++
	p.info = domain.ReadinessInfo{State: domain.ReadinessChecking}
	p.mu.Unlock()
}

// Info returns a snapshot of the latest readiness payload.
func (p *Poller) Info() domain.ReadinessInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

// State returns the current readiness state.
func (p *Poller) State() domain.ReadinessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info.State
}

// run checks immediately, then on every tick, until a terminal state,
// Stop, or the safety-net ceiling.
func (p *Poller) run(ctx context.Context, gen int, jobID string) {
	if p.check(ctx, gen, jobID) {
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				p.logger.Warn("readiness polling abandoned", "job_id", jobID, "timeout", p.timeout)
			}
			return
		case <-ticker.C:
		}
		if p.check(ctx, gen, jobID) {
			return
		}
	}
}

// check performs one readiness request and reports whether to stop.
func (p *Poller) check(ctx context.Context, gen int, jobID string) bool {
	info, err := p.fetcher.ReadinessInfo(ctx, jobID)
	if err != nil {
		// Transient failures recover on the next tick.
		p.logger.Debug("readiness poll failed", "job_id", jobID, "error", err)
		return false
	}
	if info.State == "" {
		info.State = domain.ReadinessChecking
	}

	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		return true
	}
	p.info = info
	terminal := info.State.Terminal()
	var cancel context.CancelFunc
	if terminal {
		cancel = p.cancel
		p.cancel = nil
	}
	p.mu.Unlock()

	if terminal {
		if cancel != nil {
			cancel()
		}
		p.logger.Info("readiness terminal", "job_id", jobID, "state", info.State)
		if p.onTerminal != nil {
			p.onTerminal(info)
		}
	}
	return terminal
}

// teardownLocked cancels the active polling loop.
func (p *Poller) teardownLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}
