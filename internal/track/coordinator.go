package track

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"research-dashboard/internal/channel"
	"research-dashboard/internal/domain"
	"research-dashboard/internal/stages"
)

// DefaultTrackingTimeout bounds background tracking for abandoned jobs.
const DefaultTrackingTimeout = 5 * time.Minute

// initialLogLine opens every job's activity feed.
const initialLogLine = "[System] AI research agent initialized."

// ErrEmptyJobID is returned when adoption is attempted without a job id.
var ErrEmptyJobID = errors.New("job id is required")

// State is the coordinator's channel-attachment state.
type State string

const (
	StateIdle      State = "idle"
	StateStreaming State = "streaming"
	StatePolling   State = "polling"
	StateTerminal  State = "terminal"
)

// StreamHandle is the push channel surface the coordinator drives.
type StreamHandle interface {
	Open(ctx context.Context)
	Stop()
	Events() <-chan channel.Event
}

// PollHandle is the poll channel surface the coordinator drives.
type PollHandle interface {
	Start(ctx context.Context)
	Stop()
	Events() <-chan channel.Event
}

// stopper is the teardown surface shared by both channel kinds.
type stopper interface {
	Stop()
}

// Hooks receive terminal notifications. Each fires at most once per
// adopted job regardless of how many completion signals arrive.
type Hooks struct {
	OnCompleted func(jobID string)
	OnFailed    func(jobID, message string)
}

// Config wires a coordinator's collaborators.
type Config struct {
	NewStream func(jobID string) StreamHandle
	NewPoll   func(jobID string) PollHandle
	Feed      *Feed
	Timeout   time.Duration
	Logger    *slog.Logger
	Hooks     Hooks
}

// Coordinator tracks exactly one research job at a time.
//
// It owns the job status, stage list, and activity log for the adopted
// job id; merges events from the stream and poll channels; falls back
// to polling when the stream dies before a terminal status; and latches
// completion so redundant signals collapse into one observable
// transition. Adopting a new job id atomically discards the previous
// job's state, and a generation counter keeps late events from a
// torn-down channel away from the new job.
type Coordinator struct {
	newStream func(jobID string) StreamHandle
	newPoll   func(jobID string) PollHandle
	feed      *Feed
	logger    *slog.Logger
	timeout   time.Duration
	hooks     Hooks

	mu         sync.Mutex
	generation int
	jobID      string
	state      State
	status     domain.JobStatus
	stageList  []domain.Stage
	logs       []string
	completed  bool
	active     stopper
	cancel     context.CancelFunc
}

// NewCoordinator builds an idle coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTrackingTimeout
	}
	feed := cfg.Feed
	if feed == nil {
		feed = NewFeed(0)
	}

	return &Coordinator{
		newStream: cfg.NewStream,
		newPoll:   cfg.NewPoll,
		feed:      feed,
		logger:    logger,
		timeout:   timeout,
		hooks:     cfg.Hooks,
		state:     StateIdle,
		status:    domain.JobStatusIdle,
		stageList: stages.Defaults(),
	}
}

// Adopt starts tracking a job, discarding any previously tracked one.
func (c *Coordinator) Adopt(jobID string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return ErrEmptyJobID
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)

	c.mu.Lock()
	c.teardownLocked()
	c.generation++
	gen := c.generation
	c.jobID = jobID
	c.state = StateStreaming
	c.status = domain.JobStatusPending
	c.stageList = stages.Defaults()
	c.logs = []string{initialLogLine}
	c.completed = false
	c.cancel = cancel
	stream := c.newStream(jobID)
	c.active = stream
	c.mu.Unlock()

	c.feed.Publish(FeedEvent{
		JobID:   jobID,
		Type:    FeedTypeStatus,
		Status:  domain.JobStatusPending,
		Message: "Tracking started",
	})
	c.logger.Info("job adopted", "job_id", jobID, "generation", gen)

	stream.Open(ctx)
	go c.watchdog(ctx, gen)
	go c.consume(ctx, gen, jobID, stream)
	return nil
}

// Reset tears down tracking and returns the coordinator to idle.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.teardownLocked()
	c.generation++
	c.jobID = ""
	c.state = StateIdle
	c.status = domain.JobStatusIdle
	c.stageList = stages.Defaults()
	c.logs = nil
	c.completed = false
	c.mu.Unlock()
	c.feed.Reset()
}

// Job returns the tracked job identity and lifecycle status.
func (c *Coordinator) Job() domain.Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.Job{ID: c.jobID, Status: c.status}
}

// State returns the current channel-attachment state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stages returns a snapshot of the stage list.
func (c *Coordinator) Stages() []domain.Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Stage, len(c.stageList))
	copy(out, c.stageList)
	return out
}

// Logs returns a snapshot of the append-only activity log.
func (c *Coordinator) Logs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.logs))
	copy(out, c.logs)
	return out
}

// Feed returns the sequenced event feed for UI subscribers.
func (c *Coordinator) Feed() *Feed {
	return c.feed
}

// consume drains the stream and, when it dies before a terminal
// status, transparently switches to the poll fallback.
func (c *Coordinator) consume(ctx context.Context, gen int, jobID string, stream StreamHandle) {
	for event := range stream.Events() {
		c.handleEvent(gen, event)
	}
	if !c.liveGeneration(gen) || ctx.Err() != nil {
		return
	}

	poll := c.newPoll(jobID)
	if !c.swapToPoll(gen, poll) {
		poll.Stop()
		return
	}
	c.appendLog(gen, "Live stream lost. Falling back to status polling.")
	c.logger.Info("stream lost, polling", "job_id", jobID)

	poll.Start(ctx)
	for event := range poll.Events() {
		c.handleEvent(gen, event)
	}
	if c.liveGeneration(gen) && ctx.Err() == nil {
		c.logger.Warn("polling ended without terminal status", "job_id", jobID)
	}
}

// handleEvent routes one channel event into state updates.
func (c *Coordinator) handleEvent(gen int, event channel.Event) {
	switch event.Kind {
	case channel.KindOpened:
		c.logger.Debug("stream connected", "job_id", event.JobID)
	case channel.KindStatus:
		c.applyStatus(gen, event.Status)
	case channel.KindResult:
		c.complete(gen)
	case channel.KindError, channel.KindClosed:
		// Channel lifecycle is handled when its event stream drains.
	}
}

// applyStatus folds one status payload into job and stage state.
func (c *Coordinator) applyStatus(gen int, event domain.StatusEvent) {
	switch event.Status {
	case domain.JobStatusCompleted:
		c.complete(gen)
		return
	case domain.JobStatusFailed:
		c.fail(gen, event.Message)
		return
	}

	c.mu.Lock()
	if gen != c.generation || c.status.Terminal() {
		c.mu.Unlock()
		return
	}

	var published []FeedEvent
	if event.Status == domain.JobStatusRunning {
		prevActive := stages.ActiveID(c.stageList)
		c.stageList = stages.Apply(c.stageList, event)
		c.status = domain.JobStatusRunning

		if active := stages.ActiveID(c.stageList); active != "" && active != prevActive {
			line := "Entering stage: " + strings.ToUpper(active)
			c.logs = append(c.logs, line)
			published = append(published, FeedEvent{
				JobID: c.jobID, Type: FeedTypeLog, Message: line,
			})
		}
	}
	if event.Message != "" {
		c.logs = append(c.logs, event.Message)
		published = append(published, FeedEvent{
			JobID: c.jobID, Type: FeedTypeLog, Message: event.Message,
		})
	}

	progress := 0
	if event.Progress != nil {
		progress = *event.Progress
	}
	published = append(published, FeedEvent{
		JobID:    c.jobID,
		Type:     FeedTypeStatus,
		Status:   c.status,
		Stage:    stages.ActiveID(c.stageList),
		Progress: progress,
	})
	c.mu.Unlock()

	for _, event := range published {
		c.feed.Publish(event)
	}
}

// complete latches the single observable completed transition.
func (c *Coordinator) complete(gen int) {
	c.mu.Lock()
	if gen != c.generation || c.completed || c.status.Terminal() {
		c.mu.Unlock()
		return
	}
	c.completed = true
	c.status = domain.JobStatusCompleted
	c.stageList = stages.CompleteAll(c.stageList)
	c.state = StateTerminal
	c.logs = append(c.logs, "Research complete.")
	jobID := c.jobID
	active := c.active
	c.active = nil
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if active != nil {
		active.Stop()
	}
	if cancel != nil {
		cancel()
	}

	c.feed.Publish(FeedEvent{
		JobID:   jobID,
		Type:    FeedTypeResult,
		Status:  domain.JobStatusCompleted,
		Message: "Research complete.",
	})
	c.logger.Info("job completed", "job_id", jobID)
	if c.hooks.OnCompleted != nil {
		c.hooks.OnCompleted(jobID)
	}
}

// fail records the terminal failure and stops all channels.
func (c *Coordinator) fail(gen int, message string) {
	c.mu.Lock()
	if gen != c.generation || c.status.Terminal() {
		c.mu.Unlock()
		return
	}
	c.status = domain.JobStatusFailed
	c.state = StateTerminal
	for i := range c.stageList {
		if c.stageList[i].Status == domain.StageStatusActive {
			c.stageList[i].Status = domain.StageStatusError
		}
	}
	if message == "" {
		message = "The research job failed."
	}
	c.logs = append(c.logs, message)
	jobID := c.jobID
	active := c.active
	c.active = nil
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if active != nil {
		active.Stop()
	}
	if cancel != nil {
		cancel()
	}

	c.feed.Publish(FeedEvent{
		JobID:   jobID,
		Type:    FeedTypeError,
		Status:  domain.JobStatusFailed,
		Message: message,
	})
	c.logger.Warn("job failed", "job_id", jobID, "message", message)
	if c.hooks.OnFailed != nil {
		c.hooks.OnFailed(jobID, message)
	}
}

// watchdog abandons tracking when the safety-net ceiling elapses.
func (c *Coordinator) watchdog(ctx context.Context, gen int) {
	<-ctx.Done()
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return
	}

	c.mu.Lock()
	if gen != c.generation || c.status.Terminal() {
		c.mu.Unlock()
		return
	}
	c.state = StateIdle
	jobID := c.jobID
	active := c.active
	c.active = nil
	c.mu.Unlock()

	if active != nil {
		active.Stop()
	}
	c.feed.Publish(FeedEvent{
		JobID:   jobID,
		Type:    FeedTypeError,
		Message: "Tracking stopped: no terminal status before the safety timeout.",
	})
	c.logger.Warn("tracking abandoned", "job_id", jobID, "timeout", c.timeout)
}

// swapToPoll installs the poll fallback when the generation still holds.
func (c *Coordinator) swapToPoll(gen int, poll PollHandle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.status.Terminal() || c.state == StateIdle {
		return false
	}
	c.active = poll
	c.state = StatePolling
	return true
}

// appendLog appends one activity line when the generation still holds.
func (c *Coordinator) appendLog(gen int, line string) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.logs = append(c.logs, line)
	jobID := c.jobID
	c.mu.Unlock()

	c.feed.Publish(FeedEvent{JobID: jobID, Type: FeedTypeLog, Message: line})
}

// liveGeneration reports whether gen is current and not yet terminal.
func (c *Coordinator) liveGeneration(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.generation && !c.status.Terminal() && c.state != StateIdle
}

// teardownLocked stops the active channel and cancels the run context.
func (c *Coordinator) teardownLocked() {
	if c.active != nil {
		c.active.Stop()
		c.active = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}
