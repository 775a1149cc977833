// Package chat gates assistant questions behind knowledge-base
// readiness and keeps a per-job conversation history.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"research-dashboard/internal/api"
	"research-dashboard/internal/domain"
)

// ErrNotReady is returned when the knowledge base is not queryable yet.
var ErrNotReady = errors.New("knowledge base is not ready for questions")

// ErrEmptyQuestion is returned for blank input.
var ErrEmptyQuestion = errors.New("question is required")

// ReadinessSource reports the current indexing state for the active job.
type ReadinessSource interface {
	Info() domain.ReadinessInfo
}

// AnswerFetcher issues one assistant query; the api client satisfies it.
type AnswerFetcher interface {
	QueryAssistant(ctx context.Context, collection, question string) (json.RawMessage, error)
}

// Config wires a gate's collaborators.
type Config struct {
	Readiness ReadinessSource
	Fetcher   AnswerFetcher
	Logger    *slog.Logger
}

// Gate dispatches questions to the assistant once readiness allows it
// and records the exchange per job. Backend failures become an
// apologetic assistant reply rather than an error, so a conversation
// always shows what happened.
type Gate struct {
	readiness ReadinessSource
	fetcher   AnswerFetcher
	logger    *slog.Logger
	newID     func() string
	now       func() time.Time

	mu       sync.Mutex
	messages map[string][]domain.ChatMessage
}

// NewGate builds a dispatch gate.
func NewGate(cfg Config) *Gate {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		readiness: cfg.Readiness,
		fetcher:   cfg.Fetcher,
		logger:    logger,
		newID:     uuid.NewString,
		now:       time.Now,
		messages:  make(map[string][]domain.ChatMessage),
	}
}

// NewGateForTests builds a gate with deterministic ids and timestamps.
func NewGateForTests(cfg Config, newID func() string, now func() time.Time) *Gate {
	gate := NewGate(cfg)
	if newID != nil {
		gate.newID = newID
	}
	if now != nil {
		gate.now = now
	}
	return gate
}

// Send asks the assistant a question about a job's documents and
// returns the assistant reply. The readiness check is synchronous: no
// request leaves the process unless indexing has finished.
func (g *Gate) Send(ctx context.Context, jobID, question string) (domain.ChatMessage, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return domain.ChatMessage{}, ErrEmptyQuestion
	}

	info := g.readiness.Info()
	if info.State != domain.ReadinessUploaded || info.JobID != jobID {
		return domain.ChatMessage{}, ErrNotReady
	}

	g.append(jobID, domain.ChatMessage{
		ID:        g.newID(),
		Role:      domain.ChatRoleUser,
		Content:   question,
		Timestamp: g.now(),
	})

	collection := info.CollectionName
	if collection == "" {
		collection = jobID
	}

	reply := domain.ChatMessage{
		ID:        g.newID(),
		Role:      domain.ChatRoleAssistant,
		Timestamp: g.now(),
	}

	raw, err := g.fetcher.QueryAssistant(ctx, collection, question)
	if err != nil {
		g.logger.Warn("assistant query failed", "job_id", jobID, "error", err)
		reply.Content = "Sorry, I encountered an error: " + api.Detail(err)
	} else {
		reply.Content, reply.Citations = NormalizeAnswer(raw)
	}

	g.append(jobID, reply)
	return reply, nil
}

// History returns a copy of the conversation for a job.
func (g *Gate) History(jobID string) []domain.ChatMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	history := g.messages[jobID]
	out := make([]domain.ChatMessage, len(history))
	copy(out, history)
	return out
}

// Clear drops every conversation. Used when the session resets.
func (g *Gate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages = make(map[string][]domain.ChatMessage)
}

func (g *Gate) append(jobID string, msg domain.ChatMessage) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages[jobID] = append(g.messages[jobID], msg)
}
