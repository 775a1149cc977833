package diagnostics

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"research-dashboard/internal/domain"
)

// reachTimeout bounds the backend reachability probe.
const reachTimeout = 5 * time.Second

// Checker validates backend connectivity and required filesystem paths.
type Checker struct {
	sessionPath string

	doRequest  func(*http.Request) (*http.Response, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS and network dependencies.
func NewChecker(sessionPath string) *Checker {
	client := &http.Client{Timeout: reachTimeout}
	return &Checker{
		sessionPath: sessionPath,
		doRequest:   client.Do,
		mkdirAll:    os.MkdirAll,
		createTemp:  os.CreateTemp,
		remove:      os.Remove,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(ctx context.Context, settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkBackend(ctx, settings.BaseURL),
		c.checkStreamURL(settings.StreamURL),
		c.checkSessionDir(),
		c.checkIntervals(settings),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkBackend verifies the research backend answers HTTP requests.
func (c *Checker) checkBackend(ctx context.Context, baseURL string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "backend_reachable",
		Name: "Research backend",
	}

	baseURL = strings.TrimSpace(baseURL)
	parsed, err := url.Parse(baseURL)
	if baseURL == "" || err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Backend URL is not a valid http(s) address: %q", baseURL)
		item.Hint = "Set the backend URL in settings, e.g. http://localhost:8000."
		return item
	}

	ctx, cancel := context.WithTimeout(ctx, reachTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL, nil)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot build request for backend URL: %s", baseURL)
		return item
	}

	resp, err := c.doRequest(req)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Backend is unreachable at %s", baseURL)
		item.Hint = "Start the research backend or fix the URL in settings."
		return item
	}
	resp.Body.Close()

	// Any HTTP answer proves the server is up; status codes are the
	// concern of individual endpoints.
	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Backend answered at %s", baseURL)
	return item
}

// checkStreamURL validates the live-update endpoint address shape.
func (c *Checker) checkStreamURL(streamURL string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "stream_url",
		Name: "Live update stream",
	}

	streamURL = strings.TrimSpace(streamURL)
	parsed, err := url.Parse(streamURL)
	if streamURL == "" || err != nil || (parsed.Scheme != "ws" && parsed.Scheme != "wss") || parsed.Host == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Stream URL is not a valid ws(s) address: %q", streamURL)
		item.Hint = "Set the stream URL in settings, e.g. ws://localhost:8000. Status polling still works without it."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Stream endpoint configured: %s", streamURL)
	return item
}

// checkSessionDir validates the credential file location is writable.
func (c *Checker) checkSessionDir() domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "session_dir",
		Name: "Session storage",
	}

	dir := filepath.Dir(c.sessionPath)
	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create session directory: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Session directory is not writable: %s", dir)
		item.Hint = "Sign-in cannot be persisted until this directory is writable."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

// checkIntervals validates polling and timeout settings are sane.
func (c *Checker) checkIntervals(settings domain.Settings) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "intervals",
		Name: "Polling intervals",
	}

	if settings.StatusPollMs <= 0 || settings.ReadinessPollMs <= 0 || settings.TrackingTimeoutMs <= 0 {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "One or more polling intervals are zero or negative."
		item.Hint = "Reset settings to defaults to restore polling."
		return item
	}

	if settings.TrackingTimeoutMs < settings.StatusPollMs {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Tracking timeout is shorter than the status poll interval."
		item.Hint = "Raise the tracking timeout so at least one poll can complete."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Status %dms, readiness %dms, timeout %dms",
		settings.StatusPollMs, settings.ReadinessPollMs, settings.TrackingTimeoutMs)
	return item
}

// NewCheckerForTests creates a checker with injectable dependencies.
func NewCheckerForTests(
	sessionPath string,
	doRequest func(*http.Request) (*http.Response, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		sessionPath: sessionPath,
		doRequest:   doRequest,
		mkdirAll:    mkdirAll,
		createTemp:  createTemp,
		remove:      remove,
	}
}
