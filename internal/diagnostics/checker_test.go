package diagnostics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"research-dashboard/internal/domain"
)

func okResponse() *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("")),
	}
}

// TestCheckerRunAllPass validates happy-path diagnostics report.
func TestCheckerRunAllPass(t *testing.T) {
	sessionPath := filepath.Join(t.TempDir(), "session.json")
	checker := NewCheckerForTests(
		sessionPath,
		func(*http.Request) (*http.Response, error) { return okResponse(), nil },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(context.Background(), domain.Settings{
		BaseURL:           "http://localhost:8000",
		StreamURL:         "ws://localhost:8000",
		StatusPollMs:      3000,
		ReadinessPollMs:   5000,
		TrackingTimeoutMs: 300000,
	})

	if report.HasFailures {
		t.Fatalf("expected no failures, got %+v", report.Items)
	}
}

// TestCheckerRunUnreachableBackend validates failure reporting.
func TestCheckerRunUnreachableBackend(t *testing.T) {
	sessionPath := filepath.Join(t.TempDir(), "session.json")
	checker := NewCheckerForTests(
		sessionPath,
		func(*http.Request) (*http.Response, error) { return nil, errors.New("connection refused") },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(context.Background(), domain.Settings{
		BaseURL:           "http://localhost:8000",
		StreamURL:         "ws://localhost:8000",
		StatusPollMs:      3000,
		ReadinessPollMs:   5000,
		TrackingTimeoutMs: 300000,
	})

	if !report.HasFailures {
		t.Fatal("expected failures")
	}
	assertStatusByID(t, report, "backend_reachable", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "stream_url", domain.DiagnosticStatusPass)
}

// TestCheckerRunMalformedURLs validates address shape checks.
func TestCheckerRunMalformedURLs(t *testing.T) {
	sessionPath := filepath.Join(t.TempDir(), "session.json")
	requests := 0
	checker := NewCheckerForTests(
		sessionPath,
		func(*http.Request) (*http.Response, error) { requests++; return okResponse(), nil },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(context.Background(), domain.Settings{
		BaseURL:           "localhost:8000",
		StreamURL:         "http://localhost:8000",
		StatusPollMs:      3000,
		ReadinessPollMs:   5000,
		TrackingTimeoutMs: 300000,
	})

	assertStatusByID(t, report, "backend_reachable", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "stream_url", domain.DiagnosticStatusFail)
	if requests != 0 {
		t.Fatalf("no probe should be sent for a malformed URL, got %d", requests)
	}
}

// TestCheckerRunUnwritableSessionDir validates session storage check.
func TestCheckerRunUnwritableSessionDir(t *testing.T) {
	checker := NewCheckerForTests(
		filepath.Join("/readonly", "session.json"),
		func(*http.Request) (*http.Response, error) { return okResponse(), nil },
		func(string, os.FileMode) error { return errors.New("read-only filesystem") },
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(context.Background(), domain.Settings{
		BaseURL:           "http://localhost:8000",
		StreamURL:         "ws://localhost:8000",
		StatusPollMs:      3000,
		ReadinessPollMs:   5000,
		TrackingTimeoutMs: 300000,
	})

	assertStatusByID(t, report, "session_dir", domain.DiagnosticStatusFail)
}

// TestCheckerRunBadIntervals validates settings sanity checks.
func TestCheckerRunBadIntervals(t *testing.T) {
	sessionPath := filepath.Join(t.TempDir(), "session.json")
	checker := NewCheckerForTests(
		sessionPath,
		func(*http.Request) (*http.Response, error) { return okResponse(), nil },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(context.Background(), domain.Settings{
		BaseURL:           "http://localhost:8000",
		StreamURL:         "ws://localhost:8000",
		StatusPollMs:      60000,
		ReadinessPollMs:   5000,
		TrackingTimeoutMs: 1000,
	})

	assertStatusByID(t, report, "intervals", domain.DiagnosticStatusFail)
}

// assertStatusByID checks status for one diagnostic item by ID.
func assertStatusByID(t *testing.T, report domain.DiagnosticReport, id string, want domain.DiagnosticStatus) {
	t.Helper()
	for _, item := range report.Items {
		if item.ID == id {
			if item.Status != want {
				t.Fatalf("item %s: got %s, want %s", id, item.Status, want)
			}
			return
		}
	}
	t.Fatalf("diagnostic item not found: %s", id)
}
