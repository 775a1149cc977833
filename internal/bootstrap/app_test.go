package bootstrap

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"research-dashboard/internal/api"
	"research-dashboard/internal/chat"
	"research-dashboard/internal/domain"
	"research-dashboard/internal/session"
)

// fakeStore returns deterministic settings for App tests.
type fakeStore struct {
	settings domain.Settings
	saved    []domain.Settings
}

// Load returns preconfigured settings.
func (s *fakeStore) Load() (domain.Settings, error) {
	return s.settings, nil
}

// Save records persisted settings.
func (s *fakeStore) Save(settings domain.Settings) error {
	s.saved = append(s.saved, settings)
	s.settings = settings
	return nil
}

// fakeBackend serves the research API surface used by App tests.
type fakeBackend struct {
	statusCalls atomic.Int32
	server      *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	backend := &fakeBackend{}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/research", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"job_id": "job-1", "status": "pending"})
	})
	mux.HandleFunc("/api/research/status/job-1", func(w http.ResponseWriter, r *http.Request) {
		call := backend.statusCalls.Add(1)
		payload := map[string]any{"job_id": "job-1", "status": "running", "stage": "planning", "progress": 30}
		if call > 1 {
			payload = map[string]any{"job_id": "job-1", "status": "completed"}
		}
		json.NewEncoder(w).Encode(payload)
	})
	mux.HandleFunc("/api/research/result/job-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"job_id":                "job-1",
			"status":                "completed",
			"final_report_markdown": "# Findings",
		})
	})
	mux.HandleFunc("/api/auth/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("password") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"detail": "Incorrect username or password"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-abc"})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	backend.server = httptest.NewServer(mux)
	t.Cleanup(backend.server.Close)
	return backend
}

func newTestApp(t *testing.T, backend *fakeBackend) (*App, *fakeStore) {
	t.Helper()
	store := &fakeStore{settings: domain.Settings{
		BaseURL: backend.server.URL,
		// Unroutable stream endpoint forces the poll fallback.
		StreamURL:         "ws://127.0.0.1:1",
		StatusPollMs:      10,
		ReadinessPollMs:   10,
		TrackingTimeoutMs: 300000,
	}}
	sessionStore := session.NewJSONStore(filepath.Join(t.TempDir(), "session.json"))

	app, err := NewAppForTests(store, sessionStore, nil)
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	t.Cleanup(func() {
		app.Tracker.Reset()
		app.Readiness.Stop()
		_ = app.monitor.Close()
	})
	return app, store
}

// waitForStatus polls the tracked job until it reaches the wanted status.
func waitForStatus(t *testing.T, app *App, want domain.JobStatus) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if app.CurrentJob().Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job status = %s, want %s", app.CurrentJob().Status, want)
}

// TestStartResearchTracksJobToCompletion checks submit, poll fallback,
// terminal latch, and the result prefetch cache.
func TestStartResearchTracksJobToCompletion(t *testing.T) {
	backend := newFakeBackend(t)
	app, _ := newTestApp(t, backend)

	job, err := app.StartResearch(api.SubmitRequest{Query: "EV battery market"})
	if err != nil {
		t.Fatalf("start research: %v", err)
	}
	if job.ID != "job-1" {
		t.Fatalf("job id = %q, want job-1", job.ID)
	}

	waitForStatus(t, app, domain.JobStatusCompleted)

	for _, stage := range app.Stages() {
		if stage.Status != domain.StageStatusCompleted {
			t.Fatalf("stage %s = %s, want completed", stage.ID, stage.Status)
		}
	}

	// The completion hook prefetches the result; once cached, fetching
	// must not hit the backend again even if it goes away.
	deadline := time.Now().Add(3 * time.Second)
	for {
		app.mu.Lock()
		_, cached := app.results["job-1"]
		app.mu.Unlock()
		if cached {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("result was not prefetched")
		}
		time.Sleep(5 * time.Millisecond)
	}

	backend.server.Close()
	result, err := app.JobResult("job-1")
	if err != nil {
		t.Fatalf("cached result: %v", err)
	}
	if result.ReportMarkdown != "# Findings" {
		t.Fatalf("report = %q", result.ReportMarkdown)
	}
}

// TestJobEventsAreIncremental checks the poll-style feed cursor.
func TestJobEventsAreIncremental(t *testing.T) {
	backend := newFakeBackend(t)
	app, _ := newTestApp(t, backend)

	if _, err := app.StartResearch(api.SubmitRequest{Query: "question"}); err != nil {
		t.Fatalf("start research: %v", err)
	}
	waitForStatus(t, app, domain.JobStatusCompleted)

	events := app.JobEvents(0)
	if len(events) == 0 {
		t.Fatal("expected feed events")
	}
	last := events[len(events)-1].Seq
	if more := app.JobEvents(last); len(more) != 0 {
		t.Fatalf("expected no events past seq %d, got %d", last, len(more))
	}
}

// TestLoginLogoutLifecycle checks session persistence and reset.
func TestLoginLogoutLifecycle(t *testing.T) {
	backend := newFakeBackend(t)
	app, _ := newTestApp(t, backend)

	if app.SignedIn() {
		t.Fatal("expected signed out on first launch")
	}
	if err := app.Login("analyst@example.com", "wrong"); err == nil {
		t.Fatal("expected login failure")
	}
	if err := app.Login("analyst@example.com", "secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if !app.SignedIn() {
		t.Fatal("expected signed in")
	}

	if _, err := app.StartResearch(api.SubmitRequest{Query: "question"}); err != nil {
		t.Fatalf("start research: %v", err)
	}
	waitForStatus(t, app, domain.JobStatusCompleted)

	if err := app.Logout(); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if app.SignedIn() {
		t.Fatal("expected signed out")
	}
	if job := app.CurrentJob(); job.ID != "" || job.Status != domain.JobStatusIdle {
		t.Fatalf("job after logout = %+v, want idle", job)
	}
	if events := app.JobEvents(0); len(events) != 0 {
		t.Fatalf("expected empty feed after logout, got %d events", len(events))
	}
}

// TestSendChatMessageRequiresReadiness checks the dispatch gate.
func TestSendChatMessageRequiresReadiness(t *testing.T) {
	backend := newFakeBackend(t)
	app, _ := newTestApp(t, backend)

	if _, err := app.SendChatMessage("job-1", "Any risks?"); !errors.Is(err, chat.ErrNotReady) {
		t.Fatalf("error = %v, want %v", err, chat.ErrNotReady)
	}
}

// TestSaveSettingsBackfillsDefaults checks normalization on save.
func TestSaveSettingsBackfillsDefaults(t *testing.T) {
	backend := newFakeBackend(t)
	app, store := newTestApp(t, backend)

	saved, err := app.SaveSettings(domain.Settings{BaseURL: backend.server.URL})
	if err != nil {
		t.Fatalf("save settings: %v", err)
	}
	if saved.StatusPollMs != 3000 || saved.TrackingTimeoutMs != 300000 {
		t.Fatalf("intervals not backfilled: %+v", saved)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved %d times, want 1", len(store.saved))
	}
	if !strings.HasPrefix(saved.StreamURL, "ws://") {
		t.Fatalf("stream url = %q", saved.StreamURL)
	}
}
