package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"research-dashboard/internal/api"
	"research-dashboard/internal/channel"
	"research-dashboard/internal/chat"
	"research-dashboard/internal/config"
	"research-dashboard/internal/diagnostics"
	"research-dashboard/internal/domain"
	"research-dashboard/internal/readiness"
	"research-dashboard/internal/session"
	"research-dashboard/internal/track"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// requestTimeout bounds one-shot backend calls made outside tracking.
const requestTimeout = 30 * time.Second

// App wires configuration, session, tracking, and UI runtime callbacks.
type App struct {
	Store       config.Store
	Session     *session.JSONStore
	Tracker     *track.Coordinator
	Readiness   *readiness.Poller
	Chat        *chat.Gate
	Diagnostics domain.DiagnosticReport

	assets  fs.FS
	checker *diagnostics.Checker
	monitor *session.Monitor
	logger  *slog.Logger

	mu          sync.Mutex
	settings    domain.Settings
	apiClient   *api.Client
	runtimeCtx  context.Context
	results     map[string]domain.JobResult
	indexedJobs map[string]bool
}

// backendRef routes requests through the app's current client so that
// settings changes apply without rebuilding collaborators.
type backendRef struct {
	app *App
}

func (b backendRef) JobStatus(ctx context.Context, jobID string) (domain.StatusEvent, error) {
	return b.app.client().JobStatus(ctx, jobID)
}

func (b backendRef) ReadinessInfo(ctx context.Context, jobID string) (domain.ReadinessInfo, error) {
	return b.app.client().ReadinessInfo(ctx, jobID)
}

func (b backendRef) QueryAssistant(ctx context.Context, collection, question string) (json.RawMessage, error) {
	return b.app.client().QueryAssistant(ctx, collection, question)
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}

	dataDir := filepath.Join(homeDir, ".research-dashboard")
	store := config.NewJSONStore(filepath.Join(dataDir, "settings.json"))
	sessionStore := session.NewJSONStore(filepath.Join(dataDir, "session.json"))

	app, err := newApp(store, sessionStore, slog.Default())
	if err != nil {
		return nil, err
	}
	app.assets = assets
	return app, nil
}

// NewAppForTests builds the application against injectable stores.
func NewAppForTests(store config.Store, sessionStore *session.JSONStore, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return newApp(store, sessionStore, logger)
}

func newApp(store config.Store, sessionStore *session.JSONStore, logger *slog.Logger) (*App, error) {
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	app := &App{
		Store:       store,
		Session:     sessionStore,
		logger:      logger,
		settings:    settings,
		results:     make(map[string]domain.JobResult),
		indexedJobs: make(map[string]bool),
	}
	app.apiClient = api.NewClient(settings.BaseURL, app.sessionToken)

	feed := track.NewFeed(0)
	feed.SetNotifier(app.pushFeedEvent)
	app.Tracker = track.NewCoordinator(track.Config{
		NewStream: app.newStream,
		NewPoll:   app.newPoll,
		Feed:      feed,
		Timeout:   time.Duration(settings.TrackingTimeoutMs) * time.Millisecond,
		Logger:    logger,
		Hooks: track.Hooks{
			OnCompleted: app.onJobCompleted,
			OnFailed:    app.onJobFailed,
		},
	})

	app.Readiness = readiness.NewPoller(readiness.Config{
		Fetcher:    backendRef{app},
		Interval:   time.Duration(settings.ReadinessPollMs) * time.Millisecond,
		Timeout:    time.Duration(settings.TrackingTimeoutMs) * time.Millisecond,
		Logger:     logger,
		OnTerminal: app.onReadinessTerminal,
	})

	app.Chat = chat.NewGate(chat.Config{
		Readiness: app.Readiness,
		Fetcher:   backendRef{app},
		Logger:    logger,
	})

	app.checker = diagnostics.NewChecker(sessionStore.Path())
	app.Diagnostics = app.checker.Run(context.Background(), settings)

	app.monitor = session.NewMonitor(session.MonitorConfig{
		Store:         sessionStore,
		Logger:        logger,
		OnInvalidated: app.onSessionInvalidated,
	})
	if err := app.monitor.Start(); err != nil {
		// The app still works single-instance without the watch.
		logger.Warn("session monitor unavailable", "error", err)
	}

	return app, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Research Dashboard",
		Width:       1280,
		Height:      820,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown: func(ctx context.Context) {
			a.mu.Lock()
			a.runtimeCtx = nil
			a.mu.Unlock()
			_ = a.monitor.Close()
		},
		Bind: []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// RefreshDiagnostics reloads settings and reruns startup checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}

	report := a.checker.Run(context.Background(), settings)
	a.mu.Lock()
	a.settings = settings
	a.Diagnostics = report
	a.mu.Unlock()
	return report, nil
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.settings = settings
	a.mu.Unlock()
	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes
// diagnostics. New backend URLs apply to all subsequent requests; an
// already-adopted job keeps its original channels.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := config.Normalize(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	report := a.checker.Run(context.Background(), normalized)
	a.mu.Lock()
	a.settings = normalized
	a.apiClient = api.NewClient(normalized.BaseURL, a.sessionToken)
	a.Diagnostics = report
	a.mu.Unlock()
	return normalized, nil
}

// StartResearch submits a research job and begins tracking it. Any
// previously tracked job is discarded.
func (a *App) StartResearch(req api.SubmitRequest) (domain.Job, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	resp, err := a.client().SubmitResearch(ctx, req)
	if err != nil {
		a.logger.Warn("research submit failed", "error", err)
		return domain.Job{}, err
	}

	a.Readiness.Stop()
	a.mu.Lock()
	a.indexedJobs[resp.JobID] = req.UploadToRAG
	a.mu.Unlock()

	if err := a.Tracker.Adopt(resp.JobID); err != nil {
		return domain.Job{}, err
	}
	return a.Tracker.Job(), nil
}

// CancelTracking stops following the current job without touching the
// job itself; the backend keeps running it.
func (a *App) CancelTracking() {
	a.Tracker.Reset()
	a.Readiness.Stop()
}

// CurrentJob returns the tracked job identity and lifecycle status.
func (a *App) CurrentJob() domain.Job {
	return a.Tracker.Job()
}

// TrackingState reports which update channel is currently attached.
func (a *App) TrackingState() string {
	return string(a.Tracker.State())
}

// JobEvents returns all feed events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []track.FeedEvent {
	return a.Tracker.Feed().Since(sinceSeq)
}

// Stages returns the tracked job's stage list.
func (a *App) Stages() []domain.Stage {
	return a.Tracker.Stages()
}

// Logs returns the tracked job's activity log.
func (a *App) Logs() []string {
	return a.Tracker.Logs()
}

// ReadinessStatus returns the latest knowledge-base readiness payload.
func (a *App) ReadinessStatus() domain.ReadinessInfo {
	return a.Readiness.Info()
}

// SendChatMessage asks the assistant a question about a job's documents.
func (a *App) SendChatMessage(jobID, question string) (domain.ChatMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return a.Chat.Send(ctx, jobID, question)
}

// ChatHistory returns the assistant conversation for a job.
func (a *App) ChatHistory(jobID string) []domain.ChatMessage {
	return a.Chat.History(jobID)
}

// JobResult returns the research deliverable, from cache when the
// completion prefetch already landed it.
func (a *App) JobResult(jobID string) (domain.JobResult, error) {
	a.mu.Lock()
	cached, ok := a.results[jobID]
	a.mu.Unlock()
	if ok {
		return cached, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	result, err := a.client().JobResult(ctx, jobID)
	if err != nil {
		return domain.JobResult{}, err
	}

	a.mu.Lock()
	a.results[jobID] = result
	a.mu.Unlock()
	return result, nil
}

// JobHistory lists past research jobs for the signed-in account.
func (a *App) JobHistory() ([]domain.JobSummary, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return a.client().JobHistory(ctx)
}

// Login exchanges credentials for a session token and persists it.
func (a *App) Login(email, password string) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	token, err := a.client().Login(ctx, email, password)
	if err != nil {
		return err
	}
	if err := a.Session.Save(session.Credentials{Token: token, Email: email}); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	a.logger.Info("signed in", "email", email)
	return nil
}

// Logout clears the persisted session and all job-scoped state. Other
// running instances observe the cleared credential file and reset too.
func (a *App) Logout() error {
	a.monitor.MarkSignedOut()
	if err := a.Session.Clear(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}

	a.resetJobState()
	a.logger.Info("signed out")
	return nil
}

// SignedIn reports whether a persisted session token exists.
func (a *App) SignedIn() bool {
	creds, err := a.Session.Load()
	return err == nil && creds.Authenticated()
}

// newStream builds the push channel for one job id.
func (a *App) newStream(jobID string) track.StreamHandle {
	a.mu.Lock()
	streamURL := a.settings.StreamURL
	a.mu.Unlock()
	return channel.NewStreamChannel(streamURL, jobID, a.logger)
}

// newPoll builds the poll fallback for one job id.
func (a *App) newPoll(jobID string) track.PollHandle {
	a.mu.Lock()
	interval := time.Duration(a.settings.StatusPollMs) * time.Millisecond
	a.mu.Unlock()
	return channel.NewPollChannel(backendRef{a}, jobID, channel.PollOptions{
		Interval: interval,
		StopOn:   domain.JobStatus.Terminal,
	}, a.logger)
}

// onJobCompleted prefetches the deliverable and starts readiness
// polling for jobs that requested document indexing.
func (a *App) onJobCompleted(jobID string) {
	a.mu.Lock()
	indexed := a.indexedJobs[jobID]
	a.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		result, err := a.client().JobResult(ctx, jobID)
		if err != nil {
			// The UI can still fetch on demand later.
			a.logger.Warn("result prefetch failed", "job_id", jobID, "error", err)
		} else {
			a.mu.Lock()
			a.results[jobID] = result
			a.mu.Unlock()
		}

		if indexed {
			if err := a.Readiness.Watch(jobID); err != nil {
				a.logger.Warn("readiness watch failed", "job_id", jobID, "error", err)
			}
		}
	}()
}

// onJobFailed surfaces the terminal failure as a notice.
func (a *App) onJobFailed(jobID, message string) {
	a.emitNotice(domain.Notice{Level: domain.NoticeLevelError, Message: message})
}

// onReadinessTerminal pushes the final readiness payload to the UI.
func (a *App) onReadinessTerminal(info domain.ReadinessInfo) {
	a.emit("readiness:update", info)
}

// onSessionInvalidated resets job state after an external sign-out.
func (a *App) onSessionInvalidated() {
	a.resetJobState()
	a.emitNotice(domain.Notice{
		Level:   domain.NoticeLevelInfo,
		Message: "Your session ended in another window. Please sign in again.",
	})
}

// resetJobState discards everything scoped to the signed-in session.
func (a *App) resetJobState() {
	a.Tracker.Reset()
	a.Readiness.Stop()
	a.Chat.Clear()

	a.mu.Lock()
	a.results = make(map[string]domain.JobResult)
	a.indexedJobs = make(map[string]bool)
	a.mu.Unlock()

	a.emit("session:reset", nil)
}

// sessionToken supplies the bearer token for backend requests.
func (a *App) sessionToken() string {
	creds, err := a.Session.Load()
	if err != nil {
		return ""
	}
	return creds.Token
}

// client returns the backend client for the current settings.
func (a *App) client() *api.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.apiClient
}

// pushFeedEvent forwards one feed event to the UI shell.
func (a *App) pushFeedEvent(event track.FeedEvent) {
	a.emit("job:event", event)
}

// emitNotice pushes a transient user-visible message.
func (a *App) emitNotice(notice domain.Notice) {
	a.emit("notice", notice)
}

// emit sends a runtime push event when the UI shell is attached.
func (a *App) emit(name string, payload any) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, name, payload)
	}
}
