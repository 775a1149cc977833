package config

import (
	"os"
	"path/filepath"
	"testing"

	"research-dashboard/internal/domain"
)

// TestDefaultSettings verifies baseline defaults are present.
func TestDefaultSettings(t *testing.T) {
	cfg := DefaultSettings()
	if cfg.BaseURL != "http://localhost:8000" {
		t.Fatalf("base url = %q, want http://localhost:8000", cfg.BaseURL)
	}
	if cfg.StreamURL == "" {
		t.Fatal("expected non-empty stream url")
	}
	if cfg.StatusPollMs != 3000 || cfg.ReadinessPollMs != 5000 {
		t.Fatalf("poll intervals = %d/%d, want 3000/5000", cfg.StatusPollMs, cfg.ReadinessPollMs)
	}
	if cfg.TrackingTimeoutMs != 300000 {
		t.Fatalf("tracking timeout = %d, want 300000", cfg.TrackingTimeoutMs)
	}
}

// TestJSONStoreLoadMissingReturnsDefaults checks first-run behavior.
func TestJSONStoreLoadMissingReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "settings.json")
	store := NewJSONStore(path)

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != DefaultSettings() {
		t.Fatalf("settings = %+v, want defaults", got)
	}
}

// TestJSONStoreSaveAndLoadRoundTrip checks persisted settings fidelity.
func TestJSONStoreSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.json")
	store := NewJSONStore(path)
	want := domain.Settings{
		BaseURL:           "https://research.example.com",
		StreamURL:         "wss://research.example.com",
		StatusPollMs:      1000,
		ReadinessPollMs:   2000,
		TrackingTimeoutMs: 60000,
	}

	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != want {
		t.Fatalf("settings = %+v, want %+v", got, want)
	}
}

// TestJSONStoreLoadBackfillsZeroIntervals checks old settings files
// never disable polling.
func TestJSONStoreLoadBackfillsZeroIntervals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(`{"baseUrl": "http://10.0.0.5:8000"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := NewJSONStore(path).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.BaseURL != "http://10.0.0.5:8000" {
		t.Fatalf("base url = %q", got.BaseURL)
	}
	if got.StatusPollMs != 3000 || got.TrackingTimeoutMs != 300000 {
		t.Fatalf("intervals not backfilled: %+v", got)
	}
}

// TestJSONStoreLoadInvalidJSON checks parse error handling.
func TestJSONStoreLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("{not-json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	store := NewJSONStore(path)
	if _, err := store.Load(); err == nil {
		t.Fatal("expected json parse error")
	}
}
