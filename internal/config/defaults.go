package config

import (
	"research-dashboard/internal/domain"
)

// DefaultSettings returns baseline configuration for a local backend.
func DefaultSettings() domain.Settings {
	return domain.Settings{
		BaseURL:           "http://localhost:8000",
		StreamURL:         "ws://localhost:8000",
		StatusPollMs:      3000,
		ReadinessPollMs:   5000,
		TrackingTimeoutMs: 300000,
	}
}

// Normalize fills missing fields with defaults so partial settings
// files stay usable.
func Normalize(cfg domain.Settings) domain.Settings {
	defaults := DefaultSettings()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.StreamURL == "" {
		cfg.StreamURL = defaults.StreamURL
	}
	if cfg.StatusPollMs <= 0 {
		cfg.StatusPollMs = defaults.StatusPollMs
	}
	if cfg.ReadinessPollMs <= 0 {
		cfg.ReadinessPollMs = defaults.ReadinessPollMs
	}
	if cfg.TrackingTimeoutMs <= 0 {
		cfg.TrackingTimeoutMs = defaults.TrackingTimeoutMs
	}
	return cfg
}
