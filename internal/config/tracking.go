package config

import (
	"log/slog"
	"os"
	"strconv"
)

// TrackingConfig represents track boundary tracking configuration
type TrackingConfig struct {
	Enabled      bool   `json:"enabled"`       // Whether boundary tracking is enabled
	DatabasePath string `json:"database_path"` // Custom database path (empty = XDG cache path)
}

// GetDefaultTrackingConfig returns the default tracking configuration
func GetDefaultTrackingConfig() *TrackingConfig {
	return &TrackingConfig{
		Enabled:      true, // Default enabled to record format changes
		DatabasePath: "",   // Empty = XDG cache path
	}
}

// ApplyTrackingEnvironmentOverrides applies environment variable overrides to tracking config
func ApplyTrackingEnvironmentOverrides(config *TrackingConfig) *TrackingConfig {
	slog.Debug("applying tracking environment variable overrides")

	// Create a copy to modify
	result := *config

	// WAVEPIPE_TRACKING
	if trackingStr := os.Getenv("WAVEPIPE_TRACKING"); trackingStr != "" {
		if enabled, err := strconv.ParseBool(trackingStr); err == nil {
			result.Enabled = enabled
			slog.Debug("applied tracking override from environment", "value", enabled)
		} else {
			slog.Warn("invalid WAVEPIPE_TRACKING environment variable", "value", trackingStr, "error", err)
		}
	}

	// WAVEPIPE_TRACKING_DB
	if dbPath := os.Getenv("WAVEPIPE_TRACKING_DB"); dbPath != "" {
		result.DatabasePath = dbPath
		slog.Debug("applied tracking database path override from environment", "value", dbPath)
	}

	slog.Debug("tracking environment overrides applied")
	return &result
}
