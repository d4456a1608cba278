package config

import (
	"os"
	"testing"
)

func TestTrackingConfig_DefaultValues(t *testing.T) {
	config := GetDefaultTrackingConfig()

	if !config.Enabled {
		t.Errorf("Expected default tracking to be enabled, got %v", config.Enabled)
	}

	if config.DatabasePath != "" {
		t.Errorf("Expected empty database path (XDG default), got %s", config.DatabasePath)
	}
}

func TestTrackingConfig_EnvironmentOverrides(t *testing.T) {
	os.Setenv("WAVEPIPE_TRACKING", "false")
	os.Setenv("WAVEPIPE_TRACKING_DB", "/custom/tracking.db")
	defer func() {
		os.Unsetenv("WAVEPIPE_TRACKING")
		os.Unsetenv("WAVEPIPE_TRACKING_DB")
	}()

	base := GetDefaultTrackingConfig()
	result := ApplyTrackingEnvironmentOverrides(base)

	if result.Enabled {
		t.Error("Expected tracking disabled from environment")
	}
	if result.DatabasePath != "/custom/tracking.db" {
		t.Errorf("Expected custom database path from environment, got %s", result.DatabasePath)
	}

	// The base config must not be modified
	if !base.Enabled {
		t.Error("Base config was modified")
	}
}

func TestTrackingConfig_InvalidEnvironmentValue(t *testing.T) {
	os.Setenv("WAVEPIPE_TRACKING", "not-a-bool")
	defer os.Unsetenv("WAVEPIPE_TRACKING")

	result := ApplyTrackingEnvironmentOverrides(GetDefaultTrackingConfig())

	if !result.Enabled {
		t.Error("Expected default to survive an invalid environment value")
	}
}

func TestTrackingConfigThroughManager(t *testing.T) {
	os.Setenv("WAVEPIPE_TRACKING", "false")
	defer os.Unsetenv("WAVEPIPE_TRACKING")

	mgr := NewConfigManager()
	config := mgr.ApplyEnvironmentOverrides(mgr.GetDefaultConfig())

	if config.Tracking == nil {
		t.Fatal("Expected tracking block in config")
	}
	if config.Tracking.Enabled {
		t.Error("Expected manager to apply tracking environment overrides")
	}
}
