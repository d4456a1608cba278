package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

// MockXDGDirs is a mock implementation for testing
type MockXDGDirs struct {
	configPaths []string
	cachePath   string
}

func (m *MockXDGDirs) GetConfigPaths(filename string) []string {
	return m.configPaths
}

func (m *MockXDGDirs) GetCachePath(purpose string) string {
	return m.cachePath
}

func (m *MockXDGDirs) CreateCacheDir(purpose string) error {
	return nil
}

func TestConfigManager(t *testing.T) {
	mgr := NewConfigManager()

	if mgr == nil {
		t.Fatal("NewConfigManager returned nil")
	}
}

func TestLoadDefaultConfig(t *testing.T) {
	mgr := NewConfigManager()

	config := mgr.GetDefaultConfig()

	if config.OutputBits != 32 {
		t.Errorf("Default output bits should be 32, got %d", config.OutputBits)
	}
	if config.RateHint != 44100 {
		t.Errorf("Default rate hint should be 44100, got %d", config.RateHint)
	}
	if config.BufferFrames <= 0 {
		t.Errorf("Default buffer frames should be positive, got %d", config.BufferFrames)
	}
	if config.BlockFrames <= 0 || config.BlockFrames > config.BufferFrames {
		t.Errorf("Default block frames %d should fit the buffer %d", config.BlockFrames, config.BufferFrames)
	}
	if config.IdleSleepMs != 10 {
		t.Errorf("Default idle sleep should be 10ms, got %d", config.IdleSleepMs)
	}
	if config.DSDCapable {
		t.Error("DSD should be off by default")
	}
	if config.LogLevel != "warn" {
		t.Errorf("Default log level should be warn, got %s", config.LogLevel)
	}
	if config.FileLogging == nil || !config.FileLogging.Enabled {
		t.Error("File logging should be enabled by default")
	}
	if config.Tracking == nil || !config.Tracking.Enabled {
		t.Error("Tracking should be enabled by default")
	}

	// Defaults must validate
	if err := mgr.ValidateConfig(config); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}

	t.Logf("Default config: %+v", config)
}

func TestValidateConfig(t *testing.T) {
	mgr := NewConfigManager()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid defaults",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "valid 16 bit",
			mutate:  func(c *Config) { c.OutputBits = 16 },
			wantErr: false,
		},
		{
			name:    "valid 24 bit",
			mutate:  func(c *Config) { c.OutputBits = 24 },
			wantErr: false,
		},
		{
			name:    "unsupported bit depth",
			mutate:  func(c *Config) { c.OutputBits = 20 },
			wantErr: true,
		},
		{
			name:    "zero bit depth",
			mutate:  func(c *Config) { c.OutputBits = 0 },
			wantErr: true,
		},
		{
			name:    "zero rate hint",
			mutate:  func(c *Config) { c.RateHint = 0 },
			wantErr: true,
		},
		{
			name:    "negative rate hint",
			mutate:  func(c *Config) { c.RateHint = -44100 },
			wantErr: true,
		},
		{
			name:    "zero buffer frames",
			mutate:  func(c *Config) { c.BufferFrames = 0 },
			wantErr: true,
		},
		{
			name:    "zero block frames",
			mutate:  func(c *Config) { c.BlockFrames = 0 },
			wantErr: true,
		},
		{
			name:    "block larger than buffer",
			mutate:  func(c *Config) { c.BufferFrames = 1024; c.BlockFrames = 2048 },
			wantErr: true,
		},
		{
			name:    "negative idle sleep",
			mutate:  func(c *Config) { c.IdleSleepMs = -1 },
			wantErr: true,
		},
		{
			name:    "negative settle delay",
			mutate:  func(c *Config) { c.SettleMs = -5 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: true,
		},
		{
			name:    "empty log level is allowed",
			mutate:  func(c *Config) { c.LogLevel = "" },
			wantErr: false,
		},
		{
			name:    "negative file logging size",
			mutate:  func(c *Config) { c.FileLogging.MaxSizeMB = -1 },
			wantErr: true,
		},
		{
			name:    "negative file logging backups",
			mutate:  func(c *Config) { c.FileLogging.MaxBackups = -1 },
			wantErr: true,
		},
		{
			name:    "nil file logging is allowed",
			mutate:  func(c *Config) { c.FileLogging = nil },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := mgr.GetDefaultConfig()
			tt.mutate(config)

			err := mgr.ValidateConfig(config)
			if tt.wantErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected valid config, got error: %v", err)
			}
		})
	}
}

func TestLoadConfigAutoDiscovery(t *testing.T) {
	memFS := afero.NewMemMapFs()
	mgr := NewConfigManagerWithFilesystem(memFS)

	configFile := "/config/wavepipe/wavepipe.json"
	testConfig := `{
		"output_bits": 24,
		"rate_hint": 96000,
		"dsd_capable": true,
		"log_level": "debug"
	}`

	err := afero.WriteFile(memFS, configFile, []byte(testConfig), 0644)
	if err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	// Mock the XDG config paths to point at the test file
	mgr.xdg = &MockXDGDirs{
		configPaths: []string{"/config/missing/wavepipe.json", configFile},
	}

	loadedConfig, err := mgr.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if loadedConfig.OutputBits != 24 {
		t.Errorf("Expected output bits 24, got %d", loadedConfig.OutputBits)
	}
	if loadedConfig.RateHint != 96000 {
		t.Errorf("Expected rate hint 96000, got %d", loadedConfig.RateHint)
	}
	if !loadedConfig.DSDCapable {
		t.Error("Expected DSD capable from config file")
	}
	if loadedConfig.LogLevel != "debug" {
		t.Errorf("Expected log level debug, got %s", loadedConfig.LogLevel)
	}
}

func TestLoadConfigNoFileUsesDefaults(t *testing.T) {
	mgr := NewConfigManagerWithFilesystem(afero.NewMemMapFs())
	mgr.xdg = &MockXDGDirs{
		configPaths: []string{"/nowhere/wavepipe.json"},
	}

	config, err := mgr.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() failed: %v", err)
	}

	if config.OutputBits != 32 || config.RateHint != 44100 {
		t.Errorf("Expected defaults without a config file, got %d/%d", config.OutputBits, config.RateHint)
	}
}

func TestPartialConfigKeepsDefaults(t *testing.T) {
	memFS := afero.NewMemMapFs()
	mgr := NewConfigManagerWithFilesystem(memFS)

	// Only one field set, everything else must keep its default
	configFile := "/partial.json"
	err := afero.WriteFile(memFS, configFile, []byte(`{"output_bits": 16}`), 0644)
	if err != nil {
		t.Fatalf("Failed to write partial config: %v", err)
	}

	config, err := mgr.LoadFromFile(configFile)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.OutputBits != 16 {
		t.Errorf("Expected output bits 16 from file, got %d", config.OutputBits)
	}
	if config.RateHint != 44100 {
		t.Errorf("Expected default rate hint, got %d", config.RateHint)
	}
	if config.BlockFrames != 2048 {
		t.Errorf("Expected default block frames, got %d", config.BlockFrames)
	}
	if config.FileLogging == nil || !config.FileLogging.Enabled {
		t.Error("Expected default file logging to survive a partial file")
	}
}

func TestSaveAndReloadConfig(t *testing.T) {
	memFS := afero.NewMemMapFs()
	mgr := NewConfigManagerWithFilesystem(memFS)

	config := mgr.GetDefaultConfig()
	config.OutputBits = 24
	config.RateHint = 192000
	config.DSDCapable = true

	configFile := "/saved/wavepipe.json"
	if err := mgr.SaveToFile(config, configFile); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	reloaded, err := mgr.LoadFromFile(configFile)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if reloaded.OutputBits != 24 || reloaded.RateHint != 192000 || !reloaded.DSDCapable {
		t.Errorf("Reloaded config mismatch: %+v", reloaded)
	}
}

func TestSaveInvalidConfigRefused(t *testing.T) {
	mgr := NewConfigManagerWithFilesystem(afero.NewMemMapFs())

	config := mgr.GetDefaultConfig()
	config.OutputBits = 48

	if err := mgr.SaveToFile(config, "/bad.json"); err == nil {
		t.Error("Expected save of invalid config to fail")
	}
}

func TestConfigEnvironmentOverrides(t *testing.T) {
	mgr := NewConfigManager()

	// Set environment variables
	os.Setenv("WAVEPIPE_OUTPUT_BITS", "24")
	os.Setenv("WAVEPIPE_RATE_HINT", "96000")
	os.Setenv("WAVEPIPE_DSD", "true")
	os.Setenv("WAVEPIPE_LOG_LEVEL", "debug")
	defer func() {
		os.Unsetenv("WAVEPIPE_OUTPUT_BITS")
		os.Unsetenv("WAVEPIPE_RATE_HINT")
		os.Unsetenv("WAVEPIPE_DSD")
		os.Unsetenv("WAVEPIPE_LOG_LEVEL")
	}()

	baseConfig := mgr.GetDefaultConfig()
	finalConfig := mgr.ApplyEnvironmentOverrides(baseConfig)

	// Environment overrides should take effect
	if finalConfig.OutputBits != 24 {
		t.Errorf("OutputBits = %d, expected 24 from env", finalConfig.OutputBits)
	}
	if finalConfig.RateHint != 96000 {
		t.Errorf("RateHint = %d, expected 96000 from env", finalConfig.RateHint)
	}
	if !finalConfig.DSDCapable {
		t.Error("DSDCapable expected true from env")
	}
	if finalConfig.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, expected 'debug' from env", finalConfig.LogLevel)
	}

	// Non-overridden values should remain
	if finalConfig.BlockFrames != baseConfig.BlockFrames {
		t.Errorf("BlockFrames = %d, expected unchanged %d", finalConfig.BlockFrames, baseConfig.BlockFrames)
	}

	// The base config must not be modified
	if baseConfig.OutputBits != 32 {
		t.Errorf("Base config was modified: %d", baseConfig.OutputBits)
	}
}

func TestConfigEnvironmentOverridesInvalidValues(t *testing.T) {
	mgr := NewConfigManager()

	os.Setenv("WAVEPIPE_OUTPUT_BITS", "not-a-number")
	os.Setenv("WAVEPIPE_DSD", "definitely")
	defer func() {
		os.Unsetenv("WAVEPIPE_OUTPUT_BITS")
		os.Unsetenv("WAVEPIPE_DSD")
	}()

	config := mgr.ApplyEnvironmentOverrides(mgr.GetDefaultConfig())

	// Unparseable values are ignored with a warning
	if config.OutputBits != 32 {
		t.Errorf("Expected default output bits for invalid env value, got %d", config.OutputBits)
	}
	if config.DSDCapable {
		t.Error("Expected default DSD flag for invalid env value")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"DEBUG", slog.LevelDebug, false},
		{"verbose", slog.LevelWarn, true},
		{"", slog.LevelWarn, true},
	}

	for _, tt := range tests {
		t.Run("level "+tt.input, func(t *testing.T) {
			got, err := ParseLogLevel(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error for %q: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, expected %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestApplyLogLevelWithWriter(t *testing.T) {
	mgr := NewConfigManager()

	previous := slog.Default()
	defer slog.SetDefault(previous)

	var buf bytes.Buffer
	if err := mgr.ApplyLogLevelWithWriter("debug", &buf); err != nil {
		t.Fatalf("ApplyLogLevelWithWriter failed: %v", err)
	}

	slog.Debug("debug level message")
	if !strings.Contains(buf.String(), "debug level message") {
		t.Errorf("Expected debug message in writer, got: %s", buf.String())
	}

	if err := mgr.ApplyLogLevelWithWriter("bogus", &buf); err == nil {
		t.Error("Expected error for invalid log level")
	}
}

func TestResolveLogFilePath(t *testing.T) {
	mgr := NewConfigManager()
	mgr.xdg = &MockXDGDirs{cachePath: "/cache/wavepipe/logs"}

	// Explicit filename wins
	if got := mgr.ResolveLogFilePath("/var/log/custom.log"); got != "/var/log/custom.log" {
		t.Errorf("Expected explicit filename, got %s", got)
	}

	// Empty filename falls back to the XDG cache path
	got := mgr.ResolveLogFilePath("")
	if !strings.HasSuffix(got, "wavepipe.log") {
		t.Errorf("Expected wavepipe.log under the cache path, got %s", got)
	}
	if !strings.Contains(got, "/cache/wavepipe/logs") {
		t.Errorf("Expected cache path prefix, got %s", got)
	}
}

func TestConfigErrorHandling(t *testing.T) {
	memFS := afero.NewMemMapFs()
	mgr := NewConfigManagerWithFilesystem(memFS)

	t.Run("invalid JSON file", func(t *testing.T) {
		configFile := "/invalid.json"
		if err := afero.WriteFile(memFS, configFile, []byte("{invalid json"), 0644); err != nil {
			t.Fatalf("Failed to write invalid JSON: %v", err)
		}

		if _, err := mgr.LoadFromFile(configFile); err == nil {
			t.Error("Expected error loading invalid JSON")
		}
	})

	t.Run("non-existent file", func(t *testing.T) {
		if _, err := mgr.LoadFromFile("/non/existent/file.json"); err == nil {
			t.Error("Expected error loading non-existent file")
		}
	})

	t.Run("file that fails validation", func(t *testing.T) {
		configFile := "/badvalues.json"
		bad := Config{OutputBits: 12}
		data, _ := json.Marshal(bad)
		if err := afero.WriteFile(memFS, configFile, data, 0644); err != nil {
			t.Fatalf("Failed to write config: %v", err)
		}

		if _, err := mgr.LoadFromFile(configFile); err == nil {
			t.Error("Expected validation error")
		}
	})
}
