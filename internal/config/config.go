package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// ConfigFileName is the file looked up through the XDG config paths.
const ConfigFileName = "wavepipe.json"

// FileLoggingConfig represents file-based logging configuration
type FileLoggingConfig struct {
	Enabled    bool   `json:"enabled"`      // Whether file logging is enabled
	Filename   string `json:"filename"`     // Log file path (empty = XDG cache path)
	MaxSizeMB  int    `json:"max_size_mb"`  // Max file size in MB before rotation
	MaxBackups int    `json:"max_backups"`  // Max number of backup files to keep
	MaxAgeDays int    `json:"max_age_days"` // Max age in days before deletion
	Compress   bool   `json:"compress"`     // Whether to compress rotated files
}

// Config represents wavepipe configuration
type Config struct {
	OutputBits   int                `json:"output_bits"`            // Output sample packing (16, 24 or 32)
	RateHint     int                `json:"rate_hint"`              // Sample rate assumed before the first track
	BufferFrames int                `json:"buffer_frames"`          // Ring buffer capacity in frames
	BlockFrames  int                `json:"block_frames"`           // Frames rendered per output iteration
	IdleSleepMs  int                `json:"idle_sleep_ms"`          // Output loop back-off when nothing is pending
	SettleMs     int                `json:"settle_ms"`              // Silence injected after a sample rate change
	DSDCapable   bool               `json:"dsd_capable"`            // Whether the consumer accepts DSD tracks
	LogLevel     string             `json:"log_level"`              // Log level (debug, info, warn, error)
	FileLogging  *FileLoggingConfig `json:"file_logging,omitempty"` // File logging configuration
	Tracking     *TrackingConfig    `json:"tracking,omitempty"`     // Track boundary database configuration
}

// XDGInterface defines the interface for XDG directory operations
type XDGInterface interface {
	GetConfigPaths(filename string) []string
	GetCachePath(purpose string) string
	CreateCacheDir(purpose string) error
}

// ConfigManager handles loading, saving, and validating configuration
type ConfigManager struct {
	fs  afero.Fs
	xdg XDGInterface
}

// NewConfigManager creates a new configuration manager on the real
// filesystem.
func NewConfigManager() *ConfigManager {
	return NewConfigManagerWithFilesystem(afero.NewOsFs())
}

// NewConfigManagerWithFilesystem creates a configuration manager on the
// given filesystem. Tests pass a memory filesystem.
func NewConfigManagerWithFilesystem(fsys afero.Fs) *ConfigManager {
	slog.Debug("creating new config manager")
	return &ConfigManager{
		fs:  fsys,
		xdg: NewXDGDirs(),
	}
}

// GetDefaultConfig returns the default configuration
func (cm *ConfigManager) GetDefaultConfig() *Config {
	defaultConfig := &Config{
		OutputBits:   32,
		RateHint:     44100,
		BufferFrames: 32768,
		BlockFrames:  2048,
		IdleSleepMs:  10,
		SettleMs:     0,
		DSDCapable:   false,
		LogLevel:     "warn",
		FileLogging: &FileLoggingConfig{
			Enabled:    true, // stderr may be invisible under a parent player
			Filename:   "",   // Empty = XDG cache path
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Tracking: GetDefaultTrackingConfig(),
	}

	slog.Debug("generated default config",
		"output_bits", defaultConfig.OutputBits,
		"rate_hint", defaultConfig.RateHint,
		"buffer_frames", defaultConfig.BufferFrames,
		"block_frames", defaultConfig.BlockFrames,
		"log_level", defaultConfig.LogLevel,
		"file_logging_enabled", defaultConfig.FileLogging.Enabled)

	return defaultConfig
}

// LoadFromFile loads configuration from a specific file. Fields absent
// from the file keep their default values.
func (cm *ConfigManager) LoadFromFile(filePath string) (*Config, error) {
	slog.Debug("loading config from file", "file_path", filePath)

	data, err := afero.ReadFile(cm.fs, filePath)
	if err != nil {
		slog.Error("failed to read config file", "file_path", filePath, "error", err)
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := cm.GetDefaultConfig()
	err = json.Unmarshal(data, config)
	if err != nil {
		slog.Error("failed to parse config JSON", "file_path", filePath, "error", err)
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	err = cm.ValidateConfig(config)
	if err != nil {
		slog.Error("config validation failed", "file_path", filePath, "error", err)
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	slog.Debug("config loaded successfully",
		"file_path", filePath,
		"output_bits", config.OutputBits,
		"rate_hint", config.RateHint,
		"dsd_capable", config.DSDCapable)

	return config, nil
}

// SaveToFile saves configuration to a specific file
func (cm *ConfigManager) SaveToFile(config *Config, filePath string) error {
	slog.Debug("saving config to file", "file_path", filePath)

	err := cm.ValidateConfig(config)
	if err != nil {
		slog.Error("cannot save invalid config", "error", err)
		return fmt.Errorf("cannot save invalid config: %w", err)
	}

	// Create directory if it doesn't exist
	dir := filepath.Dir(filePath)
	err = cm.fs.MkdirAll(dir, 0755)
	if err != nil {
		slog.Error("failed to create config directory", "directory", dir, "error", err)
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Marshal with indentation for readability
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		slog.Error("failed to marshal config", "error", err)
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = afero.WriteFile(cm.fs, filePath, data, 0644)
	if err != nil {
		slog.Error("failed to write config file", "file_path", filePath, "error", err)
		return fmt.Errorf("failed to write config file: %w", err)
	}

	slog.Info("config saved successfully", "file_path", filePath)
	return nil
}

// LoadConfig loads configuration using XDG path discovery
func (cm *ConfigManager) LoadConfig() (*Config, error) {
	slog.Debug("loading config using XDG path discovery")

	configPaths := cm.xdg.GetConfigPaths(ConfigFileName)

	slog.Debug("searching for config file", "paths", configPaths)

	// Try to load from each path in priority order
	for i, configPath := range configPaths {
		slog.Debug("checking config path", "path_index", i, "path", configPath)

		if _, err := cm.fs.Stat(configPath); err == nil {
			slog.Debug("found config file", "path", configPath)
			return cm.LoadFromFile(configPath)
		} else {
			slog.Debug("config file not found", "path", configPath, "error", err)
		}
	}

	slog.Debug("no config file found, using defaults")
	return cm.GetDefaultConfig(), nil
}

// ValidateConfig validates configuration values
func (cm *ConfigManager) ValidateConfig(config *Config) error {
	var errors []string

	// Validate output packing
	if config.OutputBits != 16 && config.OutputBits != 24 && config.OutputBits != 32 {
		errors = append(errors, fmt.Sprintf("output_bits must be 16, 24 or 32, got %d", config.OutputBits))
	}

	// Validate sample rate hint
	if config.RateHint <= 0 {
		errors = append(errors, fmt.Sprintf("rate_hint must be positive, got %d", config.RateHint))
	}

	// Validate buffer sizing
	if config.BufferFrames <= 0 {
		errors = append(errors, fmt.Sprintf("buffer_frames must be positive, got %d", config.BufferFrames))
	}
	if config.BlockFrames <= 0 {
		errors = append(errors, fmt.Sprintf("block_frames must be positive, got %d", config.BlockFrames))
	}
	if config.BufferFrames > 0 && config.BlockFrames > config.BufferFrames {
		errors = append(errors, fmt.Sprintf("block_frames %d must not exceed buffer_frames %d",
			config.BlockFrames, config.BufferFrames))
	}

	// Validate timing knobs
	if config.IdleSleepMs < 0 {
		errors = append(errors, fmt.Sprintf("idle_sleep_ms must be >= 0, got %d", config.IdleSleepMs))
	}
	if config.SettleMs < 0 {
		errors = append(errors, fmt.Sprintf("settle_ms must be >= 0, got %d", config.SettleMs))
	}

	// Validate log level
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if config.LogLevel != "" {
		valid := false
		for _, level := range validLogLevels {
			if config.LogLevel == level {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, fmt.Sprintf("invalid log level '%s', must be one of: %s",
				config.LogLevel, strings.Join(validLogLevels, ", ")))
		}
	}

	// Validate file logging configuration
	if config.FileLogging != nil {
		fileLogging := config.FileLogging

		if fileLogging.MaxSizeMB < 0 {
			errors = append(errors, fmt.Sprintf("file logging max_size_mb must be >= 0, got %d", fileLogging.MaxSizeMB))
		}

		if fileLogging.MaxBackups < 0 {
			errors = append(errors, fmt.Sprintf("file logging max_backups must be >= 0, got %d", fileLogging.MaxBackups))
		}

		if fileLogging.MaxAgeDays < 0 {
			errors = append(errors, fmt.Sprintf("file logging max_age_days must be >= 0, got %d", fileLogging.MaxAgeDays))
		}
	}

	if len(errors) > 0 {
		errMsg := strings.Join(errors, "; ")
		slog.Error("config validation failed", "errors", errMsg)
		return fmt.Errorf("config validation failed: %s", errMsg)
	}

	slog.Debug("config validation passed")
	return nil
}

// ApplyEnvironmentOverrides applies environment variable overrides to config
func (cm *ConfigManager) ApplyEnvironmentOverrides(config *Config) *Config {
	slog.Debug("applying environment variable overrides")

	// Create a copy to modify
	result := *config

	// WAVEPIPE_OUTPUT_BITS
	if bitsStr := os.Getenv("WAVEPIPE_OUTPUT_BITS"); bitsStr != "" {
		if bits, err := strconv.Atoi(bitsStr); err == nil {
			result.OutputBits = bits
			slog.Debug("applied output bits override from environment", "value", bits)
		} else {
			slog.Warn("invalid WAVEPIPE_OUTPUT_BITS environment variable", "value", bitsStr, "error", err)
		}
	}

	// WAVEPIPE_RATE_HINT
	if rateStr := os.Getenv("WAVEPIPE_RATE_HINT"); rateStr != "" {
		if rate, err := strconv.Atoi(rateStr); err == nil {
			result.RateHint = rate
			slog.Debug("applied rate hint override from environment", "value", rate)
		} else {
			slog.Warn("invalid WAVEPIPE_RATE_HINT environment variable", "value", rateStr, "error", err)
		}
	}

	// WAVEPIPE_BUFFER_FRAMES
	if bufStr := os.Getenv("WAVEPIPE_BUFFER_FRAMES"); bufStr != "" {
		if frames, err := strconv.Atoi(bufStr); err == nil {
			result.BufferFrames = frames
			slog.Debug("applied buffer frames override from environment", "value", frames)
		} else {
			slog.Warn("invalid WAVEPIPE_BUFFER_FRAMES environment variable", "value", bufStr, "error", err)
		}
	}

	// WAVEPIPE_BLOCK_FRAMES
	if blockStr := os.Getenv("WAVEPIPE_BLOCK_FRAMES"); blockStr != "" {
		if frames, err := strconv.Atoi(blockStr); err == nil {
			result.BlockFrames = frames
			slog.Debug("applied block frames override from environment", "value", frames)
		} else {
			slog.Warn("invalid WAVEPIPE_BLOCK_FRAMES environment variable", "value", blockStr, "error", err)
		}
	}

	// WAVEPIPE_IDLE_SLEEP_MS
	if idleStr := os.Getenv("WAVEPIPE_IDLE_SLEEP_MS"); idleStr != "" {
		if ms, err := strconv.Atoi(idleStr); err == nil {
			result.IdleSleepMs = ms
			slog.Debug("applied idle sleep override from environment", "value", ms)
		} else {
			slog.Warn("invalid WAVEPIPE_IDLE_SLEEP_MS environment variable", "value", idleStr, "error", err)
		}
	}

	// WAVEPIPE_SETTLE_MS
	if settleStr := os.Getenv("WAVEPIPE_SETTLE_MS"); settleStr != "" {
		if ms, err := strconv.Atoi(settleStr); err == nil {
			result.SettleMs = ms
			slog.Debug("applied settle override from environment", "value", ms)
		} else {
			slog.Warn("invalid WAVEPIPE_SETTLE_MS environment variable", "value", settleStr, "error", err)
		}
	}

	// WAVEPIPE_DSD
	if dsdStr := os.Getenv("WAVEPIPE_DSD"); dsdStr != "" {
		if dsd, err := strconv.ParseBool(dsdStr); err == nil {
			result.DSDCapable = dsd
			slog.Debug("applied dsd override from environment", "value", dsd)
		} else {
			slog.Warn("invalid WAVEPIPE_DSD environment variable", "value", dsdStr, "error", err)
		}
	}

	// WAVEPIPE_LOG_LEVEL
	if logLevel := os.Getenv("WAVEPIPE_LOG_LEVEL"); logLevel != "" {
		result.LogLevel = logLevel
		slog.Debug("applied log level override from environment", "value", logLevel)
	}

	if result.Tracking != nil {
		result.Tracking = ApplyTrackingEnvironmentOverrides(result.Tracking)
	}

	slog.Debug("environment overrides applied")
	return &result
}

// ApplyLogLevel configures slog with the specified log level
func (cm *ConfigManager) ApplyLogLevel(logLevel string) error {
	return cm.ApplyLogLevelWithWriter(logLevel, os.Stderr)
}

// ApplyLogLevelWithWriter configures slog with the specified log level
// and writer. Stdout carries the audio stream, so logs may never go
// there.
func (cm *ConfigManager) ApplyLogLevelWithWriter(logLevel string, writer io.Writer) error {
	if logLevel == "" {
		slog.Debug("no log level specified, keeping current slog configuration")
		return nil
	}

	slog.Debug("applying log level configuration", "log_level", logLevel)

	level, err := ParseLogLevel(logLevel)
	if err != nil {
		slog.Error("invalid log level for slog configuration", "log_level", logLevel, "error", err)
		return err
	}

	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{
		Level: level,
	})

	// Set as default slog logger
	slog.SetDefault(slog.New(handler))

	slog.Debug("slog configured successfully", "log_level", logLevel, "slog_level", level)
	return nil
}

// ParseLogLevel maps a config log level string to a slog.Level.
func ParseLogLevel(logLevel string) (slog.Level, error) {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelWarn, fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", logLevel)
	}
}

// ResolveLogFilePath resolves the log file path using XDG cache directory when filename is empty
func (cm *ConfigManager) ResolveLogFilePath(filename string) string {
	if filename != "" {
		return filename
	}

	// Use XDG cache directory for log files
	return filepath.Join(cm.xdg.GetCachePath("logs"), "wavepipe.log")
}
