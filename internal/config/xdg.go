package config

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// XDGDirs provides XDG Base Directory compliant paths for wavepipe
type XDGDirs struct{}

// NewXDGDirs creates a new XDG directory manager
func NewXDGDirs() *XDGDirs {
	slog.Debug("creating new XDG directory manager")
	return &XDGDirs{}
}

// GetConfigPaths returns prioritized paths where config files can be found
// Returns paths in search order: user config dir, then system config dirs
func (x *XDGDirs) GetConfigPaths(filename string) []string {
	var paths []string

	baseDir := "wavepipe"

	// User config directory (highest priority)
	userConfigPath := filepath.Join(xdg.ConfigHome, baseDir)
	if filename != "" {
		userConfigPath = filepath.Join(userConfigPath, filename)
	}
	paths = append(paths, userConfigPath)

	// System config directories (fallback)
	for _, configDir := range xdg.ConfigDirs {
		systemConfigPath := filepath.Join(configDir, baseDir)
		if filename != "" {
			systemConfigPath = filepath.Join(systemConfigPath, filename)
		}
		paths = append(paths, systemConfigPath)
	}

	slog.Debug("generated config paths",
		"filename", filename,
		"total_paths", len(paths),
		"user_path", userConfigPath,
		"system_paths", len(xdg.ConfigDirs))

	return paths
}

// GetCachePath returns the cache directory path for a specific purpose
func (x *XDGDirs) GetCachePath(purpose string) string {
	baseDir := "wavepipe"
	if purpose != "" {
		baseDir = filepath.Join(baseDir, purpose)
	}

	cachePath := filepath.Join(xdg.CacheHome, baseDir)

	slog.Debug("generated cache path",
		"purpose", purpose,
		"cache_path", cachePath)

	return cachePath
}

// CreateCacheDir creates the cache directory for a specific purpose
func (x *XDGDirs) CreateCacheDir(purpose string) error {
	cachePath := x.GetCachePath(purpose)

	slog.Debug("creating cache directory", "path", cachePath)

	err := os.MkdirAll(cachePath, 0755)
	if err != nil {
		slog.Error("failed to create cache directory", "path", cachePath, "error", err)
		return err
	}

	slog.Info("cache directory created successfully", "path", cachePath)
	return nil
}
