package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestXDGDirectories(t *testing.T) {
	xdg := NewXDGDirs()

	if xdg == nil {
		t.Fatal("NewXDGDirs returned nil")
	}
}

func TestXDGConfigPaths(t *testing.T) {
	xdg := NewXDGDirs()

	testCases := []struct {
		name     string
		filename string
	}{
		{
			name:     "config file",
			filename: "wavepipe.json",
		},
		{
			name:     "empty filename returns directories",
			filename: "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			paths := xdg.GetConfigPaths(tc.filename)

			if len(paths) == 0 {
				t.Fatal("GetConfigPaths returned empty slice")
			}

			for i, path := range paths {
				if !filepath.IsAbs(path) {
					t.Errorf("Path %d is not absolute: %s", i, path)
				}
				if !strings.Contains(path, "wavepipe") {
					t.Errorf("Path %d missing app directory: %s", i, path)
				}
				if tc.filename != "" && !strings.HasSuffix(path, tc.filename) {
					t.Errorf("Path %d missing filename: %s", i, path)
				}
			}

			t.Logf("Config paths for %q: %v", tc.filename, paths)
		})
	}
}

func TestXDGConfigPathPriority(t *testing.T) {
	xdg := NewXDGDirs()

	paths := xdg.GetConfigPaths("wavepipe.json")
	if len(paths) < 1 {
		t.Fatal("Expected at least the user config path")
	}

	// The user config directory comes first
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("Cannot determine home directory: %v", err)
	}
	if !strings.HasPrefix(paths[0], home) && os.Getenv("XDG_CONFIG_HOME") == "" {
		t.Errorf("Expected first path under home directory, got %s", paths[0])
	}
}

func TestXDGCachePath(t *testing.T) {
	xdg := NewXDGDirs()

	withPurpose := xdg.GetCachePath("logs")
	if !strings.Contains(withPurpose, filepath.Join("wavepipe", "logs")) {
		t.Errorf("Expected wavepipe/logs in cache path, got %s", withPurpose)
	}

	bare := xdg.GetCachePath("")
	if !strings.HasSuffix(bare, "wavepipe") {
		t.Errorf("Expected cache path to end in wavepipe, got %s", bare)
	}
}

func TestXDGCreateCacheDir(t *testing.T) {
	xdg := NewXDGDirs()

	// Use a test-specific subdirectory to avoid conflicts
	testCacheDir := xdg.GetCachePath("test-create")

	// Clean up before and after test
	defer os.RemoveAll(testCacheDir)
	os.RemoveAll(testCacheDir)

	// Verify directory doesn't exist initially
	if _, err := os.Stat(testCacheDir); !os.IsNotExist(err) {
		t.Fatalf("Test cache directory %s already exists", testCacheDir)
	}

	// Create the directory
	err := xdg.CreateCacheDir("test-create")
	if err != nil {
		t.Fatalf("CreateCacheDir failed: %v", err)
	}

	// Verify directory was created
	info, err := os.Stat(testCacheDir)
	if err != nil {
		t.Fatalf("Cache directory was not created: %v", err)
	}

	if !info.IsDir() {
		t.Error("Created cache path is not a directory")
	}

	// Test creating again (should not error)
	err = xdg.CreateCacheDir("test-create")
	if err != nil {
		t.Errorf("CreateCacheDir failed on existing directory: %v", err)
	}
}
