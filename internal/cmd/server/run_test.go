package serverrun

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	cfgpkg "github.com/orderpipe/orderpipe/internal/config"
	pebblestore "github.com/orderpipe/orderpipe/internal/storage/pebble"
)

func TestGetenvDefault(t *testing.T) {
	_ = os.Setenv("TEST_VAR", "env_value")
	t.Cleanup(func() { _ = os.Unsetenv("TEST_VAR") })

	if got := getenvDefault("TEST_VAR", "default"); got != "env_value" {
		t.Errorf("set var: got %s", got)
	}
	if got := getenvDefault("TEST_VAR_NOT_SET", "default"); got != "default" {
		t.Errorf("unset var: got %s", got)
	}
}

func TestDataDirFallback(t *testing.T) {
	opts := Options{DataDir: ""}
	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	if opts.DataDir == "" {
		t.Error("Expected DataDir to be set after fallback")
	}
	if !filepath.IsAbs(opts.DataDir) && !strings.HasPrefix(opts.DataDir, "./") {
		t.Errorf("Expected DataDir to be absolute or start with ./, got %s", opts.DataDir)
	}
}

// TestRunIntegration verifies Run starts and shuts down cleanly. Minimal by
// design since Run binds real listeners.
func TestRunIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	opts := Options{
		DataDir:  t.TempDir(),
		HTTPAddr: ":0",
		Fsync:    pebblestore.FsyncModeNever,
		Config:   cfgpkg.Default(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := Run(ctx, opts)
	if err != nil && err != context.DeadlineExceeded && err != context.Canceled {
		t.Errorf("Expected clean shutdown, got %v", err)
	}
}
