// Package scratch manages the working directories handed to extraction
// tasks. Each task gets a private subdirectory keyed by its ID, and a
// periodic reaper removes directories whose owners never cleaned up
// (crashed requests, abandoned downloads).
package scratch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adamroke/ytmp3ify/pkg/logger"
	"github.com/google/uuid"
)

var log = logger.Get("Scratch")

type Config struct {
	// RootDirectory is where task directories are created. Defaults to
	// a namespaced directory under the OS temp dir.
	RootDirectory string `yaml:"root_directory" env:"YTMP3IFY_SCRATCH_DIR"`

	// MaxEntryAge is how old a task directory may grow before the
	// reaper removes it.
	MaxEntryAge time.Duration `yaml:"max_entry_age" env:"YTMP3IFY_SCRATCH_MAX_AGE" env-default:"2h"`

	// SweepInterval controls how often the reaper runs.
	SweepInterval time.Duration `yaml:"sweep_interval" env:"YTMP3IFY_SCRATCH_SWEEP_INTERVAL" env-default:"15m"`
}

type Manager struct {
	root          string
	maxEntryAge   time.Duration
	sweepInterval time.Duration
}

// New validates (or creates) the configured root directory and returns
// a manager over it.
func New(config Config) (*Manager, error) {
	root := config.RootDirectory
	if root == "" {
		root = filepath.Join(os.TempDir(), "ytmp3ify")
	}

	if info, err := os.Stat(root); err == nil {
		if !info.IsDir() {
			return nil, fmt.Errorf("scratch root %s exists but is not a directory", root)
		}
	} else if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scratch root %s: %w", root, err)
	}

	return &Manager{
		root:          root,
		maxEntryAge:   config.MaxEntryAge,
		sweepInterval: config.SweepInterval,
	}, nil
}

// TaskDir creates (if needed) and returns the private directory for
// the given task.
func (mgr *Manager) TaskDir(taskID uuid.UUID) (string, error) {
	dir := filepath.Join(mgr.root, taskID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create task directory %s: %w", dir, err)
	}

	return dir, nil
}

// Release removes the directory for the given task and everything in
// it. Failures are logged but not returned; the reaper will retry.
func (mgr *Manager) Release(taskID uuid.UUID) {
	dir := filepath.Join(mgr.root, taskID.String())
	if err := os.RemoveAll(dir); err != nil {
		log.Warnf("Failed to release task directory %s: %v\n", dir, err)
	}
}

// Run sweeps the scratch root on a fixed interval until the context is
// cancelled, removing entries older than the configured maximum age.
func (mgr *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(mgr.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mgr.Sweep()
		case <-ctx.Done():
			return nil
		}
	}
}

// Sweep removes every entry in the scratch root whose modification
// time is older than the maximum entry age.
func (mgr *Manager) Sweep() {
	entries, err := os.ReadDir(mgr.root)
	if err != nil {
		log.Errorf("Failed to sweep scratch root %s: %v\n", mgr.root, err)
		return
	}

	cutoff := time.Now().Add(-mgr.maxEntryAge)
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			stale := filepath.Join(mgr.root, entry.Name())
			if err := os.RemoveAll(stale); err != nil {
				log.Warnf("Failed to remove stale scratch entry %s: %v\n", stale, err)
			} else {
				log.Emit(logger.REMOVE, "Removed stale scratch entry %s\n", stale)
			}
		}
	}
}
