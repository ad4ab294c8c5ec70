// Package runlock enforces single-instance pipeline execution. Two runs at
// once would race the browser session, the digest files, and the daily run
// rows, so the orchestrator refuses to start while another holds the lock.
package runlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrHeld reports that another process owns the lock.
var ErrHeld = errors.New("another pipeline instance is already running")

// Lock is a file-based guard around pipeline runs.
type Lock struct {
	flock *flock.Flock
}

// New builds a Lock on a lock file inside dataDir.
func New(dataDir string) *Lock {
	return &Lock{flock: flock.New(filepath.Join(dataDir, "permitwatch.lock"))}
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.flock.Path() }

// Acquire takes the lock without blocking. ErrHeld means a concurrent run
// owns it; anything else is a filesystem problem.
func (l *Lock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.flock.Path()), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	ok, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return ErrHeld
	}
	return nil
}

// Release drops the lock.
func (l *Lock) Release() error {
	return l.flock.Unlock()
}
