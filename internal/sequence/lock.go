package sequence

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"stepdeck/internal/logging"
)

// runLock is the optional cross-process counterpart of the in-store
// run-lock flag.
type runLock struct {
	path string
	lock *flock.Flock
}

func newRunLock(path string) *runLock {
	path = strings.TrimSpace(path)
	if path == "" {
		return &runLock{}
	}
	return &runLock{path: path, lock: flock.New(path)}
}

func (l *runLock) tryLock() error {
	if l == nil || l.lock == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire sequence lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w in another process (lock %s)", ErrSequenceRunning, l.path)
	}
	return nil
}

func (l *runLock) unlock(logger *slog.Logger) {
	if l == nil || l.lock == nil {
		return
	}
	if err := l.lock.Unlock(); err != nil {
		logging.WarnWithContext(logger, "failed to release sequence lock", "sequence_lock_release_failed",
			logging.String("lock", l.path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the lock file if no other console is running"),
			logging.String(logging.FieldImpact, "other processes may be unable to start sequences"),
		)
	}
}
