package trading

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	apperrors "dart-trader/internal/errors"
)

// Lock files older than this belong to a crashed run and may be reclaimed.
const lockStaleAfter = 10 * time.Minute

// RunLock is a file-based mutex keeping two trader processes from running
// against the same account.
type RunLock struct {
	path string
	now  func() time.Time
}

type lockPayload struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// NewRunLock creates a run lock at the given path.
func NewRunLock(path string) *RunLock {
	return &RunLock{path: path, now: time.Now}
}

// Acquire takes the lock. A live lock held by another process returns
// ErrLockHeld; a stale lock is reclaimed.
func (l *RunLock) Acquire() error {
	payload, err := json.Marshal(lockPayload{PID: os.Getpid(), StartedAt: l.now()})
	if err != nil {
		return fmt.Errorf("marshaling lock payload: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err == nil {
		defer f.Close()
		if _, err := f.Write(payload); err != nil {
			return fmt.Errorf("writing lock file: %w", err)
		}
		return nil
	}
	if !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("creating lock file: %w", err)
	}

	holder, readErr := l.read()
	if readErr == nil && l.now().Sub(holder.StartedAt) < lockStaleAfter {
		return fmt.Errorf("trader already running (pid %d since %s): %w",
			holder.PID, holder.StartedAt.Format(time.RFC3339), apperrors.ErrLockHeld)
	}

	// Unreadable or stale lock: reclaim by rewriting in place.
	if err := os.WriteFile(l.path, payload, 0644); err != nil {
		return fmt.Errorf("reclaiming stale lock: %w", err)
	}
	return nil
}

// Release removes the lock file.
func (l *RunLock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	return nil
}

func (l *RunLock) read() (*lockPayload, error) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return nil, err
	}
	var payload lockPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}
