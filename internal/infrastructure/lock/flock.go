// Package lock provides the cross-process run lock.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"NewsDigest/internal/ports"
)

const defaultRetryDelay = 500 * time.Millisecond

// FileLock holds an advisory lock file for the duration of a run.
type FileLock struct {
	path       string
	lock       *flock.Flock
	retryDelay time.Duration
}

var _ ports.RunLock = (*FileLock)(nil)

// NewFileLock builds a lock on path; the file is created on first use.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path, lock: flock.New(path), retryDelay: defaultRetryDelay}
}

// TryLock acquires the lock. Without wait it reports false immediately when another
// holder exists; with wait it polls until the lock is free or ctx ends.
func (l *FileLock) TryLock(ctx context.Context, wait bool) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("ensure lock dir: %w", err)
	}

	var (
		ok  bool
		err error
	)
	if wait {
		ok, err = l.lock.TryLockContext(ctx, l.retryDelay)
	} else {
		ok, err = l.lock.TryLock()
	}
	if err != nil {
		return false, fmt.Errorf("lock %s: %w", l.path, err)
	}
	return ok, nil
}

// Unlock releases the lock.
func (l *FileLock) Unlock() error {
	return l.lock.Unlock()
}
