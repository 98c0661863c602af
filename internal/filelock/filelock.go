// Package filelock serializes writers of shared state files across goroutines
// and processes, and replaces those files atomically.
package filelock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// retryDelay is how often a blocked Acquire re-polls the lock.
const retryDelay = 25 * time.Millisecond

// Lock is an exclusive advisory lock backed by a sidecar lock file.
type Lock struct {
	flock *flock.Flock
	path  string
}

// New creates a lock on path. The file is created on first acquisition.
func New(path string) *Lock {
	return &Lock{
		flock: flock.New(path),
		path:  path,
	}
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}

// Acquire blocks until the lock is held or ctx is done.
func (l *Lock) Acquire(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	locked, err := l.flock.TryLockContext(ctx, retryDelay)
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", l.path, err)
	}
	if !locked {
		return fmt.Errorf("acquire lock %s: not acquired", l.path)
	}
	return nil
}

// TryAcquire attempts the lock without blocking.
func (l *Lock) TryAcquire() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return false, fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("try lock %s: %w", l.path, err)
	}
	return ok, nil
}

// Release drops the lock.
func (l *Lock) Release() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	return nil
}

// WriteAtomic replaces path with data. The content goes to a temp file in
// the same directory, is fsynced, then renamed over the target, so readers
// observe either the old or the new file and never a partial one.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file to %s: %w", path, err)
	}
	committed = true
	return nil
}

// Guarded runs fn while holding the lock "<path>.lock".
func Guarded(ctx context.Context, path string, fn func() error) error {
	lock := New(path + ".lock")
	if err := lock.Acquire(ctx); err != nil {
		return err
	}
	defer lock.Release()
	return fn()
}

// GuardedWrite atomically replaces path while holding its lock.
func GuardedWrite(ctx context.Context, path string, data []byte) error {
	return Guarded(ctx, path, func() error {
		return WriteAtomic(path, data)
	})
}
