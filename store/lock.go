package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"storagemesh/errs"
)

// renewInterval is how often a held lock's mtime is touched to signal
// liveness; staleHorizon is how long a held lock can go unrenewed
// before a competing process retries flock on it once more.
const (
	renewInterval = 60 * time.Second
	staleHorizon  = 5 * time.Minute
)

// ManifestLock is a cross-process advisory lock guarding the commit
// append window of a store's manifest.dat. It is held for the
// duration of a single commit and renewed periodically for
// longer-lived holders (e.g. a long upload session).
type ManifestLock struct {
	path string
	file *os.File

	mu       sync.Mutex
	cancel   context.CancelFunc
	renewing sync.WaitGroup
}

// NewManifestLock returns a lock bound to <storeDir>/manifest.lock.
func NewManifestLock(storeDir string) *ManifestLock {
	return &ManifestLock{path: filepath.Join(storeDir, "manifest.lock")}
}

// Acquire takes the advisory lock. If the lock is held and the lock
// file's last renewal is older than staleHorizon, it touches the file
// and tries flock once more; that second try succeeds only if the
// holder's descriptor has been closed, since a flock held by a live
// descriptor is never taken over. It starts a
// background goroutine that touches the lock file every
// renewInterval until Release is called.
func (l *ManifestLock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return errs.Wrap(errs.Resource, err)
	}

	if err := tryFlock(f); err != nil {
		if info, statErr := f.Stat(); statErr == nil && time.Since(info.ModTime()) > staleHorizon {
			// Stale lock: the prior holder is presumed dead. Touch
			// and retake it rather than blocking forever.
			_ = os.Chtimes(l.path, time.Now(), time.Now())
			if err2 := tryFlock(f); err2 != nil {
				f.Close()
				return errs.Wrap(errs.Resource, fmt.Errorf("manifest lock held past stale horizon: %w", err2))
			}
		} else {
			f.Close()
			return errs.Wrap(errs.Resource, fmt.Errorf("manifest lock held: %w", err))
		}
	}

	l.file = f
	renewCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.renewing.Add(1)
	go l.renewLoop(renewCtx)
	return nil
}

func (l *ManifestLock) renewLoop(ctx context.Context) {
	defer l.renewing.Done()
	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = os.Chtimes(l.path, time.Now(), time.Now())
		}
	}
}

// Release stops renewal and unlocks the file.
func (l *ManifestLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		l.cancel()
		l.renewing.Wait()
		l.cancel = nil
	}
	if l.file == nil {
		return nil
	}
	err := unlockFlock(l.file)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return errs.Wrap(errs.Resource, err)
	}
	return errs.Wrap(errs.Resource, closeErr)
}

func tryFlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

func unlockFlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
