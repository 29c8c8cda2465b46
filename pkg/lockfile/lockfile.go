// Package lockfile enforces single-instance execution per host via a
// filesystem lock. A second invocation observing the lock held must fail
// fast without attempting any backing-runtime interaction. flock semantics
// mean a crashed holder releases the lock with the kernel, satisfying
// unconditional release on abnormal termination.
package lockfile

import (
	"fmt"
	"os"

	"github.com/gofrs/flock"
)

// DefaultPath is where the single-instance lock lives unless configured
// otherwise.
const DefaultPath = "/var/run/berth.lock"

// Lock is a held single-instance lock.
type Lock struct {
	flock *flock.Flock
	path  string
}

// Acquire takes the lock without blocking. A held lock returns an error
// immediately; the caller must exit before touching any backing runtime.
func Acquire(path string) (*Lock, error) {
	if path == "" {
		path = DefaultPath
	}
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("another instance is already running (lock %s is held)", path)
	}
	return &Lock{flock: fl, path: path}, nil
}

// Release unlocks and removes the lock file. Safe to call once on every exit
// path.
func (l *Lock) Release() error {
	if l == nil || l.flock == nil {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.path, err)
	}
	// Best-effort: a lock file that cannot be removed does not block the
	// next invocation, flock re-locks the same inode.
	_ = os.Remove(l.path)
	return nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.path
}
