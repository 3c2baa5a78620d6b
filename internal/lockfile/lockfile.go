// Package lockfile provides exclusive cross-process locks backed by flock(2)
// on a dedicated lock file.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// ErrTimeout is returned when a lock could not be acquired in time.
var ErrTimeout = errors.New("lock timeout")

// PollInterval is how often a timed Acquire retries a non-blocking flock.
var PollInterval = 10 * time.Millisecond

// Lock is a held exclusive lock.
type Lock struct {
	path string
	file *os.File
}

// PathFor derives the lock file path guarding target.
func PathFor(target string) string {
	return target + ".lock"
}

// Acquire takes an exclusive lock on path, creating the lock file (and its
// directory) if needed. A zero timeout blocks until the lock is granted.
func Acquire(path string, timeout time.Duration) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := flock(f, timeout); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return &Lock{path: path, file: f}, nil
}

func flock(f *os.File, timeout time.Duration) error {
	fd := int(f.Fd())
	if timeout <= 0 {
		for {
			err := unix.Flock(fd, unix.LOCK_EX)
			if err != unix.EINTR {
				return err
			}
		}
	}
	deadline := time.Now().Add(timeout)
	for {
		err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return nil
		}
		if err != unix.EWOULDBLOCK && err != unix.EINTR {
			return err
		}
		if time.Now().After(deadline) {
			return ErrTimeout
		}
		time.Sleep(PollInterval)
	}
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release unlocks and closes the lock file. The file itself is left in place
// so that concurrent waiters keep locking the same inode.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	if err != nil {
		return fmt.Errorf("unlock %s: %w", l.path, err)
	}
	return nil
}

// With runs fn while holding the lock on path. The lock is released on every
// exit path, including a panic in fn.
func With(path string, timeout time.Duration, fn func() error) (err error) {
	l, err := Acquire(path, timeout)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := l.Release(); err == nil {
			err = rerr
		}
	}()
	return fn()
}
