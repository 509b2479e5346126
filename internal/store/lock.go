package store

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Error variables for file locking operations
var (
	// ErrLockTimeout is returned when a lock cannot be acquired within the specified timeout
	ErrLockTimeout = errors.New("lock acquisition timeout")
	// ErrLockNotHeld is returned when attempting to release a lock that isn't held
	ErrLockNotHeld = errors.New("lock not held")
)

const (
	lockRetryInterval = 50 * time.Millisecond
	// a lock file younger than this may still be between create and flock
	staleLockGrace = 2 * time.Second
)

// FileLock is an exclusive lock on a vault record, held through a sibling
// ".lock" file that is also flocked while held.
type FileLock struct {
	path     string
	lockFile *os.File
	locked   bool
}

// NewFileLock creates a new file lock for the given record path
func NewFileLock(recordPath string) *FileLock {
	return &FileLock{path: recordPath + ".lock"}
}

// Path returns the lock file path.
func (fl *FileLock) Path() string {
	return fl.path
}

// Lock acquires the file lock, retrying until timeout elapses.
func (fl *FileLock) Lock(timeout time.Duration) error {
	if fl.locked {
		return errors.New("lock already held")
	}

	if err := os.MkdirAll(filepath.Dir(fl.path), 0o700); err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	for {
		file, err := os.OpenFile(fl.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			if err := platformLock(file); err != nil {
				_ = file.Close()
				_ = os.Remove(fl.path)
				return err
			}
			fl.lockFile = file
			fl.locked = true

			if _, err := file.WriteString(strconv.Itoa(os.Getpid())); err != nil {
				_ = fl.Unlock()
				return err
			}
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return err
		}

		if fl.isLockStale() {
			_ = os.Remove(fl.path)
			continue
		}

		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		time.Sleep(lockRetryInterval)
	}
}

// Unlock releases the file lock
func (fl *FileLock) Unlock() error {
	if !fl.locked {
		return ErrLockNotHeld
	}

	var err error
	if fl.lockFile != nil {
		// the file must be gone before the flock is dropped, or a waiter could
		// flock the old inode and judge it stale
		removeErr := os.Remove(fl.path)
		if unlockErr := platformUnlock(fl.lockFile); unlockErr != nil {
			err = unlockErr
		}
		if closeErr := fl.lockFile.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		fl.lockFile = nil
		// Windows refuses to remove a file that is still open
		if removeErr != nil {
			if removeErr = os.Remove(fl.path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) && err == nil {
				err = removeErr
			}
		}
	}

	fl.locked = false
	return err
}

// IsLocked returns true if the lock is currently held
func (fl *FileLock) IsLocked() bool {
	return fl.locked
}

// isLockStale reports whether the lock file was left behind by a process
// that no longer holds its flock.
func (fl *FileLock) isLockStale() bool {
	info, err := os.Stat(fl.path)
	if err != nil || time.Since(info.ModTime()) < staleLockGrace {
		return false
	}

	file, err := os.OpenFile(fl.path, os.O_RDWR, 0o600)
	if err != nil {
		return false
	}
	defer file.Close()

	if err := platformLock(file); err != nil {
		return false
	}
	_ = platformUnlock(file)
	return true
}
