package store

import (
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned when an advisory lock cannot be acquired after
// the retry budget is exhausted.
var ErrWouldBlock = errors.New("store: would block acquiring advisory lock")

const (
	lockMaxRetries = 10
	lockRetrySleep = 100 * time.Millisecond
)

// No dedicated advisory-lock library appears anywhere in the example
// corpus (see DESIGN.md), so this wraps the flock(2) syscall directly via
// golang.org/x/sys/unix, which is already part of the dependency graph
// (pulled in transitively by the sqlite driver) rather than introducing a
// new third-party lock package for a few lines of syscall plumbing.

func lockWithRetry(f *os.File, exclusive bool) error {
	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	for i := 0; i < lockMaxRetries; i++ {
		err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			return err
		}
		time.Sleep(lockRetrySleep)
	}
	return ErrWouldBlock
}

func unlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

// ensureOwnerOnly normalizes file permissions to 0o600 on every open.
func ensureOwnerOnly(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.Mode().Perm() != 0o600 {
		return f.Chmod(0o600)
	}
	return nil
}
