//go:build unix

package lock

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Acquire places an exclusive, non-blocking advisory lock on f. It returns
// ErrLocked when another open file description holds the lock.
func Acquire(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == unix.EWOULDBLOCK {
		return errors.Wrap(ErrLocked, f.Name())
	}
	if err != nil {
		return errors.Wrapf(err, "failed to lock %s", f.Name())
	}
	return nil
}

// Release drops a lock taken with Acquire. Closing f releases it as well.
func Release(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
