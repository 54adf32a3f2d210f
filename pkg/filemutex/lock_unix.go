//go:build !windows

package filemutex

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockExclusive blocks until an exclusive advisory lock is held on f.
func lockExclusive(f *os.File) error {
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX)
		if err != unix.EINTR {
			return err
		}
	}
}

// unlock releases the advisory lock held on f.
func unlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
