//go:build linux

package osfacade

import (
	"os"

	"golang.org/x/sys/unix"
)

// tryFlock reports whether f is currently exclusively locked by another
// process, without blocking: an immediate LOCK_EX acquisition that
// succeeds means nobody else holds it, so it is unlocked right back.
func tryFlock(f *os.File) (bool, error) {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		if err == unix.EWOULDBLOCK {
			return true, nil
		}
		return false, err
	}
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return false, nil
}
