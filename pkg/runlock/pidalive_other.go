//go:build !windows

package runlock

import (
	"errors"
	"os"
	"syscall"
)

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil { // never errors on unix, but be safe
		return false
	}

	// signal 0 = no signal gets sent, but existence + permission checks are performed
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}

	// exists, just isn't ours to signal
	return errors.Is(err, syscall.EPERM)
}
