//go:build windows

package runlock

import (
	"os"
)

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	// on Windows FindProcess actually opens a process handle, so a missing process
	// errors out right here (unlike on unix)
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	_ = process.Release()

	return true
}
