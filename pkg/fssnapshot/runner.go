package fssnapshot

import (
	"os/exec"
)

// the snapshot tools are external commands. tests swap this out to not require
// admin privileges (or the tools, or even the OS) to exercise the sequencing logic.
type runCommandFn func(name string, args ...string) ([]byte, error)

func runCommandViaExec(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}
