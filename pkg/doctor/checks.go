package doctor

import (
	"fmt"
	"os"
	"os/exec"
)

// the external tools (vshadow, dosdev, robocopy, ...) are hard dependencies that
// only surface at run time. better to hear about a missing one from doctor than
// from a failed backup at 3 AM.
func NewBinaryInPathCheck(binary string) Checker {
	return &binaryInPath{binary: binary, lookPath: exec.LookPath}
}

type binaryInPath struct {
	binary   string
	lookPath func(file string) (string, error)
}

func (b *binaryInPath) Check() Check {
	path, err := b.lookPath(b.binary)
	if err != nil {
		return Check{
			Title:   b.binary,
			Status:  StatusFail,
			Details: "not found in PATH",
		}
	}

	return Check{Title: b.binary, Status: StatusPass, Details: path}
}

// existence is not enough - backup targets are often network mounts that come and go
func NewWritableDirCheck(title string, path string) Checker {
	return NewFuncCheck(title, func() (Status, string) {
		info, err := os.Stat(path)
		if err != nil {
			return StatusFail, err.Error()
		}

		if !info.IsDir() {
			return StatusFail, fmt.Sprintf("%s is not a directory", path)
		}

		probe, err := os.CreateTemp(path, ".peili-doctor-*")
		if err != nil {
			return StatusFail, fmt.Sprintf("not writable: %v", err)
		}

		probeName := probe.Name()
		_ = probe.Close()
		_ = os.Remove(probeName)

		return StatusPass, path
	})
}
