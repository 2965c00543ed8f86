package fssnapshot

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/function61/gokit/cryptorandombytes"
)

func randomSnapID() string {
	return "snap-" + cryptorandombytes.Hex(4)
}

// see tests for what this does
func originPathInSnapshot(originPath string, mountPoint string, snapshotPath string) string {
	return filepath.Join(
		snapshotPath,
		originPath[len(mountPoint):])
}

// '/' => '\' (we keep forward slashes internally, Windows tools want backslashes)
func windowsPath(in string) string {
	return strings.ReplaceAll(in, "/", `\`)
}

// "C:/Users/example" => "C:"
func volumeFromPath(path string) (string, error) {
	if len(path) < 2 || path[1] != ':' || !isDriveLetter(path[0]) {
		return "", fmt.Errorf("cannot derive volume from path: %q", path)
	}

	return strings.ToUpper(path[0:1]) + ":", nil
}

func isDriveLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
