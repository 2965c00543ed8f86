//go:build windows

package fssnapshot

import (
	"errors"
	"log"
)

const platformDefaultProvider = ProviderVshadow

func lvmSnapshotterIfSupported(_ string, _ *log.Logger) (Snapshotter, error) {
	return nil, errors.New("lvm snapshots not supported on Windows")
}
