//go:build linux

package fssnapshot

import (
	"log"
)

const platformDefaultProvider = ProviderLvm

func lvmSnapshotterIfSupported(lvmSnapshotSize string, logger *log.Logger) (Snapshotter, error) {
	return LvmSnapshotter(lvmSnapshotSize, logger), nil
}
