//go:build !linux && !windows

package fssnapshot

import (
	"errors"
	"log"
)

// no snapshot support implemented for this platform. copying straight from the live
// filesystem at least works, and the doctor command warns about it.
const platformDefaultProvider = ProviderNone

func lvmSnapshotterIfSupported(_ string, _ *log.Logger) (Snapshotter, error) {
	return nil, errors.New("lvm snapshots only supported on Linux")
}
