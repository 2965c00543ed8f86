// Cross-platform filesystem snapshotting: freeze a point-in-time view of a directory
// so it can be copied without files changing under the copier's feet
package fssnapshot

type Snapshot struct {
	ID                    string // opaque platform-specific string (do not use for anything)
	Device                string // device path backing the snapshot ("" if provider has none)
	OriginPath            string // snapshot taken from
	OriginInSnapshotPath  string // path used to access origin in snapshot
	SnapshotRootMountPath string // path used to access the snapshotted root
}

type Snapshotter interface {
	// Snapshot takes a snapshot of the volume that path lives on, and makes it
	// accessible somewhere in the filesystem (see fields of Snapshot)
	Snapshot(path string) (*Snapshot, error)
	// Release undoes everything Snapshot() did: unmounts/unbinds the snapshot's access
	// path and deletes the snapshot itself
	Release(Snapshot) error
}
