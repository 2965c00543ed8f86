package fssnapshot

// NullSnapshotter lets callers run the same take snapshot -> copy files -> release
// snapshot logic even when snapshotting is unavailable (or the user opted out): the
// "snapshot" is simply a live view of the origin path.

func NullSnapshotter() Snapshotter {
	return &nullSnapshotter{}
}

type nullSnapshotter struct{}

func (n *nullSnapshotter) Snapshot(path string) (*Snapshot, error) {
	return &Snapshot{
		ID:                    "No snapshotting was used",
		OriginPath:            path,
		OriginInSnapshotPath:  path,
		SnapshotRootMountPath: path,
	}, nil
}

func (n *nullSnapshotter) Release(Snapshot) error {
	return nil
}
