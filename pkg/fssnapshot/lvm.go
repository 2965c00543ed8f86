//go:build linux

// must exclude from Windows build due to syscall.Mount(), syscall.Unmount()

package fssnapshot

// snapshots on Linux using LVM

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"

	"github.com/function61/gokit/logex"
	"github.com/prometheus/procfs"
)

func LvmSnapshotter(snapshotSize string, logger *log.Logger) Snapshotter {
	return &lvmSnapshotter{
		snapshotSize: snapshotSize,
		run:          runCommandViaExec,
		log:          logex.Levels(logex.NonNil(logger)),
	}
}

type lvmSnapshotter struct {
	snapshotSize string // e.g. "1GB". must cover writes to origin during snapshot lifetime
	run          runCommandFn
	log          *logex.Leveled
}

func (l *lvmSnapshotter) Snapshot(path string) (*Snapshot, error) {
	mountOfOrigin, err := mountForPath(path)
	if err != nil {
		return nil, err
	}

	snapshotID := randomSnapID()

	lvcreateOutput, err := l.run(
		"lvcreate",
		"--snapshot",
		"--size", l.snapshotSize,
		"--name", snapshotID,
		mountOfOrigin.Device)
	if err != nil {
		return nil, fmt.Errorf("lvcreate failed: %v, output: %s", err, lvcreateOutput)
	}

	// lvcreate doesn't tell us the *device path* of the snapshot it just made
	lvsOutput, err := l.run(
		"lvs",
		"--noheadings",
		"--options", "lv_name,lv_path")
	if err != nil {
		return nil, fmt.Errorf("lvs failed: %v, output: %s", err, lvsOutput)
	}

	snapshotDevicePath := devicePathFromLvsOutput(snapshotID, lvsOutput)
	if snapshotDevicePath == "" {
		return nil, errors.New("failed to resolve snapshot device path from lvs output")
	}

	completedSuccesfully := false

	defer func() {
		if completedSuccesfully {
			return
		}

		l.log.Info.Printf("cleaning up snapshot %s", snapshotID)

		if err := l.deleteLvmSnapshot(snapshotDevicePath); err != nil {
			l.log.Error.Printf("deleteLvmSnapshot: %v", err)
		}
	}()

	snapshotMountPath := filepath.Join("/mnt", snapshotID)

	if err := os.MkdirAll(snapshotMountPath, 0700); err != nil {
		return nil, fmt.Errorf("failed to make mount directory for snapshot: %v", err)
	}

	defer func() {
		if completedSuccesfully {
			return
		}

		l.log.Info.Printf("cleanup: deleting mount path")

		if err := os.Remove(snapshotMountPath); err != nil {
			l.log.Error.Printf("removing mount path: %v", err)
		}
	}()

	if err := syscall.Mount(snapshotDevicePath, snapshotMountPath, mountOfOrigin.Type, 0, ""); err != nil {
		return nil, fmt.Errorf("mounting snapshot failed: %v", err)
	}

	completedSuccesfully = true // cancel cleanups

	return &Snapshot{
		ID:                    snapshotDevicePath,
		Device:                snapshotDevicePath,
		OriginPath:            path,
		OriginInSnapshotPath:  originPathInSnapshot(path, mountOfOrigin.Mount, snapshotMountPath),
		SnapshotRootMountPath: snapshotMountPath,
	}, nil
}

func (l *lvmSnapshotter) Release(snapshot Snapshot) error {
	if err := syscall.Unmount(snapshot.SnapshotRootMountPath, 0); err != nil {
		return fmt.Errorf("unmounting snapshot failed: %v", err)
	}

	if err := os.Remove(snapshot.SnapshotRootMountPath); err != nil {
		return fmt.Errorf("failed to remove snapshot mount path: %v", err)
	}

	return l.deleteLvmSnapshot(snapshot.ID)
}

func (l *lvmSnapshotter) deleteLvmSnapshot(snapshotDevicePath string) error {
	removeOutput, err := l.run("lvremove", "--force", snapshotDevicePath)
	if err != nil {
		return fmt.Errorf(
			"lvremove for %s failed: %v, output: %s",
			snapshotDevicePath,
			err,
			removeOutput)
	}

	return nil
}

func mountForPath(path string) (*procfs.Mount, error) {
	procSelf, err := procfs.Self()
	if err != nil {
		return nil, err
	}

	mounts, err := procSelf.MountStats()
	if err != nil {
		return nil, err
	}

	mount := longestMatchingMount(path, mounts)
	if mount == nil {
		return nil, fmt.Errorf("unable to resolve mount for path: %s", path)
	}

	return mount, nil
}

func longestMatchingMount(path string, mounts []*procfs.Mount) *procfs.Mount {
	var longest *procfs.Mount

	for _, mount := range mounts {
		if !strings.HasPrefix(path, mount.Mount) {
			continue
		}

		if longest == nil || len(mount.Mount) > len(longest.Mount) {
			longest = mount
		}
	}

	return longest
}

// see test for output example
var devicePathFromLvsOutputRe = regexp.MustCompile("^  ([^ ]+) +(.+)")

func devicePathFromLvsOutput(name string, output []byte) string {
	scanner := bufio.NewScanner(bytes.NewBuffer(output))
	for scanner.Scan() {
		matches := devicePathFromLvsOutputRe.FindStringSubmatch(scanner.Text())
		if matches == nil {
			continue
		}

		if matches[1] == name {
			return matches[2]
		}
	}

	return ""
}
