package fssnapshot

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/function61/gokit/logex"
)

// Windows snapshots without extra tooling: wmic + vssadmin + mklink. vshadow is the
// preferred provider, this one exists for hosts where installing SDK tools is not an
// option.
//
// client editions of Windows refuse "vssadmin create shadow", but the same create
// via wmic works fine: https://superuser.com/a/1125605/284803

func WmicSnapshotter(logger *log.Logger) Snapshotter {
	return &wmicSnapshotter{
		run: runCommandViaExec,
		log: logex.Levels(logex.NonNil(logger)),
	}
}

type wmicSnapshotter struct {
	run runCommandFn
	log *logex.Leveled
}

func (w *wmicSnapshotter) Snapshot(path string) (*Snapshot, error) {
	volume, err := volumeFromPath(path)
	if err != nil {
		return nil, err
	}

	createOutput, err := w.run(
		"wmic",
		"shadowcopy",
		"call",
		"create",
		fmt.Sprintf(`Volume="%s\"`, volume))
	if err != nil {
		return nil, fmt.Errorf(
			"error creating snapshot: %v, output: %s",
			err,
			createOutput)
	}

	shadowID := parseShadowIDFromWmicOutput(string(createOutput))
	if shadowID == "" {
		return nil, fmt.Errorf("unable to find shadow ID from create output: %s", createOutput)
	}

	completedSuccesfully := false

	defer func() {
		if completedSuccesfully {
			return
		}

		w.log.Info.Printf("cleaning up snapshot %s", shadowID)

		if err := w.deleteShadow(shadowID); err != nil {
			w.log.Error.Printf("deleteShadow: %v", err)
		}
	}()

	detailsOutput, err := w.run(
		"vssadmin",
		"list",
		"shadows",
		"/Shadow="+shadowID)
	if err != nil {
		return nil, fmt.Errorf(
			"unable to list snapshot details: %v, output: %s",
			err,
			detailsOutput)
	}

	shadowDevice := parseShadowDeviceFromVssadminOutput(string(detailsOutput))
	if shadowDevice == "" {
		return nil, fmt.Errorf("unable to find shadow device from list output: %s", detailsOutput)
	}

	mountPath := filepath.ToSlash(filepath.Join(os.TempDir(), randomSnapID()))

	// Windows makes a distinction between file and directory symlinks, and os.Symlink()
	// can't make the directory kind. "mklink" again is a cmd builtin, not an executable,
	// so cmd has to be dragged in as well.
	mklinkOutput, err := w.run(
		"cmd",
		"/c",
		"mklink",
		"/D",
		windowsPath(mountPath),
		windowsPath(shadowDevice+"/"))
	if err != nil {
		return nil, fmt.Errorf(
			"failed to make directory symlink: %v, output: %s",
			err,
			mklinkOutput)
	}

	completedSuccesfully = true // cancel cleanups

	return &Snapshot{
		ID:                    shadowID,
		Device:                shadowDevice,
		OriginPath:            path,
		OriginInSnapshotPath:  originPathInSnapshot(path, volume+"/", mountPath),
		SnapshotRootMountPath: mountPath,
	}, nil
}

func (w *wmicSnapshotter) Release(snap Snapshot) error {
	if err := w.deleteShadow(snap.ID); err != nil {
		return err
	}

	// the directory symlink
	if err := os.Remove(snap.SnapshotRootMountPath); err != nil {
		return fmt.Errorf("unable to remove snapshot mount path: %v", err)
	}

	return nil
}

func (w *wmicSnapshotter) deleteShadow(shadowID string) error {
	deleteOutput, err := w.run(
		"vssadmin",
		"delete",
		"shadows",
		"/Quiet",
		"/Shadow="+shadowID)
	if err != nil {
		return fmt.Errorf(
			"unable to delete shadow %s: %v, output: %s",
			shadowID,
			err,
			deleteOutput)
	}

	return nil
}

var shadowIDFromWmicOutputRe = regexp.MustCompile(`ShadowID = "([^ "]+)"`)

func parseShadowIDFromWmicOutput(output string) string {
	match := shadowIDFromWmicOutputRe.FindStringSubmatch(output)
	if match == nil {
		return ""
	}

	return match[1]
}

var shadowDeviceFromVssadminOutputRe = regexp.MustCompile(`Shadow Copy Volume: (.+?)\r?$`)

func parseShadowDeviceFromVssadminOutput(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if match := shadowDeviceFromVssadminOutputRe.FindStringSubmatch(line); match != nil {
			return strings.TrimSpace(match[1])
		}
	}

	return ""
}
