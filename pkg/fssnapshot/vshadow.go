package fssnapshot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"

	"github.com/function61/gokit/logex"
	"github.com/function61/peili/pkg/drivealias"
)

// Windows snapshots via vshadow.exe (Volume Shadow Copy SDK tool).
//
// vshadow is asked for a persistent snapshot ("-p"), and instead of scraping its
// (localized) console output we have it write the shadow copy's ID and device path
// into a generated SETVAR script file which we then parse and delete. the shadow
// device itself is not browseable as-is, so it gets bound to a drive letter.

type aliasBinder interface {
	Bind(letter string, device string) (*drivealias.Alias, error)
	Unbind(ctx context.Context, alias drivealias.Alias) error
}

func VshadowSnapshotter(aliasLetter string, logger *log.Logger) Snapshotter {
	return &vshadowSnapshotter{
		aliasLetter: aliasLetter,
		binder:      drivealias.New(logger),
		run:         runCommandViaExec,
		log:         logex.Levels(logex.NonNil(logger)),
	}
}

type vshadowSnapshotter struct {
	aliasLetter string
	binder      aliasBinder
	run         runCommandFn
	log         *logex.Leveled
}

func (v *vshadowSnapshotter) Snapshot(path string) (*Snapshot, error) {
	volume, err := volumeFromPath(path)
	if err != nil {
		return nil, err
	}

	scriptPath, err := setvarScriptTempPath()
	if err != nil {
		return nil, err
	}
	defer os.Remove(scriptPath) // the script contains nothing worth keeping around

	// "-nw" = no writer involvement. we only read files out of the snapshot, so
	// there's no point in the slower full writer dance.
	createOutput, err := v.run(
		"vshadow",
		"-p",
		"-nw",
		"-script="+windowsPath(scriptPath),
		volume)
	if err != nil {
		return nil, fmt.Errorf(
			"vshadow create failed: %v, output: %s",
			err,
			createOutput)
	}

	script, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("reading generated script: %v", err)
	}

	shadowID, shadowDevice, err := parseSetvarScript(string(script))
	if err != nil {
		return nil, err
	}

	completedSuccesfully := false

	defer func() {
		if completedSuccesfully {
			return
		}

		v.log.Info.Printf("cleaning up snapshot %s", shadowID)

		if err := v.deleteShadow(shadowID); err != nil {
			v.log.Error.Printf("deleteShadow: %v", err)
		}
	}()

	alias, err := v.binder.Bind(v.aliasLetter, shadowDevice)
	if err != nil {
		return nil, err
	}

	completedSuccesfully = true // cancel cleanups

	return &Snapshot{
		ID:                    shadowID,
		Device:                shadowDevice,
		OriginPath:            path,
		OriginInSnapshotPath:  originPathInSnapshot(path, volume+"/", alias.Root()),
		SnapshotRootMountPath: alias.Root(),
	}, nil
}

func (v *vshadowSnapshotter) Release(snap Snapshot) error {
	letter := strings.TrimSuffix(snap.SnapshotRootMountPath, ":/")

	if err := v.binder.Unbind(context.Background(), drivealias.Alias{
		Letter: letter,
		Device: snap.Device,
	}); err != nil {
		return err
	}

	return v.deleteShadow(snap.ID)
}

func (v *vshadowSnapshotter) deleteShadow(shadowID string) error {
	deleteOutput, err := v.run("vshadow", "-ds="+shadowID)
	if err != nil {
		return fmt.Errorf(
			"vshadow delete for %s failed: %v, output: %s",
			shadowID,
			err,
			deleteOutput)
	}

	return nil
}

// vshadow writes the file for cmd.exe consumption, but creating it ourselves first
// gives us a collision-safe name to hand over
func setvarScriptTempPath() (string, error) {
	script, err := os.CreateTemp("", "vshadow-setvar-*.cmd")
	if err != nil {
		return "", err
	}

	if err := script.Close(); err != nil {
		return "", err
	}

	return script.Name(), nil
}

// the generated script looks like:
//
//	@echo.
//	@echo [This script is generated by VSHADOW.EXE for the shadow set {077a9fa1-...}]
//	@echo.
//	SET SHADOW_SET_ID={077a9fa1-...}
//	SET SHADOW_ID_1={f7ac4b3e-...}
//	SET SHADOW_DEVICE_1=\\?\GLOBALROOT\Device\HarddiskVolumeShadowCopy2
//
// we only ever snapshot a single volume, so only the "_1" entries are interesting
var setvarLineRe = regexp.MustCompile(`^@?SET (SHADOW_[A-Z_0-9]+)=(.*?)\r?$`)

func parseSetvarScript(script string) (string, string, error) {
	vars := map[string]string{}

	for _, line := range strings.Split(script, "\n") {
		if match := setvarLineRe.FindStringSubmatch(line); match != nil {
			vars[match[1]] = match[2]
		}
	}

	shadowID := vars["SHADOW_ID_1"]
	shadowDevice := vars["SHADOW_DEVICE_1"]

	if shadowID == "" || shadowDevice == "" {
		return "", "", errors.New("generated script is missing SHADOW_ID_1 / SHADOW_DEVICE_1")
	}

	return shadowID, shadowDevice, nil
}
