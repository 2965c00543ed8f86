package fssnapshot

import (
	"fmt"
	"strings"
	"testing"

	"github.com/function61/gokit/assert"
	"github.com/function61/gokit/logex"
)

const exampleWmicCreateOutput = `Executing (Win32_ShadowCopy)->create()
Method execution successful.
Out Parameters:
instance of __PARAMETERS
{
        ReturnValue = 0;
        ShadowID = "{984628B9-4972-4AF3-8748-E9EC2C810DEC}";
};
`

const exampleVssadminListOutput = `vssadmin 1.1 - Volume Shadow Copy Service administrative command-line tool
(C) Copyright 2001-2013 Microsoft Corp.

Contents of shadow copy set ID: {2caa3819-940a-42ef-a39f-f01f4c75260d}
   Contained 1 shadow copies at creation time: 28/11/2018 15.08.49
      Shadow Copy ID: {984628b9-4972-4af3-8748-e9ec2c810dec}
         Original Volume: (D:)\\?\Volume{10eaffff-0000-0000-0000-602219000000}\
         Shadow Copy Volume: \\?\GLOBALROOT\Device\HarddiskVolumeShadowCopy2
         Originating Machine: examplehost
         Service Machine: examplehost
         Provider: 'Microsoft Software Shadow Copy provider 1.0'
         Type: ClientAccessible
         Attributes: Persistent, Client-accessible, No auto release, No writers, Differential

`

func TestParseShadowIDFromWmicOutput(t *testing.T) {
	assert.EqualString(
		t,
		parseShadowIDFromWmicOutput(exampleWmicCreateOutput),
		"{984628B9-4972-4AF3-8748-E9EC2C810DEC}")

	assert.EqualString(t, parseShadowIDFromWmicOutput("foo"), "")
}

func TestParseShadowDeviceFromVssadminOutput(t *testing.T) {
	assert.EqualString(
		t,
		parseShadowDeviceFromVssadminOutput(exampleVssadminListOutput),
		`\\?\GLOBALROOT\Device\HarddiskVolumeShadowCopy2`)

	assert.EqualString(
		t,
		parseShadowDeviceFromVssadminOutput(strings.ReplaceAll(exampleVssadminListOutput, "\n", "\r\n")),
		`\\?\GLOBALROOT\Device\HarddiskVolumeShadowCopy2`)

	assert.EqualString(t, parseShadowDeviceFromVssadminOutput("foo"), "")
}

func TestWmicSnapshotSequence(t *testing.T) {
	commands := []string{}

	snapshotter := &wmicSnapshotter{
		run: func(name string, args ...string) ([]byte, error) {
			commands = append(commands, name+" "+strings.Join(args, " "))

			switch name {
			case "wmic":
				return []byte(exampleWmicCreateOutput), nil
			case "vssadmin":
				return []byte(exampleVssadminListOutput), nil
			default: // cmd /c mklink ...
				return []byte(""), nil
			}
		},
		log: logex.Levels(logex.Discard),
	}

	snap, err := snapshotter.Snapshot("D:/data/my-cool-origin")
	assert.Assert(t, err == nil)

	assert.EqualString(t, snap.ID, "{984628B9-4972-4AF3-8748-E9EC2C810DEC}")
	assert.EqualString(t, snap.Device, `\\?\GLOBALROOT\Device\HarddiskVolumeShadowCopy2`)

	assert.EqualString(t, commands[0], `wmic shadowcopy call create Volume="D:\"`)
	assert.EqualString(t, commands[1], "vssadmin list shadows /Shadow={984628B9-4972-4AF3-8748-E9EC2C810DEC}")
	assert.Assert(t, strings.HasPrefix(commands[2], "cmd /c mklink /D "))
	assert.Assert(t, strings.HasSuffix(commands[2], `\\?\GLOBALROOT\Device\HarddiskVolumeShadowCopy2\`))

	assert.Assert(t, snapshotter.Release(*snap) != nil) // mount path was never actually made

	assert.EqualString(
		t,
		commands[3],
		"vssadmin delete shadows /Quiet /Shadow={984628B9-4972-4AF3-8748-E9EC2C810DEC}")
}

func TestVolumeFromPath(t *testing.T) {
	volume, err := volumeFromPath("C:/windows")
	assert.Assert(t, err == nil)
	assert.EqualString(t, volume, "C:")

	volume, err = volumeFromPath("d:/games")
	assert.Assert(t, err == nil)
	assert.EqualString(t, volume, "D:")

	_, err = volumeFromPath("/home/example")
	assert.EqualString(t, err.Error(), `cannot derive volume from path: "/home/example"`)
}

func TestOriginPathInSnapshotForWindows(t *testing.T) {
	assert.EqualString(
		t,
		originPathInSnapshot("D:/data/my-cool-origin", "D:/", "D:/snapshots/mysnapshot"),
		"D:/snapshots/mysnapshot/data/my-cool-origin")
}
