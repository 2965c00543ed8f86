//go:build linux

package fssnapshot

import (
	"testing"

	"github.com/function61/gokit/assert"
	"github.com/prometheus/procfs"
)

func TestLongestMatchingMount(t *testing.T) {
	mounts := []*procfs.Mount{
		{Mount: "/home"},
		{Mount: "/"},
		{Mount: "/var/logs"},
	}

	assert.EqualString(t, longestMatchingMount("/home/vagrant", mounts).Mount, "/home")
	assert.EqualString(t, longestMatchingMount("/home", mounts).Mount, "/home")
	assert.EqualString(t, longestMatchingMount("/root/.ssh/authorized_keys", mounts).Mount, "/")
	assert.EqualString(t, longestMatchingMount("/var/logs/httpd/access.log", mounts).Mount, "/var/logs")
	assert.Assert(t, longestMatchingMount("x", mounts) == nil)
}

func TestDevicePathFromLvsOutput(t *testing.T) {
	output := []byte(`  root   /dev/vagrant-vg/root
  snap1  /dev/vagrant-vg/snap1
  swap_1 /dev/vagrant-vg/swap_1
`)

	assert.EqualString(t, devicePathFromLvsOutput("root", output), "/dev/vagrant-vg/root")
	assert.EqualString(t, devicePathFromLvsOutput("snap1", output), "/dev/vagrant-vg/snap1")
	assert.EqualString(t, devicePathFromLvsOutput("swap_1", output), "/dev/vagrant-vg/swap_1")
	assert.EqualString(t, devicePathFromLvsOutput("notfound", output), "")
}
