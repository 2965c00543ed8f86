package fssnapshot

import (
	"testing"

	"github.com/function61/gokit/assert"
)

func TestOriginPathInSnapshot(t *testing.T) {
	sp := "/mnt/snap1"

	assert.EqualString(t, originPathInSnapshot("/home/vagrant/snaptest", "/", sp), "/mnt/snap1/home/vagrant/snaptest")
	assert.EqualString(t, originPathInSnapshot("/home/vagrant/snaptest", "/home", sp), "/mnt/snap1/vagrant/snaptest")
	assert.EqualString(t, originPathInSnapshot("/home/vagrant/snaptest", "/home/vagrant", sp), "/mnt/snap1/snaptest")
	assert.EqualString(t, originPathInSnapshot("/home/vagrant/snaptest", "/home/vagrant/snaptest", sp), "/mnt/snap1")
}

func TestWindowsPath(t *testing.T) {
	assert.EqualString(t, windowsPath("C:/Users/example"), `C:\Users\example`)
	assert.EqualString(t, windowsPath("no slashes"), "no slashes")
}
