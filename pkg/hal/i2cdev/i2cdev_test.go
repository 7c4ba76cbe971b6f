//go:build linux

package i2cdev

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpenMissingDevice(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "i2c-9"))
	assert.Error(t, err)
}

func TestClosedBus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "i2c-0")
	assert.Nil(t, os.WriteFile(path, nil, 0o600))
	bus, err := Open(path)
	assert.Nil(t, err)
	assert.Nil(t, bus.Close())
	assert.Nil(t, bus.Close())
	assert.Error(t, bus.Tx(0x40, []byte{0x01}, make([]byte, 2)))
}

func TestNotAnI2CDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "i2c-1")
	assert.Nil(t, os.WriteFile(path, nil, 0o600))
	bus, err := Open(path)
	assert.Nil(t, err)
	defer bus.Close()
	// A regular file rejects the address ioctl
	assert.Error(t, bus.Tx(0x40, []byte{0x01}, make([]byte, 2)))
}
