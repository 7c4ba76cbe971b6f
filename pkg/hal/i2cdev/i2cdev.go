//go:build linux

package i2cdev

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// ioctl request selecting the target address of the next transfers
const i2cSlave = 0x0703

// Linux i2c-dev bus, implements tinygo drivers.I2C
type Bus struct {
	mu      sync.Mutex
	path    string
	fd      int
	address uint16
}

// Open a bus such as /dev/i2c-1
func Open(path string) (*Bus, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %v : %w", path, err)
	}
	return &Bus{path: path, fd: fd, address: 0xFFFF}, nil
}

// Write w then read r from the device at addr. The transfers are
// separate messages, without repeated start.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fd < 0 {
		return fmt.Errorf("%v is closed", b.path)
	}
	if addr != b.address {
		if err := unix.IoctlSetInt(b.fd, i2cSlave, int(addr)); err != nil {
			return fmt.Errorf("select x%x on %v : %w", addr, b.path, err)
		}
		b.address = addr
	}
	if len(w) > 0 {
		n, err := unix.Write(b.fd, w)
		if err != nil {
			return fmt.Errorf("write x%x : %w", addr, err)
		}
		if n != len(w) {
			return fmt.Errorf("write x%x : short write %v/%v", addr, n, len(w))
		}
	}
	if len(r) > 0 {
		n, err := unix.Read(b.fd, r)
		if err != nil {
			return fmt.Errorf("read x%x : %w", addr, err)
		}
		if n != len(r) {
			return fmt.Errorf("read x%x : short read %v/%v", addr, n, len(r))
		}
	}
	return nil
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fd < 0 {
		return nil
	}
	err := unix.Close(b.fd)
	b.fd = -1
	return err
}
