package slcan

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	mdnode "github.com/gn10/mdnode"
	can "github.com/gn10/mdnode/pkg/can"
	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

// Serial line CAN adapters (CANable, USBtin, ebyte gateways in slcan mode)
// Channel format is "<device>[@<can bitrate>]", e.g. /dev/ttyACM0@1000000

const (
	DefaultBitrate = 1_000_000
	serialBaud     = 115200
)

func init() {
	can.RegisterInterface("slcan", NewSlcanBus)
}

type Bus struct {
	device   string
	bitrate  int
	open     func() (io.ReadWriteCloser, error)
	mu       sync.Mutex
	port     io.ReadWriteCloser
	listener mdnode.FrameListener
	wg       sync.WaitGroup
	logger   *log.Entry
}

func parseChannel(channel string) (string, int, error) {
	device, rate, found := strings.Cut(channel, "@")
	if !found {
		return device, DefaultBitrate, nil
	}
	bitrate, err := strconv.Atoi(rate)
	if err != nil {
		return "", 0, fmt.Errorf("invalid slcan bitrate %q : %w", rate, err)
	}
	return device, bitrate, nil
}

func NewSlcanBus(channel string) (mdnode.Bus, error) {
	device, bitrate, err := parseChannel(channel)
	if err != nil {
		return nil, err
	}
	if _, err := bitrateCommand(bitrate); err != nil {
		return nil, err
	}
	bus := &Bus{
		device:  device,
		bitrate: bitrate,
		logger:  log.WithFields(log.Fields{"service": "[SLCAN]", "channel": device}),
	}
	bus.open = func() (io.ReadWriteCloser, error) {
		return serial.OpenPort(&serial.Config{
			Name:        device,
			Baud:        serialBaud,
			ReadTimeout: 100 * time.Millisecond,
		})
	}
	return bus, nil
}

// "Connect" opens the serial port, configures the bitrate and opens the channel
func (b *Bus) Connect(...any) error {
	port, err := b.open()
	if err != nil {
		return fmt.Errorf("failed to open serial port %s : %w", b.device, err)
	}
	bitrate, _ := bitrateCommand(b.bitrate)
	// Close any channel left open, then configure
	for _, cmd := range [][]byte{{'C', cr}, bitrate, {'O', cr}} {
		if _, err := port.Write(cmd); err != nil {
			port.Close()
			return fmt.Errorf("slcan setup failed : %w", err)
		}
	}
	b.mu.Lock()
	b.port = port
	b.mu.Unlock()
	b.wg.Add(1)
	go b.processIncoming(port)
	b.logger.Infof("channel opened at %v bit/s", b.bitrate)
	return nil
}

// "Disconnect" closes the channel and the serial port
func (b *Bus) Disconnect() error {
	b.mu.Lock()
	port := b.port
	b.port = nil
	b.mu.Unlock()
	if port == nil {
		return nil
	}
	_, _ = port.Write([]byte{'C', cr})
	err := port.Close()
	b.wg.Wait()
	return err
}

// "Send" implementation of Bus interface
func (b *Bus) Send(frame mdnode.Frame) error {
	raw, err := SerializeFrame(frame)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.port == nil {
		return mdnode.ErrNotConnected
	}
	_, err = b.port.Write(raw)
	return err
}

// "Subscribe" implementation of Bus interface
func (b *Bus) Subscribe(listener mdnode.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = listener
	return nil
}

func (b *Bus) processIncoming(port io.Reader) {
	defer b.wg.Done()
	reader := bufio.NewReader(port)
	for {
		line, err := reader.ReadBytes(cr)
		if (err == io.EOF || err == io.ErrNoProgress) && len(line) == 0 {
			// tarm/serial reports a read timeout as EOF with no data
			b.mu.Lock()
			closed := b.port == nil
			b.mu.Unlock()
			if closed {
				return
			}
			continue
		}
		if err != nil && err != io.EOF && err != io.ErrNoProgress {
			b.logger.Debugf("reception stopped : %v", err)
			return
		}
		b.handleLine(line)
	}
}

func (b *Bus) handleLine(line []byte) {
	line = bytes.TrimRight(line, "\r")
	// Errors are reported as a lone BELL without CR
	if trimmed := bytes.TrimLeft(line, "\a"); len(trimmed) != len(line) {
		b.logger.Warn("adapter rejected a command")
		line = trimmed
	}
	if len(line) == 0 {
		return
	}
	switch line[0] {
	case 'z', 'Z':
		// Transmit acknowledgment
		return
	}
	frame, err := ParseFrame(line)
	if err != nil {
		b.logger.Debugf("dropping line : %v", err)
		return
	}
	b.mu.Lock()
	listener := b.listener
	b.mu.Unlock()
	if listener != nil {
		listener.Handle(frame)
	}
}
