//go:build linux

package socketcanraw

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	mdnode "github.com/gn10/mdnode"
	can "github.com/gn10/mdnode/pkg/can"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Raw SocketCAN bus on top of an AF_CAN socket, without a third party
// CAN wrapper. Kernel side filters can restrict reception to a single board.

const canFrameSize = 16

func init() {
	can.RegisterInterface("socketcanraw", NewBus)
}

type Bus struct {
	fd         int
	mu         sync.Mutex
	rxCallback mdnode.FrameListener
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     *log.Entry
}

// Create a new SocketCAN bus. This expects the CAN channel to be up.
// e.g. running "ip a" should show can0 or something similar.
func NewBus(channel string) (mdnode.Bus, error) {
	iface, err := net.InterfaceByName(channel)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("failed to create CAN socket : %w", err)
	}
	timeout := unix.NsecToTimeval(100_000_000) // 100 ms
	err = unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &timeout)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set read timeout : %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: iface.Index}); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &Bus{fd: fd, logger: log.WithFields(log.Fields{"service": "[SOCKETCANRAW]", "channel": channel})}, nil
}

// Layout of struct can_frame : id(u32) dlc(u8) pad res0 res1 data[8]
func encodeFrame(frame mdnode.Frame) [canFrameSize]byte {
	var raw [canFrameSize]byte
	binary.LittleEndian.PutUint32(raw[0:4], frame.ID)
	raw[4] = frame.DLC
	raw[5] = frame.Flags
	copy(raw[8:], frame.Data[:])
	return raw
}

func decodeFrame(raw []byte) mdnode.Frame {
	frame := mdnode.Frame{
		ID:    binary.LittleEndian.Uint32(raw[0:4]),
		DLC:   raw[4],
		Flags: raw[5],
	}
	copy(frame.Data[:], raw[8:canFrameSize])
	return frame
}

// "Connect" implementation of Bus interface
func (b *Bus) Connect(...any) error {
	var ctx context.Context
	ctx, b.cancel = context.WithCancel(context.Background())
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.processIncoming(ctx)
	}()
	return nil
}

// "Disconnect" implementation of Bus interface
func (b *Bus) Disconnect() error {
	if b.cancel != nil {
		b.cancel()
		b.wg.Wait()
	}
	return unix.Close(b.fd)
}

// "Send" implementation of Bus interface
func (b *Bus) Send(frame mdnode.Frame) error {
	raw := encodeFrame(frame)
	n, err := unix.Write(b.fd, raw[:])
	if err != nil {
		return err
	}
	if n != canFrameSize {
		return mdnode.ErrTxBusy
	}
	return nil
}

func (b *Bus) processIncoming(ctx context.Context) {
	raw := make([]byte, canFrameSize)
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("exiting CAN bus reception, closed")
			return
		default:
		}
		n, err := unix.Read(b.fd, raw)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			continue
		}
		if err != nil {
			b.logger.Errorf("syscall error : %v", err)
			return
		}
		if n != canFrameSize {
			continue
		}
		b.mu.Lock()
		callback := b.rxCallback
		b.mu.Unlock()
		if callback != nil {
			callback.Handle(decodeFrame(raw))
		}
	}
}

// "Subscribe" implementation of Bus interface
func (b *Bus) Subscribe(rxCallback mdnode.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rxCallback = rxCallback
	return nil
}

// Enable own reception on the bus. CAN be useful when testing for example
func (b *Bus) SetReceiveOwn(enabled bool) error {
	enabledInt := 0
	if enabled {
		enabledInt = 1
	}
	b.logger.Infof("setting option 'CAN_RAW_RECV_OWN_MSGS' : %v", enabled)
	return unix.SetsockoptInt(b.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_RECV_OWN_MSGS, enabledInt)
}

// Add some filtering to CAN bus
func (b *Bus) SetFilters(filters []unix.CanFilter) error {
	b.logger.Infof("setting option 'CAN_RAW_FILTER' : %v", filters)
	return unix.SetsockoptCanRawFilter(b.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filters)
}

// Restrict reception to the frames addressed to one board, the identifier
// bits above the kind field are matched exactly.
func BoardFilter(ident uint16, mask uint16) unix.CanFilter {
	return unix.CanFilter{Id: uint32(ident), Mask: uint32(mask) | unix.CAN_EFF_FLAG | unix.CAN_RTR_FLAG}
}
