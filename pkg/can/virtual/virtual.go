package virtual

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	mdnode "github.com/gn10/mdnode"
	can "github.com/gn10/mdnode/pkg/can"
	log "github.com/sirupsen/logrus"
)

// Virtual CAN bus over TCP, runs several boards and a master on one or more
// hosts without CAN hardware. A virtualcan broker forwards every frame to
// all the connected clients : https://github.com/windelbouwman/virtualcan

const (
	// id u32 | flags u8 | dlc u8 | data [8]
	frameSize    = 14
	headerSize   = 4
	writeTimeout = 10 * time.Millisecond
	dialTimeout  = 2 * time.Second
)

func init() {
	can.RegisterInterface("virtual", NewVirtualCanBus)
	can.RegisterInterface("virtualcan", NewVirtualCanBus)
}

type Bus struct {
	logger     *log.Entry
	mu         sync.Mutex
	channel    string
	conn       net.Conn
	receiveOwn bool
	listener   mdnode.FrameListener
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func NewVirtualCanBus(channel string) (mdnode.Bus, error) {
	return &Bus{
		channel: channel,
		logger:  log.WithFields(log.Fields{"service": "[VCAN]", "channel": channel}),
	}, nil
}

// Frames are exchanged big endian, prefixed by their length
func encodeFrame(frame mdnode.Frame) []byte {
	b := make([]byte, headerSize+frameSize)
	binary.BigEndian.PutUint32(b[0:], frameSize)
	binary.BigEndian.PutUint32(b[4:], frame.ID)
	b[8] = frame.Flags
	b[9] = frame.DLC
	copy(b[10:], frame.Data[:])
	return b
}

func decodeFrame(b []byte) (mdnode.Frame, error) {
	if len(b) != frameSize {
		return mdnode.Frame{}, fmt.Errorf("virtual frame of %v bytes, expected %v", len(b), frameSize)
	}
	frame := mdnode.Frame{
		ID:    binary.BigEndian.Uint32(b[0:]),
		Flags: b[4],
		DLC:   b[5],
	}
	copy(frame.Data[:], b[6:])
	return frame, nil
}

// Read one length prefixed frame
func readFrame(r io.Reader) (mdnode.Frame, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return mdnode.Frame{}, err
	}
	length := binary.BigEndian.Uint32(header)
	if length != frameSize {
		return mdnode.Frame{}, fmt.Errorf("virtual frame of %v bytes, expected %v", length, frameSize)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return mdnode.Frame{}, err
	}
	return decodeFrame(body)
}

// "Connect" to the broker e.g. localhost:18888 and start the reception
func (b *Bus) Connect(...any) error {
	conn, err := net.DialTimeout("tcp", b.channel, dialTimeout)
	if err != nil {
		return err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			conn.Close()
			return err
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	b.conn = conn
	b.cancel = cancel
	b.mu.Unlock()
	b.wg.Add(1)
	go b.processIncoming(ctx, conn)
	b.logger.Info("connected to broker")
	return nil
}

// "Disconnect" from the broker and wait for the reception to stop
func (b *Bus) Disconnect() error {
	b.mu.Lock()
	conn, cancel := b.conn, b.cancel
	b.conn, b.cancel = nil, nil
	b.mu.Unlock()
	if conn == nil {
		return nil
	}
	cancel()
	err := conn.Close()
	b.wg.Wait()
	return err
}

// "Send" implementation of Bus interface
func (b *Bus) Send(frame mdnode.Frame) error {
	b.mu.Lock()
	conn, receiveOwn, listener := b.conn, b.receiveOwn, b.listener
	b.mu.Unlock()
	if receiveOwn && listener != nil {
		listener.Handle(frame)
	}
	if conn == nil {
		if receiveOwn {
			return nil
		}
		return mdnode.ErrNotConnected
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := conn.Write(encodeFrame(frame))
	return err
}

// "Subscribe" implementation of Bus interface
func (b *Bus) Subscribe(listener mdnode.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = listener
	return nil
}

func (b *Bus) processIncoming(ctx context.Context, conn net.Conn) {
	defer b.wg.Done()
	reader := bufio.NewReader(conn)
	for {
		frame, err := readFrame(reader)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				b.logger.Errorf("reception stopped : %v", err)
			}
			return
		}
		b.mu.Lock()
		listener := b.listener
		b.mu.Unlock()
		if listener != nil {
			listener.Handle(frame)
		}
	}
}

func (b *Bus) SetReceiveOwn(receiveOwn bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiveOwn = receiveOwn
}
