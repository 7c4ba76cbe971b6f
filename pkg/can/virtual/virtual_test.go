package virtual

import (
	"bytes"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	mdnode "github.com/gn10/mdnode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frameReceiver struct {
	mu     sync.Mutex
	frames []mdnode.Frame
}

func (r *frameReceiver) Handle(frame mdnode.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, frame)
}

func (r *frameReceiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// Minimal broker forwarding every frame to every other client
func startBroker(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.Nil(t, err)
	t.Cleanup(func() { ln.Close() })
	var mu sync.Mutex
	clients := map[net.Conn]struct{}{}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			clients[conn] = struct{}{}
			mu.Unlock()
			go func(conn net.Conn) {
				buf := make([]byte, headerSize+frameSize)
				for {
					if _, err := io.ReadFull(conn, buf); err != nil {
						return
					}
					mu.Lock()
					for other := range clients {
						if other != conn {
							_, _ = other.Write(buf)
						}
					}
					mu.Unlock()
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestEncodeFrame(t *testing.T) {
	frame := mdnode.NewFrameWithData(0x089, []byte{0x10, 0x20})
	raw := encodeFrame(frame)
	assert.Len(t, raw, headerSize+frameSize)
	assert.Equal(t, []byte{0, 0, 0, 14}, raw[:4])
	assert.Equal(t, []byte{0, 0, 0, 0x89}, raw[4:8])

	decoded, err := decodeFrame(raw[4:])
	assert.Nil(t, err)
	assert.Equal(t, frame, decoded)

	decoded, err = readFrame(bytes.NewReader(raw))
	assert.Nil(t, err)
	assert.Equal(t, frame, decoded)
}

func TestDecodeErrors(t *testing.T) {
	_, err := decodeFrame([]byte{0, 1})
	assert.NotNil(t, err)
	_, err = readFrame(bytes.NewReader([]byte{0, 0, 0, 3, 1, 2, 3}))
	assert.NotNil(t, err)
	_, err = readFrame(bytes.NewReader([]byte{0, 0}))
	assert.NotNil(t, err)
}

func TestSendWithoutConnection(t *testing.T) {
	bus, err := NewVirtualCanBus("localhost:18888")
	assert.Nil(t, err)
	err = bus.Send(mdnode.NewFrame(0x100, 0, 0))
	assert.ErrorIs(t, err, mdnode.ErrNotConnected)
	assert.Nil(t, bus.Disconnect())
}

func TestReceiveOwn(t *testing.T) {
	bus, _ := NewVirtualCanBus("localhost:18888")
	vcan := bus.(*Bus)
	vcan.SetReceiveOwn(true)
	receiver := &frameReceiver{}
	assert.Nil(t, vcan.Subscribe(receiver))
	assert.Nil(t, vcan.Send(mdnode.NewFrameWithData(0x111, []byte{1})))
	assert.Equal(t, 1, receiver.count())
	assert.EqualValues(t, 0x111, receiver.frames[0].ID)
}

func TestBroker(t *testing.T) {
	addr := startBroker(t)
	a, _ := NewVirtualCanBus(addr)
	b, _ := NewVirtualCanBus(addr)
	require.Nil(t, a.Connect())
	require.Nil(t, b.Connect())
	defer a.Disconnect()
	defer b.Disconnect()
	receiver := &frameReceiver{}
	require.Nil(t, b.Subscribe(receiver))

	frame := mdnode.NewFrameWithData(0x42, []byte{1, 2, 3})
	// The broker may not have registered b yet
	assert.Eventually(t, func() bool {
		_ = a.Send(frame)
		return receiver.count() > 0
	}, 2*time.Second, 10*time.Millisecond)
	receiver.mu.Lock()
	assert.Equal(t, frame, receiver.frames[0])
	receiver.mu.Unlock()
}
