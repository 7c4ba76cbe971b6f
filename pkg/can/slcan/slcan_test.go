package slcan

import (
	"bytes"
	"io"
	"sync"
	"testing"

	mdnode "github.com/gn10/mdnode"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePort struct {
	mu      sync.Mutex
	written bytes.Buffer
	reader  *io.PipeReader
	writer  *io.PipeWriter
}

func newFakePort() *fakePort {
	r, w := io.Pipe()
	return &fakePort{reader: r, writer: w}
}

func (p *fakePort) Read(b []byte) (int, error) { return p.reader.Read(b) }

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *fakePort) Close() error {
	return p.writer.Close()
}

func (p *fakePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

type frameCollector struct {
	frames chan mdnode.Frame
}

func (c *frameCollector) Handle(frame mdnode.Frame) {
	c.frames <- frame
}

func TestSerializeFrame(t *testing.T) {
	raw, err := SerializeFrame(mdnode.NewFrameWithData(0x089, []byte{0x10, 0xAB}))
	assert.Nil(t, err)
	assert.Equal(t, "t0892"+"10AB"+"\r", string(raw))

	raw, err = SerializeFrame(mdnode.Frame{ID: 0x123 | mdnode.CanRtrFlag, DLC: 1})
	assert.Nil(t, err)
	assert.Equal(t, "r1231\r", string(raw))

	raw, err = SerializeFrame(mdnode.Frame{ID: 0x1ABCDE | mdnode.CanEffFlag, DLC: 0})
	assert.Nil(t, err)
	assert.Equal(t, "T001ABCDE0\r", string(raw))

	_, err = SerializeFrame(mdnode.Frame{DLC: 9})
	assert.NotNil(t, err)
}

func TestParseFrame(t *testing.T) {
	frame, err := ParseFrame([]byte("t4A5301FF7E"))
	assert.Nil(t, err)
	assert.EqualValues(t, 0x4A5, frame.ID)
	assert.EqualValues(t, 3, frame.DLC)
	assert.Equal(t, []byte{0x01, 0xFF, 0x7E}, frame.Payload())

	frame, err = ParseFrame([]byte("r1232"))
	assert.Nil(t, err)
	assert.EqualValues(t, 0x123|mdnode.CanRtrFlag, frame.ID)

	for _, bad := range []string{"", "x123", "t12", "t1232AA", "t123901", "tXYZ0"} {
		_, err := ParseFrame([]byte(bad))
		assert.NotNil(t, err, bad)
	}
}

func TestParseChannel(t *testing.T) {
	device, bitrate, err := parseChannel("/dev/ttyACM0")
	assert.Nil(t, err)
	assert.Equal(t, "/dev/ttyACM0", device)
	assert.Equal(t, DefaultBitrate, bitrate)

	_, bitrate, err = parseChannel("/dev/ttyACM0@500000")
	assert.Nil(t, err)
	assert.Equal(t, 500000, bitrate)

	_, err = NewSlcanBus("/dev/ttyACM0@123")
	assert.NotNil(t, err)
}

func TestBusExchange(t *testing.T) {
	port := newFakePort()
	bus := &Bus{device: "fake", bitrate: 500_000, logger: log.WithField("service", "[SLCAN]")}
	bus.open = func() (io.ReadWriteCloser, error) { return port, nil }
	collector := &frameCollector{frames: make(chan mdnode.Frame, 4)}
	require.Nil(t, bus.Subscribe(collector))
	require.Nil(t, bus.Connect())
	assert.Equal(t, "C\rS6\rO\r", port.Written())

	assert.Nil(t, bus.Send(mdnode.NewFrameWithData(0x089, []byte{1})))
	assert.Contains(t, port.Written(), "t089101\r")

	_, err := port.writer.Write([]byte("z\r\at0A1205FF\r"))
	require.Nil(t, err)
	frame := <-collector.frames
	assert.EqualValues(t, 0x0A1, frame.ID)
	assert.Equal(t, []byte{0x05, 0xFF}, frame.Payload())

	assert.Nil(t, bus.Disconnect())
	assert.ErrorIs(t, bus.Send(mdnode.NewFrame(0x100, 0, 0)), mdnode.ErrNotConnected)
}
