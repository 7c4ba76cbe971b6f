package loopback

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	mdnode "github.com/gn10/mdnode"
	can "github.com/gn10/mdnode/pkg/can"
	"github.com/stretchr/testify/assert"
)

type frameRecorder struct {
	frames []mdnode.Frame
}

func (r *frameRecorder) Handle(frame mdnode.Frame) {
	r.frames = append(r.frames, frame)
}

func TestBroadcast(t *testing.T) {
	hub := NewHub()
	a, b, c := hub.Open(), hub.Open(), hub.Open()
	recA, recB, recC := &frameRecorder{}, &frameRecorder{}, &frameRecorder{}
	for bus, rec := range map[*Bus]*frameRecorder{a: recA, b: recB, c: recC} {
		assert.Nil(t, bus.Subscribe(rec))
		assert.Nil(t, bus.Connect())
	}
	frame := mdnode.NewFrameWithData(0x089, []byte{1, 2})
	assert.Nil(t, a.Send(frame))
	assert.Len(t, recA.frames, 0)
	assert.Equal(t, []mdnode.Frame{frame}, recB.frames)
	assert.Equal(t, []mdnode.Frame{frame}, recC.frames)

	t.Run("receive own", func(t *testing.T) {
		a.SetReceiveOwn(true)
		assert.Nil(t, a.Send(frame))
		assert.Len(t, recA.frames, 1)
		assert.Len(t, recB.frames, 2)
		assert.Len(t, recC.frames, 2)
	})

	t.Run("disconnected endpoint", func(t *testing.T) {
		before := len(recC.frames)
		assert.Nil(t, c.Disconnect())
		assert.Nil(t, b.Send(frame))
		assert.Len(t, recC.frames, before)
		assert.Len(t, recA.frames, 2)
		assert.ErrorIs(t, c.Send(frame), mdnode.ErrNotConnected)
	})
}

type countingListener struct {
	count atomic.Int32
}

func (l *countingListener) Handle(frame mdnode.Frame) {
	l.count.Add(1)
}

func TestReceiveOwnConcurrent(t *testing.T) {
	hub := NewHub()
	bus := hub.Open()
	listener := &countingListener{}
	assert.Nil(t, bus.Subscribe(listener))
	assert.Nil(t, bus.Connect())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			bus.SetReceiveOwn(i%2 == 0)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			assert.Nil(t, bus.Send(mdnode.NewFrame(0x100, 0, 0)))
		}
	}()
	wg.Wait()
	assert.LessOrEqual(t, listener.count.Load(), int32(100))
}

func TestSendError(t *testing.T) {
	hub := NewHub()
	bus := hub.Open()
	assert.Nil(t, bus.Connect())
	failure := errors.New("bus off")
	bus.SetSendError(failure)
	assert.ErrorIs(t, bus.Send(mdnode.NewFrame(0x100, 0, 0)), failure)
	bus.SetSendError(nil)
	assert.Nil(t, bus.Send(mdnode.NewFrame(0x100, 0, 0)))
}

func TestRegistrySharesHub(t *testing.T) {
	first, err := can.NewBus("loopback", "test-registry")
	assert.Nil(t, err)
	second, err := can.NewBus("loopback", "test-registry")
	assert.Nil(t, err)
	rec := &frameRecorder{}
	assert.Nil(t, second.Subscribe(rec))
	assert.Nil(t, first.Connect())
	assert.Nil(t, second.Connect())
	assert.Nil(t, first.Send(mdnode.NewFrame(0x200, 0, 0)))
	assert.Len(t, rec.frames, 1)
}
