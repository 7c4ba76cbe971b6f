package master

import (
	"sync"
	"testing"
	"time"

	mdnode "github.com/gn10/mdnode"
	"github.com/gn10/mdnode/pkg/can/loopback"
	"github.com/gn10/mdnode/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Raw endpoint standing for the boards
type boardSide struct {
	mu     sync.Mutex
	bus    *loopback.Bus
	frames []mdnode.Frame
}

func (b *boardSide) Handle(frame mdnode.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, frame)
}

func (b *boardSide) received() []mdnode.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]mdnode.Frame{}, b.frames...)
}

func (b *boardSide) send(id uint8, kind protocol.Kind, payload []byte) {
	ident := protocol.EncodeID(protocol.ToMaster, protocol.MotorDriver, id, kind)
	_ = b.bus.Send(mdnode.NewFrameWithData(uint32(ident), payload))
}

func newController(t *testing.T, format protocol.TargetFormat) (*Controller, *boardSide) {
	hub := loopback.NewHub()
	masterBus := hub.Open()
	require.Nil(t, masterBus.Connect())
	side := &boardSide{bus: hub.Open()}
	require.Nil(t, side.bus.Connect())
	require.Nil(t, side.bus.Subscribe(side))
	c, err := New(masterBus, format, nil)
	require.Nil(t, err)
	return c, side
}

func TestSend(t *testing.T) {
	c, side := newController(t, protocol.FormatInt16)
	cfg := protocol.MotorConfig{MaxOutput: 3199, MaxAcceleration: 50, ControlPeriodMs: 1, EncoderPeriodMs: 10}
	assert.Nil(t, c.SendConfig(3, cfg))
	assert.Nil(t, c.SendTarget(3, -1200))
	assert.Nil(t, c.SendMultiTarget(1, 10, 20, 30, 40))
	assert.Nil(t, c.SendGains(3, protocol.PidGains{Kp: 1, Ki: 2, Kd: 3}))
	assert.Nil(t, c.SendCommand(3, protocol.CommandSetMode, 1))
	assert.Nil(t, c.SendLimitSwitch(3, 0b01))

	frames := side.received()
	require.Len(t, frames, 8)
	kinds := []protocol.Kind{}
	for _, frame := range frames {
		addr := protocol.DecodeID(uint16(frame.ID))
		assert.Equal(t, protocol.ToSlave, addr.Direction)
		assert.Equal(t, protocol.MotorDriver, addr.BoardType)
		kinds = append(kinds, addr.Kind)
	}
	assert.Equal(t, []protocol.Kind{
		protocol.KindInit, protocol.KindTarget, protocol.KindMultiTarget,
		protocol.KindGain, protocol.KindGain, protocol.KindGain,
		protocol.KindCommand, protocol.KindLimitSwitch,
	}, kinds)

	var decoded protocol.MotorConfig
	assert.Nil(t, decoded.UnmarshalBinary(frames[0].Payload()))
	assert.Equal(t, cfg, decoded)
	target, err := protocol.DecodeTarget(frames[1].Payload())
	assert.Nil(t, err)
	assert.EqualValues(t, -1200, target)
	assert.EqualValues(t, 1, protocol.DecodeID(uint16(frames[2].ID)).BoardID)
	slot, err := protocol.DecodeMultiTargetSlot(protocol.FormatInt16, frames[2].Payload(), 2)
	assert.Nil(t, err)
	assert.EqualValues(t, 30, slot)
	ch, gain, err := protocol.DecodeGain(frames[5].Payload())
	assert.Nil(t, err)
	assert.Equal(t, protocol.GainD, ch)
	assert.EqualValues(t, 3, gain)
}

func TestSendFloatFormat(t *testing.T) {
	c, side := newController(t, protocol.FormatFloat)
	assert.Equal(t, protocol.FormatFloat, c.Format())
	assert.Nil(t, c.SendTarget(0, 12.5))
	assert.Error(t, c.SendMultiTarget(0, 1, 2, 3))
	frames := side.received()
	require.Len(t, frames, 1)
	assert.Len(t, frames[0].Payload(), 4)
}

func TestSendErrors(t *testing.T) {
	c, _ := newController(t, protocol.FormatInt16)
	assert.ErrorIs(t, c.SendTarget(16, 1), mdnode.ErrIllegalArgument)
	assert.ErrorIs(t, c.SendConfig(0, protocol.MotorConfig{LimitSwitchBehavior: 7}), protocol.ErrConfig)
	assert.ErrorIs(t, c.SendGain(0, protocol.GainChannel(3), 1), protocol.ErrGainChannel)
}

func TestReceive(t *testing.T) {
	c, side := newController(t, protocol.FormatInt16)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	updates := []BoardSnapshot{}
	c.OnUpdate(func(s BoardSnapshot) { updates = append(updates, s) })

	feedback, _ := protocol.Feedback{Value: 42.5, LimitSwitch: 0b10}.MarshalBinary()
	side.send(4, protocol.KindFeedback, feedback)
	status, _ := protocol.Status{LoadCurrent: 2.5, Temperature: -4}.MarshalBinary()
	side.send(4, protocol.KindStatus, status)
	gain, _ := protocol.EncodeGain(protocol.GainI, 0.5)
	side.send(4, protocol.KindGain, gain)
	side.send(9, protocol.KindInit, protocol.EncodeInitReport(protocol.MotorDriver))

	fb, ok := c.TakeFeedback(4)
	assert.True(t, ok)
	assert.EqualValues(t, 42.5, fb.Value)
	_, ok = c.TakeFeedback(4)
	assert.False(t, ok, "slots are read and cleared")

	st, ok := c.TakeStatus(4)
	assert.True(t, ok)
	assert.EqualValues(t, -4, st.Temperature)

	v, ok := c.TakeGain(4, protocol.GainI)
	assert.True(t, ok)
	assert.EqualValues(t, 0.5, v)
	_, ok = c.TakeGain(4, protocol.GainP)
	assert.False(t, ok)

	bt, ok := c.TakeInit(9)
	assert.True(t, ok)
	assert.Equal(t, protocol.MotorDriver, bt)
	_, ok = c.TakeLimitSwitch(4)
	assert.False(t, ok)

	snap, ok := c.Snapshot(4)
	require.True(t, ok)
	assert.Equal(t, BoardSnapshot{
		ID:          4,
		Feedback:    42.5,
		LimitSwitch: 0b10,
		LoadCurrent: 2.5,
		Temperature: -4,
		Gains:       protocol.PidGains{Ki: 0.5},
		Frames:      3,
		LastSeen:    now,
	}, snap)

	snaps := c.Snapshots()
	require.Len(t, snaps, 2)
	assert.EqualValues(t, 4, snaps[0].ID)
	assert.EqualValues(t, 9, snaps[1].ID)
	assert.True(t, snaps[1].WaitConfig)
	assert.Len(t, updates, 4)

	_, ok = c.Snapshot(5)
	assert.False(t, ok)
}

func TestReceiveErrors(t *testing.T) {
	c, side := newController(t, protocol.FormatInt16)
	errs := []error{}
	c.OnError(func(err error) { errs = append(errs, err) })

	side.send(1, protocol.KindFeedback, []byte{1, 2, 3})
	side.send(1, protocol.KindGain, []byte{7, 0, 0, 0, 0})
	side.send(1, protocol.KindCommand, []byte{0, 0})
	// Frames to the boards and from other board types are not for the master
	ident := protocol.EncodeID(protocol.ToSlave, protocol.MotorDriver, 1, protocol.KindTarget)
	_ = side.bus.Send(mdnode.NewFrameWithData(uint32(ident), []byte{1, 0}))
	ident = protocol.EncodeID(protocol.ToMaster, protocol.Servo, 1, protocol.KindLimitSwitch)
	_ = side.bus.Send(mdnode.NewFrameWithData(uint32(ident), []byte{1}))

	assert.EqualValues(t, 3, c.Errors())
	require.Len(t, errs, 3)
	assert.ErrorIs(t, errs[0], protocol.ErrLength)
	assert.ErrorIs(t, errs[1], protocol.ErrGainChannel)
	assert.ErrorIs(t, errs[2], protocol.ErrUnknownKind)
	_, ok := c.Snapshot(1)
	assert.False(t, ok)
}

func TestAutoConfigure(t *testing.T) {
	c, side := newController(t, protocol.FormatInt16)
	cfg := protocol.MotorConfig{MaxOutput: 1000, MaxAcceleration: 10, ControlPeriodMs: 1, EncoderPeriodMs: 1}
	c.AutoConfigure(&cfg)
	side.send(6, protocol.KindInit, protocol.EncodeInitReport(protocol.MotorDriver))

	frames := side.received()
	require.Len(t, frames, 1)
	addr := protocol.DecodeID(uint16(frames[0].ID))
	assert.Equal(t, protocol.Address{Direction: protocol.ToSlave, BoardType: protocol.MotorDriver, BoardID: 6, Kind: protocol.KindInit}, addr)

	c.AutoConfigure(nil)
	side.send(6, protocol.KindInit, protocol.EncodeInitReport(protocol.MotorDriver))
	assert.Len(t, side.received(), 1)
}
