package mailbox

import (
	"fmt"
	"sync"

	mdnode "github.com/gn10/mdnode"
	"github.com/gn10/mdnode/pkg/protocol"
)

// Board identity used to filter received frames
type Identity struct {
	BoardType protocol.BoardType
	BoardID   uint8
}

func (id Identity) String() string {
	return fmt.Sprintf("%v#%d", id.BoardType, id.BoardID)
}

type slot struct {
	data  [mdnode.MaxDLC]byte
	dlc   uint8
	fresh bool
}

func (s *slot) store(payload []byte) {
	s.dlc = uint8(copy(s.data[:], payload))
	s.fresh = true
}

func (s *slot) take() ([]byte, bool) {
	if !s.fresh {
		return nil, false
	}
	s.fresh = false
	out := make([]byte, s.dlc)
	copy(out, s.data[:s.dlc])
	return out, true
}

// Single slot buffers per message kind, written from the bus reception
// path and drained once per control cycle. An unconsumed value is
// overwritten by the next frame of the same kind.
type Mailbox struct {
	mu       sync.Mutex
	identity Identity
	format   protocol.TargetFormat
	group    uint8
	position int
	slots    [protocol.KindCount]slot
	gains    [protocol.GainChannelCount]slot
	errors   uint32
	onError  func(err error)
}

func New(identity Identity, format protocol.TargetFormat) *Mailbox {
	group, position := protocol.GroupOf(format, identity.BoardID)
	return &Mailbox{
		identity: identity,
		format:   format,
		group:    group,
		position: position,
	}
}

func (mb *Mailbox) Identity() Identity {
	return mb.identity
}

// Group address and slot of this board within multi target frames
func (mb *Mailbox) Group() (group uint8, position int) {
	return mb.group, mb.position
}

// Register a callback raised on every protocol error, it is called from the
// reception goroutine and must not block
func (mb *Mailbox) OnError(callback func(err error)) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.onError = callback
}

// Number of dropped frames since creation
func (mb *Mailbox) Errors() uint32 {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.errors
}

// Implements [mdnode.FrameListener]
func (mb *Mailbox) Handle(frame mdnode.Frame) {
	if frame.ID&(mdnode.CanRtrFlag|mdnode.CanEffFlag) != 0 {
		return
	}
	addr := protocol.DecodeID(uint16(frame.ID & mdnode.CanSffMask))
	if addr.Direction != protocol.ToSlave || addr.BoardType != mb.identity.BoardType {
		return
	}
	if addr.Kind == protocol.KindMultiTarget {
		if addr.BoardID != mb.group {
			return
		}
	} else if addr.BoardID != mb.identity.BoardID {
		return
	}
	if err := mb.store(addr.Kind, frame.Payload()); err != nil {
		mb.mu.Lock()
		mb.errors++
		callback := mb.onError
		mb.mu.Unlock()
		if callback != nil {
			callback(err)
		}
	}
}

// Validate the payload and copy it to its slot, nothing is stored on error
func (mb *Mailbox) store(kind protocol.Kind, payload []byte) error {
	if err := protocol.CheckLength(protocol.ToSlave, kind, len(payload)); err != nil {
		return err
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()
	switch kind {
	case protocol.KindGain:
		ch := protocol.GainChannel(payload[0])
		if !ch.Valid() {
			return fmt.Errorf("%w : %v", protocol.ErrGainChannel, payload[0])
		}
		mb.gains[ch].store(payload)
	case protocol.KindMultiTarget:
		// Only keep our slice, stored in the target slot as a single target
		value, err := protocol.DecodeMultiTargetSlot(mb.format, payload, mb.position)
		if err != nil {
			return err
		}
		mb.slots[protocol.KindTarget].store(protocol.EncodeTarget(mb.format, value))
	case protocol.KindCommand:
		if _, _, err := protocol.DecodeCommand(payload); err != nil {
			return err
		}
		mb.slots[kind].store(payload)
	default:
		mb.slots[kind].store(payload)
	}
	return nil
}

// Read and clear the slot of a kind, false if nothing new was received
// since the last call. Gain frames are taken with [Mailbox.TakeGain].
func (mb *Mailbox) Take(kind protocol.Kind) ([]byte, bool) {
	if kind >= protocol.KindCount {
		return nil, false
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.slots[kind].take()
}

func (mb *Mailbox) TakeTarget() (float32, bool) {
	payload, ok := mb.Take(protocol.KindTarget)
	if !ok {
		return 0, false
	}
	value, err := protocol.DecodeTarget(payload)
	return value, err == nil
}

func (mb *Mailbox) TakeConfig() (protocol.MotorConfig, bool) {
	var cfg protocol.MotorConfig
	payload, ok := mb.Take(protocol.KindInit)
	if !ok {
		return cfg, false
	}
	return cfg, cfg.UnmarshalBinary(payload) == nil
}

func (mb *Mailbox) TakeGain(ch protocol.GainChannel) (float32, bool) {
	if !ch.Valid() {
		return 0, false
	}
	mb.mu.Lock()
	payload, ok := mb.gains[ch].take()
	mb.mu.Unlock()
	if !ok {
		return 0, false
	}
	_, value, err := protocol.DecodeGain(payload)
	return value, err == nil
}

func (mb *Mailbox) TakeLimitSwitch() (uint8, bool) {
	payload, ok := mb.Take(protocol.KindLimitSwitch)
	if !ok {
		return 0, false
	}
	bits, err := protocol.DecodeLimitSwitch(payload)
	return bits, err == nil
}

func (mb *Mailbox) TakeCommand() (protocol.Command, uint8, bool) {
	payload, ok := mb.Take(protocol.KindCommand)
	if !ok {
		return 0, 0, false
	}
	cmd, arg, err := protocol.DecodeCommand(payload)
	return cmd, arg, err == nil
}
