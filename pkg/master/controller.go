package master

import (
	"fmt"
	"sort"
	"sync"
	"time"

	mdnode "github.com/gn10/mdnode"
	"github.com/gn10/mdnode/pkg/protocol"
	log "github.com/sirupsen/logrus"
)

// Identifier bits selecting frames from motor drivers to the master
var (
	rxIdent = uint32(protocol.EncodeID(protocol.ToMaster, protocol.MotorDriver, 0, 0))
	rxMask  = uint32(protocol.EncodeID(protocol.ToMaster, protocol.Other, 0, 0))
)

// Latest known values of a motor driver
type BoardSnapshot struct {
	ID          uint8             `json:"id"`
	WaitConfig  bool              `json:"wait_config"`
	Feedback    float32           `json:"feedback"`
	LimitSwitch uint8             `json:"limit_switch"`
	LoadCurrent float32           `json:"load_current"`
	Temperature int8              `json:"temperature"`
	Gains       protocol.PidGains `json:"gains"`
	Frames      uint32            `json:"frames"`
	LastSeen    time.Time         `json:"last_seen"`
}

type slot struct {
	data  [mdnode.MaxDLC]byte
	n     int
	fresh bool
}

func (s *slot) store(payload []byte) {
	s.n = copy(s.data[:], payload)
	s.fresh = true
}

func (s *slot) take() ([]byte, bool) {
	if !s.fresh {
		return nil, false
	}
	s.fresh = false
	out := make([]byte, s.n)
	copy(out, s.data[:s.n])
	return out, true
}

type board struct {
	seen     bool
	slots    [protocol.KindCount]slot
	gains    [protocol.GainChannelCount]slot
	snapshot BoardSnapshot
}

// Controller is the master side of the motor driver protocol. It sends
// configurations, targets, gains and commands and keeps the last frames
// received from every board.
type Controller struct {
	*mdnode.BusManager
	mu         sync.Mutex
	logger     *log.Entry
	format     protocol.TargetFormat
	boards     [protocol.MaxBoards]board
	errors     uint32
	onUpdate   []func(BoardSnapshot)
	onError    func(err error)
	autoConfig *protocol.MotorConfig
	now        func() time.Time
}

// Create a master on an already connected bus
func New(bus mdnode.Bus, format protocol.TargetFormat, logger *log.Entry) (*Controller, error) {
	if bus == nil {
		return nil, mdnode.ErrIllegalArgument
	}
	if logger == nil {
		logger = log.WithField("service", "[MASTER]")
	}
	bm := mdnode.NewBusManager(bus, logger.WithField("service", "[BUS]"))
	if err := bus.Subscribe(bm); err != nil {
		return nil, fmt.Errorf("failed to subscribe to bus : %w", err)
	}
	c := &Controller{BusManager: bm, logger: logger, format: format, now: time.Now}
	if err := bm.Subscribe(rxIdent, rxMask, false, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Controller) Format() protocol.TargetFormat {
	return c.format
}

// Add a callback called after every accepted frame, from the reception
// goroutine. Callbacks must not block.
func (c *Controller) OnUpdate(callback func(BoardSnapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUpdate = append(c.onUpdate, callback)
}

// Register a callback called for every dropped frame
func (c *Controller) OnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Send cfg to every board reporting that it waits for its configuration,
// nil disables
func (c *Controller) AutoConfigure(cfg *protocol.MotorConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoConfig = cfg
}

func (c *Controller) Errors() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Implements [mdnode.FrameListener]
func (c *Controller) Handle(frame mdnode.Frame) {
	if frame.ID&(mdnode.CanRtrFlag|mdnode.CanEffFlag) != 0 {
		return
	}
	addr := protocol.DecodeID(uint16(frame.ID & mdnode.CanSffMask))
	if addr.Direction != protocol.ToMaster || addr.BoardType != protocol.MotorDriver {
		return
	}
	payload := frame.Payload()
	c.mu.Lock()
	err := c.store(addr, payload)
	if err != nil {
		c.errors++
		callback := c.onError
		c.mu.Unlock()
		c.logger.Warnf("dropped frame from %v : %v", addr, err)
		if callback != nil {
			callback(err)
		}
		return
	}
	snapshot := c.boards[addr.BoardID].snapshot
	updates := c.onUpdate
	var config *protocol.MotorConfig
	if addr.Kind == protocol.KindInit && c.autoConfig != nil {
		cfg := *c.autoConfig
		config = &cfg
	}
	c.mu.Unlock()

	if config != nil {
		c.logger.Infof("board %v waits for its configuration, sending %v", addr.BoardID, config)
		if err := c.SendConfig(addr.BoardID, *config); err != nil {
			c.logger.Warnf("failed to configure board %v : %v", addr.BoardID, err)
		}
	}
	for _, update := range updates {
		update(snapshot)
	}
}

func (c *Controller) store(addr protocol.Address, payload []byte) error {
	if err := protocol.CheckLength(protocol.ToMaster, addr.Kind, len(payload)); err != nil {
		return err
	}
	b := &c.boards[addr.BoardID]
	snap := &b.snapshot
	switch addr.Kind {
	case protocol.KindInit:
		if _, err := protocol.DecodeInitReport(payload); err != nil {
			return err
		}
		snap.WaitConfig = true
	case protocol.KindTarget:
		value, err := protocol.DecodeTarget(payload)
		if err != nil {
			return err
		}
		snap.Feedback = value
	case protocol.KindLimitSwitch:
		bits, err := protocol.DecodeLimitSwitch(payload)
		if err != nil {
			return err
		}
		snap.LimitSwitch = bits
	case protocol.KindGain:
		ch, value, err := protocol.DecodeGain(payload)
		if err != nil {
			return err
		}
		_ = snap.Gains.Set(ch, value)
		b.gains[ch].store(payload)
	case protocol.KindFeedback:
		var fb protocol.Feedback
		if err := fb.UnmarshalBinary(payload); err != nil {
			return err
		}
		snap.Feedback = fb.Value
		snap.LimitSwitch = fb.LimitSwitch
		snap.WaitConfig = false
	case protocol.KindStatus:
		var st protocol.Status
		if err := st.UnmarshalBinary(payload); err != nil {
			return err
		}
		snap.LoadCurrent = st.LoadCurrent
		snap.Temperature = st.Temperature
	default:
		return fmt.Errorf("%w : %v", protocol.ErrUnknownKind, addr.Kind)
	}
	b.slots[addr.Kind].store(payload)
	b.seen = true
	snap.ID = addr.BoardID
	snap.Frames++
	snap.LastSeen = c.now()
	return nil
}

func (c *Controller) send(id uint8, kind protocol.Kind, payload []byte) error {
	if id >= protocol.MaxBoards {
		return fmt.Errorf("%w : board id %v", mdnode.ErrIllegalArgument, id)
	}
	ident := protocol.EncodeID(protocol.ToSlave, protocol.MotorDriver, id, kind)
	return c.Send(mdnode.NewFrameWithData(uint32(ident), payload))
}

func (c *Controller) SendConfig(id uint8, cfg protocol.MotorConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, _ := cfg.MarshalBinary()
	return c.send(id, protocol.KindInit, payload)
}

// Target in the format of the controller
func (c *Controller) SendTarget(id uint8, value float32) error {
	return c.send(id, protocol.KindTarget, protocol.EncodeTarget(c.format, value))
}

// Targets of the boards of one group, values[i] goes to board group*size+i
func (c *Controller) SendMultiTarget(group uint8, values ...float32) error {
	payload, err := protocol.EncodeMultiTarget(c.format, values...)
	if err != nil {
		return err
	}
	return c.send(group, protocol.KindMultiTarget, payload)
}

func (c *Controller) SendGain(id uint8, ch protocol.GainChannel, value float32) error {
	payload, err := protocol.EncodeGain(ch, value)
	if err != nil {
		return err
	}
	return c.send(id, protocol.KindGain, payload)
}

// Send the three gains, one frame per channel
func (c *Controller) SendGains(id uint8, gains protocol.PidGains) error {
	for ch := protocol.GainChannel(0); ch < protocol.GainChannelCount; ch++ {
		if err := c.SendGain(id, ch, gains.Get(ch)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) SendCommand(id uint8, cmd protocol.Command, arg uint8) error {
	return c.send(id, protocol.KindCommand, protocol.EncodeCommand(cmd, arg))
}

// Forward limit switch bits read by the master to a board
func (c *Controller) SendLimitSwitch(id uint8, bits uint8) error {
	return c.send(id, protocol.KindLimitSwitch, protocol.EncodeLimitSwitch(bits))
}

func (c *Controller) take(id uint8, kind protocol.Kind) ([]byte, bool) {
	if id >= protocol.MaxBoards {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boards[id].slots[kind].take()
}

// Board kind of an unread init report
func (c *Controller) TakeInit(id uint8) (protocol.BoardType, bool) {
	payload, ok := c.take(id, protocol.KindInit)
	if !ok {
		return 0, false
	}
	bt, err := protocol.DecodeInitReport(payload)
	return bt, err == nil
}

func (c *Controller) TakeFeedback(id uint8) (protocol.Feedback, bool) {
	var fb protocol.Feedback
	payload, ok := c.take(id, protocol.KindFeedback)
	if !ok {
		return fb, false
	}
	return fb, fb.UnmarshalBinary(payload) == nil
}

func (c *Controller) TakeStatus(id uint8) (protocol.Status, bool) {
	var st protocol.Status
	payload, ok := c.take(id, protocol.KindStatus)
	if !ok {
		return st, false
	}
	return st, st.UnmarshalBinary(payload) == nil
}

func (c *Controller) TakeLimitSwitch(id uint8) (uint8, bool) {
	payload, ok := c.take(id, protocol.KindLimitSwitch)
	if !ok {
		return 0, false
	}
	bits, err := protocol.DecodeLimitSwitch(payload)
	return bits, err == nil
}

// Unread gain echo of one channel
func (c *Controller) TakeGain(id uint8, ch protocol.GainChannel) (float32, bool) {
	if id >= protocol.MaxBoards || !ch.Valid() {
		return 0, false
	}
	c.mu.Lock()
	payload, ok := c.boards[id].gains[ch].take()
	c.mu.Unlock()
	if !ok {
		return 0, false
	}
	_, value, err := protocol.DecodeGain(payload)
	return value, err == nil
}

// Snapshot of a board, false if nothing was received from it yet
func (c *Controller) Snapshot(id uint8) (BoardSnapshot, bool) {
	if id >= protocol.MaxBoards {
		return BoardSnapshot{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.boards[id]
	return b.snapshot, b.seen
}

// Snapshots of every board seen, ordered by id
func (c *Controller) Snapshots() []BoardSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]BoardSnapshot, 0)
	for _, b := range c.boards {
		if b.seen {
			out = append(out, b.snapshot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
