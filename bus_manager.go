package mdnode

import (
	"reflect"
	"sync"

	log "github.com/sirupsen/logrus"
)

type subscription struct {
	ident    uint32
	mask     uint32
	listener FrameListener
}

// Bus manager is a wrapper around the CAN bus interface
// Used by the node and master roles to dispatch received frames
// to the listeners of an identifier range and to account for send errors.
type BusManager struct {
	mu            sync.Mutex
	bus           Bus
	subscriptions []subscription
	txCount       uint32
	txErrors      uint32
	rxCount       uint32
	logger        *log.Entry
}

// Implements the FrameListener interface
// This handles all received CAN frames from Bus
func (bm *BusManager) Handle(frame Frame) {
	bm.mu.Lock()
	bm.rxCount++
	matched := make([]FrameListener, 0, len(bm.subscriptions))
	for _, sub := range bm.subscriptions {
		if (frame.ID^sub.ident)&sub.mask == 0 {
			matched = append(matched, sub.listener)
		}
	}
	bm.mu.Unlock()
	// Listeners may send from their handler, do not hold the lock
	for _, listener := range matched {
		listener.Handle(frame)
	}
}

// Set bus
func (bm *BusManager) SetBus(bus Bus) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.bus = bus
}

func (bm *BusManager) Bus() Bus {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.bus
}

// Send a CAN message
// Errors are logged and counted but never retried, callers may try again
// on their next cycle.
func (bm *BusManager) Send(frame Frame) error {
	bm.mu.Lock()
	bus := bm.bus
	bm.mu.Unlock()
	if bus == nil {
		return ErrInvalidState
	}
	err := bus.Send(frame)
	bm.mu.Lock()
	defer bm.mu.Unlock()
	if err != nil {
		bm.txErrors++
		bm.logger.Warnf("[CAN] send x%x failed : %v", frame.ID, err)
		return err
	}
	bm.txCount++
	return nil
}

// Subscribe to an identifier range, a frame matches when
// (frame.ID ^ ident) & mask == 0. A mask of 0 subscribes to every frame.
func (bm *BusManager) Subscribe(ident uint32, mask uint32, rtr bool, callback FrameListener) error {
	if callback == nil {
		return ErrIllegalArgument
	}
	bm.mu.Lock()
	defer bm.mu.Unlock()
	ident = ident & CanSffMask
	mask = mask & CanSffMask
	if rtr {
		ident |= CanRtrFlag
		mask |= CanRtrFlag
	}
	// Func listeners cannot be compared, they are always added
	dedupe := reflect.TypeOf(callback).Comparable()
	for _, sub := range bm.subscriptions {
		if dedupe && sub.ident == ident && sub.mask == mask && sub.listener == callback {
			bm.logger.Warnf("[CAN] callback for frame id x%x already added", ident)
			return nil
		}
	}
	bm.subscriptions = append(bm.subscriptions, subscription{ident: ident, mask: mask, listener: callback})
	return nil
}

// Statistics of the bus since creation
func (bm *BusManager) Stats() (txCount uint32, txErrors uint32, rxCount uint32) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.txCount, bm.txErrors, bm.rxCount
}

func NewBusManager(bus Bus, logger *log.Entry) *BusManager {
	if logger == nil {
		logger = log.WithField("service", "[BUS]")
	}
	bm := &BusManager{
		bus:           bus,
		subscriptions: make([]subscription, 0),
		logger:        logger,
	}
	return bm
}
