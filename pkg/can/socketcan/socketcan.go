package socketcan

import (
	"sync"
	"sync/atomic"

	sockcan "github.com/brutella/can"
	mdnode "github.com/gn10/mdnode"
	can "github.com/gn10/mdnode/pkg/can"
	log "github.com/sirupsen/logrus"
)

// SocketCAN through https://github.com/brutella/can. Motor driver frames
// only use standard identifiers, extended frames are dropped on reception.

func init() {
	can.RegisterInterface("socketcan", NewSocketCanBus)
}

type SocketcanBus struct {
	bus      *sockcan.Bus
	mu       sync.Mutex
	listener mdnode.FrameListener
	dropped  atomic.Uint32
	logger   *log.Entry
}

func NewSocketCanBus(name string) (mdnode.Bus, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(name)
	if err != nil {
		return nil, err
	}
	s := &SocketcanBus{bus: bus, logger: log.WithFields(log.Fields{"service": "[SOCKETCAN]", "channel": name})}
	bus.Subscribe(s)
	return s, nil
}

// "Connect" starts the reception, it runs until Disconnect
func (s *SocketcanBus) Connect(...any) error {
	go func() {
		if err := s.bus.ConnectAndPublish(); err != nil {
			s.logger.Errorf("reception stopped : %v", err)
		}
	}()
	return nil
}

func (s *SocketcanBus) Disconnect() error {
	return s.bus.Disconnect()
}

func (s *SocketcanBus) Send(frame mdnode.Frame) error {
	return s.bus.Publish(toBrutella(frame))
}

func (s *SocketcanBus) Subscribe(listener mdnode.FrameListener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = listener
	return nil
}

// Number of extended frames dropped
func (s *SocketcanBus) Dropped() uint32 {
	return s.dropped.Load()
}

// Implements the brutella/can Handler interface
func (s *SocketcanBus) Handle(frame sockcan.Frame) {
	if frame.ID&mdnode.CanEffFlag != 0 {
		s.dropped.Add(1)
		return
	}
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener != nil {
		listener.Handle(fromBrutella(frame))
	}
}

func toBrutella(frame mdnode.Frame) sockcan.Frame {
	return sockcan.Frame{ID: frame.ID, Length: frame.DLC, Flags: frame.Flags, Data: frame.Data}
}

func fromBrutella(frame sockcan.Frame) mdnode.Frame {
	return mdnode.Frame{ID: frame.ID, DLC: frame.Length, Flags: frame.Flags, Data: frame.Data}
}
