package loopback

import (
	"sync"

	mdnode "github.com/gn10/mdnode"
	can "github.com/gn10/mdnode/pkg/can"
)

// In-memory CAN bus, every endpoint opened on a hub sees the frames sent
// by the other endpoints. Delivery is synchronous, Send returns once every
// subscriber handled the frame.

func init() {
	can.RegisterInterface("loopback", NewLoopbackBus)
}

var (
	hubsMu sync.Mutex
	hubs   = make(map[string]*Hub)
)

// Hub connects the endpoints of one simulated CAN network
type Hub struct {
	mu        sync.RWMutex
	endpoints map[*Bus]struct{}
}

func NewHub() *Hub {
	return &Hub{endpoints: make(map[*Bus]struct{})}
}

// Shared hub for a channel name, endpoints created through the registry
// with the same channel are on the same network
func HubFor(channel string) *Hub {
	hubsMu.Lock()
	defer hubsMu.Unlock()
	hub, ok := hubs[channel]
	if !ok {
		hub = NewHub()
		hubs[channel] = hub
	}
	return hub
}

// Open a new endpoint, it only receives frames once connected
func (h *Hub) Open() *Bus {
	return &Bus{hub: h}
}

func (h *Hub) broadcast(sender *Bus, frame mdnode.Frame) {
	h.mu.RLock()
	targets := make([]*Bus, 0, len(h.endpoints))
	for ep := range h.endpoints {
		targets = append(targets, ep)
	}
	h.mu.RUnlock()
	for _, ep := range targets {
		ep.deliver(sender, frame)
	}
}

type Bus struct {
	hub        *Hub
	mu         sync.Mutex
	listener   mdnode.FrameListener
	connected  bool
	receiveOwn bool
	// Forced send error, lets tests emulate a failing transceiver
	sendErr error
}

func NewLoopbackBus(channel string) (mdnode.Bus, error) {
	return HubFor(channel).Open(), nil
}

// "Connect" implementation of Bus interface
func (b *Bus) Connect(...any) error {
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	b.hub.mu.Lock()
	b.hub.endpoints[b] = struct{}{}
	b.hub.mu.Unlock()
	return nil
}

// "Disconnect" implementation of Bus interface
func (b *Bus) Disconnect() error {
	b.hub.mu.Lock()
	delete(b.hub.endpoints, b)
	b.hub.mu.Unlock()
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
	return nil
}

// "Send" implementation of Bus interface
func (b *Bus) Send(frame mdnode.Frame) error {
	b.mu.Lock()
	connected := b.connected
	sendErr := b.sendErr
	b.mu.Unlock()
	if sendErr != nil {
		return sendErr
	}
	if !connected {
		return mdnode.ErrNotConnected
	}
	b.hub.broadcast(b, frame)
	return nil
}

// "Subscribe" implementation of Bus interface
func (b *Bus) Subscribe(listener mdnode.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = listener
	return nil
}

func (b *Bus) deliver(sender *Bus, frame mdnode.Frame) {
	b.mu.Lock()
	listener := b.listener
	skip := sender == b && !b.receiveOwn
	b.mu.Unlock()
	if listener != nil && !skip {
		listener.Handle(frame)
	}
}

func (b *Bus) SetReceiveOwn(receiveOwn bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiveOwn = receiveOwn
}

// Make every following Send fail with err, nil restores normal operation
func (b *Bus) SetSendError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendErr = err
}
