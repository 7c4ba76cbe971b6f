package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	mdnode "github.com/gn10/mdnode"
	"github.com/gn10/mdnode/pkg/can/loopback"
	"github.com/gn10/mdnode/pkg/gateway"
	"github.com/gn10/mdnode/pkg/master"
	"github.com/gn10/mdnode/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	done := make(chan struct{})
	close(done)
	return &fakeToken{err: err, done: done}
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type fakeClient struct {
	mu         sync.Mutex
	publishErr error
	messages   map[string][][]byte
	handlers   map[string]mqtt.MessageHandler
}

func newFakeClient() *fakeClient {
	return &fakeClient{messages: map[string][][]byte{}, handlers: map[string]mqtt.MessageHandler{}}
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return newToken(c.publishErr)
	}
	c.messages[topic] = append(c.messages[topic], payload.([]byte))
	return newToken(nil)
}

func (c *fakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = callback
	return newToken(nil)
}

func (c *fakeClient) subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[topic]
	return ok
}

func (c *fakeClient) deliver(filter string, topic string, payload string) {
	c.mu.Lock()
	handler := c.handlers[filter]
	c.mu.Unlock()
	handler(nil, &fakeMessage{topic: topic, payload: []byte(payload)})
}

func (c *fakeClient) published(topic string) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte{}, c.messages[topic]...)
}

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

func newBridge(t *testing.T) (*Bridge, *fakeClient, *boardSide) {
	hub := loopback.NewHub()
	masterBus := hub.Open()
	require.Nil(t, masterBus.Connect())
	side := &boardSide{bus: hub.Open()}
	require.Nil(t, side.bus.Connect())
	require.Nil(t, side.bus.Subscribe(side))
	c, err := master.New(masterBus, protocol.FormatInt16, nil)
	require.Nil(t, err)
	client := newFakeClient()
	return NewBridge(gateway.NewBaseGateway(c, 0, nil), client, "robot/", nil), client, side
}

func TestPublish(t *testing.T) {
	b, client, _ := newBridge(t)
	status := gateway.BoardStatus{Online: true}
	status.ID = 7
	status.Feedback = 12.5
	assert.Nil(t, b.Publish(status))

	messages := client.published("robot/md/7/status")
	require.Len(t, messages, 1)
	decoded := gateway.BoardStatus{}
	assert.Nil(t, json.Unmarshal(messages[0], &decoded))
	assert.EqualValues(t, 7, decoded.ID)
	assert.EqualValues(t, 12.5, decoded.Feedback)
	assert.True(t, decoded.Online)

	client.publishErr = assert.AnError
	assert.ErrorIs(t, b.Publish(status), assert.AnError)
	published, failed := b.Stats()
	assert.EqualValues(t, 1, published)
	assert.EqualValues(t, 1, failed)
}

func TestHandle(t *testing.T) {
	b, _, side := newBridge(t)
	assert.Nil(t, b.handle("robot/md/3/target", []byte(`{"value": -250}`)))
	assert.Nil(t, b.handle("robot/md/3/target", []byte(" 40\n")))
	assert.Nil(t, b.handle("robot/md/3/command", []byte(`{"command": "set-mode", "argument": 2}`)))

	frames := side.received()
	require.Len(t, frames, 3)
	target, err := protocol.DecodeTarget(frames[0].Payload())
	assert.Nil(t, err)
	assert.EqualValues(t, -250, target)
	target, _ = protocol.DecodeTarget(frames[1].Payload())
	assert.EqualValues(t, 40, target)
	cmd, arg, err := protocol.DecodeCommand(frames[2].Payload())
	assert.Nil(t, err)
	assert.Equal(t, protocol.CommandSetMode, cmd)
	assert.EqualValues(t, 2, arg)

	assert.NotNil(t, b.handle("robot/md/3/target", []byte("fast")))
	assert.NotNil(t, b.handle("robot/md/3/command", []byte("start")))
	assert.NotNil(t, b.handle("robot/md/3/command", []byte(`{"command": "fly"}`)))
	assert.NotNil(t, b.handle("robot/md/16/target", []byte("1")))
	assert.NotNil(t, b.handle("robot/md/3/gain", []byte("1")))
	assert.NotNil(t, b.handle("robot/other/3/target", []byte("1")))
	assert.Len(t, side.received(), 3)
}

func TestRun(t *testing.T) {
	b, client, side := newBridge(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, func() bool { return client.subscribed("robot/md/+/command") }, time.Second, time.Millisecond)
	client.deliver("robot/md/+/target", "robot/md/1/target", "100")
	assert.Len(t, side.received(), 1)

	// Subscription to the gateway follows the mqtt subscriptions
	payload, _ := protocol.Feedback{Value: 100}.MarshalBinary()
	ident := protocol.EncodeID(protocol.ToMaster, protocol.MotorDriver, 1, protocol.KindFeedback)
	assert.Eventually(t, func() bool {
		_ = side.bus.Send(mdnode.NewFrameWithData(uint32(ident), payload))
		return len(client.published("robot/md/1/status")) > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.Nil(t, <-done)
}
