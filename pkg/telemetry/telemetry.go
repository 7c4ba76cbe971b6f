package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gn10/mdnode/pkg/gateway"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultPrefix        = "mdnode"
	DefaultPublishWait   = 500 * time.Millisecond
	DefaultRetryInterval = 5 * time.Second
	qos                  = 0
)

// Subset of [mqtt.Client] used by the bridge
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

type Options struct {
	Broker   string
	ClientID string
}

// Connect to a broker, reconnecting automatically once connected
func Dial(ctx context.Context, opts Options, logger *log.Entry) (mqtt.Client, error) {
	if logger == nil {
		logger = log.WithField("service", "[MQTT]")
	}
	o := mqtt.NewClientOptions()
	o.AddBroker(opts.Broker)
	o.SetClientID(opts.ClientID)
	o.SetAutoReconnect(true)
	o.SetConnectRetry(true)
	o.SetConnectRetryInterval(DefaultRetryInterval)
	o.OnConnect = func(client mqtt.Client) {
		logger.Infof("connected to %v", opts.Broker)
	}
	o.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Warnf("connection lost : %v", err)
	}
	client := mqtt.NewClient(o)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return nil, ctx.Err()
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to %v : %w", opts.Broker, err)
	}
	return client, nil
}

// Bridge publishes the status of the boards of a gateway on
//
//	<prefix>/md/<id>/status
//
// and forwards the messages received on
//
//	<prefix>/md/<id>/target  {"value": 100} or 100
//	<prefix>/md/<id>/command {"command": "start", "argument": 0}
type Bridge struct {
	gw        *gateway.BaseGateway
	client    Client
	prefix    string
	logger    *log.Entry
	published atomic.Uint32
	failed    atomic.Uint32
}

func NewBridge(gw *gateway.BaseGateway, client Client, prefix string, logger *log.Entry) *Bridge {
	if logger == nil {
		logger = log.WithField("service", "[MQTT]")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Bridge{gw: gw, client: client, prefix: strings.TrimSuffix(prefix, "/"), logger: logger}
}

func (b *Bridge) topic(id uint8, leaf string) string {
	return fmt.Sprintf("%s/md/%d/%s", b.prefix, id, leaf)
}

// Board id and leaf of a topic under the prefix
func (b *Bridge) parseTopic(topic string) (uint8, string, error) {
	parts := strings.Split(strings.TrimPrefix(topic, b.prefix+"/"), "/")
	if len(parts) != 3 || parts[0] != "md" {
		return 0, "", fmt.Errorf("unexpected topic %q", topic)
	}
	id, err := gateway.ParseBoardId(parts[1])
	if err != nil {
		return 0, "", err
	}
	return id, parts[2], nil
}

func (b *Bridge) Publish(status gateway.BoardStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return err
	}
	token := b.client.Publish(b.topic(status.ID, "status"), qos, false, payload)
	if !token.WaitTimeout(DefaultPublishWait) {
		b.failed.Add(1)
		return fmt.Errorf("publish of board %v timed out", status.ID)
	}
	if err := token.Error(); err != nil {
		b.failed.Add(1)
		return err
	}
	b.published.Add(1)
	return nil
}

// Published and failed status messages
func (b *Bridge) Stats() (published uint32, failed uint32) {
	return b.published.Load(), b.failed.Load()
}

type targetMessage struct {
	Value *float32 `json:"value"`
}

type commandMessage struct {
	Command  string `json:"command"`
	Argument uint8  `json:"argument"`
}

func (b *Bridge) handle(topic string, payload []byte) error {
	id, leaf, err := b.parseTopic(topic)
	if err != nil {
		return err
	}
	switch leaf {
	case "target":
		msg := targetMessage{}
		if err := json.Unmarshal(payload, &msg); err != nil || msg.Value == nil {
			value, perr := strconv.ParseFloat(strings.TrimSpace(string(payload)), 32)
			if perr != nil {
				return fmt.Errorf("invalid target %q", payload)
			}
			v := float32(value)
			msg.Value = &v
		}
		return b.gw.Target(id, *msg.Value)
	case "command":
		msg := commandMessage{}
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("invalid command %q : %w", payload, err)
		}
		cmd, err := gateway.ParseCommand(msg.Command)
		if err != nil {
			return err
		}
		return b.gw.Command(id, cmd, msg.Argument)
	}
	return fmt.Errorf("unexpected topic %q", topic)
}

func (b *Bridge) onMessage(client mqtt.Client, msg mqtt.Message) {
	if err := b.handle(msg.Topic(), msg.Payload()); err != nil {
		b.logger.Warnf("dropped message on %v : %v", msg.Topic(), err)
	}
}

// Subscribe to the control topics then publish board updates until ctx is
// cancelled
func (b *Bridge) Run(ctx context.Context) error {
	for _, leaf := range []string{"target", "command"} {
		topic := fmt.Sprintf("%s/md/+/%s", b.prefix, leaf)
		token := b.client.Subscribe(topic, qos, b.onMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to subscribe to %v : %w", topic, err)
		}
		b.logger.Infof("subscribed to %v", topic)
	}
	updates, unsubscribe := b.gw.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case status := <-updates:
			if err := b.Publish(status); err != nil {
				b.logger.Warnf("failed to publish status : %v", err)
			}
		}
	}
}
