package http

import (
	"errors"
	"net/http"

	"github.com/gn10/mdnode/pkg/gateway"
	"github.com/gn10/mdnode/pkg/protocol"
)

var errMissingValue = errors.New("missing value")

type ConfigRequest struct {
	protocol.MotorConfig
}

func (c *ConfigRequest) Bind(r *http.Request) error {
	return c.MotorConfig.Validate()
}

type TargetRequest struct {
	Value *float32 `json:"value"`
}

func (t *TargetRequest) Bind(r *http.Request) error {
	if t.Value == nil {
		return errMissingValue
	}
	return nil
}

// Targets of a group, in slot order
type GroupTargetRequest struct {
	Values []float32 `json:"values"`
}

func (g *GroupTargetRequest) Bind(r *http.Request) error {
	if len(g.Values) == 0 {
		return errMissingValue
	}
	return nil
}

type GainRequest struct {
	Channel string   `json:"channel"`
	Value   *float32 `json:"value"`

	channel protocol.GainChannel
}

func (g *GainRequest) Bind(r *http.Request) error {
	if g.Value == nil {
		return errMissingValue
	}
	ch, err := gateway.ParseGainChannel(g.Channel)
	if err != nil {
		return err
	}
	g.channel = ch
	return nil
}

type CommandRequest struct {
	Command  string `json:"command"`
	Argument uint8  `json:"argument"`

	command protocol.Command
}

func (c *CommandRequest) Bind(r *http.Request) error {
	cmd, err := gateway.ParseCommand(c.Command)
	if err != nil {
		return err
	}
	c.command = cmd
	return nil
}

type BoardResponse struct {
	gateway.BoardStatus
}

func (b *BoardResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

// Returned by every accepted request
type AckResponse struct {
	Status string `json:"status"`
}

func (a *AckResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

var ack = &AckResponse{Status: "OK"}
