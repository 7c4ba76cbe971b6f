package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gn10/mdnode/pkg/gateway"
	"github.com/gn10/mdnode/pkg/protocol"
)

const DefaultClientTimeout = 2 * time.Second

// GatewayClient talks to a remote [GatewayServer]
type GatewayClient struct {
	http.Client
	baseURL string
}

func NewGatewayClient(baseURL string) *GatewayClient {
	return &GatewayClient{
		Client:  http.Client{Timeout: DefaultClientTimeout},
		baseURL: strings.TrimSuffix(baseURL, "/") + ApiPrefix,
	}
}

// Send a request and decode the response into out when not nil. Error
// responses are returned as *ErrResponse.
func (c *GatewayClient) Do(method string, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		errResp := &ErrResponse{HTTPStatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(errResp); err != nil {
			errResp.StatusText = http.StatusText(resp.StatusCode)
		}
		return errResp
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *GatewayClient) Boards() ([]gateway.BoardStatus, error) {
	boards := []gateway.BoardStatus{}
	err := c.Do(http.MethodGet, "/boards", nil, &boards)
	return boards, err
}

func (c *GatewayClient) Board(id uint8) (gateway.BoardStatus, error) {
	status := gateway.BoardStatus{}
	err := c.Do(http.MethodGet, fmt.Sprintf("/boards/%d", id), nil, &status)
	return status, err
}

func (c *GatewayClient) SendConfig(id uint8, cfg protocol.MotorConfig) error {
	return c.Do(http.MethodPost, fmt.Sprintf("/boards/%d/config", id), cfg, nil)
}

func (c *GatewayClient) SendTarget(id uint8, value float32) error {
	return c.Do(http.MethodPost, fmt.Sprintf("/boards/%d/target", id), TargetRequest{Value: &value}, nil)
}

func (c *GatewayClient) SendMultiTarget(group uint8, values ...float32) error {
	return c.Do(http.MethodPost, fmt.Sprintf("/groups/%d/targets", group), GroupTargetRequest{Values: values}, nil)
}

func (c *GatewayClient) SendGain(id uint8, ch protocol.GainChannel, value float32) error {
	req := GainRequest{Channel: fmt.Sprint(uint8(ch)), Value: &value}
	return c.Do(http.MethodPost, fmt.Sprintf("/boards/%d/gain", id), req, nil)
}

func (c *GatewayClient) SendCommand(id uint8, cmd protocol.Command, arg uint8) error {
	req := CommandRequest{Command: cmd.String(), Argument: arg}
	return c.Do(http.MethodPost, fmt.Sprintf("/boards/%d/command", id), req, nil)
}
