package gateway

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gn10/mdnode/pkg/master"
	"github.com/gn10/mdnode/pkg/protocol"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultOnlineTimeout    = 1 * time.Second
	DefaultSubscriberBuffer = 64
)

var (
	ErrBoardId      = errors.New("invalid board id")
	ErrGroup        = errors.New("invalid group")
	ErrGainChannel  = errors.New("invalid gain channel")
	ErrCommand      = errors.New("invalid command")
	ErrUnknownBoard = errors.New("board never seen")
)

// Board state as exposed by the gateways
type BoardStatus struct {
	master.BoardSnapshot
	Online bool `json:"online"`
}

// BaseGateway holds what is common to the remote access gateways: a
// master controller, argument parsing and the fan out of board updates
// to the subscribers (websocket clients, telemetry...)
type BaseGateway struct {
	controller    *master.Controller
	logger        *log.Entry
	onlineTimeout time.Duration
	mu            sync.Mutex
	subscribers   map[chan BoardStatus]struct{}
	dropped       uint32
	now           func() time.Time
}

func NewBaseGateway(controller *master.Controller, onlineTimeout time.Duration, logger *log.Entry) *BaseGateway {
	if logger == nil {
		logger = log.WithField("service", "[GATEWAY]")
	}
	if onlineTimeout <= 0 {
		onlineTimeout = DefaultOnlineTimeout
	}
	gw := &BaseGateway{
		controller:    controller,
		logger:        logger,
		onlineTimeout: onlineTimeout,
		subscribers:   make(map[chan BoardStatus]struct{}),
		now:           time.Now,
	}
	controller.OnUpdate(gw.publish)
	return gw
}

func (gw *BaseGateway) Controller() *master.Controller {
	return gw.controller
}

func (gw *BaseGateway) status(snapshot master.BoardSnapshot) BoardStatus {
	return BoardStatus{
		BoardSnapshot: snapshot,
		Online:        gw.now().Sub(snapshot.LastSeen) <= gw.onlineTimeout,
	}
}

// Status of every board seen, ordered by id
func (gw *BaseGateway) Boards() []BoardStatus {
	snapshots := gw.controller.Snapshots()
	out := make([]BoardStatus, len(snapshots))
	for i, snapshot := range snapshots {
		out[i] = gw.status(snapshot)
	}
	return out
}

func (gw *BaseGateway) Board(id uint8) (BoardStatus, error) {
	if id >= protocol.MaxBoards {
		return BoardStatus{}, ErrBoardId
	}
	snapshot, ok := gw.controller.Snapshot(id)
	if !ok {
		return BoardStatus{}, ErrUnknownBoard
	}
	return gw.status(snapshot), nil
}

// Subscribe to board updates. Updates are dropped when the subscriber does
// not keep up. The returned function must be called to unsubscribe.
func (gw *BaseGateway) Subscribe() (<-chan BoardStatus, func()) {
	ch := make(chan BoardStatus, DefaultSubscriberBuffer)
	gw.mu.Lock()
	gw.subscribers[ch] = struct{}{}
	gw.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			gw.mu.Lock()
			delete(gw.subscribers, ch)
			gw.mu.Unlock()
			close(ch)
		})
	}
}

// Number of updates dropped because of slow subscribers
func (gw *BaseGateway) Dropped() uint32 {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return gw.dropped
}

func (gw *BaseGateway) publish(snapshot master.BoardSnapshot) {
	status := gw.status(snapshot)
	gw.mu.Lock()
	defer gw.mu.Unlock()
	for ch := range gw.subscribers {
		select {
		case ch <- status:
		default:
			gw.dropped++
		}
	}
}

func ParseBoardId(s string) (uint8, error) {
	id, err := strconv.ParseUint(s, 0, 8)
	if err != nil || id >= protocol.MaxBoards {
		return 0, fmt.Errorf("%w : %q", ErrBoardId, s)
	}
	return uint8(id), nil
}

// Groups depend on the target format of the master
func (gw *BaseGateway) ParseGroup(s string) (uint8, error) {
	group, err := strconv.ParseUint(s, 0, 8)
	groups := protocol.MaxBoards / protocol.GroupSize(gw.controller.Format())
	if err != nil || int(group) >= groups {
		return 0, fmt.Errorf("%w : %q", ErrGroup, s)
	}
	return uint8(group), nil
}

// Accepts "p", "i", "d" or the channel number
func ParseGainChannel(s string) (protocol.GainChannel, error) {
	switch strings.ToLower(s) {
	case "p", "0":
		return protocol.GainP, nil
	case "i", "1":
		return protocol.GainI, nil
	case "d", "2":
		return protocol.GainD, nil
	}
	return 0, fmt.Errorf("%w : %q", ErrGainChannel, s)
}

// Accepts command names in any case, with '-' or '_' separators
func ParseCommand(s string) (protocol.Command, error) {
	name := strings.ToUpper(strings.ReplaceAll(s, "-", "_"))
	cmd, err := protocol.ParseCommand(name)
	if err != nil {
		return 0, fmt.Errorf("%w : %q", ErrCommand, s)
	}
	return cmd, nil
}

func (gw *BaseGateway) Configure(id uint8, cfg protocol.MotorConfig) error {
	gw.logger.WithField("board", id).Infof("sending configuration %v", cfg)
	return gw.controller.SendConfig(id, cfg)
}

func (gw *BaseGateway) Target(id uint8, value float32) error {
	return gw.controller.SendTarget(id, value)
}

func (gw *BaseGateway) GroupTargets(group uint8, values []float32) error {
	return gw.controller.SendMultiTarget(group, values...)
}

func (gw *BaseGateway) Gain(id uint8, ch protocol.GainChannel, value float32) error {
	gw.logger.WithField("board", id).Debugf("setting gain %v to %v", ch, value)
	return gw.controller.SendGain(id, ch, value)
}

func (gw *BaseGateway) Command(id uint8, cmd protocol.Command, arg uint8) error {
	gw.logger.WithField("board", id).Infof("sending command %v(%v)", cmd, arg)
	return gw.controller.SendCommand(id, cmd, arg)
}
