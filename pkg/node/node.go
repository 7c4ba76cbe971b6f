package node

import (
	"context"
	"fmt"

	mdnode "github.com/gn10/mdnode"
	"github.com/gn10/mdnode/pkg/config"
	"github.com/gn10/mdnode/pkg/mailbox"
	"github.com/gn10/mdnode/pkg/motor"
	"github.com/gn10/mdnode/pkg/protocol"
	log "github.com/sirupsen/logrus"
)

// A [Node] is one motor driver board on the bus : it receives the master
// frames in its mailbox and runs the motor manager at the control period.
type Node struct {
	*mdnode.BusManager
	logger    *log.Entry
	id        uint8
	mailbox   *mailbox.Mailbox
	manager   *motor.Manager
	processor *motor.Processor
}

// Create a node on an already connected bus
func New(bus mdnode.Bus, cfg config.Config, hw motor.Hardware, logger *log.Entry) (*Node, error) {
	if bus == nil {
		return nil, mdnode.ErrIllegalArgument
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration : %w", err)
	}
	format, err := cfg.TargetFormat()
	if err != nil {
		return nil, err
	}
	managerConfig := cfg.ManagerConfig()
	if logger == nil {
		logger = log.WithFields(log.Fields{"service": "[NODE]", "id": managerConfig.BoardID})
	}
	bm := mdnode.NewBusManager(bus, logger.WithField("service", "[BUS]"))
	if err := bus.Subscribe(bm); err != nil {
		return nil, fmt.Errorf("failed to subscribe to bus : %w", err)
	}
	mb := mailbox.New(mailbox.Identity{BoardType: managerConfig.BoardType, BoardID: managerConfig.BoardID}, format)
	mb.OnError(func(err error) {
		logger.Warnf("dropped frame : %v", err)
	})
	// Filtering on board id is done by the mailbox, multi target frames use the group id
	if err := bm.Subscribe(0, 0, false, mb); err != nil {
		return nil, err
	}
	manager := motor.NewManager(managerConfig, hw, mb, bm, logger.WithField("service", "[MOTOR]"))
	node := &Node{
		BusManager: bm,
		logger:     logger,
		id:         managerConfig.BoardID,
		mailbox:    mb,
		manager:    manager,
		processor:  motor.NewProcessor(manager, logger.WithField("service", "[CTRLR]")),
	}
	group, position := mb.Group()
	logger.Infof("created %v node | format %v, group %v slot %v", protocol.MotorDriver, format, group, position)
	return node, nil
}

// Initialize the hardware and start the control loop. The loop also runs
// after a failed initialization so that the error state is reported and
// can be cleared.
func (node *Node) Start(ctx context.Context) error {
	if !node.manager.Init() {
		node.logger.Error("hardware initialization failed, node is in error state")
	}
	return node.processor.Start(ctx)
}

// Stop the control loop and wait for it to exit
func (node *Node) Stop() error {
	if err := node.processor.Stop(); err != nil {
		return err
	}
	return node.processor.Wait()
}

func (node *Node) ID() uint8 {
	return node.id
}

func (node *Node) Manager() *motor.Manager {
	return node.manager
}

func (node *Node) Mailbox() *mailbox.Mailbox {
	return node.mailbox
}

// Register a hook run after each control tick, from the control goroutine.
// Must be called before Start.
func (node *Node) AfterTick(hook func()) {
	node.processor.AfterTick(hook)
}
