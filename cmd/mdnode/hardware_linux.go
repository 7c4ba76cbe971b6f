//go:build linux

package main

import (
	mdnode "github.com/gn10/mdnode"
	"github.com/gn10/mdnode/pkg/can/socketcanraw"
	"github.com/gn10/mdnode/pkg/config"
	"github.com/gn10/mdnode/pkg/hal/i2cdev"
	"github.com/gn10/mdnode/pkg/hal/sensor"
	"github.com/gn10/mdnode/pkg/motor"
	"github.com/gn10/mdnode/pkg/node"
	"github.com/gn10/mdnode/pkg/protocol"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

func openSensors(cfg config.Config, logger *log.Entry) (motor.Sensors, error) {
	bus, err := i2cdev.Open(cfg.Sensor.Bus)
	if err != nil {
		return nil, err
	}
	tmp102, ina260 := cfg.SensorAddresses()
	return sensor.New(bus, sensor.Config{TMP102Address: tmp102, INA260Address: ina260}, logger.WithField("service", "[SENSOR]")), nil
}

// Only keep the frames addressed to the board and to its multi target group
func filterBoard(bus mdnode.Bus, n *node.Node) error {
	raw, ok := bus.(*socketcanraw.Bus)
	if !ok {
		return nil
	}
	group, _ := n.Mailbox().Group()
	boardMask := protocol.EncodeID(protocol.ToMaster, protocol.Other, protocol.MaxBoards-1, 0)
	fullMask := boardMask | protocol.EncodeID(0, 0, 0, protocol.KindCommand)
	return raw.SetFilters([]unix.CanFilter{
		socketcanraw.BoardFilter(protocol.EncodeID(protocol.ToSlave, protocol.MotorDriver, n.ID(), 0), boardMask),
		socketcanraw.BoardFilter(protocol.EncodeID(protocol.ToSlave, protocol.MotorDriver, group, protocol.KindMultiTarget), fullMask),
	})
}
