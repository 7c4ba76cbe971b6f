//go:build !linux

package main

import (
	"errors"

	mdnode "github.com/gn10/mdnode"
	"github.com/gn10/mdnode/pkg/config"
	"github.com/gn10/mdnode/pkg/motor"
	"github.com/gn10/mdnode/pkg/node"
	log "github.com/sirupsen/logrus"
)

func openSensors(cfg config.Config, logger *log.Entry) (motor.Sensors, error) {
	return nil, errors.New("i2c sensors are only supported on linux")
}

func filterBoard(bus mdnode.Bus, n *node.Node) error {
	return nil
}
