package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	mdnode "github.com/gn10/mdnode"
	can "github.com/gn10/mdnode/pkg/can"
	_ "github.com/gn10/mdnode/pkg/can/all"
	"github.com/gn10/mdnode/pkg/config"
	"github.com/gn10/mdnode/pkg/hal/sim"
	"github.com/gn10/mdnode/pkg/node"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("c", "", "ini configuration file")
	canInterface := flag.String("i", "", "can interface e.g. socketcan, socketcanraw, slcan, virtual (overrides config)")
	channel := flag.String("n", "", "can channel e.g. can0, /dev/ttyACM0@1000000, localhost:18888 (overrides config)")
	boardID := flag.Int("id", -1, "board id (overrides config and dip switch)")
	count := flag.Int("count", 1, "number of simulated boards, with consecutive ids")
	verbose := flag.Bool("v", false, "debug logs")
	flag.Parse()

	var source any
	if *configPath != "" {
		source = *configPath
	}
	cfg, err := config.Load(source)
	if err != nil {
		log.Fatalf("failed to load configuration : %v", err)
	}
	if *canInterface != "" {
		cfg.Bus.Interface = *canInterface
	}
	if *channel != "" {
		cfg.Bus.Channel = *channel
	}
	if *boardID >= 0 {
		cfg.Node.BoardID = *boardID
		cfg.Node.UseDipSwitch = false
	}
	log.SetLevel(cfg.LogLevel())
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	nodes := make([]*node.Node, 0, *count)
	buses := make([]mdnode.Bus, 0, *count)
	defer func() {
		for _, n := range nodes {
			_ = n.Stop()
		}
		for _, bus := range buses {
			_ = bus.Disconnect()
		}
	}()

	base := int(cfg.BoardID())
	for i := 0; i < *count; i++ {
		boardCfg := cfg
		if i > 0 {
			boardCfg.Node.BoardID = base + i
			boardCfg.Node.UseDipSwitch = false
		}
		bus, err := can.NewBus(cfg.Bus.Interface, cfg.Bus.Channel)
		if err != nil {
			log.Fatalf("failed to create bus : %v", err)
		}
		if err := bus.Connect(); err != nil {
			log.Fatalf("failed to connect to %v %v : %v", cfg.Bus.Interface, cfg.Bus.Channel, err)
		}
		buses = append(buses, bus)
		n, err := startNode(ctx, bus, boardCfg)
		if err != nil {
			log.Fatalf("failed to start board %v : %v", boardCfg.BoardID(), err)
		}
		nodes = append(nodes, n)
	}
	<-ctx.Done()
	log.Info("stopping")
}

// Build the simulated hardware of one board and start its node
func startNode(ctx context.Context, bus mdnode.Bus, cfg config.Config) (*node.Node, error) {
	id := cfg.BoardID()
	logger := log.WithFields(log.Fields{"service": "[NODE]", "id": id})
	plant := sim.NewMotor(cfg.Sim)
	hw := sim.NewHardware(plant, &sim.LimitSwitch{})
	if cfg.Sensor.Enabled {
		sensors, err := openSensors(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open sensors : %w", err)
		}
		hw.Sensors = sensors
	}
	n, err := node.New(bus, cfg, hw, logger)
	if err != nil {
		return nil, err
	}
	if err := filterBoard(bus, n); err != nil {
		logger.Warnf("failed to set reception filters : %v", err)
	}
	n.AfterTick(func() {
		plant.Step(n.Manager().ControlPeriod())
	})
	return n, n.Start(ctx)
}
