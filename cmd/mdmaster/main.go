package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/abiosoft/ishell"
	can "github.com/gn10/mdnode/pkg/can"
	_ "github.com/gn10/mdnode/pkg/can/all"
	"github.com/gn10/mdnode/pkg/config"
	"github.com/gn10/mdnode/pkg/gateway"
	gwhttp "github.com/gn10/mdnode/pkg/gateway/http"
	"github.com/gn10/mdnode/pkg/master"
	"github.com/gn10/mdnode/pkg/protocol"
	"github.com/gn10/mdnode/pkg/telemetry"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("c", "", "ini configuration file")
	canInterface := flag.String("i", "", "can interface (overrides config)")
	channel := flag.String("n", "", "can channel (overrides config)")
	httpAddr := flag.String("http", "", "http gateway address, empty uses config, \"off\" disables")
	broker := flag.String("mqtt", "", "mqtt broker e.g. tcp://localhost:1883 (overrides config)")
	remote := flag.String("remote", "", "drive a remote gateway e.g. http://robot:8090 instead of a bus")
	autoConfig := flag.Bool("auto", true, "configure boards waiting for their configuration")
	noShell := flag.Bool("no-shell", false, "run without the interactive shell")
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
	if *httpAddr != "" {
		cfg.Master.GatewayAddress = *httpAddr
	}
	if *broker != "" {
		cfg.Master.MQTTBroker = *broker
	}
	log.SetLevel(cfg.LogLevel())
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}
	defaults, err := cfg.ProtocolMotorConfig()
	if err != nil {
		log.Fatalf("invalid motor configuration : %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var target boards
	if *remote != "" {
		target = gwhttp.NewGatewayClient(*remote)
	} else {
		gw, shutdown := startMaster(ctx, cfg, *autoConfig, defaults)
		defer shutdown()
		target = localBoards{gw: gw}
	}

	if *noShell {
		<-ctx.Done()
		return
	}
	shell := ishell.New()
	shell.Println("Motor driver master shell")
	(&console{boards: target, defaults: defaults}).register(shell)
	go func() {
		<-ctx.Done()
		shell.Close()
	}()
	shell.Run()
}

// Connect the master to the bus and start its outer surfaces
func startMaster(ctx context.Context, cfg config.Config, autoConfig bool, defaults protocol.MotorConfig) (*gateway.BaseGateway, func()) {
	format, err := cfg.TargetFormat()
	if err != nil {
		log.Fatal(err)
	}
	bus, err := can.NewBus(cfg.Bus.Interface, cfg.Bus.Channel)
	if err != nil {
		log.Fatalf("failed to create bus : %v", err)
	}
	if err := bus.Connect(); err != nil {
		log.Fatalf("failed to connect to %v %v : %v", cfg.Bus.Interface, cfg.Bus.Channel, err)
	}
	controller, err := master.New(bus, format, nil)
	if err != nil {
		log.Fatalf("failed to create master : %v", err)
	}
	if autoConfig {
		controller.AutoConfigure(&defaults)
	}
	gw := gateway.NewBaseGateway(controller, 0, nil)

	var server *gwhttp.GatewayServer
	if cfg.Master.GatewayAddress != "" && cfg.Master.GatewayAddress != "off" {
		server = gwhttp.NewGatewayServer(gw, nil)
		go func() {
			if err := server.ListenAndServe(cfg.Master.GatewayAddress); err != nil {
				log.Errorf("http gateway stopped : %v", err)
			}
		}()
	}
	if cfg.Master.MQTTBroker != "" {
		client, err := telemetry.Dial(ctx, telemetry.Options{Broker: cfg.Master.MQTTBroker, ClientID: cfg.Master.MQTTClientID}, nil)
		if err != nil {
			log.Errorf("telemetry disabled : %v", err)
		} else {
			bridge := telemetry.NewBridge(gw, client, cfg.Master.MQTTTopicPrefix, nil)
			go func() {
				if err := bridge.Run(ctx); err != nil {
					log.Errorf("telemetry stopped : %v", err)
				}
				client.Disconnect(250)
			}()
		}
	}
	return gw, func() {
		if server != nil {
			_ = server.Shutdown(context.Background())
		}
		_ = bus.Disconnect()
	}
}
