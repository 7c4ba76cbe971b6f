package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/caarlos0/env/v6"
	"github.com/gn10/mdnode/pkg/hal/sim"
	"github.com/gn10/mdnode/pkg/motor"
	"github.com/gn10/mdnode/pkg/protocol"
	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

type LogConfig struct {
	Level string `ini:"level" env:"MDNODE_LOG_LEVEL"`
}

type BusConfig struct {
	Interface string `ini:"interface" env:"MDNODE_CAN_INTERFACE"`
	Channel   string `ini:"channel" env:"MDNODE_CAN_CHANNEL"`
	Bitrate   int    `ini:"bitrate" env:"MDNODE_CAN_BITRATE"`
}

type NodeConfig struct {
	BoardID      int    `ini:"board_id" env:"MDNODE_BOARD_ID"`
	UseDipSwitch bool   `ini:"use_dip_switch" env:"MDNODE_USE_DIP_SWITCH"`
	DipSwitch    string `ini:"dip_switch" env:"MDNODE_DIP_SWITCH"` // positions 1 to 4, e.g. "1010"
	DipOrder     string `ini:"dip_order"`                          // "lsb" or "msb"
	TargetFormat string `ini:"target_format" env:"MDNODE_TARGET_FORMAT"`
	UpdateTargetCountMax int     `ini:"update_target_count_max" env:"MDNODE_UPDATE_TARGET_COUNT_MAX"`
	MaxTxFailures        int     `ini:"max_tx_failures" env:"MDNODE_MAX_TX_FAILURES"`
	StrictZero           bool    `ini:"strict_zero" env:"MDNODE_STRICT_ZERO"`
	AutoStart            bool    `ini:"auto_start" env:"MDNODE_AUTO_START"`
	LimitReportPeriod    int     `ini:"limit_report_period"`
	StatusPeriod         int     `ini:"status_period"`
	InitReportPeriod     int     `ini:"init_report_period"`
	HeartbeatPeriod      int     `ini:"heartbeat_period"`
	ControlPeriodMs      int     `ini:"default_control_period_ms"`
	DutyFullScale        float32 `ini:"duty_full_scale"`
}

// Motor configuration pushed by the master and used by the simulator
type MotorConfig struct {
	MaxOutput           uint16 `ini:"max_output"`
	MaxAcceleration     int    `ini:"max_acceleration"`
	ControlPeriodMs     int    `ini:"control_period_ms"`
	EncoderPeriodMs     int    `ini:"encoder_period_ms"`
	EncoderType         string `ini:"encoder_type"`
	LimitSwitchBehavior int    `ini:"limit_switch_behavior"`
}

type PIDConfig struct {
	Kp            float32 `ini:"kp"`
	Ki            float32 `ini:"ki"`
	Kd            float32 `ini:"kd"`
	IntegralLimit float32 `ini:"integral_limit"`
}

type SensorConfig struct {
	Enabled       bool   `ini:"enabled" env:"MDNODE_SENSOR_ENABLED"`
	Bus           string `ini:"bus" env:"MDNODE_I2C_BUS"`
	TMP102Address int    `ini:"tmp102_address"`
	INA260Address int    `ini:"ina260_address"`
}

type MasterConfig struct {
	GatewayAddress  string `ini:"gateway_address" env:"MDNODE_GATEWAY_ADDRESS"`
	MQTTBroker      string `ini:"mqtt_broker" env:"MDNODE_MQTT_BROKER"`
	MQTTClientID    string `ini:"mqtt_client_id" env:"MDNODE_MQTT_CLIENT_ID"`
	MQTTTopicPrefix string `ini:"mqtt_topic_prefix" env:"MDNODE_MQTT_TOPIC_PREFIX"`
}

type Config struct {
	Log    LogConfig
	Bus    BusConfig
	Node   NodeConfig
	Motor  MotorConfig
	PID    PIDConfig
	Sensor SensorConfig
	Sim    sim.MotorParams
	Master MasterConfig
}

var encoderNames = map[string]protocol.EncoderType{
	"none":     protocol.EncoderNone,
	"velocity": protocol.EncoderIncrementalVelocity,
	"absolute": protocol.EncoderAbsolute,
	"total":    protocol.EncoderIncrementalTotal,
}

func Default() Config {
	m := motor.DefaultManagerConfig()
	return Config{
		Log: LogConfig{Level: "info"},
		Bus: BusConfig{Interface: "loopback", Channel: "mdnode", Bitrate: 1000000},
		Node: NodeConfig{
			DipOrder:             "lsb",
			TargetFormat:         protocol.FormatInt16.String(),
			UpdateTargetCountMax: m.UpdateTargetCountMax,
			MaxTxFailures:        m.MaxTxFailures,
			StrictZero:           m.StrictZero,
			AutoStart:            m.AutoStart,
			LimitReportPeriod:    m.LimitReportPeriod,
			StatusPeriod:         m.StatusPeriod,
			InitReportPeriod:     m.InitReportPeriod,
			HeartbeatPeriod:      m.HeartbeatPeriod,
			ControlPeriodMs:      int(m.DefaultControlPeriodMs),
			DutyFullScale:        m.DutyFullScale,
		},
		Motor: MotorConfig{
			MaxOutput:       3199,
			MaxAcceleration: 50,
			ControlPeriodMs: 1,
			EncoderPeriodMs: 10,
			EncoderType:     "none",
		},
		PID:    PIDConfig{IntegralLimit: m.IntegralLimit},
		Sensor: SensorConfig{Bus: "/dev/i2c-1", TMP102Address: 0x48, INA260Address: 0x40},
		Sim:    sim.DefaultMotorParams(),
		Master: MasterConfig{GatewayAddress: ":8090", MQTTClientID: "mdmaster", MQTTTopicPrefix: "mdnode"},
	}
}

// Load the defaults, then the INI source when not nil, then the MDNODE_*
// environment variables. Source can be a path, []byte or io.Reader.
func Load(source any) (Config, error) {
	cfg := Default()
	if source != nil {
		file, err := ini.Load(source)
		if err != nil {
			return cfg, fmt.Errorf("failed to load config : %w", err)
		}
		sections := map[string]any{
			"log":    &cfg.Log,
			"bus":    &cfg.Bus,
			"node":   &cfg.Node,
			"motor":  &cfg.Motor,
			"pid":    &cfg.PID,
			"sensor": &cfg.Sensor,
			"sim":    &cfg.Sim,
			"master": &cfg.Master,
		}
		for name, target := range sections {
			if !file.HasSection(name) {
				continue
			}
			// Values that fail to parse are errors, not silently skipped
			if err := file.Section(name).StrictMapTo(target); err != nil {
				return cfg, fmt.Errorf("failed to parse section [%v] : %w", name, err)
			}
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse environment : %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Node.BoardID < 0 || c.Node.BoardID >= protocol.MaxBoards {
		return fmt.Errorf("board id %v out of range [0, %v]", c.Node.BoardID, protocol.MaxBoards-1)
	}
	if _, err := c.TargetFormat(); err != nil {
		return err
	}
	if c.Node.ControlPeriodMs < 1 || c.Node.ControlPeriodMs > math.MaxUint8 {
		return fmt.Errorf("default control period %v ms out of range [1, 255]", c.Node.ControlPeriodMs)
	}
	for _, addr := range []int{c.Sensor.TMP102Address, c.Sensor.INA260Address} {
		if addr < 0 || addr > 0x7F {
			return fmt.Errorf("i2c address x%x out of range", addr)
		}
	}
	if _, err := c.DipSwitch(); err != nil {
		return err
	}
	if _, err := c.ProtocolMotorConfig(); err != nil {
		return err
	}
	return c.ManagerConfig().Validate()
}

func (c Config) LogLevel() log.Level {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

func (c Config) TargetFormat() (protocol.TargetFormat, error) {
	return protocol.ParseTargetFormat(c.Node.TargetFormat)
}

// DIP switch positions and order from the node section
func (c Config) DipSwitch() (sim.DipSwitch, error) {
	var dip sim.DipSwitch
	if c.Node.DipSwitch != "" {
		if len(c.Node.DipSwitch) != len(dip) {
			return dip, fmt.Errorf("dip switch %q must have %v positions", c.Node.DipSwitch, len(dip))
		}
		for i, r := range c.Node.DipSwitch {
			switch r {
			case '0':
			case '1':
				dip[i] = true
			default:
				return dip, fmt.Errorf("dip switch %q : invalid position %q", c.Node.DipSwitch, r)
			}
		}
	}
	switch strings.ToLower(c.Node.DipOrder) {
	case "", "lsb", "msb":
	default:
		return dip, fmt.Errorf("dip order %q must be lsb or msb", c.Node.DipOrder)
	}
	return dip, nil
}

// Board id, read from the DIP switch when enabled
func (c Config) BoardID() uint8 {
	if !c.Node.UseDipSwitch {
		return uint8(c.Node.BoardID)
	}
	dip, _ := c.DipSwitch()
	order := sim.DipLSBFirst
	if strings.ToLower(c.Node.DipOrder) == "msb" {
		order = sim.DipMSBFirst
	}
	return sim.BoardID(dip, order)
}

func (c Config) ManagerConfig() motor.ManagerConfig {
	m := motor.DefaultManagerConfig()
	m.BoardID = c.BoardID()
	m.DutyFullScale = c.Node.DutyFullScale
	m.UpdateTargetCountMax = c.Node.UpdateTargetCountMax
	m.MaxTxFailures = c.Node.MaxTxFailures
	m.StrictZero = c.Node.StrictZero
	m.AutoStart = c.Node.AutoStart
	m.LimitReportPeriod = c.Node.LimitReportPeriod
	m.StatusPeriod = c.Node.StatusPeriod
	m.InitReportPeriod = c.Node.InitReportPeriod
	m.HeartbeatPeriod = c.Node.HeartbeatPeriod
	m.DefaultControlPeriodMs = uint8(c.Node.ControlPeriodMs)
	m.IntegralLimit = c.PID.IntegralLimit
	m.InitialGains = protocol.PidGains{Kp: c.PID.Kp, Ki: c.PID.Ki, Kd: c.PID.Kd}
	return m
}

func (c Config) ProtocolMotorConfig() (protocol.MotorConfig, error) {
	encoder, ok := encoderNames[strings.ToLower(c.Motor.EncoderType)]
	if !ok {
		return protocol.MotorConfig{}, fmt.Errorf("unknown encoder type %q", c.Motor.EncoderType)
	}
	for name, v := range map[string]int{
		"max_acceleration":      c.Motor.MaxAcceleration,
		"control_period_ms":     c.Motor.ControlPeriodMs,
		"encoder_period_ms":     c.Motor.EncoderPeriodMs,
		"limit_switch_behavior": c.Motor.LimitSwitchBehavior,
	} {
		if v < 0 || v > math.MaxUint8 {
			return protocol.MotorConfig{}, fmt.Errorf("motor %v %v out of range [0, 255]", name, v)
		}
	}
	cfg := protocol.MotorConfig{
		MaxOutput:           c.Motor.MaxOutput,
		MaxAcceleration:     uint8(c.Motor.MaxAcceleration),
		ControlPeriodMs:     uint8(c.Motor.ControlPeriodMs),
		EncoderPeriodMs:     uint8(c.Motor.EncoderPeriodMs),
		EncoderType:         encoder,
		LimitSwitchBehavior: uint8(c.Motor.LimitSwitchBehavior),
	}
	return cfg, cfg.Validate()
}

func (c Config) SensorAddresses() (tmp102, ina260 uint8) {
	return uint8(c.Sensor.TMP102Address), uint8(c.Sensor.INA260Address)
}
