package protocol

import (
	"encoding/binary"
	"fmt"
)

const (
	ConfigSize       = 8
	ConfigLegacySize = 7
	MaxLimitBehavior = 4
)

type EncoderType uint8

const (
	EncoderNone                EncoderType = 0
	EncoderIncrementalVelocity EncoderType = 1
	EncoderAbsolute            EncoderType = 2
	EncoderIncrementalTotal    EncoderType = 3
)

var encoderTypeMap = map[EncoderType]string{
	EncoderNone:                "NONE",
	EncoderIncrementalVelocity: "INCREMENTAL_VELOCITY",
	EncoderAbsolute:            "ABSOLUTE",
	EncoderIncrementalTotal:    "INCREMENTAL_TOTAL",
}

func (e EncoderType) String() string {
	if name, ok := encoderTypeMap[e]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(e))
}

// Motor driver configuration sent by the master with an init frame
type MotorConfig struct {
	MaxOutput           uint16      `json:"max_output"`       // duty
	MaxAcceleration     uint8       `json:"max_acceleration"` // duty/ms
	ControlPeriodMs     uint8       `json:"control_period_ms"`
	EncoderPeriodMs     uint8       `json:"encoder_period_ms"`
	EncoderType         EncoderType `json:"encoder_type"`
	LimitSwitchBehavior uint8       `json:"limit_switch_behavior"`
	Option              uint8       `json:"option"`
}

// Wire layout (little endian)
// | max_output u16 | max_accel | control_period | encoder_period | encoder_type | limit_behavior | option |
func (c MotorConfig) MarshalBinary() ([]byte, error) {
	b := make([]byte, ConfigSize)
	binary.LittleEndian.PutUint16(b[0:2], c.MaxOutput)
	b[2] = c.MaxAcceleration
	b[3] = c.ControlPeriodMs
	b[4] = c.EncoderPeriodMs
	b[5] = uint8(c.EncoderType)
	b[6] = c.LimitSwitchBehavior
	b[7] = c.Option
	return b, nil
}

// Accepts the 8 byte layout or the legacy 7 byte layout without option byte
func (c *MotorConfig) UnmarshalBinary(b []byte) error {
	if len(b) != ConfigSize && len(b) != ConfigLegacySize {
		return fmt.Errorf("%w : %v expects %v or %v bytes, got %v", ErrLength, KindInit, ConfigLegacySize, ConfigSize, len(b))
	}
	c.MaxOutput = binary.LittleEndian.Uint16(b[0:2])
	c.MaxAcceleration = b[2]
	c.ControlPeriodMs = b[3]
	c.EncoderPeriodMs = b[4]
	c.EncoderType = EncoderType(b[5])
	c.LimitSwitchBehavior = b[6]
	c.Option = 0
	if len(b) == ConfigSize {
		c.Option = b[7]
	}
	return nil
}

func (c MotorConfig) Validate() error {
	if c.LimitSwitchBehavior > MaxLimitBehavior {
		return fmt.Errorf("%w : limit switch behavior %v", ErrConfig, c.LimitSwitchBehavior)
	}
	if c.EncoderType > EncoderIncrementalTotal {
		return fmt.Errorf("%w : encoder type %v", ErrConfig, c.EncoderType)
	}
	return nil
}

// Number of control ticks between two feedback frames, at least one
func (c MotorConfig) FeedbackEvery() int {
	if c.ControlPeriodMs == 0 || c.EncoderPeriodMs <= c.ControlPeriodMs {
		return 1
	}
	return int(c.EncoderPeriodMs / c.ControlPeriodMs)
}

func (c MotorConfig) String() string {
	return fmt.Sprintf("max_output=%v max_accel=%v period=%vms encoder=%v/%vms limit=%v option=%v",
		c.MaxOutput, c.MaxAcceleration, c.ControlPeriodMs, c.EncoderType, c.EncoderPeriodMs, c.LimitSwitchBehavior, c.Option)
}
