package motor

import (
	mdnode "github.com/gn10/mdnode"
)

type IndicatorID uint8

const (
	Heartbeat IndicatorID = 0
	Direction IndicatorID = 1
	Activity  IndicatorID = 2
	Power     IndicatorID = 3
)

var indicatorMap = map[IndicatorID]string{
	Heartbeat: "HEARTBEAT",
	Direction: "DIRECTION",
	Activity:  "ACTIVITY",
	Power:     "POWER",
}

func (id IndicatorID) String() string {
	if name, ok := indicatorMap[id]; ok {
		return name
	}
	return "UNKNOWN"
}

// PWM stage of the motor, output is a normalized duty in [-1, 1]
type GateDriver interface {
	Init() bool
	Output(value float32) bool
	SetBrakeMode(brake bool)
}

// Velocity is in rad/s, counts are free running
type Encoder interface {
	Init() bool
	Counts() int32
	Velocity() float32
	ResetCounts()
}

type Indicator interface {
	Init() bool
	Set(id IndicatorID, enabled bool)
}

// Bit mask of pressed switches
type LimitSwitch interface {
	Read() uint8
}

// Load current in A and board temperature in degC
type Sensors interface {
	LoadCurrent() (float32, error)
	Temperature() (int8, error)
}

type Sender interface {
	Send(frame mdnode.Frame) error
}

// Peripherals used by a [Manager]. GateDriver is mandatory, the others may be
// nil when the board does not have them.
type Hardware struct {
	GateDriver  GateDriver
	Encoder     Encoder
	Indicator   Indicator
	LimitSwitch LimitSwitch
	Sensors     Sensors
}
