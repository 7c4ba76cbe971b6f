package motor

import (
	"fmt"

	"github.com/gn10/mdnode/pkg/protocol"
)

const (
	DefaultDutyFullScale        = 3200
	DefaultUpdateTargetCountMax = 100
	DefaultMaxTxFailures        = 100
	DefaultLimitReportPeriod    = 10
	DefaultStatusPeriod         = 100
	DefaultInitReportPeriod     = 100
	DefaultHeartbeatPeriod      = 500
	DefaultControlPeriodMs      = 1
	DefaultIntegralLimit        = 1000
)

// Node side parameters of the manager, the motor configuration itself is
// received from the master
type ManagerConfig struct {
	BoardType protocol.BoardType
	BoardID   uint8
	// Duty value mapped to a full gate driver output
	DutyFullScale float32
	// Control ticks without a fresh target before the target is forced to 0, 0 disables
	UpdateTargetCountMax int
	// Consecutive ticks with a failed transmission before entering the error state, 0 disables
	MaxTxFailures int
	// A zero target forces a zero output and resets the controllers immediately
	StrictZero bool
	// A fresh non zero target starts the control from idle
	AutoStart bool
	// Periods in control ticks
	LimitReportPeriod int
	StatusPeriod      int
	InitReportPeriod  int
	HeartbeatPeriod   int
	// Period used until a configuration is received
	DefaultControlPeriodMs uint8
	IntegralLimit          float32
	InitialGains           protocol.PidGains
}

func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		BoardType:              protocol.MotorDriver,
		DutyFullScale:          DefaultDutyFullScale,
		UpdateTargetCountMax:   DefaultUpdateTargetCountMax,
		MaxTxFailures:          DefaultMaxTxFailures,
		AutoStart:              true,
		LimitReportPeriod:      DefaultLimitReportPeriod,
		StatusPeriod:           DefaultStatusPeriod,
		InitReportPeriod:       DefaultInitReportPeriod,
		HeartbeatPeriod:        DefaultHeartbeatPeriod,
		DefaultControlPeriodMs: DefaultControlPeriodMs,
		IntegralLimit:          DefaultIntegralLimit,
	}
}

func (c ManagerConfig) Validate() error {
	if c.BoardID >= protocol.MaxBoards {
		return fmt.Errorf("board id %v out of range", c.BoardID)
	}
	if c.DutyFullScale <= 0 {
		return fmt.Errorf("duty full scale must be positive, got %v", c.DutyFullScale)
	}
	if c.DefaultControlPeriodMs == 0 {
		return fmt.Errorf("default control period must be at least 1 ms")
	}
	if c.UpdateTargetCountMax < 0 || c.MaxTxFailures < 0 {
		return fmt.Errorf("negative tick counts")
	}
	return nil
}
