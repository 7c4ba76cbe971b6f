package sim

import (
	"math"
	"sync"
	"time"
)

// Default plant parameters, a small geared DC motor
const (
	DefaultMaxSpeed       = 300.0 // rad/s at full duty
	DefaultTimeConstant   = 0.05  // s
	DefaultCountsPerRev   = 2048
	DefaultStallCurrent   = 12.0 // A
	DefaultAmbientTempC   = 25
	brakeTimeConstantDiv  = 4
	maxIntegrationStepSec = 0.001
)

type MotorParams struct {
	MaxSpeed     float64 `ini:"max_speed"`
	TimeConstant float64 `ini:"time_constant"`
	CountsPerRev float64 `ini:"counts_per_rev"`
	StallCurrent float64 `ini:"stall_current"`
	AmbientTempC int8    `ini:"ambient_temperature"`
}

func DefaultMotorParams() MotorParams {
	return MotorParams{
		MaxSpeed:     DefaultMaxSpeed,
		TimeConstant: DefaultTimeConstant,
		CountsPerRev: DefaultCountsPerRev,
		StallCurrent: DefaultStallCurrent,
		AmbientTempC: DefaultAmbientTempC,
	}
}

// First order DC motor plant. The applied duty sets the steady state speed,
// velocity follows with the plant time constant. With zero duty the motor
// coasts, or stops faster when braking.
type Motor struct {
	mu       sync.Mutex
	params   MotorParams
	duty     float64
	brake    bool
	velocity float64 // rad/s
	position float64 // rad
}

func NewMotor(params MotorParams) *Motor {
	if params.TimeConstant <= 0 {
		params.TimeConstant = DefaultTimeConstant
	}
	if params.CountsPerRev <= 0 {
		params.CountsPerRev = DefaultCountsPerRev
	}
	return &Motor{params: params}
}

// Apply a normalized duty in [-1, 1]
func (m *Motor) Apply(duty float32, brake bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duty = math.Max(-1, math.Min(1, float64(duty)))
	m.brake = brake
}

// Advance the plant by dt
func (m *Motor) Step(dt time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	remaining := dt.Seconds()
	for remaining > 0 {
		h := math.Min(remaining, maxIntegrationStepSec)
		tau := m.params.TimeConstant
		if m.duty == 0 && m.brake {
			tau /= brakeTimeConstantDiv
		}
		alpha := math.Min(h/tau, 1)
		m.velocity += (m.duty*m.params.MaxSpeed - m.velocity) * alpha
		m.position += m.velocity * h
		remaining -= h
	}
}

func (m *Motor) Velocity() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.velocity
}

func (m *Motor) Position() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

// Encoder counts of the shaft, wraps like a hardware counter
func (m *Motor) Counts() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := m.position * m.params.CountsPerRev / (2 * math.Pi)
	return int32(int64(math.Round(counts)))
}

// Current drawn, proportional to the duty minus the back emf
func (m *Motor) Current() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.params.MaxSpeed == 0 {
		return 0
	}
	return math.Abs(m.duty-m.velocity/m.params.MaxSpeed) * m.params.StallCurrent
}

func (m *Motor) Params() MotorParams {
	return m.params
}
