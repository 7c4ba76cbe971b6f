package sim

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/gn10/mdnode/pkg/motor"
)

var ErrSensorFault = errors.New("simulated sensor fault")

// Gate driver forwarding the duty to an optional plant
type GateDriver struct {
	mu      sync.Mutex
	plant   *Motor
	failing bool
	output  float32
	brake   bool
	writes  int
}

func NewGateDriver(plant *Motor) *GateDriver {
	return &GateDriver{plant: plant}
}

// Make the next Init fail
func (g *GateDriver) SetFailing(failing bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failing = failing
}

func (g *GateDriver) Init() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.failing
}

func (g *GateDriver) Output(value float32) bool {
	g.mu.Lock()
	if value > 1 {
		value = 1
	} else if value < -1 {
		value = -1
	}
	g.output = value
	g.writes++
	brake := g.brake
	g.mu.Unlock()
	if g.plant != nil {
		g.plant.Apply(value, brake)
	}
	return true
}

func (g *GateDriver) SetBrakeMode(brake bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.brake = brake
}

// Last output and brake mode
func (g *GateDriver) State() (output float32, brake bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.output, g.brake
}

func (g *GateDriver) Writes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.writes
}

// Encoder reading the plant shaft
type Encoder struct {
	mu     sync.Mutex
	plant  *Motor
	offset int32
}

func NewEncoder(plant *Motor) *Encoder {
	return &Encoder{plant: plant}
}

func (e *Encoder) Init() bool {
	return e.plant != nil
}

func (e *Encoder) Counts() int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.plant.Counts() - e.offset
}

func (e *Encoder) Velocity() float32 {
	return float32(e.plant.Velocity())
}

func (e *Encoder) ResetCounts() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.offset = e.plant.Counts()
}

// LED bank
type Indicator struct {
	mu   sync.Mutex
	leds map[motor.IndicatorID]bool
}

func NewIndicator() *Indicator {
	return &Indicator{leds: make(map[motor.IndicatorID]bool)}
}

func (i *Indicator) Init() bool { return true }

func (i *Indicator) Set(id motor.IndicatorID, enabled bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.leds[id] = enabled
}

func (i *Indicator) Get(id motor.IndicatorID) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.leds[id]
}

// Limit switches as a settable bit mask
type LimitSwitch struct {
	bits atomic.Uint32
}

func (l *LimitSwitch) Read() uint8 {
	return uint8(l.bits.Load())
}

func (l *LimitSwitch) Set(bits uint8) {
	l.bits.Store(uint32(bits))
}

func (l *LimitSwitch) Press(bit uint8) {
	for {
		old := l.bits.Load()
		if l.bits.CompareAndSwap(old, old|1<<bit) {
			return
		}
	}
}

func (l *LimitSwitch) Release(bit uint8) {
	for {
		old := l.bits.Load()
		if l.bits.CompareAndSwap(old, old&^(1<<bit)) {
			return
		}
	}
}

// Load current and temperature derived from the plant
type Sensors struct {
	plant *Motor
	fault atomic.Bool
}

func NewSensors(plant *Motor) *Sensors {
	return &Sensors{plant: plant}
}

func (s *Sensors) SetFault(fault bool) {
	s.fault.Store(fault)
}

func (s *Sensors) LoadCurrent() (float32, error) {
	if s.fault.Load() {
		return 0, ErrSensorFault
	}
	return float32(s.plant.Current()), nil
}

func (s *Sensors) Temperature() (int8, error) {
	if s.fault.Load() {
		return 0, ErrSensorFault
	}
	return s.plant.Params().AmbientTempC, nil
}

// Complete simulated board around one plant, limit may be nil
func NewHardware(plant *Motor, limit *LimitSwitch) motor.Hardware {
	hw := motor.Hardware{
		GateDriver: NewGateDriver(plant),
		Encoder:    NewEncoder(plant),
		Indicator:  NewIndicator(),
		Sensors:    NewSensors(plant),
	}
	if limit != nil {
		hw.LimitSwitch = limit
	}
	return hw
}
