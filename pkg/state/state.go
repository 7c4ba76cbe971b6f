package state

import (
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Lifecycle states of a motor driver board
type State uint8

const (
	Uninitialized State = 0
	ConfigWait    State = 1
	Idle          State = 2
	Running       State = 3
	LimitStop     State = 4
	Error         State = 5
)

var stateMap = map[State]string{
	Uninitialized: "UNINITIALIZED",
	ConfigWait:    "CONFIG_WAIT",
	Idle:          "IDLE",
	Running:       "RUNNING",
	LimitStop:     "LIMIT_STOP",
	Error:         "ERROR",
}

func (s State) String() string {
	if name, ok := stateMap[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
}

// Whether the motor may be braked in this state, the other states coast
func (s State) Brakes() bool {
	return s == Running || s == Idle || s == LimitStop
}

type ControlMode uint8

const (
	ModeDuty     ControlMode = 0
	ModeVelocity ControlMode = 1
	ModePosition ControlMode = 2
)

var modeMap = map[ControlMode]string{
	ModeDuty:     "DUTY",
	ModeVelocity: "VELOCITY",
	ModePosition: "POSITION",
}

func (m ControlMode) String() string {
	if name, ok := modeMap[m]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(m))
}

func (m ControlMode) Valid() bool {
	_, ok := modeMap[m]
	return ok
}

// Accepts the mode name in any case or its number
func ParseControlMode(s string) (ControlMode, error) {
	for mode, name := range modeMap {
		if strings.EqualFold(name, s) || fmt.Sprint(uint8(mode)) == s {
			return mode, nil
		}
	}
	return 0, fmt.Errorf("unknown control mode %q", s)
}

// Machine holds the lifecycle state and the active control mode. Every
// transition returns true when it happened, false leaves the state untouched.
type Machine struct {
	mu       sync.Mutex
	state    State
	mode     ControlMode
	logger   *log.Entry
	onChange func(prev, next State)
}

func NewMachine(logger *log.Entry) *Machine {
	if logger == nil {
		logger = log.WithField("service", "[STATE]")
	}
	return &Machine{state: Uninitialized, mode: ModeDuty, logger: logger}
}

// Register a callback called after every state change
func (m *Machine) OnChange(callback func(prev, next State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = callback
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) ControlMode() ControlMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Move to next when the current state is one of from
func (m *Machine) transition(next State, from ...State) bool {
	m.mu.Lock()
	prev := m.state
	allowed := len(from) == 0
	for _, s := range from {
		if s == prev {
			allowed = true
			break
		}
	}
	if !allowed {
		m.mu.Unlock()
		m.logger.Debugf("refused transition | %v =/=> %v", prev, next)
		return false
	}
	m.state = next
	callback := m.onChange
	m.mu.Unlock()
	if prev != next {
		m.logger.Debugf("state changed | %v ==> %v", prev, next)
		if callback != nil {
			callback(prev, next)
		}
	}
	return true
}

// Hardware ready, wait for the configuration
func (m *Machine) InitComplete() bool {
	return m.transition(ConfigWait, Uninitialized)
}

// Configuration applied
func (m *Machine) CompleteConfig() bool {
	return m.transition(Idle, ConfigWait)
}

func (m *Machine) StartControl() bool {
	return m.transition(Running, Idle)
}

func (m *Machine) StopControl() bool {
	return m.transition(Idle, Running, LimitStop)
}

// Reachable before running so that a pressed switch prevents a start
func (m *Machine) TriggerLimitSwitch() bool {
	return m.transition(LimitStop, Running, Idle, ConfigWait)
}

// Unconditional
func (m *Machine) TriggerError() bool {
	return m.transition(Error)
}

func (m *Machine) ClearError() bool {
	return m.transition(Idle, Error)
}

// The control strategy can't change under load
func (m *Machine) SetControlMode(mode ControlMode) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case Idle, ConfigWait, Uninitialized:
	default:
		m.logger.Debugf("refused control mode %v in state %v", mode, m.state)
		return false
	}
	if !mode.Valid() {
		return false
	}
	if m.mode != mode {
		m.logger.Debugf("control mode changed | %v ==> %v", m.mode, mode)
	}
	m.mode = mode
	return true
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (m ControlMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}
