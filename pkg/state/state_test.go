package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Put a machine in the given state through valid transitions
func machineIn(s State) *Machine {
	m := NewMachine(nil)
	switch s {
	case ConfigWait:
		m.InitComplete()
	case Idle:
		m.InitComplete()
		m.CompleteConfig()
	case Running:
		m.InitComplete()
		m.CompleteConfig()
		m.StartControl()
	case LimitStop:
		m.InitComplete()
		m.TriggerLimitSwitch()
	case Error:
		m.TriggerError()
	}
	if m.State() != s {
		panic("could not reach " + s.String())
	}
	return m
}

var allStates = []State{Uninitialized, ConfigWait, Idle, Running, LimitStop, Error}

func TestTransitionTable(t *testing.T) {
	type transition struct {
		name  string
		apply func(m *Machine) bool
		from  []State
		to    State
	}
	table := []transition{
		{"InitComplete", (*Machine).InitComplete, []State{Uninitialized}, ConfigWait},
		{"CompleteConfig", (*Machine).CompleteConfig, []State{ConfigWait}, Idle},
		{"StartControl", (*Machine).StartControl, []State{Idle}, Running},
		{"StopControl", (*Machine).StopControl, []State{Running, LimitStop}, Idle},
		{"TriggerLimitSwitch", (*Machine).TriggerLimitSwitch, []State{Running, Idle, ConfigWait}, LimitStop},
		{"TriggerError", (*Machine).TriggerError, allStates, Error},
		{"ClearError", (*Machine).ClearError, []State{Error}, Idle},
	}
	for _, tr := range table {
		t.Run(tr.name, func(t *testing.T) {
			for _, source := range allStates {
				m := machineIn(source)
				valid := false
				for _, s := range tr.from {
					if s == source {
						valid = true
					}
				}
				ok := tr.apply(m)
				assert.Equal(t, valid, ok, "from %v", source)
				if valid {
					assert.Equal(t, tr.to, m.State(), "from %v", source)
				} else {
					assert.Equal(t, source, m.State(), "from %v", source)
				}
			}
		})
	}
}

func TestSetControlMode(t *testing.T) {
	for _, source := range allStates {
		m := machineIn(source)
		allowed := source == Idle || source == ConfigWait || source == Uninitialized
		assert.Equal(t, allowed, m.SetControlMode(ModeVelocity), "in %v", source)
		if allowed {
			assert.Equal(t, ModeVelocity, m.ControlMode())
		} else {
			assert.Equal(t, ModeDuty, m.ControlMode())
		}
		assert.Equal(t, source, m.State())
	}
	m := NewMachine(nil)
	assert.False(t, m.SetControlMode(ControlMode(7)))
}

func TestOnChange(t *testing.T) {
	m := NewMachine(nil)
	var changes [][2]State
	m.OnChange(func(prev, next State) { changes = append(changes, [2]State{prev, next}) })
	m.InitComplete()
	m.StartControl()
	m.TriggerError()
	m.TriggerError()
	assert.Equal(t, [][2]State{{Uninitialized, ConfigWait}, {ConfigWait, Error}}, changes)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "LIMIT_STOP", LimitStop.String())
	assert.Equal(t, "POSITION", ModePosition.String())
	assert.Equal(t, "UNKNOWN(9)", State(9).String())
	assert.True(t, Idle.Brakes())
	assert.False(t, ConfigWait.Brakes())
	assert.False(t, Error.Brakes())
}

func TestParseControlMode(t *testing.T) {
	mode, err := ParseControlMode("velocity")
	assert.Nil(t, err)
	assert.Equal(t, ModeVelocity, mode)
	mode, err = ParseControlMode("2")
	assert.Nil(t, err)
	assert.Equal(t, ModePosition, mode)
	_, err = ParseControlMode("torque")
	assert.NotNil(t, err)
}
