package sim

import (
	"math"
	"testing"
	"time"

	"github.com/gn10/mdnode/pkg/motor"
	"github.com/stretchr/testify/assert"
)

func TestMotorPlant(t *testing.T) {
	t.Run("reaches steady state speed", func(t *testing.T) {
		m := NewMotor(DefaultMotorParams())
		m.Apply(0.5, true)
		m.Step(time.Second)
		assert.InDelta(t, 150, m.Velocity(), 0.1)
		assert.Greater(t, m.Position(), 0.0)
		assert.Greater(t, m.Counts(), int32(0))
	})
	t.Run("duty is clamped", func(t *testing.T) {
		m := NewMotor(DefaultMotorParams())
		m.Apply(-3, false)
		m.Step(time.Second)
		assert.InDelta(t, -DefaultMaxSpeed, m.Velocity(), 0.1)
	})
	t.Run("braking stops faster than coasting", func(t *testing.T) {
		coast := NewMotor(DefaultMotorParams())
		brake := NewMotor(DefaultMotorParams())
		for _, m := range []*Motor{coast, brake} {
			m.Apply(1, true)
			m.Step(time.Second)
		}
		coast.Apply(0, false)
		brake.Apply(0, true)
		coast.Step(20 * time.Millisecond)
		brake.Step(20 * time.Millisecond)
		assert.Less(t, brake.Velocity(), coast.Velocity())
	})
	t.Run("current drops with back emf", func(t *testing.T) {
		m := NewMotor(DefaultMotorParams())
		m.Apply(1, true)
		assert.InDelta(t, DefaultStallCurrent, m.Current(), 1e-9)
		m.Step(time.Second)
		assert.Less(t, m.Current(), 0.1)
	})
	t.Run("counts follow position", func(t *testing.T) {
		m := NewMotor(MotorParams{MaxSpeed: 2 * math.Pi, TimeConstant: 1e-4, CountsPerRev: 1000})
		m.Apply(1, true)
		m.Step(time.Second)
		assert.InDelta(t, 1000, float64(m.Counts()), 2)
	})
}

func TestGateDriverDrivesPlant(t *testing.T) {
	plant := NewMotor(DefaultMotorParams())
	gate := NewGateDriver(plant)
	assert.True(t, gate.Init())
	gate.SetBrakeMode(true)
	assert.True(t, gate.Output(2))
	out, brake := gate.State()
	assert.EqualValues(t, 1, out)
	assert.True(t, brake)
	assert.Equal(t, 1, gate.Writes())
	plant.Step(time.Second)
	assert.InDelta(t, DefaultMaxSpeed, plant.Velocity(), 0.1)

	gate.SetFailing(true)
	assert.False(t, gate.Init())
}

func TestEncoder(t *testing.T) {
	plant := NewMotor(DefaultMotorParams())
	enc := NewEncoder(plant)
	assert.True(t, enc.Init())
	plant.Apply(0.2, true)
	plant.Step(100 * time.Millisecond)
	assert.Equal(t, plant.Counts(), enc.Counts())
	assert.InDelta(t, plant.Velocity(), float64(enc.Velocity()), 1e-3)
	enc.ResetCounts()
	assert.EqualValues(t, 0, enc.Counts())
	assert.False(t, NewEncoder(nil).Init())
}

func TestLimitSwitchAndIndicator(t *testing.T) {
	ls := &LimitSwitch{}
	ls.Press(0)
	ls.Press(1)
	assert.EqualValues(t, 0b11, ls.Read())
	ls.Release(0)
	assert.EqualValues(t, 0b10, ls.Read())
	ls.Set(0)
	assert.EqualValues(t, 0, ls.Read())

	ind := NewIndicator()
	ind.Set(motor.Power, true)
	assert.True(t, ind.Get(motor.Power))
	assert.False(t, ind.Get(motor.Activity))
}

func TestSensors(t *testing.T) {
	plant := NewMotor(DefaultMotorParams())
	s := NewSensors(plant)
	temp, err := s.Temperature()
	assert.Nil(t, err)
	assert.EqualValues(t, DefaultAmbientTempC, temp)
	s.SetFault(true)
	_, err = s.LoadCurrent()
	assert.ErrorIs(t, err, ErrSensorFault)
}

func TestBoardID(t *testing.T) {
	tests := []struct {
		dip   DipSwitch
		order DipOrder
		id    uint8
	}{
		{DipSwitch{false, false, false, false}, DipLSBFirst, 0},
		{DipSwitch{true, false, false, false}, DipLSBFirst, 1},
		{DipSwitch{true, false, false, false}, DipMSBFirst, 8},
		{DipSwitch{false, true, true, false}, DipLSBFirst, 6},
		{DipSwitch{false, false, true, true}, DipMSBFirst, 3},
		{DipSwitch{true, true, true, true}, DipMSBFirst, 15},
	}
	for _, test := range tests {
		assert.Equal(t, test.id, BoardID(test.dip, test.order))
		assert.Equal(t, test.dip, DipFor(test.id, test.order))
	}
}
