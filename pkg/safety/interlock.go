package safety

// Limit switch behaviors
const (
	BehaviorNone          uint8 = 0 // switches are reported only
	BehaviorLatch         uint8 = 1 // a press blocks until the command returns to zero
	BehaviorBlockPositive uint8 = 2 // pressed switch blocks positive commands
	BehaviorBlockNegative uint8 = 3 // pressed switch blocks negative commands
	BehaviorDual          uint8 = 4 // bit 0 blocks positive, bit 1 blocks negative
)

const (
	switchPositive uint8 = 1 << 0
	switchNegative uint8 = 1 << 1
)

// Interlock decides whether a command may reach the motor given the
// limit switch state. It does not touch the output itself.
type Interlock struct {
	behavior uint8
	// Latch armed, reset to true every time the switch reads released
	armed bool
	// Last evaluation blocked because of an armed latch
	engaged bool
}

func New(behavior uint8) *Interlock {
	return &Interlock{behavior: behavior, armed: true}
}

// Change the behavior, the latch is re-armed
func (il *Interlock) SetBehavior(behavior uint8) {
	il.behavior = behavior
	il.armed = true
	il.engaged = false
}

func (il *Interlock) Behavior() uint8 {
	return il.behavior
}

// Evaluate returns false when the requested command must not be applied
func (il *Interlock) Evaluate(bits uint8, requested float32) bool {
	pressed := bits != 0
	switch il.behavior {
	case BehaviorLatch:
		if !pressed {
			il.armed = true
			il.engaged = false
			return true
		}
		if requested == 0 {
			// Zero command acknowledges the press, moving off the switch is allowed next
			il.armed = false
			il.engaged = false
			return false
		}
		il.engaged = il.armed
		return !il.armed
	case BehaviorBlockPositive:
		return !(pressed && requested > 0)
	case BehaviorBlockNegative:
		return !(pressed && requested < 0)
	case BehaviorDual:
		if bits&switchPositive != 0 && requested > 0 {
			return false
		}
		if bits&switchNegative != 0 && requested < 0 {
			return false
		}
		return true
	}
	return true
}

// True while a pressed switch holds the latch, only for [BehaviorLatch]
func (il *Interlock) Latched() bool {
	return il.engaged
}
