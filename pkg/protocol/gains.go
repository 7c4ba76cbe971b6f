package protocol

// PID gains, each channel may be updated on its own
type PidGains struct {
	Kp float32 `json:"kp"`
	Ki float32 `json:"ki"`
	Kd float32 `json:"kd"`
}

func (g *PidGains) Set(ch GainChannel, v float32) error {
	switch ch {
	case GainP:
		g.Kp = v
	case GainI:
		g.Ki = v
	case GainD:
		g.Kd = v
	default:
		return ErrGainChannel
	}
	return nil
}

func (g PidGains) Get(ch GainChannel) float32 {
	switch ch {
	case GainP:
		return g.Kp
	case GainI:
		return g.Ki
	case GainD:
		return g.Kd
	}
	return 0
}

// The controller is bypassed until a proportional gain is set
func (g PidGains) Active() bool {
	return g.Kp != 0
}
