package control

// Shaper bounds the rate of change of a command, |out[t] - out[t-1]| <= maxRate * dt.
// The unit of maxRate is the command unit per dt unit.
type Shaper struct {
	maxRate float32
	value   float32
}

func NewShaper(maxRate float32, initial float32) *Shaper {
	return &Shaper{maxRate: abs(maxRate), value: initial}
}

func (s *Shaper) SetMaxRate(maxRate float32) {
	s.maxRate = abs(maxRate)
}

func (s *Shaper) MaxRate() float32 {
	return s.maxRate
}

// Move towards target by at most maxRate * dt, dt <= 0 keeps the previous value
func (s *Shaper) Limit(target float32, dt float32) float32 {
	if dt <= 0 {
		return s.value
	}
	maxDelta := s.maxRate * dt
	s.value += clamp(target-s.value, -maxDelta, maxDelta)
	return s.value
}

// Force the output without rate limiting
func (s *Shaper) Reset(value float32) {
	s.value = value
}

func (s *Shaper) Value() float32 {
	return s.value
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

// Clamp v to [-limit, limit]
func Saturate(v float32, limit float32) float32 {
	limit = abs(limit)
	return clamp(v, -limit, limit)
}
