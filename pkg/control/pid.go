package control

type PIDConfig struct {
	Kp            float32 `json:"kp"`
	Ki            float32 `json:"ki"`
	Kd            float32 `json:"kd"`
	IntegralLimit float32 `json:"integral_limit"`
	OutputLimit   float32 `json:"output_limit"`
}

// PID controller with integral clamping. The derivative term is computed on
// the measurement so that setpoint steps do not kick the output.
type PID struct {
	config          PIDConfig
	integral        float32
	prevMeasurement float32
}

func NewPID(config PIDConfig) *PID {
	return &PID{config: config}
}

// One controller step, dt in seconds
func (pid *PID) Update(setpoint float32, measurement float32, dt float32) float32 {
	if dt <= 0 {
		return 0
	}
	err := setpoint - measurement
	pid.integral = Saturate(pid.integral+err*dt, pid.config.IntegralLimit)
	derivative := (measurement - pid.prevMeasurement) / dt
	output := pid.config.Kp*err + pid.config.Ki*pid.integral - pid.config.Kd*derivative
	pid.prevMeasurement = measurement
	return Saturate(output, pid.config.OutputLimit)
}

// Clear the integral, the measurement avoids a derivative spike on the next update
func (pid *PID) Reset(measurement float32) {
	pid.integral = 0
	pid.prevMeasurement = measurement
}

// Replace the configuration and clear the integral
func (pid *PID) SetConfig(config PIDConfig) {
	pid.config = config
	pid.integral = 0
}

// Replace the configuration keeping the integral, clamped to the new limit
func (pid *PID) UpdateConfig(config PIDConfig) {
	pid.config = config
	pid.integral = Saturate(pid.integral, config.IntegralLimit)
}

func (pid *PID) Config() PIDConfig {
	return pid.config
}

func (pid *PID) Integral() float32 {
	return pid.integral
}
