package motor

import (
	"sync"
	"time"

	mdnode "github.com/gn10/mdnode"
	"github.com/gn10/mdnode/pkg/control"
	"github.com/gn10/mdnode/pkg/mailbox"
	"github.com/gn10/mdnode/pkg/protocol"
	"github.com/gn10/mdnode/pkg/safety"
	"github.com/gn10/mdnode/pkg/state"
	log "github.com/sirupsen/logrus"
)

// Snapshot of the manager, safe to share between goroutines
type Snapshot struct {
	State       state.State          `json:"state"`
	Mode        state.ControlMode    `json:"mode"`
	Target      float32              `json:"target"`
	Output      float32              `json:"output"`
	Measurement float32              `json:"measurement"`
	LimitSwitch uint8                `json:"limit_switch"`
	Stale       bool                 `json:"stale"`
	Config      protocol.MotorConfig `json:"config"`
	Gains       protocol.PidGains    `json:"gains"`
	TxFailures  int                  `json:"tx_failures"`
	Ticks       uint64               `json:"ticks"`
}

// Manager runs one motor driver : it drains the mailbox, drives the state
// machine and the control pipeline, writes the gate driver and reports to
// the master. Tick is meant to be called from a single goroutine.
type Manager struct {
	mu        sync.Mutex
	cfg       ManagerConfig
	hw        Hardware
	mailbox   *mailbox.Mailbox
	sender    Sender
	logger    *log.Entry
	machine   *state.Machine
	shaper    *control.Shaper
	pid       *control.PID
	interlock *safety.Interlock

	motorConfig protocol.MotorConfig
	configured  bool
	gains       protocol.PidGains

	target      float32
	fresh       bool
	staleCount  int
	remoteBits  uint8
	limitBits   uint8
	lastLimit   uint8
	measurement float32
	totalCounts int64
	lastCounts  int32
	output      float32

	ticks       uint64
	txFailTicks int
	// Frames attempted and failed during the current tick
	txAttempts int
	txErrors   int
	heartbeat   bool
}

func NewManager(cfg ManagerConfig, hw Hardware, mb *mailbox.Mailbox, sender Sender, logger *log.Entry) *Manager {
	if logger == nil {
		logger = log.WithFields(log.Fields{"service": "[MOTOR]", "id": cfg.BoardID})
	}
	m := &Manager{
		cfg:       cfg,
		hw:        hw,
		mailbox:   mb,
		sender:    sender,
		logger:    logger,
		machine:   state.NewMachine(logger.WithField("service", "[STATE]")),
		shaper:    control.NewShaper(0, 0),
		interlock: safety.New(safety.BehaviorNone),
		gains:     cfg.InitialGains,
	}
	m.pid = control.NewPID(m.pidConfig())
	return m
}

func (m *Manager) pidConfig() control.PIDConfig {
	return control.PIDConfig{
		Kp:            m.gains.Kp,
		Ki:            m.gains.Ki,
		Kd:            m.gains.Kd,
		IntegralLimit: m.cfg.IntegralLimit,
		OutputLimit:   float32(m.motorConfig.MaxOutput),
	}
}

// Initialize the peripherals, a gate driver or encoder failure is fatal and
// leaves the manager in the error state until cleared
func (m *Manager) Init() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	gateOk := m.hw.GateDriver != nil && m.hw.GateDriver.Init()
	encoderOk := m.hw.Encoder == nil || m.hw.Encoder.Init()
	if m.hw.Indicator != nil {
		if m.hw.Indicator.Init() {
			m.hw.Indicator.Set(Power, true)
		} else {
			m.logger.Warn("indicator init failed")
		}
	}
	if !gateOk || !encoderOk {
		m.logger.Errorf("hardware init failed | gate driver ok : %v, encoder ok : %v", gateOk, encoderOk)
		m.machine.TriggerError()
		if m.hw.GateDriver != nil {
			m.hw.GateDriver.Output(0)
			m.hw.GateDriver.SetBrakeMode(false)
		}
		m.indicate()
		return false
	}
	if m.hw.Encoder != nil {
		m.lastCounts = m.hw.Encoder.Counts()
	}
	m.machine.InitComplete()
	m.logger.Info("hardware initialized, waiting for configuration")
	return true
}

// One control period
func (m *Manager) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks++
	m.txAttempts, m.txErrors = 0, 0

	m.drainTarget()
	m.drainConfig()
	m.drainGains()
	m.drainLimitSwitch()
	m.drainCommands()
	m.measure()

	allowed := m.evaluateInterlock()
	if m.cfg.AutoStart && m.fresh && m.target != 0 && allowed && m.machine.State() == state.Idle {
		m.start()
	}

	m.output = m.compute(allowed)
	m.apply()
	m.transmit()
	m.indicate()
}

func (m *Manager) drainTarget() {
	target, ok := m.mailbox.TakeTarget()
	m.fresh = ok
	if ok {
		m.target = target
		m.staleCount = 0
		return
	}
	m.staleCount++
	if m.cfg.UpdateTargetCountMax > 0 && m.staleCount > m.cfg.UpdateTargetCountMax {
		if m.target != 0 {
			m.logger.Debugf("target stale for %v ticks, forcing 0", m.staleCount)
		}
		m.target = 0
		m.resetControllers()
	}
}

func (m *Manager) drainConfig() {
	cfg, ok := m.mailbox.TakeConfig()
	if !ok {
		return
	}
	if err := cfg.Validate(); err != nil {
		m.logger.Warnf("ignoring configuration : %v", err)
		return
	}
	m.motorConfig = cfg
	m.configured = true
	m.machine.CompleteConfig()
	mode := modeFor(cfg.EncoderType)
	if !m.machine.SetControlMode(mode) {
		m.logger.Warnf("control mode %v refused in state %v, keeping %v", mode, m.machine.State(), m.machine.ControlMode())
	}
	m.interlock.SetBehavior(cfg.LimitSwitchBehavior)
	m.shaper.SetMaxRate(float32(cfg.MaxAcceleration))
	m.pid.SetConfig(m.pidConfig())
	m.resetControllers()
	m.logger.Infof("configuration applied | %v", cfg)
}

// Control mode implied by the encoder of the board
func modeFor(encoder protocol.EncoderType) state.ControlMode {
	switch encoder {
	case protocol.EncoderIncrementalVelocity:
		return state.ModeVelocity
	case protocol.EncoderAbsolute, protocol.EncoderIncrementalTotal:
		return state.ModePosition
	}
	return state.ModeDuty
}

func (m *Manager) drainGains() {
	changed := false
	for ch := protocol.GainChannel(0); ch < protocol.GainChannelCount; ch++ {
		value, ok := m.mailbox.TakeGain(ch)
		if !ok {
			continue
		}
		_ = m.gains.Set(ch, value)
		changed = true
		m.logger.Infof("gain %v updated : %v", ch, value)
		// Echo back so the master can confirm
		payload, _ := protocol.EncodeGain(ch, value)
		m.send(protocol.KindGain, payload)
	}
	if changed {
		m.pid.SetConfig(m.pidConfig())
	}
}

// Limit switch bits forwarded by the master
func (m *Manager) drainLimitSwitch() {
	if bits, ok := m.mailbox.TakeLimitSwitch(); ok {
		m.remoteBits = bits
	}
}

func (m *Manager) drainCommands() {
	cmd, arg, ok := m.mailbox.TakeCommand()
	if !ok {
		return
	}
	m.logger.Debugf("command %v (%v)", cmd, arg)
	switch cmd {
	case protocol.CommandStop:
		m.machine.StopControl()
		m.target = 0
		m.resetControllers()
	case protocol.CommandStart:
		m.start()
	case protocol.CommandClearError:
		if m.machine.ClearError() {
			m.txFailTicks = 0
			m.resetControllers()
			m.logger.Info("error cleared")
		}
	case protocol.CommandSetMode:
		if !m.machine.SetControlMode(state.ControlMode(arg)) {
			m.logger.Warnf("control mode %v refused in state %v", state.ControlMode(arg), m.machine.State())
		}
	case protocol.CommandResetEncoder:
		if m.hw.Encoder != nil {
			m.hw.Encoder.ResetCounts()
			m.lastCounts = m.hw.Encoder.Counts()
		}
		m.totalCounts = 0
		m.measurement = 0
		m.resetControllers()
	}
}

func (m *Manager) start() {
	if m.machine.StartControl() {
		m.resetControllers()
	}
}

func (m *Manager) resetControllers() {
	m.shaper.Reset(0)
	m.pid.Reset(m.measurement)
}

func (m *Manager) measure() {
	if m.hw.Encoder == nil {
		m.measurement = 0
		return
	}
	switch m.motorConfig.EncoderType {
	case protocol.EncoderIncrementalVelocity:
		m.measurement = m.hw.Encoder.Velocity()
	case protocol.EncoderAbsolute:
		m.measurement = float32(m.hw.Encoder.Counts())
	case protocol.EncoderIncrementalTotal:
		counts := m.hw.Encoder.Counts()
		// int32 difference handles counter wrap around
		m.totalCounts += int64(counts - m.lastCounts)
		m.lastCounts = counts
		m.measurement = float32(m.totalCounts)
	default:
		m.measurement = 0
	}
}

// Returns false when the interlock vetoes the target
func (m *Manager) evaluateInterlock() bool {
	m.limitBits = m.remoteBits
	if m.hw.LimitSwitch != nil {
		m.limitBits |= m.hw.LimitSwitch.Read()
	}
	allowed := m.interlock.Evaluate(m.limitBits, m.target)
	current := m.machine.State()
	if m.interlock.Latched() {
		if current != state.LimitStop && m.machine.TriggerLimitSwitch() {
			m.logger.Warnf("limit switch latched (0b%b)", m.limitBits)
		}
	} else if current == state.LimitStop {
		m.machine.StopControl()
	}
	return allowed
}

func (m *Manager) controlPeriodMs() float32 {
	if m.motorConfig.ControlPeriodMs > 0 {
		return float32(m.motorConfig.ControlPeriodMs)
	}
	return float32(m.cfg.DefaultControlPeriodMs)
}

func (m *Manager) compute(allowed bool) float32 {
	if m.machine.State() != state.Running {
		return 0
	}
	if !allowed {
		m.resetControllers()
		return 0
	}
	if m.cfg.StrictZero && m.target == 0 {
		m.resetControllers()
		return 0
	}
	dtMs := m.controlPeriodMs()
	out := m.shaper.Limit(m.target, dtMs)
	if m.machine.ControlMode() != state.ModeDuty && m.gains.Active() && m.hw.Encoder != nil {
		out = m.pid.Update(out, m.measurement, dtMs/1000)
	}
	return control.Saturate(out, float32(m.motorConfig.MaxOutput))
}

func (m *Manager) apply() {
	if m.hw.GateDriver == nil {
		return
	}
	current := m.machine.State()
	m.hw.GateDriver.SetBrakeMode(current.Brakes())
	if !m.hw.GateDriver.Output(control.Saturate(m.output/m.cfg.DutyFullScale, 1)) {
		m.logger.Debug("gate driver rejected output")
	}
}

// Send every n ticks, the first tick always sends
func (m *Manager) every(n int) bool {
	return n <= 1 || (m.ticks-1)%uint64(n) == 0
}

// Periodic reports, then the failure accounting of every frame sent during
// the tick, gain echoes included
func (m *Manager) transmit() {
	current := m.machine.State()
	if current == state.ConfigWait && m.every(m.cfg.InitReportPeriod) {
		m.send(protocol.KindInit, protocol.EncodeInitReport(m.cfg.BoardType))
	}
	if m.configured && m.every(m.motorConfig.FeedbackEvery()) {
		value := m.measurement
		if m.motorConfig.EncoderType == protocol.EncoderNone {
			value = m.output
		}
		payload, _ := protocol.Feedback{Value: value, LimitSwitch: m.limitBits}.MarshalBinary()
		m.send(protocol.KindFeedback, payload)
	}
	if m.hw.LimitSwitch != nil && (m.limitBits != m.lastLimit || m.every(m.cfg.LimitReportPeriod)) {
		m.lastLimit = m.limitBits
		m.send(protocol.KindLimitSwitch, protocol.EncodeLimitSwitch(m.limitBits))
	}
	if m.hw.Sensors != nil && m.every(m.cfg.StatusPeriod) {
		if payload, ok := m.readStatus(); ok {
			m.send(protocol.KindStatus, payload)
		}
	}
	if m.txAttempts == 0 {
		return
	}
	if m.txErrors == 0 {
		m.txFailTicks = 0
		return
	}
	m.txFailTicks++
	if m.cfg.MaxTxFailures > 0 && m.txFailTicks >= m.cfg.MaxTxFailures && current != state.Error {
		m.logger.Errorf("transmission failed for %v consecutive ticks", m.txFailTicks)
		m.machine.TriggerError()
	}
}

func (m *Manager) readStatus() ([]byte, bool) {
	current, err := m.hw.Sensors.LoadCurrent()
	if err != nil {
		m.logger.Debugf("failed to read load current : %v", err)
		return nil, false
	}
	temperature, err := m.hw.Sensors.Temperature()
	if err != nil {
		m.logger.Debugf("failed to read temperature : %v", err)
		return nil, false
	}
	payload, _ := protocol.Status{LoadCurrent: current, Temperature: temperature}.MarshalBinary()
	return payload, true
}

func (m *Manager) send(kind protocol.Kind, payload []byte) {
	m.txAttempts++
	if m.sender == nil {
		m.txErrors++
		return
	}
	id := protocol.EncodeID(protocol.ToMaster, m.cfg.BoardType, m.cfg.BoardID, kind)
	if err := m.sender.Send(mdnode.NewFrameWithData(uint32(id), payload)); err != nil {
		m.txErrors++
	}
}

func (m *Manager) indicate() {
	ind := m.hw.Indicator
	if ind == nil {
		return
	}
	if m.cfg.HeartbeatPeriod > 0 && m.ticks%uint64(m.cfg.HeartbeatPeriod) == 0 {
		m.heartbeat = !m.heartbeat
	}
	switch m.machine.State() {
	case state.Running, state.Idle:
		ind.Set(Heartbeat, m.heartbeat)
		ind.Set(Activity, m.output != 0)
		ind.Set(Direction, m.output < 0)
	case state.LimitStop:
		ind.Set(Heartbeat, m.heartbeat)
		ind.Set(Activity, true)
		ind.Set(Direction, true)
	case state.Error:
		ind.Set(Heartbeat, true)
		ind.Set(Activity, true)
		ind.Set(Direction, true)
	case state.ConfigWait:
		ind.Set(Heartbeat, true)
		ind.Set(Activity, false)
		ind.Set(Direction, false)
	default:
		ind.Set(Heartbeat, false)
		ind.Set(Activity, false)
		ind.Set(Direction, false)
	}
}

func (m *Manager) State() state.State {
	return m.machine.State()
}

func (m *Manager) ControlMode() state.ControlMode {
	return m.machine.ControlMode()
}

// Register a callback for state changes. It runs on the control goroutine
// and must not call back into the manager.
func (m *Manager) OnStateChange(callback func(prev, next state.State)) {
	m.machine.OnChange(callback)
}

func (m *Manager) Output() float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.output
}

func (m *Manager) Target() float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

func (m *Manager) Measurement() float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.measurement
}

func (m *Manager) Config() protocol.MotorConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.motorConfig
}

func (m *Manager) Gains() protocol.PidGains {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gains
}

// Current control period, the default one until a configuration is applied
func (m *Manager) ControlPeriod() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Duration(m.controlPeriodMs()) * time.Millisecond
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:       m.machine.State(),
		Mode:        m.machine.ControlMode(),
		Target:      m.target,
		Output:      m.output,
		Measurement: m.measurement,
		LimitSwitch: m.limitBits,
		Stale:       m.cfg.UpdateTargetCountMax > 0 && m.staleCount > m.cfg.UpdateTargetCountMax,
		Config:      m.motorConfig,
		Gains:       m.gains,
		TxFailures:  m.txFailTicks,
		Ticks:       m.ticks,
	}
}
