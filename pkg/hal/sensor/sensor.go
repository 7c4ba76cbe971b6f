package sensor

import (
	"fmt"
	"math"
	"sync"

	log "github.com/sirupsen/logrus"
	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/ina260"
	"tinygo.org/x/drivers/tmp102"
)

const (
	DefaultTMP102Address = 0x48
	DefaultINA260Address = 0x40
)

type Config struct {
	TMP102Address uint8
	INA260Address uint8
}

func DefaultConfig() Config {
	return Config{TMP102Address: DefaultTMP102Address, INA260Address: DefaultINA260Address}
}

// Bus wrapper keeping the first error of a driver call, the drivers do not
// all report transfer errors
type recorder struct {
	bus drivers.I2C
	err error
}

func (r *recorder) Tx(addr uint16, w, rx []byte) error {
	err := r.bus.Tx(addr, w, rx)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("i2c x%x : %w", addr, err)
	}
	return err
}

func (r *recorder) take() error {
	err := r.err
	r.err = nil
	return err
}

// Board sensors : TMP102 temperature and INA260 load current on one I2C bus
type Sensors struct {
	mu      sync.Mutex
	bus     *recorder
	thermo  tmp102.Device
	current ina260.Device
	logger  *log.Entry
}

func New(bus drivers.I2C, cfg Config, logger *log.Entry) *Sensors {
	if logger == nil {
		logger = log.WithField("service", "[SENSOR]")
	}
	rec := &recorder{bus: bus}
	s := &Sensors{
		bus:     rec,
		thermo:  tmp102.New(rec),
		current: ina260.New(rec),
		logger:  logger,
	}
	s.thermo.Configure(tmp102.Config{Address: cfg.TMP102Address})
	s.current.Address = uint16(cfg.INA260Address)
	return s
}

// Load current in A
func (s *Sensors) LoadCurrent() (float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	microAmps := s.current.Current()
	if err := s.bus.take(); err != nil {
		return 0, err
	}
	return float32(microAmps) / 1e6, nil
}

// Board temperature in degC, saturated to the int8 range
func (s *Sensors) Temperature() (int8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	milli, err := s.thermo.ReadTemperature()
	s.bus.take()
	if err != nil {
		return 0, err
	}
	return toCelsius(milli), nil
}

func toCelsius(milli int32) int8 {
	c := math.Round(float64(milli) / 1000)
	if c > math.MaxInt8 {
		return math.MaxInt8
	}
	if c < math.MinInt8 {
		return math.MinInt8
	}
	return int8(c)
}
