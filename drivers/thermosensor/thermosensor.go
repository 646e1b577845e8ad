// Package thermosensor drives an AHT20-class I2C temperature/humidity
// sensor down to the single reading ThermoController needs: degrees
// Celsius. The two-phase trigger/collect protocol and fixed-point register
// layout follow the datasheet convention common to this sensor family.
package thermosensor

import (
	"errors"
	"time"

	"tinygo.org/x/drivers"
)

// Address is the sensor's default I2C address.
const Address = 0x38

const (
	cmdTrigger    = 0xAC
	cmdInitialize = 0xBE
	cmdStatus     = 0x71

	statusBusy       = 0x80
	statusCalibrated = 0x08
)

// Errors returned by the driver.
var (
	ErrTimeout  = errors.New("thermosensor: timeout")
	ErrNotReady = errors.New("thermosensor: not ready")
)

// Config controls polling behaviour; all fields are optional.
type Config struct {
	Address        uint16
	PollInterval   time.Duration // between Collect attempts while converting
	CollectTimeout time.Duration // bounds ReadCelsius's total wait
}

// Sensor wraps an I2C connection to one temperature sensor.
type Sensor struct {
	bus     drivers.I2C
	address uint16
	cfg     Config
	buf     [7]byte
}

// New creates a Sensor. The I2C bus must already be configured; New does
// not touch the device.
func New(bus drivers.I2C, cfg Config) *Sensor {
	if cfg.Address == 0 {
		cfg.Address = Address
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Millisecond
	}
	if cfg.CollectTimeout <= 0 {
		cfg.CollectTimeout = 250 * time.Millisecond
	}
	return &Sensor{bus: bus, address: cfg.Address, cfg: cfg}
}

// Configure initializes the sensor if its calibration bit isn't already
// set. Safe to call more than once.
func (s *Sensor) Configure() error {
	status, err := s.status()
	if err == nil && status&statusCalibrated != 0 {
		return nil
	}
	if err := s.bus.Tx(s.address, []byte{cmdInitialize, 0x08, 0x00}, nil); err != nil {
		return err
	}
	time.Sleep(10 * time.Millisecond)
	return nil
}

func (s *Sensor) status() (byte, error) {
	data := []byte{0}
	if err := s.bus.Tx(s.address, []byte{cmdStatus}, data); err != nil {
		return 0, err
	}
	return data[0], nil
}

// trigger starts a measurement: a short register write, no blocking.
func (s *Sensor) trigger() error {
	return s.bus.Tx(s.address, []byte{cmdTrigger, 0x33, 0x00}, nil)
}

// collect attempts to read one measurement. Returns ErrNotReady while the
// device is still converting.
func (s *Sensor) collect() (tempRaw uint32, err error) {
	data := s.buf[:]
	if err := s.bus.Tx(s.address, nil, data); err != nil {
		return 0, err
	}
	if (data[0]&statusCalibrated) == 0 || (data[0]&statusBusy) != 0 {
		return 0, ErrNotReady
	}
	traw := (uint32(data[3]&0x0F) << 16) | (uint32(data[4]) << 8) | uint32(data[5])
	return traw, nil
}

// ReadCelsius performs a full trigger-then-poll measurement cycle and
// returns the temperature in degrees Celsius.
func (s *Sensor) ReadCelsius() (float64, error) {
	if err := s.trigger(); err != nil {
		return 0, err
	}
	deadline := time.Now().Add(s.cfg.CollectTimeout)
	for {
		raw, err := s.collect()
		switch err {
		case nil:
			return rawToCelsius(raw), nil
		case ErrNotReady:
			if time.Now().After(deadline) {
				return 0, ErrTimeout
			}
			time.Sleep(s.cfg.PollInterval)
		default:
			return 0, err
		}
	}
}

func rawToCelsius(raw uint32) float64 {
	return (float64(raw)*200.0)/0x100000 - 50
}
