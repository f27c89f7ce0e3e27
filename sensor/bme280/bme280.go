// Package bme280 reads Bosch BME280 temperature/humidity/pressure sensors over I²C.
package bme280

import (
	"github.com/mtraver/dhtlogger/sensor"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
)

// DefaultAddress is the I²C address of a BME280 with SDO pulled low.
const DefaultAddress = 0x76

type BME280 struct {
	bus i2c.BusCloser
	dev *bmxx80.Dev
}

// New opens the default I²C bus and the BME280 at addr on it.
func New(addr uint16) (*BME280, error) {
	bus, err := i2creg.Open("")
	if err != nil {
		return nil, &sensor.GPIOError{Op: "open i2c", Err: err}
	}

	d, err := bmxx80.NewI2C(bus, addr, &bmxx80.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, &sensor.GPIOError{Op: "open bme280", Err: err}
	}

	return &BME280{
		bus: bus,
		dev: d,
	}, nil
}

func (s *BME280) Read() (sensor.Reading, error) {
	var e physic.Env
	if err := s.dev.Sense(&e); err != nil {
		return sensor.Reading{}, &sensor.GPIOError{Op: "sense", Err: err}
	}

	return toReading(e), nil
}

func (s *BME280) Close() error {
	if err := s.dev.Halt(); err != nil {
		s.bus.Close()
		return err
	}
	return s.bus.Close()
}

func toReading(e physic.Env) sensor.Reading {
	return sensor.Reading{
		Temperature: float32(e.Temperature.Celsius()),
		Humidity:    float32(float64(e.Humidity) / float64(physic.PercentRH)),
	}
}

func init() {
	sensor.Register("bme280", func(cfg sensor.Config) (sensor.Device, error) {
		addr := cfg.Address
		if addr == 0 {
			addr = DefaultAddress
		}
		return New(addr)
	})
}
