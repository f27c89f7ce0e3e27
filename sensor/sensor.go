// Package sensor defines the contract between temperature/humidity hardware drivers
// and the code that samples them.
package sensor

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrChecksum is returned when the data received from a sensor was corrupted in transit.
	ErrChecksum = errors.New("sensor: checksum mismatch")

	// ErrTimeout is returned when a sensor did not respond within its hardware-mandated window.
	ErrTimeout = errors.New("sensor: timed out waiting for response")
)

// GPIOError is a lower-level I/O fault raised by the pin or bus a sensor is attached to.
type GPIOError struct {
	Op  string
	Err error
}

func (e *GPIOError) Error() string {
	return fmt.Sprintf("sensor: gpio %s: %v", e.Op, e.Err)
}

func (e *GPIOError) Unwrap() error {
	return e.Err
}

// Reading is a temperature/humidity pair obtained from one successful hardware poll.
type Reading struct {
	// Temperature in degrees Celsius.
	Temperature float32
	// Humidity as relative humidity in percent.
	Humidity float32
}

func (r Reading) String() string {
	return fmt.Sprintf("%.1f°C %.1f%%RH", r.Temperature, r.Humidity)
}

// Device is a single attached sensor.
type Device interface {
	// Read performs exactly one timed hardware read. It does not retry; that is the
	// caller's responsibility. Failures are ErrChecksum, ErrTimeout, or a *GPIOError.
	Read() (Reading, error)
	// Close releases the pin or bus held by the device.
	Close() error
}

// Config locates a device on the host.
type Config struct {
	// Pin is the GPIO number of single-wire sensors.
	Pin uint8
	// Address is the bus address of I²C sensors.
	Address uint16
}

// Opener makes a Device of a particular model.
type Opener func(cfg Config) (Device, error)

var (
	openersMu sync.Mutex
	openers   map[string]Opener
)

// Register makes a sensor model available to Open.
func Register(model string, o Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()

	if openers == nil {
		openers = make(map[string]Opener)
	}
	openers[model] = o
}

// Open makes a Device of the given model. It returns an error if no model with
// the given name has been registered.
func Open(model string, cfg Config) (Device, error) {
	openersMu.Lock()
	o, ok := openers[model]
	openersMu.Unlock()

	if !ok {
		return nil, fmt.Errorf("sensor: unknown model %q", model)
	}
	return o(cfg)
}

// Models returns the names of all registered models, sorted.
func Models() []string {
	openersMu.Lock()
	defer openersMu.Unlock()

	models := make([]string, 0, len(openers))
	for m := range openers {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}
