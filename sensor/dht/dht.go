// Package dht reads DHT11 and DHT22 (AM2302) temperature/humidity sensors over a
// single GPIO pin.
//
// The host must have been initialized with periph.io/x/host/v3 before a device is opened.
package dht

import (
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/mtraver/dhtlogger/sensor"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// MinPollInterval is the minimum spacing between two reads of the same DHT22.
// The datasheet says 2 s; the extra 100 ms absorbs scheduling slack.
const MinPollInterval = 2100 * time.Millisecond

const (
	// Number of data bits in one transmission: 16 humidity, 16 temperature, 8 checksum.
	dataBits = 40

	// A high pulse longer than this is a 1 bit. Nominal widths are 26-28 µs for a 0
	// and 70 µs for a 1.
	oneThreshold = 50 * time.Microsecond

	// The whole transmission takes about 5 ms.
	responseWindow = 10 * time.Millisecond

	idleHigh = 2 * time.Millisecond
)

type Model int

const (
	DHT22 Model = iota
	DHT11
)

func (m Model) String() string {
	switch m {
	case DHT11:
		return "dht11"
	case DHT22:
		return "dht22"
	default:
		return "unknown"
	}
}

// startLow is how long the host must hold the line low to wake the sensor.
func (m Model) startLow() time.Duration {
	if m == DHT11 {
		return 20 * time.Millisecond
	}
	return 1100 * time.Microsecond
}

// The sensors share one timing-sensitive bus, so reads are never concurrent.
var busMu sync.Mutex

// Dev is a DHT sensor attached to a GPIO pin.
type Dev struct {
	pin   gpio.PinIO
	model Model
}

// New looks up the given GPIO pin by number and returns a device reading from it.
func New(pin uint8, model Model) (*Dev, error) {
	p := gpioreg.ByName(strconv.Itoa(int(pin)))
	if p == nil {
		return nil, &sensor.GPIOError{Op: "open", Err: errNoPin(pin)}
	}

	return &Dev{
		pin:   p,
		model: model,
	}, nil
}

type errNoPin uint8

func (e errNoPin) Error() string {
	return "no such pin GPIO" + strconv.Itoa(int(e))
}

func (d *Dev) String() string {
	return d.model.String() + "@" + d.pin.Name()
}

// Read sends the start signal, captures the sensor's response and decodes it.
func (d *Dev) Read() (sensor.Reading, error) {
	busMu.Lock()
	defer busMu.Unlock()

	// Keep the capture loop on one thread to reduce jitter in the pulse timings.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := d.pin.Out(gpio.High); err != nil {
		return sensor.Reading{}, &sensor.GPIOError{Op: "out", Err: err}
	}
	time.Sleep(idleHigh)

	if err := d.pin.Out(gpio.Low); err != nil {
		return sensor.Reading{}, &sensor.GPIOError{Op: "out", Err: err}
	}
	time.Sleep(d.model.startLow())

	if err := d.pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return sensor.Reading{}, &sensor.GPIOError{Op: "in", Err: err}
	}

	pulses := capture(d.pin, responseWindow)
	if len(pulses) < dataBits {
		return sensor.Reading{}, sensor.ErrTimeout
	}

	return decode(pulses[len(pulses)-dataBits:], d.model)
}

func (d *Dev) Close() error {
	return d.pin.In(gpio.PullUp, gpio.NoEdge)
}

// capture records the width of every high pulse on the line until the window closes
// or enough pulses have been seen. The first two highs are the line idling after the
// start signal and the sensor's 80 µs response; the rest are data bits.
func capture(p gpio.PinIn, window time.Duration) []time.Duration {
	const want = dataBits + 2

	pulses := make([]time.Duration, 0, want)
	start := time.Now()
	deadline := start.Add(window)

	level := p.Read()
	since := start
	for len(pulses) < want {
		now := time.Now()
		if now.After(deadline) {
			break
		}

		l := p.Read()
		if l == level {
			continue
		}

		if level == gpio.High {
			pulses = append(pulses, now.Sub(since))
		}
		level, since = l, now
	}

	return pulses
}

// decode converts the widths of the 40 data pulses into a Reading.
func decode(pulses []time.Duration, model Model) (sensor.Reading, error) {
	if len(pulses) != dataBits {
		return sensor.Reading{}, sensor.ErrTimeout
	}

	var b [5]byte
	for i, p := range pulses {
		b[i/8] <<= 1
		if p > oneThreshold {
			b[i/8] |= 1
		}
	}

	if b[0]+b[1]+b[2]+b[3] != b[4] {
		return sensor.Reading{}, sensor.ErrChecksum
	}

	if model == DHT11 {
		return sensor.Reading{
			Humidity:    float32(b[0]) + float32(b[1])/10,
			Temperature: float32(b[2]) + float32(b[3]&0x7f)/10,
		}, nil
	}

	hum := float32(uint16(b[0])<<8|uint16(b[1])) / 10
	temp := float32(uint16(b[2]&0x7f)<<8|uint16(b[3])) / 10
	if b[2]&0x80 != 0 {
		temp = -temp
	}

	return sensor.Reading{
		Temperature: temp,
		Humidity:    hum,
	}, nil
}

func open(model Model) sensor.Opener {
	return func(cfg sensor.Config) (sensor.Device, error) {
		return New(cfg.Pin, model)
	}
}

func init() {
	sensor.Register(DHT22.String(), open(DHT22))
	sensor.Register(DHT11.String(), open(DHT11))
}
