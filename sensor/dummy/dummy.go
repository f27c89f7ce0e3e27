// Package dummy provides a sensor that needs no hardware. It is useful for running the
// logger on a workstation and for tests.
package dummy

import (
	"sync"

	"github.com/mtraver/dhtlogger/sensor"
	"github.com/sirupsen/logrus"
)

// Dummy returns each of Errs in turn from successive reads, then Reading forever.
type Dummy struct {
	Reading sensor.Reading
	Errs    []error
	Logger  logrus.FieldLogger

	mu    sync.Mutex
	reads int
}

func New(r sensor.Reading, errs ...error) *Dummy {
	return &Dummy{
		Reading: r,
		Errs:    errs,
	}
}

func (d *Dummy) Read() (sensor.Reading, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := d.reads
	d.reads++

	if n < len(d.Errs) {
		d.debugf("DUMMY SENSOR READ %d: %v", n+1, d.Errs[n])
		return sensor.Reading{}, d.Errs[n]
	}

	d.debugf("DUMMY SENSOR READ %d: %v", n+1, d.Reading)
	return d.Reading, nil
}

// Reads returns the number of times Read has been called.
func (d *Dummy) Reads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

func (d *Dummy) Close() error {
	d.debugf("DUMMY SENSOR CLOSE")
	return nil
}

func (d *Dummy) debugf(format string, args ...interface{}) {
	if d.Logger != nil {
		d.Logger.Debugf(format, args...)
	}
}

func init() {
	// Give each pin a distinct but stable reading so dummy sensors are told apart on a graph.
	sensor.Register("dummy", func(cfg sensor.Config) (sensor.Device, error) {
		return New(sensor.Reading{
			Temperature: 20 + float32(cfg.Pin%10),
			Humidity:    50 + float32(cfg.Pin%10),
		}), nil
	})
}
