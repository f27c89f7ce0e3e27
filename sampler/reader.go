// Package sampler obtains one reading per sensor per cycle, retrying through the
// transient failures single-wire sensors are prone to.
package sampler

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mtraver/dhtlogger/measurement"
	"github.com/mtraver/dhtlogger/sensor"
	"github.com/sirupsen/logrus"
)

// RetryPolicy bounds how hard a Reader tries before giving up on a sensor for a cycle.
// The zero value retries until success.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of reads. Zero means no limit.
	MaxAttempts int
	// Budget is the maximum wall-clock time spent trying. Zero means no limit.
	Budget time.Duration
}

// ExhaustedError is returned when a Reader gives up on a sensor.
type ExhaustedError struct {
	Sensor   string
	Attempts int
	// Last is the error from the final read attempt.
	Last error
	// Cause is non-nil if the context ended the attempts.
	Cause error
}

func (e *ExhaustedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("sampler: sensor %q: gave up after %d attempts (%v): %v", e.Sensor, e.Attempts, e.Cause, e.Last)
	}
	return fmt.Sprintf("sampler: sensor %q: gave up after %d attempts: %v", e.Sensor, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	errs := []error{}
	if e.Last != nil {
		errs = append(errs, e.Last)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// Reader reads one sensor.
type Reader struct {
	Name   string
	Device sensor.Device

	// PollInterval is the minimum time between the starts of two reads.
	PollInterval time.Duration
	Policy       RetryPolicy

	// Resolution is echoed into each datapoint's interval.
	Resolution int

	// Now returns the time datapoints are stamped with. Defaults to time.Now.
	Now    func() time.Time
	Logger logrus.FieldLogger
}

func (r *Reader) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Reader) logger() logrus.FieldLogger {
	if r.Logger != nil {
		return r.Logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Read polls the sensor until it returns a valid reading, then returns its temperature
// and humidity datapoints. Attempts are spaced by at least PollInterval and the first
// is made immediately. Read gives up with an *ExhaustedError when the retry policy is
// exhausted or ctx is done.
func (r *Reader) Read(ctx context.Context) ([]measurement.Datapoint, error) {
	if r.Policy.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Policy.Budget)
		defer cancel()
	}

	lg := r.logger().WithField("sensor", r.Name)

	var last error
	for attempt := 1; ; attempt++ {
		start := time.Now()

		reading, err := r.Device.Read()
		if err == nil {
			lg.WithField("attempt", attempt).Infof("Successfully read %q: %v", r.Name, reading)
			return measurement.FromReading(r.Name, reading, r.now(), r.Resolution), nil
		}

		last = err
		lg.WithField("attempt", attempt).WithError(err).Warn("Error reading sensor")

		if r.Policy.MaxAttempts > 0 && attempt >= r.Policy.MaxAttempts {
			return nil, &ExhaustedError{Sensor: r.Name, Attempts: attempt, Last: last}
		}

		wait := r.PollInterval - time.Since(start)
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &ExhaustedError{Sensor: r.Name, Attempts: attempt, Last: last, Cause: ctx.Err()}
		case <-timer.C:
		}
	}
}
