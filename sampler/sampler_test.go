package sampler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/mtraver/dhtlogger/measurement"
	"github.com/mtraver/dhtlogger/sensor"
	"github.com/mtraver/dhtlogger/sensor/dummy"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

const testInterval = 20 * time.Millisecond

var testTimestamp = time.Date(2018, time.March, 25, 0, 0, 0, 0, time.UTC)

// timedDevice records when each read started.
type timedDevice struct {
	sensor.Device

	mu    sync.Mutex
	calls []time.Time
}

func (d *timedDevice) Read() (sensor.Reading, error) {
	d.mu.Lock()
	d.calls = append(d.calls, time.Now())
	d.mu.Unlock()
	return d.Device.Read()
}

// failing always fails with err.
type failing struct {
	err   error
	reads int
}

func (d *failing) Read() (sensor.Reading, error) {
	d.reads++
	return sensor.Reading{}, d.err
}

func (d *failing) Close() error {
	return nil
}

func TestReadRetries(t *testing.T) {
	errs := []error{sensor.ErrChecksum, sensor.ErrTimeout, &sensor.GPIOError{Op: "in", Err: errors.New("busy")}}
	dev := &timedDevice{Device: dummy.New(sensor.Reading{Temperature: 21.5, Humidity: 40}, errs...)}
	logger, hook := test.NewNullLogger()

	r := &Reader{
		Name:         "attic",
		Device:       dev,
		PollInterval: testInterval,
		Resolution:   900,
		Logger:       logger,
	}

	before := time.Now().Unix()
	got, err := r.Read(context.Background())
	after := time.Now().Unix()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(dev.calls) != len(errs)+1 {
		t.Errorf("got %d attempts, want %d", len(dev.calls), len(errs)+1)
	}
	// The reader times attempts from just before it calls the device, so allow a
	// little slack for the time between the two.
	for i := 1; i < len(dev.calls); i++ {
		if gap := dev.calls[i].Sub(dev.calls[i-1]); gap < testInterval-time.Millisecond {
			t.Errorf("attempts %d and %d only %v apart, want at least %v", i-1, i, gap, testInterval)
		}
	}

	if len(got) != 2 {
		t.Fatalf("got %d datapoints, want 2", len(got))
	}
	if got[0].Name != "attic.temperature" || got[1].Name != "attic.humidity" {
		t.Errorf("got names %q, %q", got[0].Name, got[1].Name)
	}
	for _, d := range got {
		if d.Interval != 900 {
			t.Errorf("%s: got interval %d, want 900", d.Name, d.Interval)
		}
		if d.Time < before || d.Time > after {
			t.Errorf("%s: time %d not within [%d, %d]", d.Name, d.Time, before, after)
		}
	}

	warnings := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings++
		}
	}
	if warnings != len(errs) {
		t.Errorf("got %d warnings, want %d", warnings, len(errs))
	}
}

func TestReadFirstAttemptImmediate(t *testing.T) {
	r := &Reader{
		Name:         "attic",
		Device:       dummy.New(sensor.Reading{Temperature: 1, Humidity: 2}),
		PollInterval: time.Hour,
		Resolution:   60,
		Now:          func() time.Time { return testTimestamp },
	}

	got, err := r.Read(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	want := measurement.FromReading("attic", sensor.Reading{Temperature: 1, Humidity: 2}, testTimestamp, 60)
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Unexpected result (-got +want):\n%s", diff)
	}
}

func TestReadMaxAttempts(t *testing.T) {
	dev := &failing{err: sensor.ErrTimeout}
	r := &Reader{
		Name:         "attic",
		Device:       dev,
		PollInterval: time.Millisecond,
		Policy:       RetryPolicy{MaxAttempts: 3},
	}

	_, err := r.Read(context.Background())

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("got %v, want *ExhaustedError", err)
	}
	if exhausted.Attempts != 3 || dev.reads != 3 {
		t.Errorf("got %d attempts and %d reads, want 3", exhausted.Attempts, dev.reads)
	}
	if !errors.Is(err, sensor.ErrTimeout) {
		t.Errorf("got %v, want it to wrap ErrTimeout", err)
	}
}

func TestReadBudget(t *testing.T) {
	dev := &failing{err: sensor.ErrChecksum}
	r := &Reader{
		Name:         "attic",
		Device:       dev,
		PollInterval: 10 * time.Millisecond,
		Policy:       RetryPolicy{Budget: 50 * time.Millisecond},
	}

	start := time.Now()
	_, err := r.Read(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Read took %v, budget was 50ms", elapsed)
	}

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want it to wrap context.DeadlineExceeded", err)
	}
	if !errors.Is(err, sensor.ErrChecksum) {
		t.Errorf("got %v, want it to wrap ErrChecksum", err)
	}
	if dev.reads < 2 {
		t.Errorf("got %d reads, want at least 2", dev.reads)
	}
}

func TestReadCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &Reader{
		Name:         "attic",
		Device:       &failing{err: sensor.ErrTimeout},
		PollInterval: time.Hour,
	}

	_, err := r.Read(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want it to wrap context.Canceled", err)
	}
}

func TestSample(t *testing.T) {
	readers := []*Reader{
		{
			Name:         "A",
			Device:       dummy.New(sensor.Reading{Temperature: 20, Humidity: 50}, sensor.ErrTimeout),
			PollInterval: testInterval,
			Resolution:   900,
			Now:          func() time.Time { return testTimestamp },
		},
		{
			Name:         "B",
			Device:       dummy.New(sensor.Reading{Temperature: 10, Humidity: 80}),
			PollInterval: testInterval,
			Resolution:   900,
			Now:          func() time.Time { return testTimestamp },
		},
	}

	got, err := Fleet{Readers: readers}.Sample(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	want := []measurement.Datapoint{
		{Name: "A.temperature", Interval: 900, Value: 20, Time: testTimestamp.Unix()},
		{Name: "A.humidity", Interval: 900, Value: 50, Time: testTimestamp.Unix()},
		{Name: "B.temperature", Interval: 900, Value: 10, Time: testTimestamp.Unix()},
		{Name: "B.humidity", Interval: 900, Value: 80, Time: testTimestamp.Unix()},
	}
	sortDatapoints := cmpopts.SortSlices(func(a, b measurement.Datapoint) bool { return a.Name < b.Name })
	if diff := cmp.Diff(got, want, sortDatapoints); diff != "" {
		t.Errorf("Unexpected result (-got +want):\n%s", diff)
	}
}

func TestSampleEmpty(t *testing.T) {
	got, err := Fleet{}.Sample(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %#v, want empty non-nil slice", got)
	}
}

func TestSamplePartialFailure(t *testing.T) {
	readers := []*Reader{
		{
			Name:         "good",
			Device:       dummy.New(sensor.Reading{Temperature: 20, Humidity: 50}),
			PollInterval: time.Millisecond,
		},
		{
			Name:         "bad",
			Device:       &failing{err: sensor.ErrTimeout},
			PollInterval: time.Millisecond,
			Policy:       RetryPolicy{MaxAttempts: 2},
		},
	}

	got, err := Fleet{Readers: readers}.Sample(context.Background())

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Sensor != "bad" {
		t.Errorf("got %v, want *ExhaustedError for sensor \"bad\"", err)
	}

	if len(got) != 2 {
		t.Fatalf("got %d datapoints, want 2", len(got))
	}
	for _, d := range got {
		if d.Sensor() != "good" {
			t.Errorf("Unexpected datapoint %v", d)
		}
	}
}
