// Package measurement converts sensor readings into the datapoints accepted by the
// Graphite HTTP API.
package measurement

import (
	"fmt"
	"strings"
	"time"

	"github.com/mtraver/dhtlogger/sensor"
)

// Separates the sensor name from the metric label in a datapoint name. Sensor names
// may contain it, labels may not.
const nameSep = "."

// Metric labels.
const (
	Temperature = "temperature"
	Humidity    = "humidity"
)

// Datapoint is a single named, timestamped metric value.
type Datapoint struct {
	// Name is the sensor name and metric label joined by a period.
	Name string `json:"name"`

	// Interval is the reporting resolution in seconds.
	Interval int `json:"interval"`

	Value float64 `json:"value"`

	// Time is the sampling time in Unix seconds.
	Time int64 `json:"time"`
}

// New makes the datapoint for one metric of one sensor.
func New(sensorName, label string, value float32, ts time.Time, resolution int) Datapoint {
	return Datapoint{
		Name:     sensorName + nameSep + label,
		Interval: resolution,
		Value:    float64(value),
		Time:     MustUnix(ts),
	}
}

// FromReading returns the temperature and humidity datapoints, in that order, for
// a reading taken from the named sensor at ts.
func FromReading(sensorName string, r sensor.Reading, ts time.Time, resolution int) []Datapoint {
	return []Datapoint{
		New(sensorName, Temperature, r.Temperature, ts, resolution),
		New(sensorName, Humidity, r.Humidity, ts, resolution),
	}
}

// MustUnix returns t as Unix seconds. It panics if t is before the epoch since
// Graphite cannot represent such times and a clock that far off is a bug.
func MustUnix(t time.Time) int64 {
	s := t.Unix()
	if s < 0 {
		panic(fmt.Sprintf("measurement: time %v is before the Unix epoch", t))
	}
	return s
}

// Sensor returns the name of the sensor the datapoint came from.
func (d Datapoint) Sensor() string {
	i := strings.LastIndex(d.Name, nameSep)
	if i < 0 {
		return d.Name
	}
	return d.Name[:i]
}

// Label returns the metric label of the datapoint, e.g. "temperature".
func (d Datapoint) Label() string {
	i := strings.LastIndex(d.Name, nameSep)
	if i < 0 {
		return ""
	}
	return d.Name[i+len(nameSep):]
}

func (d Datapoint) String() string {
	return fmt.Sprintf("%s=%.2f %s (%ds)", d.Name, d.Value, time.Unix(d.Time, 0).UTC().Format(time.RFC3339), d.Interval)
}

// BySensor groups datapoints by the sensor they came from.
func BySensor(dps []Datapoint) map[string][]Datapoint {
	m := make(map[string][]Datapoint)
	for _, d := range dps {
		s := d.Sensor()
		m[s] = append(m[s], d)
	}
	return m
}
