// Package config loads the list of sensors attached to the host.
//
// The file is YAML, a list of records:
//
//	- name: attic
//	  pin: 4
//	- name: porch
//	  pin: 17
//	  model: dht11
//	- name: office
//	  model: bme280
//	  address: 0x77
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/mtraver/dhtlogger/sensor"
	"gopkg.in/yaml.v3"
)

// DefaultModel is the model of sensors whose record doesn't name one.
const DefaultModel = "dht22"

// Sensor is one entry in the sensors file.
type Sensor struct {
	Name    string `yaml:"name"`
	Pin     uint8  `yaml:"pin"`
	Model   string `yaml:"model,omitempty"`
	Address uint16 `yaml:"address,omitempty"`
}

// DeviceConfig returns the location of the sensor's device on the host.
func (s Sensor) DeviceConfig() sensor.Config {
	return sensor.Config{
		Pin:     s.Pin,
		Address: s.Address,
	}
}

// Load reads and validates the sensors file at path. A leading ~ in path is expanded
// to the user's home directory. An empty file yields no sensors.
func Load(path string) ([]Sensor, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("config: bad path %q: %w", path, err)
	}

	b, err := os.ReadFile(expanded)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("config: sensors file not found: %w", err)
		case errors.Is(err, fs.ErrPermission):
			return nil, fmt.Errorf("config: insufficient permissions to read sensors file: %w", err)
		default:
			return nil, fmt.Errorf("config: unable to read sensors file: %w", err)
		}
	}

	return Parse(b)
}

// Parse decodes and validates the contents of a sensors file.
func Parse(b []byte) ([]Sensor, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	var sensors []Sensor
	if err := dec.Decode(&sensors); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: invalid sensors YAML: %w", err)
	}

	if sensors == nil {
		sensors = []Sensor{}
	}

	seen := make(map[string]bool)
	for i := range sensors {
		s := &sensors[i]
		if s.Name == "" {
			return nil, fmt.Errorf("config: sensor %d has no name", i)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("config: duplicate sensor name %q", s.Name)
		}
		seen[s.Name] = true

		if s.Model == "" {
			s.Model = DefaultModel
		}
	}

	return sensors, nil
}
