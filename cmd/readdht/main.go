// Program readdht reads a sensor once and prints the reading. It's useful for checking
// wiring before starting dhtlogger.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mtraver/dhtlogger/sensor"
	_ "github.com/mtraver/dhtlogger/sensor/bme280"
	_ "github.com/mtraver/dhtlogger/sensor/dht"
	_ "github.com/mtraver/dhtlogger/sensor/dummy"
	"github.com/sirupsen/logrus"
	"periph.io/x/host/v3"
)

// Flags.
var (
	pin     int
	model   string
	address uint
)

func init() {
	flag.IntVar(&pin, "pin", -1, "GPIO pin number the sensor is connected to")
	flag.StringVar(&model, "model", "dht22", "sensor model")
	flag.UintVar(&address, "address", 0, "I²C address, for I²C sensors")
}

func parseFlags() error {
	flag.Parse()

	if pin < 0 || pin > 255 {
		return fmt.Errorf("pin flag must be given and in [0, 255]")
	}

	if address > 0xffff {
		return fmt.Errorf("address must be <= 0xffff")
	}

	return nil
}

// report prints the outcome of a read: the reading to stdout, or a description
// of the failure to stderr.
func report(stdout, stderr io.Writer, r sensor.Reading, err error) {
	var gerr *sensor.GPIOError
	switch {
	case err == nil:
		fmt.Fprintln(stdout, r)
	case errors.Is(err, sensor.ErrChecksum):
		fmt.Fprintln(stderr, "Checksum value of the reading is incorrect!")
	case errors.Is(err, sensor.ErrTimeout):
		fmt.Fprintln(stderr, "Timeout reading the sensor value")
	case errors.As(err, &gerr):
		fmt.Fprintf(stderr, "Problem reading GPIO value: %v\n", gerr.Err)
	default:
		fmt.Fprintf(stderr, "Failed to read sensor: %v\n", err)
	}
}

func main() {
	if err := parseFlags(); err != nil {
		fmt.Printf("argument error: %v\n", err)
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05",
	})

	if _, err := host.Init(); err != nil {
		logger.Fatalf("Failed to initialize periph: %v", err)
	}

	dev, err := sensor.Open(model, sensor.Config{Pin: uint8(pin), Address: uint16(address)})
	if err != nil {
		// The pin or bus couldn't be opened; report it like a failed read.
		report(os.Stdout, os.Stderr, sensor.Reading{}, err)
		return
	}
	defer dev.Close()

	r, err := dev.Read()
	report(os.Stdout, os.Stderr, r, err)
}
