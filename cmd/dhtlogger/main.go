// Program dhtlogger reads temperature/humidity sensors attached to the host on a fixed
// interval and submits the readings to a Graphite HTTP endpoint such as Grafana Cloud's.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mtraver/dhtlogger/config"
	"github.com/mtraver/dhtlogger/graphite"
	"github.com/mtraver/dhtlogger/sampler"
	"github.com/mtraver/dhtlogger/sensor"
	_ "github.com/mtraver/dhtlogger/sensor/bme280"
	"github.com/mtraver/dhtlogger/sensor/dht"
	_ "github.com/mtraver/dhtlogger/sensor/dummy"
	"github.com/mtraver/envtools"
	cron "github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"periph.io/x/host/v3"
)

const defaultRefreshSecs = 900

// Flags.
var (
	debug             bool
	refreshSecs       int
	sensorsConfigPath string
	endpoint          string
	apiKey            string
	cronSpec          string
	maxAttempts       int
	readBudget        time.Duration
	port              int
)

// Environment variables consulted for flags not given on the command line.
var flagEnv = map[string]string{
	"debug":               "DEBUG",
	"refresh-time":        "REFRESH_TIME",
	"sensors-config-path": "SENSORS_CONFIG_PATH",
	"endpoint":            "GRAPHITE_ENDPOINT",
	"apikey":              "GRAFANA_API_KEY",
	"cronspec":            "CRONSPEC",
	"max-attempts":        "MAX_ATTEMPTS",
	"read-budget":         "READ_BUDGET",
	"port":                "PORT",
}

func init() {
	flag.BoolVar(&debug, "debug", false, "log at debug level")
	flag.IntVar(&refreshSecs, "refresh-time", defaultRefreshSecs, "how often, in seconds, to sample the sensors and submit the readings")
	flag.StringVar(&sensorsConfigPath, "sensors-config-path", "sensors.yaml", "path to the YAML file listing the sensors")
	flag.StringVar(&endpoint, "endpoint", "", "Graphite HTTP API endpoint to POST datapoints to")
	flag.StringVar(&apiKey, "apikey", "", "API key used as the bearer token for POST requests")
	flag.StringVar(&cronSpec, "cronspec", "", "cron spec that replaces the fixed refresh interval")
	flag.IntVar(&maxAttempts, "max-attempts", 0, "maximum reads of a sensor per cycle; 0 means no limit")
	flag.DurationVar(&readBudget, "read-budget", 0, "maximum time spent reading a sensor per cycle; 0 means the refresh interval")
	flag.IntVar(&port, "port", 0, "port on which to serve device status; 0 disables the server")
}

// applyEnv sets every flag in fs that wasn't given on the command line from its
// environment variable in env, if that variable is set.
func applyEnv(fs *flag.FlagSet, env map[string]string) error {
	given := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		given[f.Name] = true
	})

	for name, key := range env {
		if given[name] {
			continue
		}

		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		if err := fs.Set(name, v); err != nil {
			return fmt.Errorf("bad value %q for %s: %v", v, key, err)
		}
	}

	return nil
}

func parseFlags() error {
	flag.Parse()

	if err := applyEnv(flag.CommandLine, flagEnv); err != nil {
		return err
	}

	if endpoint == "" {
		endpoint = envtools.MustGetenv(flagEnv["endpoint"])
	}

	if apiKey == "" {
		apiKey = envtools.MustGetenv(flagEnv["apikey"])
	}

	if refreshSecs <= 0 {
		return fmt.Errorf("refresh-time must be > 0")
	}

	if maxAttempts < 0 {
		return fmt.Errorf("max-attempts must be >= 0")
	}

	if readBudget < 0 {
		return fmt.Errorf("read-budget must be >= 0")
	}

	return nil
}

func newLogger(debug bool) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05",
	})
	l.SetLevel(logrus.InfoLevel)
	if debug {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

// openReaders opens the device of every sensor. On error, devices opened so far are closed.
func openReaders(sensors []config.Sensor, resolution int, policy sampler.RetryPolicy, logger logrus.FieldLogger) ([]*sampler.Reader, error) {
	readers := make([]*sampler.Reader, 0, len(sensors))
	for _, s := range sensors {
		dev, err := sensor.Open(s.Model, s.DeviceConfig())
		if err != nil {
			closeReaders(readers, logger)
			return nil, fmt.Errorf("sensor %q: %w", s.Name, err)
		}

		readers = append(readers, &sampler.Reader{
			Name:         s.Name,
			Device:       dev,
			PollInterval: dht.MinPollInterval,
			Policy:       policy,
			Resolution:   resolution,
			Logger:       logger.WithField("pin", s.Pin),
		})
	}

	return readers, nil
}

func closeReaders(readers []*sampler.Reader, logger logrus.FieldLogger) {
	for _, r := range readers {
		if err := r.Device.Close(); err != nil {
			logger.WithField("sensor", r.Name).WithError(err).Warn("Failed to close sensor")
		}
	}
}

func main() {
	if err := parseFlags(); err != nil {
		fmt.Printf("argument error: %v\n", err)
		os.Exit(2)
	}

	logger := newLogger(debug)

	sensors, err := config.Load(sensorsConfigPath)
	if err != nil {
		logger.Fatalf("Failed to load sensors config: %v", err)
	}
	logger.Infof("Loaded %d sensors from %s", len(sensors), sensorsConfigPath)

	// Initialize periph.
	if _, err := host.Init(); err != nil {
		logger.Fatalf("Failed to initialize periph: %v", err)
	}

	interval := time.Duration(refreshSecs) * time.Second
	policy := sampler.RetryPolicy{
		MaxAttempts: maxAttempts,
		Budget:      readBudget,
	}
	if policy.Budget == 0 {
		policy.Budget = interval
	}

	readers, err := openReaders(sensors, refreshSecs, policy, logger)
	if err != nil {
		logger.Fatalf("Failed to open sensors: %v", err)
	}
	defer closeReaders(readers, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := newStatus(sensors, 2*interval)
	job := &CycleJob{
		Context:   ctx,
		Fleet:     sampler.Fleet{Readers: readers},
		Submitter: graphite.NewClient(endpoint, apiKey, logger),
		Status:    st,
		Logger:    logger,
	}

	// Cycles never overlap: a tick that arrives while a cycle is running waits for it.
	cronLogger := cron.PrintfLogger(logger)
	scheduled := cron.NewChain(cron.DelayIfStillRunning(cronLogger)).Then(job)

	cr := cron.New(cron.WithLogger(cronLogger))
	if cronSpec != "" {
		logger.Infof("Starting cron scheduler with spec %q", cronSpec)
		if _, err := cr.AddJob(cronSpec, scheduled); err != nil {
			logger.Fatalf("Bad cron spec %q: %v", cronSpec, err)
		}
	} else {
		logger.Infof("Sampling every %v", interval)
		cr.Schedule(cron.Every(interval), scheduled)
	}

	// The first cycle runs right away rather than one interval from now.
	var first sync.WaitGroup
	first.Add(1)
	go func() {
		defer first.Done()
		scheduled.Run()
	}()
	cr.Start()

	var srv *http.Server
	if port > 0 {
		srv = &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newRouter(st),
		}
		go func() {
			logger.Infof("Serving status on port %d", port)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("Status server failed: %v", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("Cleaning up...")

	<-cr.Stop().Done()
	first.Wait()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("Failed to shut down status server: %v", err)
		}
	}
}
