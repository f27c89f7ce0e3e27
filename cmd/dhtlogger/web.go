package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/mtraver/dhtlogger/cache"
	"github.com/mtraver/dhtlogger/config"
	"github.com/mtraver/dhtlogger/measurement"
)

type cycleResult struct {
	Start      time.Time     `json:"start"`
	Duration   time.Duration `json:"duration_ns"`
	Datapoints int           `json:"datapoints"`
	Submitted  bool          `json:"submitted"`
	Outcome    string        `json:"outcome,omitempty"`
	Err        string        `json:"error,omitempty"`
}

// status holds what the status server reports: the latest datapoints of each sensor
// and the result of the last cycle.
type status struct {
	sensors []config.Sensor
	latest  *cache.Cache[[]measurement.Datapoint]
	ttl     time.Duration

	mu     sync.Mutex
	last   cycleResult
	cycles int
}

// newStatus returns a status whose readings are forgotten after ttl.
func newStatus(sensors []config.Sensor, ttl time.Duration) *status {
	return &status{
		sensors: sensors,
		latest:  cache.New[[]measurement.Datapoint](),
		ttl:     ttl,
	}
}

func (s *status) recordReadings(dps []measurement.Datapoint) {
	for name, d := range measurement.BySensor(dps) {
		s.latest.Set(name, d, s.ttl)
	}
	s.latest.Clean()
}

func (s *status) recordCycle(r cycleResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = r
	s.cycles++
}

func (s *status) lastCycle() (cycleResult, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.cycles
}

func newRouter(s *status) *mux.Router {
	r := mux.NewRouter()

	r.Handle("/", indexHandler{status: s}).Methods("GET")
	r.Handle("/healthz", healthHandler{status: s}).Methods("GET")

	return r
}

type indexHandler struct {
	status *status
}

func (h indexHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, sn := range h.status.sensors {
		fmt.Fprintf(w, "%s (%s pin %d):", sn.Name, sn.Model, sn.Pin)

		dps, ok := h.status.latest.Get(sn.Name)
		if !ok {
			fmt.Fprintln(w, " no recent reading")
			continue
		}

		for _, d := range dps {
			fmt.Fprintf(w, " %s", d)
		}
		fmt.Fprintln(w)
	}
}

type healthHandler struct {
	status *status
}

func (h healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	last, cycles := h.status.lastCycle()

	resp := struct {
		Cycles    int          `json:"cycles"`
		Fresh     []string     `json:"fresh_sensors"`
		LastCycle *cycleResult `json:"last_cycle,omitempty"`
	}{
		Cycles: cycles,
		Fresh:  h.status.latest.Keys(),
	}
	if cycles > 0 {
		resp.LastCycle = &last
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
