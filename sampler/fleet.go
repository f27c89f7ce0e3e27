package sampler

import (
	"context"
	"errors"

	"github.com/mtraver/dhtlogger/measurement"
)

// Fleet is every sensor read in a cycle.
type Fleet struct {
	Readers []*Reader
}

// Sample runs every reader concurrently and waits for all of them. It returns the
// datapoints of the sensors that were read, in no particular order across sensors,
// along with the joined errors of those that weren't.
func (f Fleet) Sample(ctx context.Context) ([]measurement.Datapoint, error) {
	type result struct {
		dps []measurement.Datapoint
		err error
	}

	results := make(chan result, len(f.Readers))
	for _, r := range f.Readers {
		go func(r *Reader) {
			dps, err := r.Read(ctx)
			results <- result{dps, err}
		}(r)
	}

	dps := []measurement.Datapoint{}
	errs := []error{}
	for range f.Readers {
		res := <-results
		if res.err != nil {
			errs = append(errs, res.err)
			continue
		}
		dps = append(dps, res.dps...)
	}

	return dps, errors.Join(errs...)
}
