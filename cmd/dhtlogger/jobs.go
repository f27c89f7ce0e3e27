package main

import (
	"context"
	"time"

	"github.com/mtraver/dhtlogger/graphite"
	"github.com/mtraver/dhtlogger/measurement"
	"github.com/mtraver/dhtlogger/sampler"
	"github.com/sirupsen/logrus"
)

type Submitter interface {
	Submit(ctx context.Context, dps []measurement.Datapoint) (graphite.Outcome, error)
}

// CycleJob samples every sensor and then submits the combined datapoints.
// It implements cron.Job.
type CycleJob struct {
	// Context ends in-flight reads and submissions when the program shuts down.
	// cron.Job has no way to pass one to Run.
	Context context.Context

	Fleet     sampler.Fleet
	Submitter Submitter
	Status    *status
	Logger    logrus.FieldLogger
}

func (j *CycleJob) Run() {
	ctx := j.Context
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	result := cycleResult{Start: start}
	defer func() {
		result.Duration = time.Since(start)
		j.Status.recordCycle(result)
	}()

	dps, err := j.Fleet.Sample(ctx)
	result.Datapoints = len(dps)
	j.Status.recordReadings(dps)

	if err != nil {
		j.Logger.WithError(err).Warn("Some sensors were not read this cycle")
	}
	if len(dps) > 0 {
		j.Logger.Infof("Sampled %d datapoints: %s", len(dps), measurement.SummaryString(measurement.Summarize(dps)))
	}

	if ctx.Err() != nil {
		j.Logger.Info("Shutting down, will not submit")
		result.Err = ctx.Err().Error()
		return
	}

	if err != nil && len(dps) == 0 {
		j.Logger.Warn("Took no readings, will not submit")
		result.Err = err.Error()
		return
	}

	outcome, err := j.Submitter.Submit(ctx, dps)
	result.Submitted = true
	result.Outcome = outcome.String()
	if err != nil {
		// Already logged by the submitter. The next cycle carries on regardless.
		result.Err = err.Error()
	}
}
