package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// ParseCron accepts 5-field specs, an optional leading seconds field, and descriptors like @daily.
func ParseCron(spec string) (cron.Schedule, error) {
	schedule, err := cronParser().Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", spec, err)
	}
	return schedule, nil
}

func cronParser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// Daily runs a job on a cron schedule in a fixed location.
type Daily struct {
	spec     string
	schedule cron.Schedule
	loc      *time.Location
	logger   zerolog.Logger
}

// NewDaily validates the spec and builds a cron-driven job runner.
func NewDaily(spec string, loc *time.Location, logger zerolog.Logger) (*Daily, error) {
	schedule, err := ParseCron(spec)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	return &Daily{
		spec:     spec,
		schedule: schedule,
		loc:      loc,
		logger:   logger.With().Str("component", "cron").Str("spec", spec).Logger(),
	}, nil
}

// Next reports the next activation after t.
func (d *Daily) Next(t time.Time) time.Time {
	return d.schedule.Next(t.In(d.loc))
}

// Run blocks until ctx is cancelled, invoking job on every activation.
// Overlapping activations are skipped and panics are recovered.
func (d *Daily) Run(ctx context.Context, job TickFunc) error {
	cl := cronLogger{logger: d.logger}
	c := cron.New(cron.WithLocation(d.loc), cron.WithLogger(cl))

	// Schedule bypasses the cron-level chain, so wrap the job directly.
	wrapped := cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(func() {
		at := time.Now().In(d.loc)
		if err := job(ctx, at); err != nil {
			d.logger.Error().Err(err).Time("at", at).Msg("cron job failed")
		}
	}))
	c.Schedule(d.schedule, wrapped)

	c.Start()
	d.logger.Info().Time("next_run", d.Next(time.Now())).Msg("cron started")

	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
