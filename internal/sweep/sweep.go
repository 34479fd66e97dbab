// Package sweep runs the periodic job that flips due planned movements to
// executed and refreshes the wagon pointers they move.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// parser accepts standard 5-field expressions (minute, hour, dom, month, dow)
// and descriptors such as "@hourly" or "@every 90s".
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Sweeper flips due planned movements and returns how many it flipped.
type Sweeper interface {
	SweepPlanned(ctx context.Context) (int64, error)
}

// Daemon runs a Sweeper on a cron schedule.
type Daemon struct {
	sweeper  Sweeper
	spec     string
	schedule cron.Schedule
	log      zerolog.Logger
}

// New parses spec and returns a Daemon.
func New(s Sweeper, spec string, log zerolog.Logger) (*Daemon, error) {
	if s == nil {
		return nil, fmt.Errorf("sweep: sweeper is required")
	}
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("sweep: parse schedule %q: %w", spec, err)
	}
	return &Daemon{sweeper: s, spec: spec, schedule: sched, log: log}, nil
}

// Next returns the first fire time after from.
func (d *Daemon) Next(from time.Time) time.Time {
	return d.schedule.Next(from)
}

// RunOnce sweeps once and logs the result.
func (d *Daemon) RunOnce(ctx context.Context) (int64, error) {
	start := time.Now()
	n, err := d.sweeper.SweepPlanned(ctx)
	if err != nil {
		d.log.Error().Err(err).Msg("sweep failed")
		return 0, err
	}
	ev := d.log.Debug()
	if n > 0 {
		ev = d.log.Info()
	}
	ev.Int64("flipped", n).Dur("took", time.Since(start)).Msg("sweep done")
	return n, nil
}

// Run sweeps immediately, then on every tick of the schedule until ctx is
// done. A tick that fires while the previous sweep is still running is
// skipped.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info().Str("schedule", d.spec).Msg("sweep daemon starting")
	_, _ = d.RunOnce(ctx)

	logger := cronLogger{log: d.log}
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(d.schedule, cron.FuncJob(func() {
		_, _ = d.RunOnce(ctx)
	}))
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	d.log.Info().Msg("sweep daemon stopped")
	return nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
