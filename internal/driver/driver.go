// Package driver invokes the processing passes periodically: the scheduled
// task due pass and the long-running sweeps on cron schedules, and a polling
// worker pool per queue.
package driver

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"taskcore/internal/scheduled"
)

type ScheduledPass interface {
	ProcessDueTasks(ctx context.Context) ([]scheduled.Result, error)
}

type QueuePass interface {
	ProcessNextQueuedTask(ctx context.Context, queueName string) (bool, error)
}

type Sweeper interface {
	ProcessTimeouts(ctx context.Context) (int, error)
	ProcessExpiries(ctx context.Context) (int, error)
}

type Options struct {
	ScheduledSpec string
	SweepSpec     string
	Queues        []string
	Workers       int
	Poll          time.Duration
}

type Driver struct {
	scheduled ScheduledPass
	queue     QueuePass
	sweeper   Sweeper
	opts      Options
}

func New(sp ScheduledPass, qp QueuePass, sw Sweeper, opts Options) *Driver {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Poll <= 0 {
		opts.Poll = time.Second
	}
	return &Driver{scheduled: sp, queue: qp, sweeper: sw, opts: opts}
}

// Run blocks until ctx is cancelled. In-flight work is allowed to finish.
func (d *Driver) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{})), cron.WithLogger(cronLogger{}))
	// Due passes may overlap. The claim in the processor keeps each run exclusive.
	if d.scheduled != nil && d.opts.ScheduledSpec != "" {
		if _, err := c.AddFunc(d.opts.ScheduledSpec, func() {
			if err := d.RunScheduled(ctx); err != nil {
				log.Error().Err(err).Msg("scheduled pass failed")
			}
		}); err != nil {
			return err
		}
	}
	if d.sweeper != nil && d.opts.SweepSpec != "" {
		sweep := cron.NewChain(cron.SkipIfStillRunning(cronLogger{})).Then(cron.FuncJob(func() {
			if err := d.Sweep(ctx); err != nil {
				log.Error().Err(err).Msg("sweep failed")
			}
		}))
		if _, err := c.AddJob(d.opts.SweepSpec, sweep); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.Start()
		log.Info().Str("scheduled_spec", d.opts.ScheduledSpec).Str("sweep_spec", d.opts.SweepSpec).Msg("driver started")
		<-gctx.Done()
		<-c.Stop().Done()
		return nil
	})
	if d.queue != nil {
		for _, name := range d.opts.Queues {
			p := NewPool(d.queue, name, d.opts.Workers, d.opts.Poll)
			g.Go(func() error {
				p.Run(gctx)
				return nil
			})
		}
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RunScheduled performs one due pass over the scheduled tasks.
func (d *Driver) RunScheduled(ctx context.Context) error {
	start := time.Now()
	results, err := d.scheduled.ProcessDueTasks(ctx)
	if err != nil {
		return err
	}
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if len(results) > 0 {
		log.Info().Int("processed", len(results)).Int("failed", failed).Dur("took", time.Since(start)).Msg("scheduled pass finished")
	}
	return nil
}

// Sweep times out and then expires long-running task records.
func (d *Driver) Sweep(ctx context.Context) error {
	if _, err := d.sweeper.ProcessTimeouts(ctx); err != nil {
		return err
	}
	_, err := d.sweeper.ProcessExpiries(ctx)
	return err
}

// DrainQueue processes items of one queue until none is ready.
func (d *Driver) DrainQueue(ctx context.Context, queueName string) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		ok, err := d.queue.ProcessNextQueuedTask(ctx, queueName)
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		n++
	}
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
