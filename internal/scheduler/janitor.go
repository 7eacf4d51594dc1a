// Package scheduler runs the idle conversation janitor. On a cron schedule it
// finishes conversations that have seen no store activity inside the idle TTL,
// freeing their sessions and transcripts.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper finishes idle conversations. Implemented by the chat engine.
type Sweeper interface {
	SweepIdle(ctx context.Context, ttl time.Duration) (int, error)
}

// Janitor drives periodic idle sweeps through a cron schedule.
type Janitor struct {
	sweeper  Sweeper
	ttl      time.Duration
	schedule string
	metrics  *Metrics
	logger   *slog.Logger

	cron *cron.Cron
}

// NewJanitor creates a janitor sweeping conversations idle for longer than
// ttl, on the given cron schedule (e.g. "@every 1m").
func NewJanitor(sweeper Sweeper, ttl time.Duration, schedule string, metrics *Metrics, logger *slog.Logger) *Janitor {
	return &Janitor{
		sweeper:  sweeper,
		ttl:      ttl,
		schedule: schedule,
		metrics:  metrics,
		logger:   logger,
	}
}

// Start schedules the sweep and begins the cron loop.
func (j *Janitor) Start(ctx context.Context) error {
	j.cron = cron.New()
	_, err := j.cron.AddFunc(j.schedule, func() { j.sweep(ctx) })
	if err != nil {
		return err
	}
	j.cron.Start()

	j.logger.InfoContext(ctx, "idle janitor started",
		slog.String("schedule", j.schedule),
		slog.Duration("idle_ttl", j.ttl),
	)
	return nil
}

// Stop halts the cron loop, waiting for a running sweep to complete.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
	j.logger.Info("idle janitor stopped")
}

func (j *Janitor) sweep(ctx context.Context) {
	start := time.Now()
	swept, err := j.sweeper.SweepIdle(ctx, j.ttl)

	if j.metrics != nil {
		j.metrics.SweepsTotal.Inc()
		j.metrics.SweepDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			j.metrics.SweepsFailed.Inc()
		}
		j.metrics.SweptTotal.Add(float64(swept))
	}

	if err != nil {
		j.logger.Error("idle sweep failed", slog.String("error", err.Error()))
	}
}
