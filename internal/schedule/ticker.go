package schedule

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"pricewatcher/internal/logging"
)

// TickFunc is invoked on every aligned tick with the tick time.
type TickFunc func(ctx context.Context, now time.Time) error

// Options tune ticker behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
}

// Ticker drives the periodic send-slot evaluation. The tick granularity is
// deliberately coarser than the schedule; the observable send time may lag
// the configured hour by up to one interval.
type Ticker struct {
	opts   Options
	logger zerolog.Logger
}

// NewTicker constructs a Ticker instance.
func NewTicker(opts Options, logger zerolog.Logger) *Ticker {
	if opts.Interval <= 0 {
		panic("ticker interval must be positive")
	}
	return &Ticker{opts: opts, logger: logging.Component(logger, "schedule_ticker")}
}

// Run blocks, invoking the tick function at each interval until ctx is
// cancelled. Tick errors are logged, never fatal.
func (t *Ticker) Run(ctx context.Context, tick TickFunc) error {
	if t.opts.StartupDelay > 0 {
		timer := time.NewTimer(t.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	next := t.nextTick(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = t.nextTick(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		t.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		now := time.Now().UTC()
		if err := tick(ctx, now); err != nil {
			t.logger.Error().Err(err).Time("tick", now).Msg("tick evaluation failed")
		}

		next = next.Add(t.opts.Interval)
	}
}

func (t *Ticker) nextTick(now time.Time) time.Time {
	if !t.opts.AlignToStart {
		return now.Add(t.opts.Interval)
	}
	bucket := now.Truncate(t.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(t.opts.Interval)
	}
	return bucket
}
