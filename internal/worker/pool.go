package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"pricewatcher/internal/logging"
	"pricewatcher/internal/metrics"
	"pricewatcher/internal/storage"
)

// CheckHandler runs a check job to a terminal status.
type CheckHandler interface {
	HandleCheck(ctx context.Context, job storage.Job) (storage.JobStatus, string)
}

// DigestHandler runs a digest job to a terminal status.
type DigestHandler interface {
	HandleDigest(ctx context.Context, job storage.Job) (storage.JobStatus, string)
}

// PoolOptions tune the consumer pool.
type PoolOptions struct {
	Workers       int
	PollInterval  time.Duration
	LeaseDuration time.Duration
	ReapInterval  time.Duration
	RatePerSecond float64
}

// Pool drives N concurrent check consumers, a single digest consumer, and a
// stale-lease reaper against the durable queue. Shutdown via context stops
// intake; an in-flight extraction finishes its job before the loop exits.
type Pool struct {
	opts    PoolOptions
	queue   storage.JobQueue
	checks  CheckHandler
	digests DigestHandler
	limiter *rate.Limiter
	metrics metrics.Provider
	logger  zerolog.Logger
}

// NewPool constructs the consumer pool.
func NewPool(opts PoolOptions, queue storage.JobQueue, checks CheckHandler, digests DigestHandler, m metrics.Provider, logger zerolog.Logger) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.LeaseDuration <= 0 {
		opts.LeaseDuration = 5 * time.Minute
	}

	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}

	return &Pool{
		opts:    opts,
		queue:   queue,
		checks:  checks,
		digests: digests,
		limiter: limiter,
		metrics: m,
		logger:  logging.Component(logger, "worker_pool"),
	}
}

// Run blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	for i := 0; i < p.opts.Workers; i++ {
		group.Go(func() error {
			return p.consume(ctx, []storage.JobKind{storage.JobKindCheck})
		})
	}
	if p.digests != nil {
		group.Go(func() error {
			return p.consume(ctx, []storage.JobKind{storage.JobKindDigest})
		})
	}
	if p.opts.ReapInterval > 0 {
		group.Go(func() error {
			return p.reapLoop(ctx)
		})
	}

	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pool) consume(ctx context.Context, kinds []storage.JobKind) error {
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		job, err := p.queue.Dequeue(ctx, kinds, p.opts.LeaseDuration)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Error().Err(err).Msg("dequeue failed")
		} else if job != nil {
			p.execute(ctx, *job)
			continue // drain without waiting for the next tick
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Pool) execute(ctx context.Context, job storage.Job) {
	if p.limiter != nil && job.Kind == storage.JobKindCheck {
		if err := p.limiter.Wait(ctx); err != nil {
			// Shutdown while throttled: leave the lease to expire so the
			// job is redelivered.
			return
		}
	}

	var status storage.JobStatus
	var reason string
	switch job.Kind {
	case storage.JobKindCheck:
		status, reason = p.checks.HandleCheck(ctx, job)
	case storage.JobKindDigest:
		if p.digests == nil {
			status, reason = storage.JobStatusFailed, "no digest handler configured"
		} else {
			status, reason = p.digests.HandleDigest(ctx, job)
		}
	default:
		status, reason = storage.JobStatusFailed, "unknown job kind"
	}

	p.metrics.IncJobs(string(job.Kind), string(status))

	// Acks use a fresh context: the job did finish even if shutdown began.
	ackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.queue.Ack(ackCtx, job.ID, status, reason); err != nil {
		p.logger.Error().Err(err).Str("job_id", job.ID.String()).Msg("ack failed")
	}
}

func (p *Pool) reapLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		reaped, err := p.queue.ReapStale(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Error().Err(err).Msg("reap failed")
			continue
		}
		if reaped > 0 {
			p.logger.Warn().Int64("jobs", reaped).Msg("requeued stale leases")
		}
	}
}
