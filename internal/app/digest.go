package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"pricewatcher/internal/digest"
	"pricewatcher/internal/metrics"
	"pricewatcher/internal/storage"
	"pricewatcher/internal/worker"
)

// DigestOptions configure a manually triggered digest.
type DigestOptions struct {
	// EnqueueOnly hands the job to a running watcher instead of processing
	// it in-process.
	EnqueueOnly bool
}

// Digest triggers a digest run. By default it spins up an in-process worker
// pool, drives the run to a terminal state, and reports the outcome.
func (a *App) Digest(ctx context.Context, opts DigestOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot run a digest")
	}
	defer closeStore()

	jobID, err := store.Enqueue(ctx, storage.JobKindDigest, storage.DigestPayload{
		TriggeredBy: "manual",
	}, nil)
	if err != nil {
		return err
	}

	if opts.EnqueueOnly {
		fmt.Fprintf(os.Stdout, "digest job %s enqueued\n", jobID)
		return nil
	}

	provider := metrics.New(false)
	checks := worker.NewWorker(store, store, a.newExtractor(), provider, a.Logger)
	digests := digest.NewOrchestrator(digest.Options{
		ChildPollInterval: a.Config.Digest.ChildPollInterval,
		MaxWait:           a.Config.Digest.MaxWait,
	}, store, store, store, store, store, a.newEmitter(), provider, a.Logger)

	pool := worker.NewPool(worker.PoolOptions{
		Workers:       a.Config.Queue.Workers,
		PollInterval:  a.Config.Queue.PollInterval,
		LeaseDuration: a.Config.Queue.LeaseDuration,
		ReapInterval:  a.Config.Queue.ReapInterval,
		RatePerSecond: a.Config.Queue.RatePerSecond,
	}, store, checks, digests, provider, a.Logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		return pool.Run(groupCtx)
	})

	status, jobErr, waitErr := waitForJob(groupCtx, store, jobID)
	cancel()
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if waitErr != nil {
		return waitErr
	}

	if status == storage.JobStatusFailed {
		return fmt.Errorf("digest run failed: %s", jobErr)
	}
	fmt.Fprintf(os.Stdout, "digest run %s complete\n", jobID)
	return nil
}

func waitForJob(ctx context.Context, queue storage.JobQueue, id uuid.UUID) (storage.JobStatus, string, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		job, err := queue.GetJob(ctx, id)
		if err != nil {
			return "", "", err
		}
		if job.Status.Terminal() {
			msg := ""
			if job.Error != nil {
				msg = *job.Error
			}
			return job.Status, msg, nil
		}

		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-ticker.C:
		}
	}
}
