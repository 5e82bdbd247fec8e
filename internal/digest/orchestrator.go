// Package digest fans a single digest request out into one check job per
// active product, waits for the whole set to reach terminal states, derives
// trend summaries from committed observations, and emits exactly one report.
package digest

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pricewatcher/internal/logging"
	"pricewatcher/internal/metrics"
	"pricewatcher/internal/report"
	"pricewatcher/internal/storage"
	"pricewatcher/internal/trend"
)

// TriggeredBySchedule marks runs started by the periodic tick; only those
// update the last-send marker.
const TriggeredBySchedule = "schedule"

// historyDays covers the widest trend window.
var historyDays = trend.WindowDays[len(trend.WindowDays)-1]

// Options tune orchestration.
type Options struct {
	ChildPollInterval time.Duration
	// MaxWait bounds the fan-in wait; zero waits forever and lets a hung
	// child stall the digest rather than ship a report with missing rows.
	MaxWait time.Duration
}

// Orchestrator runs the digest state machine. The fan-in barrier counts
// terminal child jobs in the store, keyed by run id, so it survives a
// restart of the orchestrating process.
type Orchestrator struct {
	opts     Options
	products storage.ProductStore
	obs      storage.ObservationStore
	runs     storage.DigestRunStore
	queue    storage.JobQueue
	settings storage.SettingsStore
	emitter  report.Emitter
	metrics  metrics.Provider
	logger   zerolog.Logger
}

// NewOrchestrator constructs the orchestrator.
func NewOrchestrator(opts Options, products storage.ProductStore, obs storage.ObservationStore, runs storage.DigestRunStore, queue storage.JobQueue, settings storage.SettingsStore, emitter report.Emitter, m metrics.Provider, logger zerolog.Logger) *Orchestrator {
	if opts.ChildPollInterval <= 0 {
		opts.ChildPollInterval = 2 * time.Second
	}
	return &Orchestrator{
		opts:     opts,
		products: products,
		obs:      obs,
		runs:     runs,
		queue:    queue,
		settings: settings,
		emitter:  emitter,
		metrics:  m,
		logger:   logging.Component(logger, "digest_orchestrator"),
	}
}

// HandleDigest runs one digest job to a terminal status. Child extraction
// failures never fail the run; only aggregation or report-emission faults
// do.
func (o *Orchestrator) HandleDigest(ctx context.Context, job storage.Job) (storage.JobStatus, string) {
	var payload storage.DigestPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return storage.JobStatusFailed, fmt.Sprintf("decode payload: %v", err)
	}
	if payload.TriggeredBy == "" {
		payload.TriggeredBy = "manual"
	}

	// The job id doubles as the run id, so a redelivered digest job finds
	// its own children instead of fanning out again.
	runID := job.ID
	logger := o.logger.With().Str("run_id", runID.String()).Str("triggered_by", payload.TriggeredBy).Logger()

	run := storage.DigestRun{
		ID:          runID,
		Status:      storage.RunPending,
		TriggeredBy: payload.TriggeredBy,
		StartedAt:   time.Now().UTC(),
	}
	if err := o.runs.CreateDigestRun(ctx, run); err != nil {
		return storage.JobStatusFailed, fmt.Sprintf("create digest run: %v", err)
	}

	// Store faults before the barrier fail the job but leave the run row in
	// its current state; failed runs are reserved for faults that happen
	// once children were spawned.
	products, err := o.products.ListActiveProducts(ctx)
	if err != nil {
		return storage.JobStatusFailed, fmt.Sprintf("list products: %v", err)
	}

	// fanOut only errors on store faults that leave the child set
	// unknowable; everything softer is treated as failed children.
	misses, err := o.fanOut(ctx, runID, products, logger)
	if err != nil {
		return storage.JobStatusFailed, err.Error()
	}

	if err := o.awaitChildren(ctx, runID, logger); err != nil {
		o.finish(ctx, runID, storage.RunFailed, o.failedChildren(ctx, runID)+misses, err.Error())
		return storage.JobStatusFailed, err.Error()
	}

	o.transition(ctx, runID, storage.RunAggregating)
	now := time.Now().UTC()
	rows, err := o.aggregate(ctx, products, now)
	if err != nil {
		o.finish(ctx, runID, storage.RunFailed, o.failedChildren(ctx, runID)+misses, err.Error())
		return storage.JobStatusFailed, err.Error()
	}

	o.transition(ctx, runID, storage.RunReporting)
	if err := o.emitter.Emit(ctx, report.Request{
		GeneratedAt: now,
		TriggeredBy: payload.TriggeredBy,
		Rows:        rows,
	}); err != nil {
		o.finish(ctx, runID, storage.RunFailed, o.failedChildren(ctx, runID)+misses, fmt.Sprintf("emit report: %v", err))
		return storage.JobStatusFailed, fmt.Sprintf("emit report: %v", err)
	}

	if payload.TriggeredBy == TriggeredBySchedule {
		o.recordSend(ctx, now, logger)
	}

	o.finish(ctx, runID, storage.RunDone, o.failedChildren(ctx, runID)+misses, "")
	logger.Info().Int("rows", len(rows)).Msg("digest complete")
	return storage.JobStatusDone, ""
}

// fanOut enqueues one child check per product before any waiting begins and
// returns how many children could not be enqueued. Enqueue failures count
// the child as immediately failed so the run can never hang on a job that
// does not exist; the run row records the declared width, len(products),
// not just the enqueued count.
func (o *Orchestrator) fanOut(ctx context.Context, runID uuid.UUID, products []storage.Product, logger zerolog.Logger) (int, error) {
	o.transition(ctx, runID, storage.RunFanningOut)

	existing, err := o.queue.CountAllChildren(ctx, runID)
	if err != nil {
		return 0, fmt.Errorf("count children: %w", err)
	}
	if existing > 0 {
		logger.Warn().Int64("children", existing).Msg("redelivered digest; skipping fan-out")
		o.transition(ctx, runID, storage.RunAwaitingChildren)
		misses := len(products) - int(existing)
		if misses < 0 {
			misses = 0
		}
		return misses, nil
	}

	misses := 0
	for _, product := range products {
		id := product.ID
		if _, err := o.queue.Enqueue(ctx, storage.JobKindCheck, storage.CheckPayload{ProductID: &id}, &runID); err != nil {
			logger.Error().Err(err).Int64("product_id", id).Msg("child enqueue failed")
			misses++
			continue
		}
	}

	if err := o.runs.UpdateDigestRunChildren(ctx, runID, len(products)); err != nil {
		logger.Error().Err(err).Msg("failed to record fan-out width")
	}

	logger.Info().Int("products", len(products)).Int("missed", misses).Msg("fanned out")
	o.transition(ctx, runID, storage.RunAwaitingChildren)
	return misses, nil
}

// awaitChildren blocks until every spawned child is terminal. There is no
// partial completion: the barrier is the persisted child job states.
func (o *Orchestrator) awaitChildren(ctx context.Context, runID uuid.UUID, logger zerolog.Logger) error {
	started := time.Now()
	ticker := time.NewTicker(o.opts.ChildPollInterval)
	defer ticker.Stop()

	for {
		remaining, err := o.queue.CountUnfinishedChildren(ctx, runID)
		if err != nil {
			return fmt.Errorf("count unfinished children: %w", err)
		}
		if remaining == 0 {
			o.metrics.ObserveFanInWait(time.Since(started))
			return nil
		}
		if o.opts.MaxWait > 0 && time.Since(started) > o.opts.MaxWait {
			return fmt.Errorf("fan-in ceiling exceeded with %d children unfinished", remaining)
		}

		logger.Debug().Int64("remaining", remaining).Msg("awaiting children")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// aggregate derives one summary row per active product from observations
// already committed to the store, so it stays correct across a process
// restart between fan-in and aggregation. Products that failed extraction
// produce unavailable rows, never missing ones.
func (o *Orchestrator) aggregate(ctx context.Context, products []storage.Product, now time.Time) ([]trend.Summary, error) {
	rows := make([]trend.Summary, 0, len(products))
	for _, product := range products {
		history, err := o.obs.ListObservationsBetween(ctx, product.ID, now.AddDate(0, 0, -historyDays), now)
		if err != nil {
			return nil, fmt.Errorf("load history for product %d: %w", product.ID, err)
		}
		rows = append(rows, trend.Summarize(product, history, now))
	}
	return rows, nil
}

// recordSend updates the last-send marker with compare-and-set so two
// processes finishing the same slot cannot both record it.
func (o *Orchestrator) recordSend(ctx context.Context, sentAt time.Time, logger zerolog.Logger) {
	expected, err := o.settings.GetLastSentAt(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to read last-send marker")
		return
	}
	updated, err := o.settings.CompareAndSetLastSentAt(ctx, expected, sentAt)
	if err != nil {
		logger.Error().Err(err).Msg("failed to update last-send marker")
		return
	}
	if !updated {
		logger.Warn().Msg("last-send marker moved concurrently; leaving it")
	}
}

func (o *Orchestrator) transition(ctx context.Context, runID uuid.UUID, status storage.DigestRunStatus) {
	if err := o.runs.UpdateDigestRunStatus(ctx, runID, status); err != nil {
		o.logger.Error().Err(err).Str("run_id", runID.String()).Str("status", string(status)).Msg("state transition not persisted")
	}
}

func (o *Orchestrator) finish(ctx context.Context, runID uuid.UUID, status storage.DigestRunStatus, childrenFailed int, errMsg string) {
	o.metrics.IncDigestRun(string(status))
	if err := o.runs.FinishDigestRun(ctx, runID, status, childrenFailed, errMsg); err != nil {
		o.logger.Error().Err(err).Str("run_id", runID.String()).Msg("failed to finish digest run")
	}
}

func (o *Orchestrator) failedChildren(ctx context.Context, runID uuid.UUID) int {
	count, err := o.queue.CountFailedChildren(ctx, runID)
	if err != nil {
		return 0
	}
	return int(count)
}
