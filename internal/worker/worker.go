// Package worker consumes check requests from the durable queue and turns
// them into persisted price observations. Every job reaches a terminal
// state; extraction failures become typed failure records, never retries
// that could wedge a digest fan-in.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"pricewatcher/internal/extract"
	"pricewatcher/internal/logging"
	"pricewatcher/internal/metrics"
	"pricewatcher/internal/storage"
)

// Extractor is the tiered extraction chain contract consumed here.
type Extractor interface {
	Extract(ctx context.Context, url string) (extract.Result, error)
}

// Worker executes one CheckRequest at a time. Multiple workers may run
// concurrently; each execution is independent and idempotent at the level
// of a single appended observation.
type Worker struct {
	products     storage.ProductStore
	observations storage.ObservationStore
	extractor    Extractor
	metrics      metrics.Provider
	logger       zerolog.Logger
}

// NewWorker constructs a check worker.
func NewWorker(products storage.ProductStore, observations storage.ObservationStore, extractor Extractor, m metrics.Provider, logger zerolog.Logger) *Worker {
	return &Worker{
		products:     products,
		observations: observations,
		extractor:    extractor,
		metrics:      m,
		logger:       logging.Component(logger, "check_worker"),
	}
}

// HandleCheck runs one check job to a terminal status. It never returns an
// error: anything that goes wrong is folded into the failed status and its
// reason so the fan-in can proceed.
func (w *Worker) HandleCheck(ctx context.Context, job storage.Job) (storage.JobStatus, string) {
	var payload storage.CheckPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return storage.JobStatusFailed, fmt.Sprintf("decode payload: %v", err)
	}

	url := payload.URL
	var product *storage.Product
	if payload.ProductID != nil {
		p, err := w.products.GetProduct(ctx, *payload.ProductID)
		if err != nil {
			// A vanished product is a terminal no-op, not a retry.
			return storage.JobStatusFailed, fmt.Sprintf("resolve product %d: %v", *payload.ProductID, err)
		}
		product = &p
		if url == "" {
			url = p.URL
		}
	}
	if url == "" {
		return storage.JobStatusFailed, "no resolvable url"
	}

	started := time.Now()
	result, err := w.extractor.Extract(ctx, url)
	now := time.Now().UTC()

	if err != nil {
		kind := extract.KindOf(err)
		tier := extract.TierOf(err)
		w.metrics.IncExtraction(tier.String(), string(kind))
		w.logger.Warn().Err(err).Str("url", url).Str("kind", string(kind)).Msg("extraction failed")

		if product != nil {
			if markErr := w.products.MarkProductChecked(ctx, product.ID, now, false); markErr != nil {
				w.logger.Error().Err(markErr).Int64("product_id", product.ID).Msg("failed to mark product failed")
			}
		}
		return storage.JobStatusFailed, fmt.Sprintf("%s: %v", kind, err)
	}

	w.metrics.IncExtraction(result.Tier.String(), "ok")
	w.metrics.ObserveExtractionDuration(result.Tier.String(), time.Since(started))

	if product == nil {
		// Ad-hoc URL check without a product row: nothing to persist.
		w.logger.Info().Str("url", url).Str("title", result.Title).
			Int64("price_minor", *result.Price).Str("tier", result.Tier.String()).
			Msg("ad-hoc check complete")
		return storage.JobStatusDone, ""
	}

	observation := storage.PriceObservation{
		ProductID:  product.ID,
		PriceMinor: *result.Price,
		Currency:   result.Currency,
		Tier:       int(result.Tier),
		CapturedAt: now,
	}
	if _, err := w.observations.InsertObservation(ctx, observation); err != nil {
		if markErr := w.products.MarkProductChecked(ctx, product.ID, now, false); markErr != nil {
			w.logger.Error().Err(markErr).Int64("product_id", product.ID).Msg("failed to mark product failed")
		}
		return storage.JobStatusFailed, fmt.Sprintf("persist observation: %v", err)
	}
	if err := w.products.MarkProductChecked(ctx, product.ID, now, true); err != nil {
		w.logger.Error().Err(err).Int64("product_id", product.ID).Msg("failed to mark product checked")
	}

	w.logger.Info().Int64("product_id", product.ID).
		Int64("price_minor", observation.PriceMinor).
		Str("currency", observation.Currency).
		Str("tier", result.Tier.String()).
		Msg("observation recorded")
	return storage.JobStatusDone, ""
}
