package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pricewatcher/internal/config"
	"pricewatcher/internal/digest"
	"pricewatcher/internal/extract"
	"pricewatcher/internal/metrics"
	"pricewatcher/internal/report"
	"pricewatcher/internal/schedule"
	"pricewatcher/internal/server"
	"pricewatcher/internal/storage"
	"pricewatcher/internal/worker"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// newExtractor assembles the tiered extraction chain from configuration.
// The rendered tier requires an endpoint; the cloud tier additionally
// requires a token, and both fall away cleanly when unset.
func (a *App) newExtractor() *extract.Extractor {
	ex := a.Config.Extractor

	static := extract.NewStatic(extract.StaticOptions{
		Timeout:   ex.Static.Timeout,
		UserAgent: ex.UserAgent,
	}, a.Logger)

	var rendered extract.PageRenderer
	if ex.Rendered.Endpoint != "" {
		browser := extract.NewBrowser(extract.BrowserOptions{
			Endpoint:  ex.Rendered.Endpoint,
			Token:     ex.Rendered.Token,
			Timeout:   ex.Rendered.Timeout,
			Stealth:   ex.Rendered.Stealth,
			UserAgent: ex.UserAgent,
		}, a.Logger)
		rendered = extract.NewBrowserPool(browser, ex.Rendered.PoolSize)
	}

	var cloud extract.PageRenderer
	if ex.Cloud.Enabled() {
		cloud = extract.NewBrowser(extract.BrowserOptions{
			Endpoint:  ex.Cloud.Endpoint,
			Token:     ex.Cloud.Token,
			Proxy:     ex.Cloud.Proxy,
			Timeout:   ex.Cloud.Timeout,
			Stealth:   true,
			UserAgent: ex.UserAgent,
		}, a.Logger)
	}

	var ai extract.StructuredExtractor
	if ex.AI.Enabled() {
		ai = extract.NewAI(extract.AIOptions{
			Endpoint: ex.AI.Endpoint,
			APIKey:   ex.AI.APIKey,
			Model:    ex.AI.Model,
			MaxHTML:  ex.AI.MaxHTML,
			Timeout:  ex.AI.Timeout,
		}, a.Logger)
	}

	return extract.New(static, rendered, cloud, ai, a.Logger)
}

func (a *App) newEmitter() report.Emitter {
	return report.NewHTTPEmitter(
		a.Config.Report.Endpoint,
		a.Config.Report.Token,
		a.Config.Report.Timeout,
		a.Logger,
	)
}

// Run executes the long-running watcher service: queue consumers, the
// schedule ticker, and optionally the HTTP API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; the watcher cannot run without persistence")
	}
	defer closeStore()

	provider := metrics.New(a.Config.Metrics.Enabled)
	extractor := a.newExtractor()
	emitter := a.newEmitter()

	checks := worker.NewWorker(store, store, extractor, provider, a.Logger)
	digests := digest.NewOrchestrator(digest.Options{
		ChildPollInterval: a.Config.Digest.ChildPollInterval,
		MaxWait:           a.Config.Digest.MaxWait,
	}, store, store, store, store, store, emitter, provider, a.Logger)

	pool := worker.NewPool(worker.PoolOptions{
		Workers:       a.Config.Queue.Workers,
		PollInterval:  a.Config.Queue.PollInterval,
		LeaseDuration: a.Config.Queue.LeaseDuration,
		ReapInterval:  a.Config.Queue.ReapInterval,
		RatePerSecond: a.Config.Queue.RatePerSecond,
	}, store, checks, digests, provider, a.Logger)

	ticker := schedule.NewTicker(schedule.Options{
		Interval:     a.Config.Schedule.TickInterval,
		AlignToStart: a.Config.Schedule.AlignToBucket,
		StartupDelay: a.Config.Schedule.StartupDelay,
	}, a.Logger)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return pool.Run(groupCtx)
	})

	group.Go(func() error {
		return ticker.Run(groupCtx, a.evaluateSendSlot(store))
	})

	if a.Config.Server.Enabled {
		var metricsHandler http.Handler
		if a.Config.Metrics.Enabled {
			metricsHandler = promhttp.Handler()
		}
		srv := server.New(a.Config.Server.Addr, store, store, metricsHandler, a.Logger)
		group.Go(func() error {
			return srv.Run(groupCtx)
		})
	}

	a.Logger.Info().Msg("starting price watcher")
	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("watcher terminated with error")
		return err
	}

	a.Logger.Info().Msg("price watcher stopped")
	return nil
}

// evaluateSendSlot builds the periodic tick. Multiple watcher instances may
// tick the same slot; the advisory lock keeps evaluation single-flight and
// the unfinished-digest guard stops back-to-back enqueues while a run is
// still draining.
func (a *App) evaluateSendSlot(store *storage.Store) schedule.TickFunc {
	logger := a.Logger.With().Str("component", "send_slot").Logger()

	return func(ctx context.Context, now time.Time) error {
		unlock, acquired, err := store.TryAdvisoryLock(ctx, a.Config.Schedule.AdvisoryLockKey)
		if err != nil {
			return err
		}
		if !acquired {
			logger.Debug().Msg("another instance holds the schedule lock")
			return nil
		}
		defer unlock()

		settings, err := store.GetScheduleSettings(ctx)
		if err != nil {
			return err
		}
		lastSentAt, err := store.GetLastSentAt(ctx)
		if err != nil {
			return err
		}

		var last time.Time
		if lastSentAt != nil {
			last = *lastSentAt
		}
		if !schedule.ShouldSend(now, last, settings) {
			return nil
		}

		busy, err := store.HasUnfinished(ctx, storage.JobKindDigest)
		if err != nil {
			return err
		}
		if busy {
			logger.Warn().Msg("send slot reached but a digest is still in flight; skipping")
			return nil
		}

		id, err := store.Enqueue(ctx, storage.JobKindDigest, storage.DigestPayload{
			TriggeredBy: digest.TriggeredBySchedule,
		}, nil)
		if err != nil {
			return err
		}

		logger.Info().Str("job_id", id.String()).Time("slot", now).Msg("scheduled digest enqueued")
		return nil
	}
}

// ExportOptions hold parameters for exporting a product's price history.
type ExportOptions struct {
	ProductID int64
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	ProductID int64
	Limit     int
}
