// Package extract implements the tiered price extraction chain: a cheap
// static fetch, a rendered fetch through a pooled browser session with an
// AI structured-extraction sub-step, and a remote cloud-browser fallback.
package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"pricewatcher/internal/logging"
)

// Tier identifies one strategy in the fallback chain.
type Tier int

const (
	TierStatic   Tier = 1
	TierRendered Tier = 2
	TierCloud    Tier = 3
)

// String returns the tier name used in logs and observations.
func (t Tier) String() string {
	switch t {
	case TierStatic:
		return "static"
	case TierRendered:
		return "rendered"
	case TierCloud:
		return "cloud"
	default:
		return "unknown"
	}
}

// Result is a structured extraction outcome. Complete results carry both a
// title and a price.
type Result struct {
	Title    string
	Price    *int64
	Currency string
	Tier     Tier
}

// Complete reports whether both title and price were found.
func (r Result) Complete() bool {
	return r.Title != "" && r.Price != nil
}

// Kind classifies extraction failures.
type Kind string

const (
	KindNetwork  Kind = "network"
	KindTimeout  Kind = "timeout"
	KindBotWall  Kind = "botwall"
	KindNoData   Kind = "no_data"
	KindProvider Kind = "provider"
)

// Error is a typed extraction failure tagged with the tier that produced it.
type Error struct {
	Kind Kind
	Tier Tier
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract %s (%s): %v", e.Tier, e.Kind, e.Err)
	}
	return fmt.Sprintf("extract %s (%s)", e.Tier, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the failure kind of an extraction error, or KindProvider
// for untyped errors.
func KindOf(err error) Kind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindProvider
}

// TierOf returns the tier that produced an extraction error, zero when
// untyped.
func TierOf(err error) Tier {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Tier
	}
	return 0
}

// loadError reports whether a rendered-tier failure means the page never
// loaded. Only load failures escalate to the cloud tier; a loaded page with
// nothing extractable is terminal at tier 2.
func loadError(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindTimeout, KindBotWall:
		return true
	default:
		return false
	}
}

// StaticFetcher is the plain HTTP fetch-and-scan strategy.
type StaticFetcher interface {
	Fetch(ctx context.Context, url string) (Result, error)
}

// PageRenderer navigates a headless browser to a URL and returns the
// rendered HTML after network idle.
type PageRenderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// StructuredExtractor asks a model for {title, price, currency} over raw
// HTML.
type StructuredExtractor interface {
	ExtractStructured(ctx context.Context, html string) (Result, error)
}

// Extractor runs the ordered strategy chain. rendered and cloud follow the
// same PageRenderer contract; cloud is nil when not configured and is then
// skipped entirely.
type Extractor struct {
	static   StaticFetcher
	rendered PageRenderer
	cloud    PageRenderer
	ai       StructuredExtractor
	logger   zerolog.Logger
}

// New constructs the extraction chain. cloud and ai may be nil.
func New(static StaticFetcher, rendered PageRenderer, cloud PageRenderer, ai StructuredExtractor, logger zerolog.Logger) *Extractor {
	return &Extractor{
		static:   static,
		rendered: rendered,
		cloud:    cloud,
		ai:       ai,
		logger:   logging.Component(logger, "extractor"),
	}
}

// Extract tries successive tiers until one yields a complete result. Every
// tier's failure is logged under its tier name; only the last attempted
// tier's error is returned.
func (e *Extractor) Extract(ctx context.Context, url string) (Result, error) {
	var staticErr error
	if e.static != nil {
		result, err := e.static.Fetch(ctx, url)
		if err != nil {
			staticErr = asTierError(err, TierStatic)
			e.logFailure(url, TierStatic, staticErr)
		} else if result.Complete() {
			result.Tier = TierStatic
			return result, nil
		}
	}

	if e.rendered == nil {
		if staticErr != nil {
			return Result{}, staticErr
		}
		return Result{}, &Error{Kind: KindNoData, Tier: TierStatic}
	}

	html, err := e.rendered.Render(ctx, url)
	if err != nil {
		tierErr := asTierError(err, TierRendered)
		e.logFailure(url, TierRendered, tierErr)
		if !loadError(tierErr) || e.cloud == nil {
			return Result{}, tierErr
		}
		return e.extractCloud(ctx, url)
	}

	result := ScanHTML(html)
	if result.Complete() {
		result.Tier = TierRendered
		return result, nil
	}

	// Selector miss on a loaded page: AI sub-step, still tier 2.
	return e.extractWithAI(ctx, html, TierRendered)
}

func (e *Extractor) extractCloud(ctx context.Context, url string) (Result, error) {
	html, err := e.cloud.Render(ctx, url)
	if err != nil {
		tierErr := asTierError(err, TierCloud)
		e.logFailure(url, TierCloud, tierErr)
		return Result{}, tierErr
	}
	return e.extractWithAI(ctx, html, TierCloud)
}

func (e *Extractor) extractWithAI(ctx context.Context, html string, tier Tier) (Result, error) {
	if e.ai == nil {
		return Result{}, &Error{Kind: KindNoData, Tier: tier}
	}

	result, err := e.ai.ExtractStructured(ctx, html)
	if err != nil {
		tierErr := &Error{Kind: KindProvider, Tier: tier, Err: err}
		e.logFailure("", tier, tierErr)
		return Result{}, tierErr
	}
	if !result.Complete() {
		return Result{}, &Error{Kind: KindNoData, Tier: tier}
	}
	result.Tier = tier
	return result, nil
}

func (e *Extractor) logFailure(url string, tier Tier, err error) {
	event := e.logger.Warn().Str("tier", tier.String()).Err(err)
	if url != "" {
		event = event.Str("url", url)
	}
	event.Msg("tier failed")
}

// asTierError retags a typed error with the tier it surfaced from, wrapping
// untyped errors as network failures.
func asTierError(err error, tier Tier) *Error {
	var ee *Error
	if errors.As(err, &ee) {
		return &Error{Kind: ee.Kind, Tier: tier, Err: ee.Err}
	}
	return &Error{Kind: KindNetwork, Tier: tier, Err: err}
}
