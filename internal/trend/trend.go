// Package trend computes per-product price trend summaries from observation
// history. Everything here is pure: callers pass the history, nothing is
// cached or persisted.
package trend

import (
	"time"

	"github.com/shopspring/decimal"

	"pricewatcher/internal/storage"
)

// WindowDays are the rolling average windows, in days.
var WindowDays = []int{7, 30, 90, 180}

// WindowStat is one rolling window of a summary.
type WindowStat struct {
	Days int `json:"days"`
	// AvgMinor is the arithmetic mean over observations inside the window,
	// rounded to the nearest minor unit. Nil when the window is empty.
	AvgMinor *int64 `json:"avg_minor,omitempty"`
	// DeltaPct is the percentage delta of the current price against the
	// average. Nil ("unavailable") when either side is missing or the
	// average is zero.
	DeltaPct *decimal.Decimal `json:"delta_pct,omitempty"`
}

// Summary is the derived trend view of one product at digest time.
type Summary struct {
	ProductID    int64            `json:"product_id"`
	Name         string           `json:"name"`
	URL          string           `json:"url"`
	ImageURL     string           `json:"image_url,omitempty"`
	CurrentMinor *int64           `json:"current_minor,omitempty"`
	Currency     string           `json:"currency,omitempty"`
	PrevMinor    *int64           `json:"prev_minor,omitempty"`
	VsPrevPct    *decimal.Decimal `json:"vs_prev_pct,omitempty"`
	Windows      []WindowStat     `json:"windows"`
	CapturedAt   *time.Time       `json:"captured_at,omitempty"`
}

// Unavailable reports whether the product has no usable current price. The
// digest renders such rows as placeholders, never dropping them.
func (s Summary) Unavailable() bool {
	return s.CurrentMinor == nil
}

// Summarize derives a summary from a product's observation history, oldest
// first. Windows cover [now-days, now], both ends inclusive.
func Summarize(product storage.Product, history []storage.PriceObservation, now time.Time) Summary {
	summary := Summary{
		ProductID: product.ID,
		Name:      product.Name,
		URL:       product.URL,
		ImageURL:  product.ImageURL,
	}

	if len(history) > 0 {
		latest := history[len(history)-1]
		price := latest.PriceMinor
		capturedAt := latest.CapturedAt
		summary.CurrentMinor = &price
		summary.Currency = latest.Currency
		summary.CapturedAt = &capturedAt
	}
	if len(history) > 1 {
		prev := history[len(history)-2].PriceMinor
		summary.PrevMinor = &prev
	}

	summary.VsPrevPct = deltaPct(summary.CurrentMinor, summary.PrevMinor)

	summary.Windows = make([]WindowStat, 0, len(WindowDays))
	for _, days := range WindowDays {
		stat := WindowStat{Days: days}
		stat.AvgMinor = windowAverage(history, now, days)
		stat.DeltaPct = deltaPct(summary.CurrentMinor, stat.AvgMinor)
		summary.Windows = append(summary.Windows, stat)
	}

	return summary
}

// windowAverage returns the mean price over observations captured within
// [now-days, now], nil when none fall inside.
func windowAverage(history []storage.PriceObservation, now time.Time, days int) *int64 {
	from := now.AddDate(0, 0, -days)

	sum := decimal.Zero
	count := int64(0)
	for _, obs := range history {
		if obs.CapturedAt.Before(from) || obs.CapturedAt.After(now) {
			continue
		}
		sum = sum.Add(decimal.NewFromInt(obs.PriceMinor))
		count++
	}
	if count == 0 {
		return nil
	}

	avg := sum.Div(decimal.NewFromInt(count)).Round(0).IntPart()
	return &avg
}

// deltaPct computes (current - reference) / reference * 100, unavailable
// (nil) when either side is missing or the reference is zero.
func deltaPct(current, reference *int64) *decimal.Decimal {
	if current == nil || reference == nil || *reference == 0 {
		return nil
	}
	cur := decimal.NewFromInt(*current)
	ref := decimal.NewFromInt(*reference)
	delta := cur.Sub(ref).Div(ref).Mul(decimal.NewFromInt(100))
	return &delta
}
