package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"pricewatcher/internal/trend"
)

// Show prints a product's recent observations and its trend summary.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	if opts.ProductID == 0 {
		return errors.New("--product is required")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show observations")
	}
	defer closeStore()

	product, err := store.GetProduct(ctx, opts.ProductID)
	if err != nil {
		return err
	}

	recent, err := store.ListRecentObservations(ctx, product.ID, opts.Limit)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	widest := trend.WindowDays[len(trend.WindowDays)-1]
	history, err := store.ListObservationsBetween(ctx, product.ID, now.AddDate(0, 0, -widest), now)
	if err != nil {
		return err
	}
	summary := trend.Summarize(product, history, now)

	fmt.Fprintf(os.Stdout, "Product: %s (id %d)\n", product.Name, product.ID)
	fmt.Fprintf(os.Stdout, "URL:     %s\n\n", product.URL)

	if summary.Unavailable() {
		fmt.Fprintln(os.Stdout, "Trend: unavailable (no observations)")
	} else {
		printSummary(summary)
	}

	if len(recent) == 0 {
		fmt.Fprintln(os.Stdout, "\nno observations recorded")
		return nil
	}

	fmt.Fprintln(os.Stdout)
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Captured (UTC)\tPrice\tCurrency\tTier")
	for _, o := range recent {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\n",
			o.CapturedAt.UTC().Format(time.RFC3339),
			formatMinor(o.PriceMinor, o.Currency),
			o.Currency,
			o.Tier,
		)
	}
	return writer.Flush()
}

func printSummary(summary trend.Summary) {
	fmt.Fprintf(os.Stdout, "Current: %s %s\n", formatMinor(*summary.CurrentMinor, summary.Currency), summary.Currency)
	if summary.PrevMinor != nil {
		fmt.Fprintf(os.Stdout, "Previous: %s %s\n", formatMinor(*summary.PrevMinor, summary.Currency), summary.Currency)
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Window\tAverage\tDelta")
	for _, w := range summary.Windows {
		avg := "-"
		delta := "unavailable"
		if w.AvgMinor != nil {
			avg = formatMinor(*w.AvgMinor, summary.Currency)
		}
		if w.DeltaPct != nil {
			delta = w.DeltaPct.StringFixed(2) + "%"
		}
		fmt.Fprintf(writer, "%dd\t%s\t%s\n", w.Days, avg, delta)
	}
	writer.Flush()
}
