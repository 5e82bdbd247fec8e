package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"pricewatcher/internal/extract"
	"pricewatcher/internal/storage"
)

// CheckOptions configure a one-shot price check.
type CheckOptions struct {
	ProductID int64
	URL       string
	// Persist writes the observation when checking a registered product.
	Persist bool
}

// Check runs the extraction chain once, in-process, and prints the result.
// It goes through the same tiers the queue workers use, which makes it the
// tool for probing why a particular page fails.
func (a *App) Check(ctx context.Context, opts CheckOptions) error {
	if opts.ProductID == 0 && opts.URL == "" {
		return errors.New("either --product or --url must be provided")
	}

	url := opts.URL
	var product *storage.Product

	if opts.ProductID != 0 {
		store, closeStore, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database not configured; cannot check by product id")
		}
		defer closeStore()

		p, err := store.GetProduct(ctx, opts.ProductID)
		if err != nil {
			return err
		}
		product = &p
		url = p.URL

		result, err := a.runCheck(ctx, url)
		if err != nil {
			_ = store.MarkProductChecked(ctx, p.ID, time.Now().UTC(), false)
			return err
		}

		if opts.Persist {
			now := time.Now().UTC()
			if _, err := store.InsertObservation(ctx, storage.PriceObservation{
				ProductID:  p.ID,
				PriceMinor: *result.Price,
				Currency:   result.Currency,
				Tier:       int(result.Tier),
				CapturedAt: now,
			}); err != nil {
				return err
			}
			if err := store.MarkProductChecked(ctx, p.ID, now, true); err != nil {
				return err
			}
		}

		printCheckResult(product, result)
		return nil
	}

	result, err := a.runCheck(ctx, url)
	if err != nil {
		return err
	}
	printCheckResult(nil, result)
	return nil
}

func (a *App) runCheck(ctx context.Context, url string) (extract.Result, error) {
	extractor := a.newExtractor()
	result, err := extractor.Extract(ctx, url)
	if err != nil {
		return extract.Result{}, fmt.Errorf("extraction failed (%s): %w", extract.KindOf(err), err)
	}
	return result, nil
}

func printCheckResult(product *storage.Product, result extract.Result) {
	if product != nil {
		fmt.Fprintf(os.Stdout, "Product:  %s (id %d)\n", product.Name, product.ID)
	}
	fmt.Fprintf(os.Stdout, "Title:    %s\n", result.Title)
	fmt.Fprintf(os.Stdout, "Price:    %s %s\n", formatMinor(*result.Price, result.Currency), result.Currency)
	fmt.Fprintf(os.Stdout, "Tier:     %s\n", result.Tier)
}

// formatMinor renders a minor-unit amount in major units for display.
func formatMinor(minor int64, currency string) string {
	exp := int32(2)
	if currency == "JPY" {
		exp = 0
	}
	return decimal.New(minor, -exp).StringFixed(exp)
}
