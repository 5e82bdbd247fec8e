package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"pricewatcher/internal/schedule"
	"pricewatcher/internal/storage"
)

// AddProductOptions configure product registration.
type AddProductOptions struct {
	URL      string
	Name     string
	ImageURL string
}

// AddProduct registers a new tracked product.
func (a *App) AddProduct(ctx context.Context, opts AddProductOptions) error {
	if opts.URL == "" {
		return errors.New("--url is required")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot manage products")
	}
	defer closeStore()

	product, err := store.CreateProduct(ctx, storage.Product{
		URL:      opts.URL,
		Name:     opts.Name,
		ImageURL: opts.ImageURL,
		Active:   true,
	})
	if errors.Is(err, storage.ErrProductExists) {
		return fmt.Errorf("a product with url %s is already tracked", opts.URL)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "product %d registered\n", product.ID)
	return nil
}

// ListProducts prints the product table.
func (a *App) ListProducts(ctx context.Context, activeOnly bool) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot list products")
	}
	defer closeStore()

	var products []storage.Product
	if activeOnly {
		products, err = store.ListActiveProducts(ctx)
	} else {
		products, err = store.ListProducts(ctx)
	}
	if err != nil {
		return err
	}
	if len(products) == 0 {
		fmt.Fprintln(os.Stdout, "no products registered")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tName\tActive\tLast success\tLast failure\tURL")
	for _, p := range products {
		fmt.Fprintf(writer, "%d\t%s\t%t\t%s\t%s\t%s\n",
			p.ID, p.Name, p.Active,
			formatTimePtr(p.LastSuccessAt), formatTimePtr(p.LastFailedAt), p.URL)
	}
	return writer.Flush()
}

// SetProductActive pauses or resumes checks for one product.
func (a *App) SetProductActive(ctx context.Context, id int64, active bool) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot manage products")
	}
	defer closeStore()

	if err := store.SetProductActive(ctx, id, active); err != nil {
		return err
	}

	state := "paused"
	if active {
		state = "active"
	}
	fmt.Fprintf(os.Stdout, "product %d is now %s\n", id, state)
	return nil
}

// RemoveProduct deletes a product and its observation history.
func (a *App) RemoveProduct(ctx context.Context, id int64) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot manage products")
	}
	defer closeStore()

	if err := store.DeleteProduct(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "product %d removed\n", id)
	return nil
}

// SetSchedule stores the digest schedule settings.
func (a *App) SetSchedule(ctx context.Context, settings schedule.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot store schedule")
	}
	defer closeStore()

	if err := store.SetScheduleSettings(ctx, settings); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "digest schedule updated: %s\n", describeSchedule(settings))
	return nil
}

// ShowSchedule prints the schedule settings and the next send slot.
func (a *App) ShowSchedule(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot read schedule")
	}
	defer closeStore()

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

	fmt.Fprintf(os.Stdout, "Schedule:   %s\n", describeSchedule(settings))
	if lastSentAt != nil {
		fmt.Fprintf(os.Stdout, "Last sent:  %s\n", lastSentAt.UTC().Format(time.RFC3339))
	} else {
		fmt.Fprintln(os.Stdout, "Last sent:  never")
	}
	fmt.Fprintf(os.Stdout, "Next slot:  %s\n", schedule.NextSendTime(time.Now().UTC(), last, settings).Format(time.RFC3339))
	return nil
}

func describeSchedule(s schedule.Settings) string {
	if s.Frequency == schedule.FrequencyWeekly {
		return fmt.Sprintf("weekly, ISO weekday %d at %02d:00 UTC", s.DayOfWeek, s.Hour)
	}
	return fmt.Sprintf("daily at %02d:00 UTC", s.Hour)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
