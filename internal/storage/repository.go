package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"pricewatcher/internal/schedule"
)

const (
	insertProductSQL = `INSERT INTO products (url, name, image_url, active)
    VALUES ($1, $2, $3, $4)
    RETURNING id, url, name, image_url, active, last_success_at, last_failed_at, created_at;`

	listActiveProductsSQL = `SELECT id, url, name, image_url, active, last_success_at, last_failed_at, created_at
    FROM products
    WHERE active
    ORDER BY id;`

	listProductsSQL = `SELECT id, url, name, image_url, active, last_success_at, last_failed_at, created_at
    FROM products
    ORDER BY id;`

	getProductSQL = `SELECT id, url, name, image_url, active, last_success_at, last_failed_at, created_at
    FROM products
    WHERE id = $1;`

	setProductActiveSQL = `UPDATE products SET active = $2 WHERE id = $1;`

	markProductCheckedSQL = `UPDATE products
    SET last_success_at = CASE WHEN $3 THEN $2 ELSE last_success_at END,
        last_failed_at  = CASE WHEN $3 THEN last_failed_at ELSE $2 END
    WHERE id = $1;`

	deleteProductSQL = `DELETE FROM products WHERE id = $1;`

	insertObservationSQL = `INSERT INTO price_observations (product_id, price_minor, currency, tier, captured_at)
    VALUES ($1, $2, $3, $4, $5)
    RETURNING id;`

	listObservationsBetweenSQL = `SELECT id, product_id, price_minor, currency, tier, captured_at
    FROM price_observations
    WHERE product_id = $1
      AND captured_at >= $2
      AND captured_at <= $3
    ORDER BY captured_at;`

	listRecentObservationsSQL = `SELECT id, product_id, price_minor, currency, tier, captured_at
    FROM price_observations
    WHERE product_id = $1
    ORDER BY captured_at DESC
    LIMIT $2;`

	getSettingSQL = `SELECT value FROM settings WHERE key = $1;`

	upsertSettingSQL = `INSERT INTO settings (key, value) VALUES ($1, $2)
    ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value;`

	insertSettingIfAbsentSQL = `INSERT INTO settings (key, value) VALUES ($1, $2)
    ON CONFLICT (key) DO NOTHING;`

	casSettingSQL = `UPDATE settings SET value = $3 WHERE key = $1 AND value = $2;`

	insertDigestRunSQL = `INSERT INTO digest_runs (id, status, triggered_by, children_total, started_at)
    VALUES ($1, $2, $3, $4, $5)
    ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status;`

	updateDigestRunStatusSQL = `UPDATE digest_runs SET status = $2 WHERE id = $1;`

	updateDigestRunChildrenSQL = `UPDATE digest_runs SET children_total = $2 WHERE id = $1;`

	finishDigestRunSQL = `UPDATE digest_runs
    SET status = $2, children_failed = $3, finished_at = $4, error = $5
    WHERE id = $1;`
)

const (
	scheduleSettingsKey = "digest_schedule"
	lastSentAtKey       = "last_digest_sent_at"
)

// ErrProductNotFound indicates the product id has no row.
var ErrProductNotFound = errors.New("storage: product not found")

// ErrProductExists indicates another product already tracks the url.
var ErrProductExists = errors.New("storage: product url already tracked")

// ProductStore defines operations for product persistence.
type ProductStore interface {
	CreateProduct(ctx context.Context, p Product) (Product, error)
	ListActiveProducts(ctx context.Context) ([]Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
	GetProduct(ctx context.Context, id int64) (Product, error)
	SetProductActive(ctx context.Context, id int64, active bool) error
	MarkProductChecked(ctx context.Context, id int64, at time.Time, ok bool) error
	DeleteProduct(ctx context.Context, id int64) error
}

// ObservationStore defines append-only observation persistence plus the
// time-range query the trend aggregation runs on.
type ObservationStore interface {
	InsertObservation(ctx context.Context, o PriceObservation) (int64, error)
	ListObservationsBetween(ctx context.Context, productID int64, from, to time.Time) ([]PriceObservation, error)
	ListRecentObservations(ctx context.Context, productID int64, limit int) ([]PriceObservation, error)
}

// SettingsStore defines the singleton schedule settings and last-send marker.
type SettingsStore interface {
	GetScheduleSettings(ctx context.Context) (schedule.Settings, error)
	SetScheduleSettings(ctx context.Context, s schedule.Settings) error
	GetLastSentAt(ctx context.Context) (*time.Time, error)
	CompareAndSetLastSentAt(ctx context.Context, expected *time.Time, value time.Time) (bool, error)
}

// DigestRunStore persists digest run state transitions.
type DigestRunStore interface {
	CreateDigestRun(ctx context.Context, run DigestRun) error
	UpdateDigestRunStatus(ctx context.Context, id uuid.UUID, status DigestRunStatus) error
	UpdateDigestRunChildren(ctx context.Context, id uuid.UUID, total int) error
	FinishDigestRun(ctx context.Context, id uuid.UUID, status DigestRunStatus, childrenFailed int, errMsg string) error
}

// CreateProduct inserts a product row. Product urls are unique; inserting a
// url that is already tracked returns ErrProductExists.
func (s *Store) CreateProduct(ctx context.Context, p Product) (Product, error) {
	pool, err := s.getPool()
	if err != nil {
		return Product{}, err
	}
	row := pool.QueryRow(ctx, insertProductSQL, p.URL, p.Name, p.ImageURL, p.Active)
	created, err := scanProductRow(row)
	if err != nil {
		return Product{}, mapProductInsertErr(err)
	}
	return created, nil
}

func mapProductInsertErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrProductExists
	}
	return fmt.Errorf("insert product: %w", err)
}

// ListActiveProducts lists products included in batch runs.
func (s *Store) ListActiveProducts(ctx context.Context) ([]Product, error) {
	return s.listProducts(ctx, listActiveProductsSQL)
}

// ListProducts lists all products regardless of active flag.
func (s *Store) ListProducts(ctx context.Context) ([]Product, error) {
	return s.listProducts(ctx, listProductsSQL)
}

func (s *Store) listProducts(ctx context.Context, query string) ([]Product, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, query)
	if queryErr != nil {
		return nil, fmt.Errorf("list products: %w", queryErr)
	}
	defer rows.Close()

	products := make([]Product, 0)
	for rows.Next() {
		product, scanErr := scanProductRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		products = append(products, product)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return products, nil
}

// GetProduct fetches one product by id.
func (s *Store) GetProduct(ctx context.Context, id int64) (Product, error) {
	pool, err := s.getPool()
	if err != nil {
		return Product{}, err
	}
	row := pool.QueryRow(ctx, getProductSQL, id)
	product, scanErr := scanProductRow(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, fmt.Errorf("get product: %w", scanErr)
	}
	return product, nil
}

// SetProductActive flips the active flag.
func (s *Store) SetProductActive(ctx context.Context, id int64, active bool) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, setProductActiveSQL, id, active)
	if execErr != nil {
		return fmt.Errorf("set product active: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// MarkProductChecked updates last_success_at or last_failed_at.
func (s *Store) MarkProductChecked(ctx context.Context, id int64, at time.Time, ok bool) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, markProductCheckedSQL, id, at, ok); execErr != nil {
		return fmt.Errorf("mark product checked: %w", execErr)
	}
	return nil
}

// DeleteProduct removes a product; observations cascade.
func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, deleteProductSQL, id)
	if execErr != nil {
		return fmt.Errorf("delete product: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// InsertObservation appends one price observation.
func (s *Store) InsertObservation(ctx context.Context, o PriceObservation) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var id int64
	if scanErr := pool.QueryRow(ctx, insertObservationSQL,
		o.ProductID, o.PriceMinor, o.Currency, o.Tier, o.CapturedAt,
	).Scan(&id); scanErr != nil {
		return 0, fmt.Errorf("insert observation: %w", scanErr)
	}
	return id, nil
}

// ListObservationsBetween lists observations within [from, to], both ends
// inclusive, ordered by capture time.
func (s *Store) ListObservationsBetween(ctx context.Context, productID int64, from, to time.Time) ([]PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listObservationsBetweenSQL, productID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list observations between: %w", queryErr)
	}
	defer rows.Close()
	return collectObservations(rows)
}

// ListRecentObservations lists the latest observations, newest first.
func (s *Store) ListRecentObservations(ctx context.Context, productID int64, limit int) ([]PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listRecentObservationsSQL, productID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent observations: %w", queryErr)
	}
	defer rows.Close()
	return collectObservations(rows)
}

// GetScheduleSettings reads the singleton schedule config, defaulting to a
// daily 09:00 schedule when never configured.
func (s *Store) GetScheduleSettings(ctx context.Context) (schedule.Settings, error) {
	fallback := schedule.Settings{Frequency: schedule.FrequencyDaily, Hour: 9}

	pool, err := s.getPool()
	if err != nil {
		return fallback, err
	}
	var value string
	if scanErr := pool.QueryRow(ctx, getSettingSQL, scheduleSettingsKey).Scan(&value); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return fallback, nil
		}
		return fallback, fmt.Errorf("get schedule settings: %w", scanErr)
	}

	var settings schedule.Settings
	if err := json.Unmarshal([]byte(value), &settings); err != nil {
		return fallback, fmt.Errorf("decode schedule settings: %w", err)
	}
	return settings, nil
}

// SetScheduleSettings writes the singleton schedule config.
func (s *Store) SetScheduleSettings(ctx context.Context, settings schedule.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	value, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode schedule settings: %w", err)
	}
	if _, execErr := pool.Exec(ctx, upsertSettingSQL, scheduleSettingsKey, string(value)); execErr != nil {
		return fmt.Errorf("set schedule settings: %w", execErr)
	}
	return nil
}

// GetLastSentAt reads the last successful digest send marker, nil when a
// digest was never sent.
func (s *Store) GetLastSentAt(ctx context.Context) (*time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	var value string
	if scanErr := pool.QueryRow(ctx, getSettingSQL, lastSentAtKey).Scan(&value); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get last sent marker: %w", scanErr)
	}
	ts, parseErr := time.Parse(time.RFC3339Nano, value)
	if parseErr != nil {
		return nil, fmt.Errorf("parse last sent marker: %w", parseErr)
	}
	return &ts, nil
}

// CompareAndSetLastSentAt updates the marker only when it still holds the
// expected value (nil meaning absent), preventing two concurrent scheduled
// triggers from both recording the same slot.
func (s *Store) CompareAndSetLastSentAt(ctx context.Context, expected *time.Time, value time.Time) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	encoded := value.UTC().Format(time.RFC3339Nano)

	if expected == nil {
		tag, execErr := pool.Exec(ctx, insertSettingIfAbsentSQL, lastSentAtKey, encoded)
		if execErr != nil {
			return false, fmt.Errorf("insert last sent marker: %w", execErr)
		}
		return tag.RowsAffected() == 1, nil
	}

	expectedEncoded := expected.UTC().Format(time.RFC3339Nano)
	tag, execErr := pool.Exec(ctx, casSettingSQL, lastSentAtKey, expectedEncoded, encoded)
	if execErr != nil {
		return false, fmt.Errorf("cas last sent marker: %w", execErr)
	}
	return tag.RowsAffected() == 1, nil
}

// CreateDigestRun inserts a digest run row.
func (s *Store) CreateDigestRun(ctx context.Context, run DigestRun) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, insertDigestRunSQL,
		run.ID, run.Status, run.TriggeredBy, run.ChildrenTotal, run.StartedAt,
	); execErr != nil {
		return fmt.Errorf("insert digest run: %w", execErr)
	}
	return nil
}

// UpdateDigestRunStatus advances the run state machine.
func (s *Store) UpdateDigestRunStatus(ctx context.Context, id uuid.UUID, status DigestRunStatus) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, updateDigestRunStatusSQL, id, status); execErr != nil {
		return fmt.Errorf("update digest run status: %w", execErr)
	}
	return nil
}

// UpdateDigestRunChildren records the fan-out width.
func (s *Store) UpdateDigestRunChildren(ctx context.Context, id uuid.UUID, total int) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, updateDigestRunChildrenSQL, id, total); execErr != nil {
		return fmt.Errorf("update digest run children: %w", execErr)
	}
	return nil
}

// FinishDigestRun records the terminal state of a run.
func (s *Store) FinishDigestRun(ctx context.Context, id uuid.UUID, status DigestRunStatus, childrenFailed int, errMsg string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	var msg interface{}
	if errMsg != "" {
		msg = errMsg
	}
	if _, execErr := pool.Exec(ctx, finishDigestRunSQL,
		id, status, childrenFailed, time.Now().UTC(), msg,
	); execErr != nil {
		return fmt.Errorf("finish digest run: %w", execErr)
	}
	return nil
}

func scanProductRow(row pgx.Row) (Product, error) {
	var p Product
	if err := row.Scan(
		&p.ID,
		&p.URL,
		&p.Name,
		&p.ImageURL,
		&p.Active,
		&p.LastSuccessAt,
		&p.LastFailedAt,
		&p.CreatedAt,
	); err != nil {
		return Product{}, err
	}
	return p, nil
}

func collectObservations(rows pgx.Rows) ([]PriceObservation, error) {
	observations := make([]PriceObservation, 0)
	for rows.Next() {
		var o PriceObservation
		if err := rows.Scan(
			&o.ID,
			&o.ProductID,
			&o.PriceMinor,
			&o.Currency,
			&o.Tier,
			&o.CapturedAt,
		); err != nil {
			return nil, err
		}
		observations = append(observations, o)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

var (
	_ ProductStore     = (*Store)(nil)
	_ ObservationStore = (*Store)(nil)
	_ SettingsStore    = (*Store)(nil)
	_ DigestRunStore   = (*Store)(nil)
)
