// Package storage persists scrape results in SQLite.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aluiziolira/go-scrape-shops/models"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("storage: run not found")

// SQLiteStore stores runs, products and errors using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// RunSummary is one stored scrape run.
type RunSummary struct {
	ID           string
	Source       string
	URL          string
	Successful   int
	Failed       int
	Duplicates   int
	Pages        int
	Retries      int
	Errors       int
	SuccessRate  float64
	StartedAt    time.Time
	Duration     time.Duration
	ErrorsByType map[string]int
}

// Open opens the database at path, creating its directory, and configures WAL mode.
func Open(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %q: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: exec %s: %w", pragma, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS scrape_runs (
	id             TEXT PRIMARY KEY,
	source         TEXT NOT NULL,
	url            TEXT NOT NULL,
	successful     INTEGER NOT NULL,
	failed         INTEGER NOT NULL,
	duplicates     INTEGER NOT NULL DEFAULT 0,
	pages          INTEGER NOT NULL DEFAULT 0,
	retries        INTEGER NOT NULL DEFAULT 0,
	success_rate   REAL NOT NULL,
	errors_by_type TEXT NOT NULL DEFAULT '{}',
	started_at     TEXT NOT NULL,
	duration_ms    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS products (
	site           TEXT NOT NULL,
	product_id     TEXT NOT NULL,
	title          TEXT NOT NULL,
	price          REAL,
	currency       TEXT,
	original_price REAL,
	rating         REAL,
	review_count   INTEGER,
	url            TEXT NOT NULL,
	image_url      TEXT,
	images         TEXT NOT NULL DEFAULT '[]',
	available      INTEGER,
	seller         TEXT,
	scraped_at     TEXT NOT NULL,
	last_run_id    TEXT NOT NULL REFERENCES scrape_runs(id),
	PRIMARY KEY (site, product_id)
);

CREATE TABLE IF NOT EXISTS run_products (
	run_id     TEXT NOT NULL REFERENCES scrape_runs(id),
	position   INTEGER NOT NULL,
	site       TEXT NOT NULL,
	product_id TEXT NOT NULL,
	PRIMARY KEY (run_id, position)
);

CREATE TABLE IF NOT EXISTS scrape_errors (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id   TEXT NOT NULL REFERENCES scrape_runs(id),
	position INTEGER NOT NULL,
	message  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scrape_runs_started_at ON scrape_runs(started_at);
CREATE INDEX IF NOT EXISTS idx_products_site ON products(site);
CREATE INDEX IF NOT EXISTS idx_scrape_errors_run_id ON scrape_errors(run_id);
`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, migration); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveResult stores result in one transaction and returns the new run id.
// Products are upserted on (site, product id) so the table holds the
// latest observation of each product.
func (s *SQLiteStore) SaveResult(ctx context.Context, result *models.ScrapeResult) (string, error) {
	if result == nil {
		return "", errors.New("sqlite: nil result")
	}
	id := uuid.New().String()

	byType, err := json.Marshal(result.ErrorsByType)
	if err != nil {
		return "", fmt.Errorf("sqlite: marshal error counts: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO scrape_runs (id, source, url, successful, failed, duplicates, pages, retries, success_rate, errors_by_type, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, result.Source, result.URL, result.Successful, result.Failed, result.Duplicates,
		result.PagesVisited, result.Retries, result.SuccessRate(), string(byType),
		formatTime(result.StartedAt), result.Duration.Milliseconds(),
	)
	if err != nil {
		return "", fmt.Errorf("sqlite: insert run: %w", err)
	}

	for i, p := range result.Products {
		if err := upsertProduct(ctx, tx, id, p); err != nil {
			return "", err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_products (run_id, position, site, product_id) VALUES (?, ?, ?, ?)`,
			id, i, p.Site, p.ID,
		); err != nil {
			return "", fmt.Errorf("sqlite: link product %s: %w", p.ID, err)
		}
	}

	for i, msg := range result.Errors {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO scrape_errors (run_id, position, message) VALUES (?, ?, ?)`,
			id, i, msg,
		); err != nil {
			return "", fmt.Errorf("sqlite: insert error: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("sqlite: commit: %w", err)
	}
	return id, nil
}

func upsertProduct(ctx context.Context, tx *sql.Tx, runID string, p *models.Product) error {
	images, err := json.Marshal(nonNil(p.Images))
	if err != nil {
		return fmt.Errorf("sqlite: marshal images: %w", err)
	}
	var price, original, currency any
	if p.Price != nil {
		price, currency = p.Price.Amount, p.Price.Currency
	}
	if p.OriginalPrice != nil {
		original = p.OriginalPrice.Amount
		if currency == nil {
			currency = p.OriginalPrice.Currency
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO products (site, product_id, title, price, currency, original_price, rating, review_count, url, image_url, images, available, seller, scraped_at, last_run_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(site, product_id) DO UPDATE SET
			title = excluded.title,
			price = excluded.price,
			currency = excluded.currency,
			original_price = excluded.original_price,
			rating = excluded.rating,
			review_count = excluded.review_count,
			url = excluded.url,
			image_url = excluded.image_url,
			images = excluded.images,
			available = excluded.available,
			seller = excluded.seller,
			scraped_at = excluded.scraped_at,
			last_run_id = excluded.last_run_id`,
		p.Site, p.ID, p.Title, price, currency, original,
		nullable(p.Rating), nullable(p.ReviewCount), p.URL, nullable(p.ImageURL),
		string(images), nullable(p.Available), nullable(p.Seller),
		formatTime(p.ScrapedAt), runID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert product %s: %w", p.ID, err)
	}
	return nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	query := `SELECT r.id, r.source, r.url, r.successful, r.failed, r.duplicates, r.pages, r.retries,
			r.success_rate, r.errors_by_type, r.started_at, r.duration_ms,
			(SELECT COUNT(*) FROM scrape_errors e WHERE e.run_id = r.id)
		FROM scrape_runs r ORDER BY r.started_at DESC, r.rowid DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetRun returns one run summary.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*RunSummary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT r.id, r.source, r.url, r.successful, r.failed, r.duplicates, r.pages, r.retries,
			r.success_rate, r.errors_by_type, r.started_at, r.duration_ms,
			(SELECT COUNT(*) FROM scrape_errors e WHERE e.run_id = r.id)
		FROM scrape_runs r WHERE r.id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, err
}

// RunErrors returns the error messages of a run in recorded order.
func (s *SQLiteStore) RunErrors(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message FROM scrape_errors WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: run errors: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			return nil, fmt.Errorf("sqlite: scan error: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// ProductsByRun returns the products a run recorded, in scrape order, with
// their latest stored values.
func (s *SQLiteStore) ProductsByRun(ctx context.Context, runID string) ([]*models.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.site, p.product_id, p.title, p.price, p.currency, p.original_price, p.rating,
			p.review_count, p.url, p.image_url, p.images, p.available, p.seller, p.scraped_at
		FROM run_products rp
		JOIN products p ON p.site = rp.site AND p.product_id = rp.product_id
		WHERE rp.run_id = ?
		ORDER BY rp.position`, runID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: products by run: %w", err)
	}
	defer rows.Close()

	var out []*models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*RunSummary, error) {
	var (
		run        RunSummary
		byType     string
		startedAt  string
		durationMS int64
	)
	err := row.Scan(&run.ID, &run.Source, &run.URL, &run.Successful, &run.Failed, &run.Duplicates,
		&run.Pages, &run.Retries, &run.SuccessRate, &byType, &startedAt, &durationMS, &run.Errors)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan run: %w", err)
	}
	run.ErrorsByType = map[string]int{}
	if err := json.Unmarshal([]byte(byType), &run.ErrorsByType); err != nil {
		return nil, fmt.Errorf("sqlite: decode error counts: %w", err)
	}
	if run.StartedAt, err = parseTime(startedAt); err != nil {
		return nil, err
	}
	run.Duration = time.Duration(durationMS) * time.Millisecond
	return &run, nil
}

func scanProduct(row scannable) (*models.Product, error) {
	var (
		p         models.Product
		price     sql.NullFloat64
		currency  sql.NullString
		original  sql.NullFloat64
		rating    sql.NullFloat64
		reviews   sql.NullInt64
		imageURL  sql.NullString
		images    string
		available sql.NullBool
		seller    sql.NullString
		scrapedAt string
	)
	err := row.Scan(&p.Site, &p.ID, &p.Title, &price, &currency, &original, &rating,
		&reviews, &p.URL, &imageURL, &images, &available, &seller, &scrapedAt)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan product: %w", err)
	}

	if price.Valid {
		p.Price = &models.Money{Amount: price.Float64, Currency: currency.String}
	}
	if original.Valid {
		p.OriginalPrice = &models.Money{Amount: original.Float64, Currency: currency.String}
	}
	if rating.Valid {
		v := rating.Float64
		p.Rating = &v
	}
	if reviews.Valid {
		v := int(reviews.Int64)
		p.ReviewCount = &v
	}
	if imageURL.Valid {
		v := imageURL.String
		p.ImageURL = &v
	}
	if available.Valid {
		v := available.Bool
		p.Available = &v
	}
	if seller.Valid {
		v := seller.String
		p.Seller = &v
	}
	if err := json.Unmarshal([]byte(images), &p.Images); err != nil {
		return nil, fmt.Errorf("sqlite: decode images: %w", err)
	}
	if p.ScrapedAt, err = parseTime(scrapedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func nullable[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}
