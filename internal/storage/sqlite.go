package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"fx-high-alerts/internal/config"
)

// SQLiteStore keeps rate samples and alerts in a local SQLite file.
// Timestamps are stored as UTC unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database file at cfg.Path.
func OpenSQLite(ctx context.Context, cfg config.DatabaseConfig) (*SQLiteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("database.path is required for the sqlite driver")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{"PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL"}
	if cfg.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", strings.ToLower(pragma), err)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Migrate applies the embedded schema migrations.
func (s *SQLiteStore) Migrate() error {
	if s == nil || s.db == nil {
		return ErrNotConfigured
	}
	return migrateSQLite(s.db)
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

// InsertSample appends a rate sample.
func (s *SQLiteStore) InsertSample(ctx context.Context, sample RateSample) error {
	if err := validateSample(sample); err != nil {
		return err
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO rate_samples(symbol, observed_at, rate, created_at) VALUES(?,?,?,?)`,
		sample.Symbol, toMillis(sample.ObservedAt), sample.Rate.InexactFloat64(), toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("insert rate sample: %w", err)
	}
	return nil
}

// MaxRateSince returns the window maximum or zero when no sample qualifies.
func (s *SQLiteStore) MaxRateSince(ctx context.Context, symbol string, since time.Time) (decimal.Decimal, error) {
	db, err := s.getDB()
	if err != nil {
		return decimal.Zero, err
	}

	var maxRate sql.NullFloat64
	err = db.QueryRowContext(ctx,
		`SELECT MAX(rate) FROM rate_samples WHERE symbol = ? AND observed_at > ?`,
		symbol, toMillis(since),
	).Scan(&maxRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("max rate since: %w", err)
	}
	if !maxRate.Valid {
		return decimal.Zero, nil
	}
	return decimal.NewFromFloat(maxRate.Float64), nil
}

// EarliestSample returns the oldest retained sample.
func (s *SQLiteStore) EarliestSample(ctx context.Context, symbol string) (RateSample, bool, error) {
	return s.singleSample(ctx,
		`SELECT id, symbol, observed_at, rate FROM rate_samples WHERE symbol = ? ORDER BY observed_at ASC, id ASC LIMIT 1`,
		symbol)
}

// LatestSample returns the most recent sample.
func (s *SQLiteStore) LatestSample(ctx context.Context, symbol string) (RateSample, bool, error) {
	return s.singleSample(ctx,
		`SELECT id, symbol, observed_at, rate FROM rate_samples WHERE symbol = ? ORDER BY observed_at DESC, id DESC LIMIT 1`,
		symbol)
}

func (s *SQLiteStore) singleSample(ctx context.Context, query, symbol string) (RateSample, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return RateSample{}, false, err
	}

	sample, err := scanSQLiteSample(db.QueryRowContext(ctx, query, symbol))
	if errors.Is(err, sql.ErrNoRows) {
		return RateSample{}, false, nil
	}
	if err != nil {
		return RateSample{}, false, err
	}
	return sample, true, nil
}

// ListRecentSamples lists the most recent samples ordered by descending time.
func (s *SQLiteStore) ListRecentSamples(ctx context.Context, symbol string, limit int) ([]RateSample, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []RateSample{}, nil
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, symbol, observed_at, rate FROM rate_samples WHERE symbol = ? ORDER BY observed_at DESC, id DESC LIMIT ?`,
		symbol, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent samples: %w", err)
	}
	return collectSQLiteSamples(rows, limit)
}

// ListSamplesBetween lists samples within [from, to) in ascending order.
func (s *SQLiteStore) ListSamplesBetween(ctx context.Context, symbol string, from, to time.Time) ([]RateSample, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, symbol, observed_at, rate FROM rate_samples
		 WHERE symbol = ? AND observed_at >= ? AND observed_at < ?
		 ORDER BY observed_at ASC, id ASC`,
		symbol, toMillis(from), toMillis(to),
	)
	if err != nil {
		return nil, fmt.Errorf("list samples between: %w", err)
	}
	return collectSQLiteSamples(rows, 0)
}

// DeleteSamplesBefore prunes samples older than cutoff.
func (s *SQLiteStore) DeleteSamplesBefore(ctx context.Context, symbol string, cutoff time.Time) (int64, error) {
	return s.deleteBefore(ctx, `DELETE FROM rate_samples WHERE symbol = ? AND observed_at < ?`, symbol, cutoff)
}

// CountSamples counts stored samples.
func (s *SQLiteStore) CountSamples(ctx context.Context, symbol string) (int64, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	var count int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rate_samples WHERE symbol = ?`, symbol).Scan(&count); err != nil {
		return 0, fmt.Errorf("count samples: %w", err)
	}
	return count, nil
}

// InsertAlert persists an alert emission.
func (s *SQLiteStore) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return AlertRecord{}, err
	}

	createdAt := time.Now().UTC()
	res, err := db.ExecContext(ctx,
		`INSERT INTO alerts(symbol, observed_at, rate, previous_high, effective_days, channels, created_at)
		 VALUES(?,?,?,?,?,?,?)`,
		alert.Symbol,
		toMillis(alert.ObservedAt),
		alert.Rate.InexactFloat64(),
		alert.PreviousHigh.InexactFloat64(),
		alert.EffectiveDays,
		strings.Join(alert.Channels, ","),
		toMillis(createdAt),
	)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return AlertRecord{}, fmt.Errorf("insert alert id: %w", err)
	}

	rec := alert
	rec.ID = id
	rec.ObservedAt = fromMillis(toMillis(alert.ObservedAt))
	rec.CreatedAt = fromMillis(toMillis(createdAt))
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *SQLiteStore) ListRecentAlerts(ctx context.Context, symbol string, limit int) ([]AlertRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, symbol, observed_at, rate, previous_high, effective_days, channels, created_at
		 FROM alerts WHERE symbol = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		symbol, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list recent alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, max(limit, 0))
	for rows.Next() {
		var (
			rec               AlertRecord
			observed, created int64
			rate, previous    float64
			channels          string
		)
		if err := rows.Scan(&rec.ID, &rec.Symbol, &observed, &rate, &previous, &rec.EffectiveDays, &channels, &created); err != nil {
			return nil, err
		}
		rec.ObservedAt = fromMillis(observed)
		rec.CreatedAt = fromMillis(created)
		rec.Rate = decimal.NewFromFloat(rate)
		rec.PreviousHigh = decimal.NewFromFloat(previous)
		if channels != "" {
			rec.Channels = strings.Split(channels, ",")
		}
		alerts = append(alerts, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *SQLiteStore) DeleteAlertsBefore(ctx context.Context, symbol string, cutoff time.Time) (int64, error) {
	return s.deleteBefore(ctx, `DELETE FROM alerts WHERE symbol = ? AND observed_at < ?`, symbol, cutoff)
}

func (s *SQLiteStore) deleteBefore(ctx context.Context, query, symbol string, cutoff time.Time) (int64, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, query, symbol, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete before: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSample(row rowScanner) (RateSample, error) {
	var (
		sample   RateSample
		observed int64
		rate     float64
	)
	if err := row.Scan(&sample.ID, &sample.Symbol, &observed, &rate); err != nil {
		return RateSample{}, err
	}
	sample.ObservedAt = fromMillis(observed)
	sample.Rate = decimal.NewFromFloat(rate)
	return sample, nil
}

func collectSQLiteSamples(rows *sql.Rows, capacity int) ([]RateSample, error) {
	defer rows.Close()

	samples := make([]RateSample, 0, capacity)
	for rows.Next() {
		sample, err := scanSQLiteSample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

var _ Backend = (*SQLiteStore)(nil)
