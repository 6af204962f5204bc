package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"fx-high-alerts/internal/config"
)

const (
	insertSampleSQL = `INSERT INTO rate_samples (
        symbol,
        observed_at,
        rate
    ) VALUES (
        $1,$2,$3::numeric
    );`

	maxRateSinceSQL = `SELECT MAX(rate)::text
    FROM rate_samples
    WHERE symbol = $1
      AND observed_at > $2;`

	earliestSampleSQL = `SELECT id, symbol, observed_at, rate::text
    FROM rate_samples
    WHERE symbol = $1
    ORDER BY observed_at ASC, id ASC
    LIMIT 1;`

	latestSampleSQL = `SELECT id, symbol, observed_at, rate::text
    FROM rate_samples
    WHERE symbol = $1
    ORDER BY observed_at DESC, id DESC
    LIMIT 1;`

	listRecentSamplesSQL = `SELECT id, symbol, observed_at, rate::text
    FROM rate_samples
    WHERE symbol = $1
    ORDER BY observed_at DESC, id DESC
    LIMIT $2;`

	listSamplesBetweenSQL = `SELECT id, symbol, observed_at, rate::text
    FROM rate_samples
    WHERE symbol = $1
      AND observed_at >= $2
      AND observed_at < $3
    ORDER BY observed_at, id;`

	deleteSamplesBeforeSQL = `DELETE FROM rate_samples WHERE symbol = $1 AND observed_at < $2;`

	countSamplesSQL = `SELECT COUNT(*) FROM rate_samples WHERE symbol = $1;`

	insertAlertSQL = `INSERT INTO alerts (
        symbol,
        observed_at,
        rate,
        previous_high,
        effective_days,
        channels
    ) VALUES (
        $1,$2,$3::numeric,$4::numeric,$5,$6
    )
    RETURNING id, symbol, observed_at, rate::text, previous_high::text, effective_days, channels, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        symbol,
        observed_at,
        rate::text,
        previous_high::text,
        effective_days,
        channels,
        created_at
    FROM alerts
    WHERE symbol = $1
    ORDER BY created_at DESC, id DESC
    LIMIT $2;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE symbol = $1 AND observed_at < $2;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// PostgresStore keeps rate samples and alerts in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wires a pgx pool into a store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *PostgresStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// A failed unlock is released with the session when the connection closes.
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			conn.Conn().Close(ctxUnlock)
		}
		conn.Release()
	}
	return unlock, true, nil
}

// InsertSample appends a rate sample.
func (s *PostgresStore) InsertSample(ctx context.Context, sample RateSample) error {
	if err := validateSample(sample); err != nil {
		return err
	}
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, insertSampleSQL, sample.Symbol, sample.ObservedAt.UTC(), sample.Rate.String()); err != nil {
		return fmt.Errorf("insert rate sample: %w", err)
	}
	return nil
}

// MaxRateSince returns the window maximum or zero when no sample qualifies.
func (s *PostgresStore) MaxRateSince(ctx context.Context, symbol string, since time.Time) (decimal.Decimal, error) {
	pool, err := s.getPool()
	if err != nil {
		return decimal.Zero, err
	}

	var maxStr *string
	if err := pool.QueryRow(ctx, maxRateSinceSQL, symbol, since.UTC()).Scan(&maxStr); err != nil {
		return decimal.Zero, fmt.Errorf("max rate since: %w", err)
	}
	if maxStr == nil {
		return decimal.Zero, nil
	}

	value, err := decimal.NewFromString(*maxStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse max rate: %w", err)
	}
	return value, nil
}

// EarliestSample returns the oldest retained sample.
func (s *PostgresStore) EarliestSample(ctx context.Context, symbol string) (RateSample, bool, error) {
	return s.singleSample(ctx, earliestSampleSQL, symbol)
}

// LatestSample returns the most recent sample.
func (s *PostgresStore) LatestSample(ctx context.Context, symbol string) (RateSample, bool, error) {
	return s.singleSample(ctx, latestSampleSQL, symbol)
}

func (s *PostgresStore) singleSample(ctx context.Context, query, symbol string) (RateSample, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return RateSample{}, false, err
	}

	sample, err := scanRateSample(pool.QueryRow(ctx, query, symbol))
	if errors.Is(err, pgx.ErrNoRows) {
		return RateSample{}, false, nil
	}
	if err != nil {
		return RateSample{}, false, err
	}
	return sample, true, nil
}

// ListRecentSamples lists the most recent samples ordered by descending time.
func (s *PostgresStore) ListRecentSamples(ctx context.Context, symbol string, limit int) ([]RateSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []RateSample{}, nil
	}

	rows, err := pool.Query(ctx, listRecentSamplesSQL, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent samples: %w", err)
	}
	return collectSamples(rows, limit)
}

// ListSamplesBetween lists samples within [from, to) in ascending order.
func (s *PostgresStore) ListSamplesBetween(ctx context.Context, symbol string, from, to time.Time) ([]RateSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listSamplesBetweenSQL, symbol, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("list samples between: %w", err)
	}
	return collectSamples(rows, 0)
}

// DeleteSamplesBefore prunes samples older than cutoff.
func (s *PostgresStore) DeleteSamplesBefore(ctx context.Context, symbol string, cutoff time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx, deleteSamplesBeforeSQL, symbol, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete samples before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountSamples counts stored samples.
func (s *PostgresStore) CountSamples(ctx context.Context, symbol string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if err := pool.QueryRow(ctx, countSamplesSQL, symbol).Scan(&count); err != nil {
		return 0, fmt.Errorf("count samples: %w", err)
	}
	return count, nil
}

// InsertAlert persists an alert emission.
func (s *PostgresStore) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	channels := alert.Channels
	if channels == nil {
		channels = []string{}
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Symbol,
		alert.ObservedAt.UTC(),
		alert.Rate.String(),
		alert.PreviousHigh.String(),
		alert.EffectiveDays,
		channels,
	)

	rec, err := scanAlert(row)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", err)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *PostgresStore) ListRecentAlerts(ctx context.Context, symbol string, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listRecentAlertsSQL, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *PostgresStore) DeleteAlertsBefore(ctx context.Context, symbol string, cutoff time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, err := pool.Exec(ctx, deleteAlertsBeforeSQL, symbol, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete alerts before: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectSamples(rows pgx.Rows, capacity int) ([]RateSample, error) {
	defer rows.Close()

	samples := make([]RateSample, 0, capacity)
	for rows.Next() {
		sample, err := scanRateSample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

func scanRateSample(row pgx.Row) (RateSample, error) {
	var (
		sample  RateSample
		rateStr string
	)
	if err := row.Scan(&sample.ID, &sample.Symbol, &sample.ObservedAt, &rateStr); err != nil {
		return RateSample{}, err
	}

	rate, err := decimal.NewFromString(rateStr)
	if err != nil {
		return RateSample{}, fmt.Errorf("parse rate: %w", err)
	}
	sample.Rate = rate
	sample.ObservedAt = sample.ObservedAt.UTC()
	return sample, nil
}

func scanAlert(row pgx.Row) (AlertRecord, error) {
	var (
		rec         AlertRecord
		rateStr     string
		previousStr string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.Symbol,
		&rec.ObservedAt,
		&rateStr,
		&previousStr,
		&rec.EffectiveDays,
		&rec.Channels,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}

	var err error
	if rec.Rate, err = decimal.NewFromString(rateStr); err != nil {
		return AlertRecord{}, fmt.Errorf("parse alert rate: %w", err)
	}
	if rec.PreviousHigh, err = decimal.NewFromString(previousStr); err != nil {
		return AlertRecord{}, fmt.Errorf("parse previous high: %w", err)
	}
	return rec, nil
}

var (
	_ Backend        = (*PostgresStore)(nil)
	_ AdvisoryLocker = (*PostgresStore)(nil)
)
