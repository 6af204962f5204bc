package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fx-high-alerts/internal/config"
)

var (
	// ErrNotConfigured indicates the storage backend was not initialised.
	ErrNotConfigured = errors.New("storage: backend not configured")
	// ErrInvalidRate rejects samples whose rate is not strictly positive.
	ErrInvalidRate = errors.New("storage: rate must be greater than zero")
)

// RateStore is the append-only time series of observed rates.
type RateStore interface {
	InsertSample(ctx context.Context, sample RateSample) error
	// MaxRateSince returns the highest rate observed strictly after since,
	// or zero when the window is empty.
	MaxRateSince(ctx context.Context, symbol string, since time.Time) (decimal.Decimal, error)
	EarliestSample(ctx context.Context, symbol string) (RateSample, bool, error)
	LatestSample(ctx context.Context, symbol string) (RateSample, bool, error)
	// ListRecentSamples returns up to limit samples, newest first.
	ListRecentSamples(ctx context.Context, symbol string, limit int) ([]RateSample, error)
	ListSamplesBetween(ctx context.Context, symbol string, from, to time.Time) ([]RateSample, error)
	// DeleteSamplesBefore removes samples strictly older than cutoff.
	DeleteSamplesBefore(ctx context.Context, symbol string, cutoff time.Time) (int64, error)
	CountSamples(ctx context.Context, symbol string) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, symbol string, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, symbol string, cutoff time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Backend is a complete store implementation.
type Backend interface {
	RateStore
	AlertStore
	Close() error
}

// Open initialises the configured backend and applies migrations when enabled.
// It returns (nil, nil) when the driver is empty or "none".
func Open(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (Backend, error) {
	logger = logger.With().Str("component", "storage").Str("driver", cfg.Driver).Logger()

	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case config.DriverPostgres:
		if cfg.AutoMigrate {
			if err := MigratePostgres(cfg.DSN); err != nil {
				return nil, err
			}
			logger.Info().Msg("postgres migrations applied")
		}
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(pool), nil
	case config.DriverSQLite:
		st, err := OpenSQLite(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := st.Migrate(); err != nil {
				_ = st.Close()
				return nil, err
			}
			logger.Info().Str("path", cfg.Path).Msg("sqlite migrations applied")
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}

func validateSample(sample RateSample) error {
	if !sample.Rate.IsPositive() {
		return ErrInvalidRate
	}
	if sample.Symbol == "" {
		return errors.New("storage: sample symbol is required")
	}
	if sample.ObservedAt.IsZero() {
		return errors.New("storage: sample timestamp is required")
	}
	return nil
}
