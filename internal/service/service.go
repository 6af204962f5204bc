package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"fx-high-alerts/internal/alerting"
	"fx-high-alerts/internal/config"
	"fx-high-alerts/internal/detector"
	"fx-high-alerts/internal/fetcher"
	"fx-high-alerts/internal/metrics"
	"fx-high-alerts/internal/scheduler"
	"fx-high-alerts/internal/storage"
)

// Deps are the collaborators of the monitoring service. Only Fetcher and Store are required.
type Deps struct {
	Scheduler *scheduler.Scheduler
	Cleanup   *scheduler.Daily
	Fetcher   fetcher.RateFetcher
	Store     storage.RateStore
	Alerts    storage.AlertStore
	Notifier  alerting.Notifier
	Metrics   *metrics.Metrics
}

// CheckResult summarises one fetch-detect-store cycle.
type CheckResult struct {
	ObservedAt    time.Time
	Rate          decimal.Decimal
	PriorMax      decimal.Decimal
	NewHigh       bool
	Baseline      bool
	EffectiveDays int
	Notified      bool
}

// Status is the read model served by the API root.
type Status struct {
	HasData       bool
	LatestRate    decimal.Decimal
	LastChecked   time.Time
	HighPeriod    decimal.Decimal
	EffectiveDays int
}

// Service orchestrates fetching, persistence, detection and alerting.
type Service struct {
	deps   Deps
	logger zerolog.Logger

	symbol       string
	quote        string
	lookbackDays int
	marginDays   int
	channels     []string
	alertsOn     bool
	locker       storage.AdvisoryLocker
	lockKey      int64
}

// New constructs the monitoring service.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Service {
	var locker storage.AdvisoryLocker
	if l, ok := deps.Store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	var channels []string
	if m, ok := deps.Notifier.(*alerting.Multi); ok {
		channels = m.Channels()
	}

	return &Service{
		deps:         deps,
		logger:       logger.With().Str("component", "service").Str("symbol", cfg.Provider.Symbol).Logger(),
		symbol:       cfg.Provider.Symbol,
		quote:        cfg.QuoteCurrency(),
		lookbackDays: cfg.Monitor.LookbackDays,
		marginDays:   cfg.Monitor.RetentionMarginDays,
		channels:     channels,
		alertsOn:     cfg.Alerting.Enabled && deps.Notifier != nil,
		locker:       locker,
		lockKey:      cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run drives the polling loop and the retention cron until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.deps.Scheduler.Run(ctx, s.tick)
	})
	if s.deps.Cleanup != nil {
		g.Go(func() error {
			return s.deps.Cleanup.Run(ctx, s.cleanupJob)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Service) tick(ctx context.Context, at time.Time) error {
	_, err := s.Check(ctx, at)
	return err
}

func (s *Service) cleanupJob(ctx context.Context, at time.Time) error {
	_, err := s.Cleanup(ctx, at)
	return err
}

// Check fetches the current rate, compares it with the lookback-window high,
// dispatches alerts on a new high and records the sample.
func (s *Service) Check(ctx context.Context, now time.Time) (CheckResult, error) {
	if s.deps.Store == nil {
		return CheckResult{}, storage.ErrNotConfigured
	}

	unlock, proceed, err := s.acquireLock(ctx, s.lockKey)
	if err != nil {
		return CheckResult{}, err
	}
	if !proceed {
		s.logger.Debug().Msg("skip check because advisory lock held elsewhere")
		return CheckResult{}, nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeCheck(ctx, now.UTC())
}

func (s *Service) executeCheck(ctx context.Context, now time.Time) (CheckResult, error) {
	started := time.Now()
	rate, err := s.deps.Fetcher.FetchRate(ctx)
	s.deps.Metrics.RecordFetch(s.symbol, time.Since(started), err)
	if err != nil {
		return CheckResult{}, fmt.Errorf("fetch rate: %w", err)
	}

	priorMax, err := s.deps.Store.MaxRateSince(ctx, s.symbol, detector.WindowStart(now, s.lookbackDays))
	if err != nil {
		return CheckResult{}, fmt.Errorf("query window high: %w", err)
	}

	verdict := detector.Detect(rate, priorMax)
	result := CheckResult{
		ObservedAt: now,
		Rate:       rate,
		PriorMax:   priorMax,
		NewHigh:    verdict.IsNewHigh,
		Baseline:   verdict.Baseline,
	}

	switch {
	case verdict.Baseline:
		s.logger.Info().Str("rate", rate.String()).Msg("no samples in window, establishing baseline")
	case verdict.IsNewHigh:
		days, err := s.effectiveDays(ctx, now)
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to compute effective window")
			days = s.lookbackDays
		}
		result.EffectiveDays = days
		result.Notified = s.raiseAlert(ctx, result)
	}

	if err := s.deps.Store.InsertSample(ctx, storage.RateSample{
		Symbol:     s.symbol,
		ObservedAt: now,
		Rate:       rate,
	}); err != nil {
		return result, fmt.Errorf("insert sample: %w", err)
	}

	s.deps.Metrics.RecordCheck(s.symbol, rate.InexactFloat64(), priorMax.InexactFloat64(), result.NewHigh)
	s.logger.Info().
		Str("rate", rate.String()).
		Str("window_high", priorMax.String()).
		Bool("new_high", result.NewHigh).
		Msg("rate checked")

	return result, nil
}

// effectiveDays measures the span covered by stored data. With a prior max
// present at least one sample exists, so the result is never 0 here.
func (s *Service) effectiveDays(ctx context.Context, now time.Time) (int, error) {
	first, ok, err := s.deps.Store.EarliestSample(ctx, s.symbol)
	if err != nil {
		return 0, fmt.Errorf("query earliest sample: %w", err)
	}
	return detector.EffectiveDays(first.ObservedAt, now, ok, s.lookbackDays), nil
}

func (s *Service) raiseAlert(ctx context.Context, result CheckResult) bool {
	s.logger.Warn().
		Str("rate", result.Rate.String()).
		Str("previous_high", result.PriorMax.String()).
		Int("effective_days", result.EffectiveDays).
		Msg("new lookback high")

	if s.deps.Alerts != nil {
		record := storage.AlertRecord{
			Symbol:        s.symbol,
			ObservedAt:    result.ObservedAt,
			Rate:          result.Rate,
			PreviousHigh:  result.PriorMax,
			EffectiveDays: result.EffectiveDays,
			Channels:      s.channels,
		}
		if _, err := s.deps.Alerts.InsertAlert(ctx, record); err != nil {
			s.logger.Error().Err(err).Msg("failed to persist alert record")
		}
	}

	if !s.alertsOn {
		return false
	}
	note := alerting.Notification{
		Symbol:        s.symbol,
		Quote:         s.quote,
		Rate:          result.Rate,
		PreviousHigh:  result.PriorMax,
		EffectiveDays: result.EffectiveDays,
		ObservedAt:    result.ObservedAt,
	}
	if err := s.deps.Notifier.Notify(ctx, note); err != nil {
		s.deps.Metrics.RecordNotifyFailure(s.symbol)
		s.logger.Error().Err(err).Msg("failed to dispatch alert")
		return false
	}
	return true
}

// Cleanup removes samples and alert records older than the retention horizon.
func (s *Service) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	if s.deps.Store == nil {
		return 0, storage.ErrNotConfigured
	}

	unlock, proceed, err := s.acquireLock(ctx, s.cleanupLockKey())
	if err != nil {
		return 0, err
	}
	if !proceed {
		s.logger.Warn().Msg("skip cleanup because another instance is pruning")
		return 0, nil
	}
	if unlock != nil {
		defer unlock()
	}

	cutoff := detector.RetentionCutoff(now.UTC(), s.lookbackDays, s.marginDays)
	deleted, err := s.deps.Store.DeleteSamplesBefore(ctx, s.symbol, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete samples: %w", err)
	}
	if s.deps.Alerts != nil {
		if n, err := s.deps.Alerts.DeleteAlertsBefore(ctx, s.symbol, cutoff); err != nil {
			s.logger.Error().Err(err).Msg("failed to prune alert records")
		} else if n > 0 {
			s.logger.Debug().Int64("deleted", n).Msg("pruned alert records")
		}
	}

	s.deps.Metrics.RecordCleanup(s.symbol, deleted)
	if deleted > 0 {
		s.logger.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("cleaned up old samples")
	}
	return deleted, nil
}

// Status reports the latest observation and the current window high.
func (s *Service) Status(ctx context.Context, now time.Time) (Status, error) {
	if s.deps.Store == nil {
		return Status{}, storage.ErrNotConfigured
	}
	now = now.UTC()

	latest, ok, err := s.deps.Store.LatestSample(ctx, s.symbol)
	if err != nil {
		return Status{}, fmt.Errorf("query latest sample: %w", err)
	}
	if !ok {
		return Status{}, nil
	}

	high, err := s.deps.Store.MaxRateSince(ctx, s.symbol, detector.WindowStart(now, s.lookbackDays))
	if err != nil {
		return Status{}, fmt.Errorf("query window high: %w", err)
	}
	days, err := s.effectiveDays(ctx, now)
	if err != nil {
		return Status{}, err
	}

	return Status{
		HasData:       true,
		LatestRate:    latest.Rate,
		LastChecked:   latest.ObservedAt,
		HighPeriod:    high,
		EffectiveDays: days,
	}, nil
}

// History returns up to limit of the most recent samples in ascending time order.
func (s *Service) History(ctx context.Context, limit int) ([]storage.RateSample, error) {
	if s.deps.Store == nil {
		return nil, storage.ErrNotConfigured
	}
	if limit <= 0 || limit > config.MaxHistoryLimit {
		limit = config.MaxHistoryLimit
	}

	samples, err := s.deps.Store.ListRecentSamples(ctx, s.symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent samples: %w", err)
	}
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
	return samples, nil
}

// cleanupLockKey keeps pruning off the check lock so a tick and the daily
// cron firing together do not skip each other.
func (s *Service) cleanupLockKey() int64 {
	if s.lockKey == 0 {
		return 0
	}
	return s.lockKey + 1
}

func (s *Service) acquireLock(ctx context.Context, key int64) (func(), bool, error) {
	if key == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
