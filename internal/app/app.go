package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"fx-high-alerts/internal/alerting"
	"fx-high-alerts/internal/api"
	"fx-high-alerts/internal/config"
	"fx-high-alerts/internal/fetcher"
	"fx-high-alerts/internal/metrics"
	"fx-high-alerts/internal/scheduler"
	"fx-high-alerts/internal/service"
	"fx-high-alerts/internal/storage"
	"fx-high-alerts/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFetcher() fetcher.RateFetcher {
	userAgent := a.Config.Provider.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}
	return fetcher.NewTwelveData(fetcher.TwelveDataOptions{
		BaseURL:           a.Config.Provider.BaseURL,
		APIKey:            a.Config.Provider.APIKey,
		Symbol:            a.Config.Provider.Symbol,
		Timeout:           a.Config.Provider.RequestTimeout,
		UserAgent:         userAgent,
		RequestsPerMinute: a.Config.Provider.RequestsPerMinute,
	}, a.Logger)
}

// newNotifier builds the fan-out over every channel that is listed and enabled.
func (a *App) newNotifier() (*alerting.Multi, error) {
	cfg := a.Config.Alerting
	var channels []alerting.Named

	if a.Config.ChannelEnabled("telegram") {
		tg := cfg.Telegram
		channels = append(channels, alerting.Named{
			Name:     "telegram",
			Notifier: alerting.NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.APIBase, cfg.Timeout, a.Logger),
		})
	}
	if a.Config.ChannelEnabled("email") {
		em := cfg.Email
		email, err := alerting.NewEmailNotifier(alerting.EmailOptions{
			Host:     em.Host,
			Port:     em.Port,
			Username: em.Username,
			Password: em.Password,
			From:     em.From,
			To:       em.To,
			StartTLS: em.StartTLS,
			Timeout:  cfg.Timeout,
		}, a.Logger)
		if err != nil {
			return nil, fmt.Errorf("email notifier: %w", err)
		}
		channels = append(channels, alerting.Named{Name: "email", Notifier: email})
	}
	if a.Config.ChannelEnabled("redis") {
		rd := cfg.Redis
		channels = append(channels, alerting.Named{
			Name: "redis",
			Notifier: alerting.NewRedisPublisher(alerting.RedisOptions{
				Addr:     rd.Addr,
				Password: rd.Password,
				DB:       rd.DB,
				Channel:  rd.Channel,
				Timeout:  cfg.Timeout,
			}, a.Logger),
		})
	}
	if a.Config.ChannelEnabled("kafka") {
		kf := cfg.Kafka
		channels = append(channels, alerting.Named{
			Name:     "kafka",
			Notifier: alerting.NewKafkaPublisher(kf.Brokers, kf.Topic, cfg.Timeout, a.Logger),
		})
	}

	return alerting.NewMulti(a.Logger, channels...), nil
}

func (a *App) openStore(ctx context.Context) (storage.Backend, error) {
	store, err := storage.Open(ctx, a.Config.Database, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if store == nil {
		return nil, errors.New("database not configured")
	}
	return store, nil
}

func (a *App) newService(store storage.Backend, notifier *alerting.Multi, m *metrics.Metrics, deps service.Deps) *service.Service {
	deps.Fetcher = a.newFetcher()
	deps.Store = store
	deps.Alerts = store
	deps.Metrics = m
	if notifier != nil && !notifier.Empty() {
		deps.Notifier = notifier
	} else {
		a.Logger.Warn().Msg("no alert channels enabled; new highs will only be logged")
	}
	return service.New(a.Config, deps, a.Logger)
}

// Run executes the long-running monitoring service and the read API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Config.RequireProvider(); err != nil {
		return err
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}
	defer func() {
		if err := notifier.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close notifiers")
		}
	}()

	loc, err := config.LoadLocation(a.Config.Scheduler.Timezone)
	if err != nil {
		return err
	}
	cleanup, err := scheduler.NewDaily(a.Config.Scheduler.CleanupCron, loc, a.Logger)
	if err != nil {
		return err
	}
	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
	}, a.Logger)

	m := metrics.New()
	svc := a.newService(store, notifier, m, service.Deps{Scheduler: sched, Cleanup: cleanup})

	var srv *api.Server
	if a.Config.API.Enabled {
		opts, err := api.OptionsFromConfig(a.Config.API)
		if err != nil {
			return err
		}
		srv = api.NewServer(opts, svc, m, a.Logger)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Run(gctx)
	})
	if srv != nil {
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	a.Logger.Info().
		Str("symbol", a.Config.Provider.Symbol).
		Dur("interval", a.Config.Scheduler.Interval).
		Int("lookback_days", a.Config.Monitor.LookbackDays).
		Strs("channels", notifier.Channels()).
		Msg("starting monitoring service")
	notifySystemd(a.Logger, daemon.SdNotifyReady)

	err = g.Wait()
	notifySystemd(a.Logger, daemon.SdNotifyStopping)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// Check runs a single fetch-detect-store cycle.
func (a *App) Check(ctx context.Context) (service.CheckResult, error) {
	if err := a.Config.RequireProvider(); err != nil {
		return service.CheckResult{}, err
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return service.CheckResult{}, err
	}
	defer store.Close()

	notifier, err := a.newNotifier()
	if err != nil {
		return service.CheckResult{}, err
	}
	defer notifier.Close()

	svc := a.newService(store, notifier, nil, service.Deps{})
	return svc.Check(ctx, time.Now())
}

// Cleanup prunes samples beyond the retention horizon once.
func (a *App) Cleanup(ctx context.Context) (int64, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return 0, err
	}
	defer store.Close()

	svc := service.New(a.Config, service.Deps{Store: store, Alerts: store}, a.Logger)
	return svc.Cleanup(ctx, time.Now())
}

// notifySystemd is a no-op outside a systemd unit with NOTIFY_SOCKET set.
func notifySystemd(logger zerolog.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logger.Warn().Err(err).Str("state", state).Msg("sd_notify failed")
		return
	}
	if sent {
		logger.Debug().Str("state", state).Msg("sd_notify sent")
	}
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show and alerts commands.
type ShowOptions struct {
	Limit int
}
