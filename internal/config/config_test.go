package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: fxwatcher\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Scheduler.Interval != 5*time.Minute {
		t.Fatalf("interval = %s", cfg.Scheduler.Interval)
	}
	if cfg.Monitor.LookbackDays != 45 || cfg.Monitor.RetentionMarginDays != 5 || cfg.RetentionDays() != 50 {
		t.Fatalf("unexpected monitor defaults %+v", cfg.Monitor)
	}
	if cfg.Database.Driver != DriverSQLite || cfg.Database.Path != "data/forex_monitor.db" {
		t.Fatalf("unexpected database defaults %+v", cfg.Database)
	}
	if cfg.Scheduler.CleanupCron != "0 3 * * *" || !cfg.Scheduler.RunOnStart {
		t.Fatalf("unexpected scheduler defaults %+v", cfg.Scheduler)
	}
	if cfg.API.HistoryLimit != MaxHistoryLimit || cfg.API.Listen != ":8000" {
		t.Fatalf("unexpected api defaults %+v", cfg.API)
	}
	if len(cfg.API.CORSOrigins) != 1 || cfg.API.CORSOrigins[0] != "*" {
		t.Fatalf("cors default = %v", cfg.API.CORSOrigins)
	}
	if cfg.QuoteCurrency() != "USD" {
		t.Fatalf("quote = %s", cfg.QuoteCurrency())
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: postgresql
  dsn: postgres://localhost/fx
provider:
  symbol: " gbp/usd "
monitor:
  lookback_days: 30
alerting:
  channels: [" Telegram ", "redis"]
  telegram:
    enabled: true
    chat_id: "42"
  redis:
    enabled: true
`)
	t.Setenv("FXWATCHER_PROVIDER_API_KEY", "from-env")
	t.Setenv("FXWATCHER_ALERTING_TELEGRAM_BOT_TOKEN", "bot-token")
	t.Setenv("FXWATCHER_SCHEDULER_INTERVAL", "90s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Driver != DriverPostgres {
		t.Fatalf("driver should normalise to postgres, got %s", cfg.Database.Driver)
	}
	if cfg.Provider.Symbol != "GBP/USD" || cfg.Provider.APIKey != "from-env" {
		t.Fatalf("provider = %+v", cfg.Provider)
	}
	if cfg.Scheduler.Interval != 90*time.Second {
		t.Fatalf("interval = %s", cfg.Scheduler.Interval)
	}
	if cfg.Monitor.LookbackDays != 30 {
		t.Fatalf("lookback = %d", cfg.Monitor.LookbackDays)
	}
	if !cfg.ChannelEnabled("telegram") || !cfg.ChannelEnabled("redis") {
		t.Fatalf("listed and enabled channels should be active: %v", cfg.Alerting.Channels)
	}
	if cfg.ChannelEnabled("email") || cfg.ChannelEnabled("kafka") {
		t.Fatal("unlisted channels must stay inactive")
	}
	if err := cfg.RequireProvider(); err != nil {
		t.Fatalf("api key present: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"bad driver":       "database:\n  driver: mysql\n",
		"bad cron":         "scheduler:\n  cleanup_cron: \"every day\"\n",
		"bad symbol":       "provider:\n  symbol: EURUSD\n",
		"zero lookback":    "monitor:\n  lookback_days: 0\n",
		"negative margin":  "monitor:\n  retention_margin_days: -1\n",
		"history too big":  "api:\n  history_limit: 101\n",
		"bad timezone":     "api:\n  timezone: Mars/Olympus\n",
		"telegram no chat": "alerting:\n  telegram:\n    enabled: true\n    bot_token: t\n",
		"email no to":      "alerting:\n  email:\n    enabled: true\n    smtp_host: h\n    from: a@b.c\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("%s should fail validation", name)
			}
		})
	}
}

func TestRequireProvider(t *testing.T) {
	cfg := &Config{}
	if err := cfg.RequireProvider(); err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Fatalf("missing key should fail, got %v", err)
	}
}

func TestSplitSymbol(t *testing.T) {
	base, quote, ok := SplitSymbol("EUR/USD")
	if !ok || base != "EUR" || quote != "USD" {
		t.Fatalf("split = %s %s %v", base, quote, ok)
	}
	for _, bad := range []string{"EURUSD", "/USD", "EUR/", ""} {
		if _, _, ok := SplitSymbol(bad); ok {
			t.Fatalf("%q should not split", bad)
		}
	}
}

func TestLoadLocation(t *testing.T) {
	for _, name := range []string{"", "Local", "local"} {
		loc, err := LoadLocation(name)
		if err != nil || loc != time.Local {
			t.Fatalf("%q should map to time.Local", name)
		}
	}
	if loc, err := LoadLocation("UTC"); err != nil || loc.String() != "UTC" {
		t.Fatalf("UTC: %v %v", loc, err)
	}
	if _, err := LoadLocation("Nowhere/Special"); err == nil {
		t.Fatal("unknown zone should fail")
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 500}}
	if cfg.ResolveMaxPoints(0) != 500 || cfg.ResolveMaxPoints(20) != 20 {
		t.Fatal("override should win only when positive")
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("FXWATCHER_TEST_ENV_FILE=loaded\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("FXWATCHER_TEST_ENV_FILE") })

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if os.Getenv("FXWATCHER_TEST_ENV_FILE") != "loaded" {
		t.Fatal("variable should be exported")
	}
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatal("explicit missing file should fail")
	}
}
