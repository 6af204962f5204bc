package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fx-high-alerts/internal/alerting"
	"fx-high-alerts/internal/config"
	"fx-high-alerts/internal/storage"
)

func testApp(t *testing.T) *App {
	t.Helper()
	cfg := &config.Config{
		Database: config.DatabaseConfig{
			Driver:      config.DriverSQLite,
			Path:        filepath.Join(t.TempDir(), "app.db"),
			BusyTimeout: time.Second,
			AutoMigrate: true,
		},
		Provider: config.ProviderConfig{
			Symbol:         "EUR/USD",
			APIKey:         "key",
			RequestTimeout: time.Second,
		},
		Monitor:  config.MonitorConfig{LookbackDays: 45, RetentionMarginDays: 5},
		Alerting: config.AlertingConfig{Enabled: true, Timeout: time.Second},
		Export:   config.ExportConfig{MaxDataPoints: 1000},
	}
	return NewApp(cfg, zerolog.Nop())
}

func seed(t *testing.T, a *App, samples ...storage.RateSample) {
	t.Helper()
	store, err := a.openStore(context.Background())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	for _, s := range samples {
		s.Symbol = a.Config.Provider.Symbol
		if err := store.InsertSample(context.Background(), s); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func sample(at time.Time, rate string) storage.RateSample {
	return storage.RateSample{ObservedAt: at, Rate: decimal.RequireFromString(rate)}
}

func withTelegram(t *testing.T, a *App) *atomic.Int32 {
	t.Helper()
	var sent atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sent.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	t.Cleanup(srv.Close)

	a.Config.Alerting.Channels = []string{"telegram"}
	a.Config.Alerting.Telegram = config.TelegramConfig{Enabled: true, BotToken: "t", ChatID: "c", APIBase: srv.URL}
	return &sent
}

func TestCheckStoresAndAlerts(t *testing.T) {
	a := testApp(t)
	sent := withTelegram(t, a)

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"price":"1.2000"}`))
	}))
	defer provider.Close()
	a.Config.Provider.BaseURL = provider.URL

	seed(t, a, sample(time.Now().Add(-time.Hour), "1.1000"))

	res, err := a.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.NewHigh || !res.Notified {
		t.Fatalf("expected notified new high, got %+v", res)
	}
	if sent.Load() != 1 {
		t.Fatalf("telegram calls = %d", sent.Load())
	}
}

func TestCheckRequiresAPIKey(t *testing.T) {
	a := testApp(t)
	a.Config.Provider.APIKey = ""
	if _, err := a.Check(context.Background()); err == nil {
		t.Fatal("missing api key should fail")
	}
}

func TestCleanup(t *testing.T) {
	a := testApp(t)
	now := time.Now()
	seed(t, a,
		sample(now.AddDate(0, 0, -70), "1.0"),
		sample(now.AddDate(0, 0, -10), "1.0"),
	)

	deleted, err := a.Cleanup(context.Background())
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d", deleted)
	}
}

func TestOpenStoreDisabled(t *testing.T) {
	a := testApp(t)
	a.Config.Database.Driver = "none"
	if _, err := a.openStore(context.Background()); err == nil {
		t.Fatal("disabled database should be reported")
	}
}

func TestSimulateAlert(t *testing.T) {
	a := testApp(t)

	if err := a.SimulateAlert(context.Background(), decimal.RequireFromString("1.2"), decimal.RequireFromString("1.1")); !errors.Is(err, alerting.ErrNoChannels) {
		t.Fatalf("no channels -> %v", err)
	}

	sent := withTelegram(t, a)
	if err := a.SimulateAlert(context.Background(), decimal.RequireFromString("1.1"), decimal.RequireFromString("1.2")); err == nil {
		t.Fatal("rate below previous high should be refused")
	}
	if err := a.SimulateAlert(context.Background(), decimal.RequireFromString("1.2"), decimal.RequireFromString("1.1")); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if sent.Load() != 1 {
		t.Fatalf("telegram calls = %d", sent.Load())
	}

	a.Config.Alerting.Enabled = false
	if err := a.SimulateAlert(context.Background(), decimal.RequireFromString("1.2"), decimal.RequireFromString("1.1")); err == nil {
		t.Fatal("disabled alerting should fail")
	}
}

func TestExportCSVAndPNG(t *testing.T) {
	a := testApp(t)
	now := time.Now().UTC().Truncate(time.Minute)
	seed(t, a,
		sample(now.Add(-4*time.Hour), "1.10"),
		sample(now.Add(-3*time.Hour), "1.12"),
		sample(now.Add(-2*time.Hour), "1.11"),
		sample(now.Add(-1*time.Hour), "1.13"),
	)

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "out", "rates.csv")
	pngPath := filepath.Join(dir, "out", "rates.png")
	if err := a.Export(context.Background(), ExportOptions{CSVPath: csvPath, PNGPath: pngPath}); err != nil {
		t.Fatalf("export: %v", err)
	}

	f, err := os.Open(csvPath)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 5 || rows[0][0] != "observed_at" {
		t.Fatalf("unexpected csv %v", rows)
	}
	if rows[1][3] != "" || rows[1][4] != "false" {
		t.Fatalf("first row has no prior high: %v", rows[1])
	}
	if rows[2][3] != "1.1" || rows[2][4] != "true" {
		t.Fatalf("second row should be a new high over 1.1: %v", rows[2])
	}
	if rows[3][4] != "false" || rows[4][4] != "true" {
		t.Fatalf("new high flags wrong: %v", rows)
	}

	png, err := os.ReadFile(pngPath)
	if err != nil {
		t.Fatalf("read png: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatal("output should be a PNG")
	}
}

func TestExportRequiresOutput(t *testing.T) {
	a := testApp(t)
	if err := a.Export(context.Background(), ExportOptions{}); err == nil {
		t.Fatal("export without outputs should fail")
	}
}

func TestRollingHighs(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	samples := []storage.RateSample{
		sample(base, "1.50"),
		sample(base.AddDate(0, 0, 1), "1.20"),
		sample(base.AddDate(0, 0, 2), "1.30"),
		sample(base.AddDate(0, 0, 4), "1.10"),
	}

	highs := rollingHighs(samples, 2)
	want := []string{"0", "1.5", "1.2", "0"}
	for i, w := range want {
		if !highs[i].Equal(decimal.RequireFromString(w)) {
			t.Fatalf("high[%d] = %s, want %s", i, highs[i], w)
		}
	}
}

func TestDownsampleKeepsEnds(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var samples []storage.RateSample
	var highs []decimal.Decimal
	for i := 0; i < 10; i++ {
		samples = append(samples, sample(base.Add(time.Duration(i)*time.Minute), "1"))
		highs = append(highs, decimal.NewFromInt(int64(i)))
	}

	out, outHighs := downsampleSamples(samples, highs, 4)
	if len(out) != 4 || len(outHighs) != 4 {
		t.Fatalf("len = %d/%d", len(out), len(outHighs))
	}
	if !out[0].ObservedAt.Equal(base) || !out[3].ObservedAt.Equal(samples[9].ObservedAt) {
		t.Fatal("downsampling should keep first and last samples")
	}
	if !outHighs[3].Equal(decimal.NewFromInt(9)) {
		t.Fatal("highs must stay aligned with samples")
	}
}

func TestPrintTables(t *testing.T) {
	var buf bytes.Buffer
	if err := printSamples(&buf, nil, 0); err != nil || !strings.Contains(buf.String(), "no samples") {
		t.Fatalf("empty samples -> %q", buf.String())
	}

	buf.Reset()
	err := printAlerts(&buf, []storage.AlertRecord{{
		Symbol:        "EUR/USD",
		ObservedAt:    time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC),
		Rate:          decimal.RequireFromString("1.2"),
		PreviousHigh:  decimal.RequireFromString("1.1"),
		EffectiveDays: 7,
		Channels:      []string{"telegram", "email"},
	}})
	if err != nil {
		t.Fatalf("print alerts: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"2026-01-02T03:04:00Z", "1.20000", "1.10000", "telegram,email"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestShowSamplesReportsStoredTotal(t *testing.T) {
	a := testApp(t)
	now := time.Now().UTC().Truncate(time.Minute)
	seed(t, a,
		sample(now.Add(-3*time.Hour), "1.10"),
		sample(now.Add(-2*time.Hour), "1.11"),
		sample(now.Add(-1*time.Hour), "1.12"),
	)

	var buf bytes.Buffer
	if err := a.showSamples(context.Background(), &buf, ShowOptions{Limit: 2}); err != nil {
		t.Fatalf("show: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "1.12000") || strings.Contains(out, "1.10000") {
		t.Fatalf("expected the two newest samples:\n%s", out)
	}
	if !strings.Contains(out, "2 of 3 stored samples") {
		t.Fatalf("missing total footer:\n%s", out)
	}
}
