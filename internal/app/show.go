package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"fx-high-alerts/internal/storage"
)

// Show prints recent samples, newest first, with the stored total.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	return a.showSamples(ctx, os.Stdout, opts)
}

func (a *App) showSamples(ctx context.Context, out io.Writer, opts ShowOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	symbol := a.Config.Provider.Symbol
	samples, err := store.ListRecentSamples(ctx, symbol, opts.Limit)
	if err != nil {
		return err
	}
	total, err := store.CountSamples(ctx, symbol)
	if err != nil {
		return fmt.Errorf("count samples: %w", err)
	}
	return printSamples(out, samples, total)
}

// Alerts prints recent alert records, newest first.
func (a *App) Alerts(ctx context.Context, opts ShowOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	alerts, err := store.ListRecentAlerts(ctx, a.Config.Provider.Symbol, opts.Limit)
	if err != nil {
		return err
	}
	return printAlerts(os.Stdout, alerts)
}

func printSamples(out io.Writer, samples []storage.RateSample, total int64) error {
	if len(samples) == 0 {
		fmt.Fprintln(out, "no samples found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSymbol\tRate")
	for _, sample := range samples {
		fmt.Fprintf(writer, "%s\t%s\t%s\n",
			sample.ObservedAt.UTC().Format(time.RFC3339),
			sample.Symbol,
			formatDecimal(sample.Rate, 5),
		)
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "%d of %d stored samples\n", len(samples), total)
	return err
}

func printAlerts(out io.Writer, alerts []storage.AlertRecord) error {
	if len(alerts) == 0 {
		fmt.Fprintln(out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSymbol\tRate\tPrevious high\tDays\tChannels")
	for _, alert := range alerts {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%d\t%s\n",
			alert.ObservedAt.UTC().Format(time.RFC3339),
			alert.Symbol,
			formatDecimal(alert.Rate, 5),
			formatDecimal(alert.PreviousHigh, 5),
			alert.EffectiveDays,
			sanitizeInline(strings.Join(alert.Channels, ",")),
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
