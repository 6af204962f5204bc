package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"fx-high-alerts/internal/detector"
	"fx-high-alerts/internal/storage"
)

// Export renders historical data as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := detector.RetentionCutoff(to, a.Config.Monitor.LookbackDays, a.Config.Monitor.RetentionMarginDays)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	samples, err := store.ListSamplesBetween(ctx, a.Config.Provider.Symbol, from, to)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Msg("no samples found for export window")
		return nil
	}

	highs := rollingHighs(samples, a.Config.Monitor.LookbackDays)
	samples, highs = downsampleSamples(samples, highs, opts.MaxPoints)
	a.Logger.Info().Int("exported", len(samples)).Msg("exporting samples")

	if opts.CSVPath != "" {
		if err := writeSamplesCSV(opts.CSVPath, samples, highs); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSamplesPNG(opts.PNGPath, a.Config.Provider.Symbol, samples, highs); err != nil {
			return err
		}
	}

	return nil
}

// rollingHighs returns, for each ascending sample, the maximum of the samples
// strictly inside the lookback window that precedes it. Zero means no prior data.
func rollingHighs(samples []storage.RateSample, lookbackDays int) []decimal.Decimal {
	highs := make([]decimal.Decimal, len(samples))
	// indices of candidates with strictly decreasing rates
	var window []int
	for i, sample := range samples {
		start := detector.WindowStart(sample.ObservedAt, lookbackDays)
		for len(window) > 0 && !samples[window[0]].ObservedAt.After(start) {
			window = window[1:]
		}
		if len(window) > 0 {
			highs[i] = samples[window[0]].Rate
		}
		for len(window) > 0 && !samples[window[len(window)-1]].Rate.GreaterThan(sample.Rate) {
			window = window[:len(window)-1]
		}
		window = append(window, i)
	}
	return highs
}

func downsampleSamples(samples []storage.RateSample, highs []decimal.Decimal, max int) ([]storage.RateSample, []decimal.Decimal) {
	if max <= 0 || len(samples) <= max {
		return samples, highs
	}
	if max == 1 {
		last := len(samples) - 1
		return samples[last:], highs[last:]
	}

	outSamples := make([]storage.RateSample, 0, max)
	outHighs := make([]decimal.Decimal, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		outSamples = append(outSamples, samples[idx])
		outHighs = append(outHighs, highs[idx])
	}
	return outSamples, outHighs
}

func writeSamplesCSV(path string, samples []storage.RateSample, highs []decimal.Decimal) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	if err := writer.Write([]string{"observed_at", "symbol", "rate", "window_high", "new_high"}); err != nil {
		return err
	}

	for i, sample := range samples {
		high := ""
		if highs[i].IsPositive() {
			high = highs[i].String()
		}
		newHigh := "false"
		if detector.Detect(sample.Rate, highs[i]).IsNewHigh {
			newHigh = "true"
		}
		record := []string{
			sample.ObservedAt.UTC().Format(time.RFC3339),
			sample.Symbol,
			sample.Rate.String(),
			high,
			newHigh,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSamplesPNG(path, symbol string, samples []storage.RateSample, highs []decimal.Decimal) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(samples))
	rates := make([]float64, len(samples))
	var highX []time.Time
	var highY []float64

	for i, sample := range samples {
		x[i] = sample.ObservedAt
		rates[i] = sample.Rate.InexactFloat64()
		if highs[i].IsPositive() {
			highX = append(highX, sample.ObservedAt)
			highY = append(highY, highs[i].InexactFloat64())
		}
	}

	rateFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.5f")
	}
	series := []chart.Series{
		chart.TimeSeries{
			Name:    symbol,
			XValues: x,
			YValues: rates,
		},
	}
	// go-chart needs at least two points per series.
	if len(highX) > 1 {
		series = append(series, chart.TimeSeries{
			Name:    "Window high",
			XValues: highX,
			YValues: highY,
			Style: chart.Style{
				StrokeColor:     chart.ColorRed,
				StrokeDashArray: []float64{5, 5},
			},
		})
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Rate (" + symbol + ")",
			ValueFormatter: rateFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
