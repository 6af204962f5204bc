// Package detector decides whether an observed rate is a new high for the
// trailing lookback window.
package detector

import (
	"time"

	"github.com/shopspring/decimal"
)

// Result is the outcome of comparing a sample with the window maximum.
type Result struct {
	// IsNewHigh is set when the rate strictly exceeds a positive prior maximum.
	IsNewHigh bool
	// Baseline is set when the window is empty; the sample only seeds it.
	Baseline bool
}

// Detect compares rate with priorMax. A zero priorMax means the window holds
// no samples yet and never triggers. Equal rates do not trigger.
func Detect(rate, priorMax decimal.Decimal) Result {
	if !priorMax.IsPositive() {
		return Result{Baseline: true}
	}
	return Result{IsNewHigh: rate.GreaterThan(priorMax)}
}

// EffectiveDays reports how many days of the lookback window are actually
// covered by data, clamped to [1, lookbackDays]. It returns 0 without a first sample.
func EffectiveDays(first, now time.Time, hasFirst bool, lookbackDays int) int {
	if !hasFirst {
		return 0
	}
	days := int(now.Sub(first) / (24 * time.Hour))
	if days < 1 {
		days = 1
	}
	if days > lookbackDays {
		days = lookbackDays
	}
	return days
}

// WindowStart is the exclusive lower bound of the lookback window.
func WindowStart(now time.Time, lookbackDays int) time.Time {
	return now.AddDate(0, 0, -lookbackDays)
}

// RetentionCutoff is the instant before which samples are pruned.
func RetentionCutoff(now time.Time, lookbackDays, marginDays int) time.Time {
	return now.AddDate(0, 0, -(lookbackDays + marginDays))
}
