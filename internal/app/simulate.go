package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fx-high-alerts/internal/alerting"
	"fx-high-alerts/internal/detector"
)

// SimulateAlert pushes a synthetic new-high notification through every enabled channel.
// Nothing is written to the store.
func (a *App) SimulateAlert(ctx context.Context, rate, previous decimal.Decimal) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is disabled")
	}
	if !detector.Detect(rate, previous).IsNewHigh {
		return fmt.Errorf("rate %s does not exceed previous high %s", rate, previous)
	}

	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}
	defer notifier.Close()
	if notifier.Empty() {
		return alerting.ErrNoChannels
	}

	note := alerting.Notification{
		Symbol:        a.Config.Provider.Symbol,
		Quote:         a.Config.QuoteCurrency(),
		Rate:          rate,
		PreviousHigh:  previous,
		EffectiveDays: a.Config.Monitor.LookbackDays,
		ObservedAt:    time.Now().UTC(),
	}
	a.Logger.Info().Strs("channels", notifier.Channels()).Msg("sending simulated alert")
	return notifier.Notify(ctx, note)
}
