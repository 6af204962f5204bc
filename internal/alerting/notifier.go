package alerting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrNoChannels is returned when a dispatch is attempted with nothing configured.
var ErrNoChannels = errors.New("alerting: no notification channels configured")

// Notification describes a newly reached lookback-window high.
type Notification struct {
	Symbol        string
	Quote         string
	Rate          decimal.Decimal
	PreviousHigh  decimal.Decimal
	EffectiveDays int
	ObservedAt    time.Time
}

// Notifier delivers a notification over one transport.
type Notifier interface {
	Notify(ctx context.Context, note Notification) error
}

// Named binds a notifier to its channel name.
type Named struct {
	Name     string
	Notifier Notifier
}

// Multi fans a notification out to every configured channel.
// A failing channel does not prevent delivery on the others.
type Multi struct {
	channels []Named
	logger   zerolog.Logger
}

// NewMulti builds a fan-out notifier. Nil notifiers are skipped.
func NewMulti(logger zerolog.Logger, channels ...Named) *Multi {
	kept := make([]Named, 0, len(channels))
	for _, ch := range channels {
		if ch.Notifier != nil {
			kept = append(kept, ch)
		}
	}
	return &Multi{
		channels: kept,
		logger:   logger.With().Str("component", "alert_dispatch").Logger(),
	}
}

// Channels lists the active channel names in dispatch order.
func (m *Multi) Channels() []string {
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name)
	}
	return names
}

// Empty reports whether no channel is configured.
func (m *Multi) Empty() bool {
	return m == nil || len(m.channels) == 0
}

// Notify delivers to all channels and joins their errors.
func (m *Multi) Notify(ctx context.Context, note Notification) error {
	if m.Empty() {
		return ErrNoChannels
	}

	var errs []error
	for _, ch := range m.channels {
		if err := ch.Notifier.Notify(ctx, note); err != nil {
			m.logger.Error().Err(err).Str("channel", ch.Name).Msg("notification failed")
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name, err))
			continue
		}
		m.logger.Info().Str("channel", ch.Name).Str("rate", note.Rate.String()).Msg("notification sent")
	}
	return errors.Join(errs...)
}

// Close releases transports that hold connections.
func (m *Multi) Close() error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, ch := range m.channels {
		if c, ok := ch.Notifier.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", ch.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// RenderMessage formats the chat / email body.
func RenderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("🚀 %s Alert: Highest rate in the last %d days!\n", note.Symbol, note.EffectiveDays))
	builder.WriteString(fmt.Sprintf("Current rate: %s %s\n", note.Rate.String(), note.Quote))
	builder.WriteString(fmt.Sprintf("Previous high: %s %s", note.PreviousHigh.String(), note.Quote))
	return builder.String()
}

// RenderSubject formats the email subject line.
func RenderSubject(note Notification) string {
	return fmt.Sprintf("Currency Alert: New %d-Day Record", note.EffectiveDays)
}

var _ Notifier = (*Multi)(nil)
