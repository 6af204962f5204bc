package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateSample is one observed exchange rate. Samples are never updated.
type RateSample struct {
	ID         int64
	Symbol     string
	ObservedAt time.Time
	Rate       decimal.Decimal
}

// AlertRecord captures an emitted new-high alert for auditing.
type AlertRecord struct {
	ID            int64
	Symbol        string
	ObservedAt    time.Time
	Rate          decimal.Decimal
	PreviousHigh  decimal.Decimal
	EffectiveDays int
	Channels      []string
	CreatedAt     time.Time
}
