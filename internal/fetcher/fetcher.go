package fetcher

import (
	"context"

	"github.com/shopspring/decimal"
)

// RateFetcher retrieves the current exchange rate for the configured symbol.
type RateFetcher interface {
	FetchRate(ctx context.Context) (decimal.Decimal, error)
}

// RateFetcherFunc adapts a function to RateFetcher.
type RateFetcherFunc func(ctx context.Context) (decimal.Decimal, error)

// FetchRate calls f.
func (f RateFetcherFunc) FetchRate(ctx context.Context) (decimal.Decimal, error) {
	return f(ctx)
}
