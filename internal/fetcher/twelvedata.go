package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const twelveDataPricePath = "/price"

var (
	// ErrEmptyPrice is returned when the API answers without a usable price.
	ErrEmptyPrice = errors.New("twelvedata: empty price")
)

// TwelveDataOptions parameterise the Twelve Data fetcher.
type TwelveDataOptions struct {
	BaseURL           string
	APIKey            string
	Symbol            string
	Timeout           time.Duration
	UserAgent         string
	RequestsPerMinute int
}

// TwelveData fetches real-time prices from the Twelve Data REST API.
type TwelveData struct {
	opts    TwelveDataOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
}

// NewTwelveData constructs a price fetcher. A positive RequestsPerMinute
// throttles outgoing requests to stay within the API credit budget.
func NewTwelveData(opts TwelveDataOptions, logger zerolog.Logger) *TwelveData {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.twelvedata.com"
	}

	var limiter *rate.Limiter
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}

	return &TwelveData{
		opts:    opts,
		logger:  logger.With().Str("component", "twelvedata_fetcher").Str("symbol", opts.Symbol).Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		limiter: limiter,
	}
}

// FetchRate retrieves the latest price for the configured symbol.
func (f *TwelveData) FetchRate(ctx context.Context) (decimal.Decimal, error) {
	if f.opts.APIKey == "" {
		return decimal.Decimal{}, errors.New("twelvedata api key not configured")
	}
	if f.opts.Symbol == "" {
		return decimal.Decimal{}, errors.New("symbol not configured")
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return decimal.Decimal{}, fmt.Errorf("wait for request budget: %w", err)
		}
	}

	query := url.Values{}
	query.Set("symbol", f.opts.Symbol)
	query.Set("apikey", f.opts.APIKey)
	endpoint := f.baseURL + twelveDataPricePath + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("request price: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("read price response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, parseHTTPError(resp.StatusCode, payload)
	}

	var res priceResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode price response: %w", err)
	}

	// Twelve Data reports most failures with HTTP 200 and status=error.
	if strings.EqualFold(res.Status, "error") {
		return decimal.Decimal{}, apiError(res.Code, res.Message)
	}
	if strings.TrimSpace(res.Price) == "" {
		return decimal.Decimal{}, ErrEmptyPrice
	}

	price, err := decimal.NewFromString(strings.TrimSpace(res.Price))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse price %q: %w", res.Price, err)
	}
	if !price.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("twelvedata returned non-positive price %s", price)
	}

	f.logger.Debug().Str("price", price.String()).Msg("price fetched")
	return price, nil
}

type priceResponse struct {
	Price   string `json:"price"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func apiError(code int, message string) error {
	if message == "" {
		message = "unknown error"
	}
	if code != 0 {
		return fmt.Errorf("twelvedata api error (%d): %s", code, message)
	}
	return fmt.Errorf("twelvedata api error: %s", message)
}

func parseHTTPError(status int, payload []byte) error {
	var res priceResponse
	if err := json.Unmarshal(payload, &res); err == nil && res.Message != "" {
		return apiError(status, res.Message)
	}
	if len(payload) > 0 {
		return fmt.Errorf("twelvedata api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("twelvedata api error (%d)", status)
}

var _ RateFetcher = (*TwelveData)(nil)
