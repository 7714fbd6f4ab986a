package fetch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/dnldd/backtester/shared"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// klinesLimit is the maximum number of klines returned per request.
	klinesLimit = 1000
	// maxRetries is the maximum number of retries of a failed request.
	maxRetries = 3
	// retryBackoff is the wait before the first retry.
	retryBackoff = 100 * time.Millisecond
)

// ExchangeConfig represents the configuration of the exchange client.
type ExchangeConfig struct {
	// APIKey is the exchange API key, optional for market data.
	APIKey string
	// SecretKey is the exchange API secret, optional for market data.
	SecretKey string
	// BaseURL overrides the exchange API url. Optional.
	BaseURL string
	// Limiter rate limits exchange requests. Optional.
	Limiter *rate.Limiter
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// ExchangeClient fetches klines from the exchange API.
type ExchangeClient struct {
	cfg    *ExchangeConfig
	client *binance.Client
}

// Ensure the ExchangeClient implements the MarketFetcher interface.
var _ shared.MarketFetcher = (*ExchangeClient)(nil)

// NewExchangeClient initializes a new exchange client.
func NewExchangeClient(cfg *ExchangeConfig) (*ExchangeClient, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Limiter == nil {
		cfg.Limiter = rate.NewLimiter(rate.Limit(10), 20)
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	client.HTTPClient = &http.Client{Timeout: time.Second * 10}
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}

	return &ExchangeClient{cfg: cfg, client: client}, nil
}

// fetchPage fetches up to klinesLimit klines opened from start, retrying with backoff.
func (c *ExchangeClient) fetchPage(ctx context.Context, symbol string, interval string, start int64, end int64) ([]*binance.Kline, error) {
	var err error
	var klines []*binance.Kline

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = c.cfg.Limiter.Wait(ctx)
		if err != nil {
			return nil, err
		}

		klines, err = c.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(start).
			EndTime(end).
			Limit(klinesLimit).
			Do(ctx)
		if err == nil {
			return klines, nil
		}

		if attempt == maxRetries {
			break
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * retryBackoff
		c.cfg.Logger.Warn().Msgf("fetching %s klines failed, retrying in %s: %v", symbol, wait, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	return nil, fmt.Errorf("fetching %s klines: %w", symbol, err)
}

// parseKline converts an exchange kline.
func parseKline(k *binance.Kline) (shared.Kline, error) {
	values := make([]float64, 5)
	for idx, field := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return shared.Kline{}, fmt.Errorf("parsing kline field %q: %w", field, err)
		}
		values[idx] = v
	}

	return shared.Kline{
		Date:   k.OpenTime,
		Open:   values[0],
		High:   values[1],
		Low:    values[2],
		Close:  values[3],
		Volume: values[4],
	}, nil
}

// FetchKlines fetches the klines of the provided symbol opened within [start, end].
func (c *ExchangeClient) FetchKlines(ctx context.Context, symbol string, mdt shared.MarketDataType, start int64, end int64) ([]shared.Kline, error) {
	if !mdt.IsKline() {
		return nil, fmt.Errorf("%s is not a kline market data type", mdt)
	}

	klines := []shared.Kline{}
	for from := start; from <= end; {
		page, err := c.fetchPage(ctx, symbol, mdt.String(), from, end)
		if err != nil {
			return nil, err
		}

		for _, k := range page {
			kline, err := parseKline(k)
			if err != nil {
				return nil, err
			}
			klines = append(klines, kline)
		}

		if len(page) < klinesLimit {
			break
		}

		from = page[len(page)-1].OpenTime + mdt.Period()
	}

	c.cfg.Logger.Debug().Msgf("fetched %d %s klines for %s", len(klines), mdt, symbol)

	return klines, nil
}
