package shared

import (
	"context"
)

// MarketFetcher defines the requirements for fetching market klines from an exchange.
type MarketFetcher interface {
	// FetchKlines fetches the klines of the provided symbol opened within [start, end].
	FetchKlines(ctx context.Context, symbol string, mdt MarketDataType, start int64, end int64) ([]Kline, error)
}
