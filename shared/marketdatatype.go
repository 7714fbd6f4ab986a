package shared

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// DateLayout is the format layout for parsing run dates.
	DateLayout = "2006-01-02"
)

var (
	// ErrUnknownMarketDataType is returned when a market data type code cannot be parsed.
	ErrUnknownMarketDataType = errors.New("unknown market data type")
)

// MarketDataType represents the kind and period of stored market data.
type MarketDataType int

const (
	Trades MarketDataType = iota
	OneSecond
	OneMinute
	ThreeMinute
	FiveMinute
	FifteenMinute
	ThirtyMinute
	OneHour
	TwoHour
	FourHour
	SixHour
	EightHour
	OneDay
)

// MarketDataTypes lists every supported market data type.
var MarketDataTypes = []MarketDataType{Trades, OneSecond, OneMinute, ThreeMinute, FiveMinute,
	FifteenMinute, ThirtyMinute, OneHour, TwoHour, FourHour, SixHour, EightHour, OneDay}

// String returns the canonical code of the market data type.
func (m MarketDataType) String() string {
	switch m {
	case Trades:
		return "trades"
	case OneSecond:
		return "1s"
	case OneMinute:
		return "1m"
	case ThreeMinute:
		return "3m"
	case FiveMinute:
		return "5m"
	case FifteenMinute:
		return "15m"
	case ThirtyMinute:
		return "30m"
	case OneHour:
		return "1h"
	case TwoHour:
		return "2h"
	case FourHour:
		return "4h"
	case SixHour:
		return "6h"
	case EightHour:
		return "8h"
	case OneDay:
		return "1d"
	default:
		return "unknown"
	}
}

// Period returns the market data period in milliseconds. Trades are event driven and have
// no fixed period.
func (m MarketDataType) Period() int64 {
	switch m {
	case OneSecond:
		return time.Second.Milliseconds()
	case OneMinute:
		return time.Minute.Milliseconds()
	case ThreeMinute:
		return 3 * time.Minute.Milliseconds()
	case FiveMinute:
		return 5 * time.Minute.Milliseconds()
	case FifteenMinute:
		return 15 * time.Minute.Milliseconds()
	case ThirtyMinute:
		return 30 * time.Minute.Milliseconds()
	case OneHour:
		return time.Hour.Milliseconds()
	case TwoHour:
		return 2 * time.Hour.Milliseconds()
	case FourHour:
		return 4 * time.Hour.Milliseconds()
	case SixHour:
		return 6 * time.Hour.Milliseconds()
	case EightHour:
		return 8 * time.Hour.Milliseconds()
	case OneDay:
		return 24 * time.Hour.Milliseconds()
	default:
		return 0
	}
}

// IsKline checks whether the market data type describes fixed period candles.
func (m MarketDataType) IsKline() bool {
	return m != Trades && m.Period() > 0
}

// ParseMarketDataType parses the provided code into a market data type.
func ParseMarketDataType(code string) (MarketDataType, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	for _, mdt := range MarketDataTypes {
		if mdt.String() == code {
			return mdt, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownMarketDataType, code)
}

// ParseDate parses a run date (UTC midnight) into unix milliseconds.
func ParseDate(date string) (int64, error) {
	t, err := time.ParseInLocation(DateLayout, date, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("parsing date %q: %w", date, err)
	}

	return t.UnixMilli(), nil
}

// FormatDate formats the provided unix milliseconds as a UTC timestamp.
func FormatDate(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
