package shared

import (
	"errors"
	"testing"

	"github.com/peterldowns/testy/assert"
)

func TestMarketDataTypeString(t *testing.T) {
	tests := []struct {
		name   string
		mdt    MarketDataType
		want   string
		period int64
	}{
		{"trades", Trades, "trades", 0},
		{"one second", OneSecond, "1s", 1000},
		{"one minute", OneMinute, "1m", 60000},
		{"three minute", ThreeMinute, "3m", 180000},
		{"five minute", FiveMinute, "5m", 300000},
		{"fifteen minute", FifteenMinute, "15m", 900000},
		{"thirty minute", ThirtyMinute, "30m", 1800000},
		{"one hour", OneHour, "1h", 3600000},
		{"two hour", TwoHour, "2h", 7200000},
		{"four hour", FourHour, "4h", 14400000},
		{"six hour", SixHour, "6h", 21600000},
		{"eight hour", EightHour, "8h", 28800000},
		{"one day", OneDay, "1d", 86400000},
		{"unknown", MarketDataType(999), "unknown", 0},
	}

	for _, test := range tests {
		str := test.mdt.String()
		if str != test.want {
			t.Errorf("%s: expected %v, got %v", test.name, test.want, str)
		}
		if test.mdt.Period() != test.period {
			t.Errorf("%s: expected period %v, got %v", test.name, test.period, test.mdt.Period())
		}
	}
}

func TestParseMarketDataType(t *testing.T) {
	// Ensure every canonical code parses back to its market data type.
	for _, mdt := range MarketDataTypes {
		parsed, err := ParseMarketDataType(mdt.String())
		assert.NoError(t, err)
		assert.Equal(t, parsed, mdt)
	}

	// Ensure codes are normalized before parsing.
	parsed, err := ParseMarketDataType(" 1H ")
	assert.NoError(t, err)
	assert.Equal(t, parsed, OneHour)

	// Ensure unknown codes are rejected with a typed error.
	_, err = ParseMarketDataType("7m")
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownMarketDataType))

	// Ensure only fixed period types are klines.
	assert.False(t, Trades.IsKline())
	assert.True(t, OneMinute.IsKline())
}

func TestParseDate(t *testing.T) {
	ms, err := ParseDate("2023-05-01")
	assert.NoError(t, err)
	assert.Equal(t, ms, int64(1682899200000))
	assert.Equal(t, FormatDate(ms), "2023-05-01T00:00:00Z")

	_, err = ParseDate("01/05/2023")
	assert.Error(t, err)
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, Buy.String(), "buy")
	assert.Equal(t, Sell.String(), "sell")
	assert.Equal(t, Side(9).String(), "unknown")
	assert.Equal(t, TakeProfitMarket.String(), "take profit market")
	assert.Equal(t, StopMarket.String(), "stop market")
	assert.Equal(t, OrderType(99).String(), "unknown")
	assert.Equal(t, Cancelled.String(), "cancelled")
	assert.Equal(t, OrderStatus(99).String(), "unknown")
	assert.False(t, New.IsTerminal())
	assert.True(t, Filled.IsTerminal())
	assert.True(t, Expired.IsTerminal())
	assert.Equal(t, Commission(100, 2, 0.5), float64(1))
}
