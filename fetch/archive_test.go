package fetch

import (
	"errors"
	"sort"
	"testing"

	"github.com/dnldd/backtester/shared"
	"github.com/google/go-cmp/cmp"
	"github.com/peterldowns/testy/assert"
)

func TestArchiveNames(t *testing.T) {
	tests := []struct {
		name  string
		start int64
		end   int64
		count int
		first string
		last  string
	}{
		{
			name:  "within a year",
			start: 1682946000000,
			end:   1695399134000,
			count: 4 + 22,
			first: "BTCUSDT-1m-2023-05.zip",
			last:  "BTCUSDT-1m-2023-09-22.zip",
		},
		{
			name:  "across a year",
			start: 1577836800000,
			end:   1609459200000,
			count: 12 + 1,
			first: "BTCUSDT-1m-2020-01.zip",
			last:  "BTCUSDT-1m-2021-01-01.zip",
		},
		{
			name:  "across years",
			start: 1577836800000,
			end:   1641081600000,
			count: 12 + 12 + 2,
			first: "BTCUSDT-1m-2020-01.zip",
			last:  "BTCUSDT-1m-2022-01-02.zip",
		},
		{
			name:  "same month",
			start: 1682946000000,
			end:   1683158400000,
			count: 4,
			first: "BTCUSDT-1m-2023-05-01.zip",
			last:  "BTCUSDT-1m-2023-05-04.zip",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			names := ArchiveNames("btcusdt", shared.OneMinute, test.start, test.end)
			assert.Equal(t, len(names), test.count)
			assert.Equal(t, names[0], test.first)
			assert.Equal(t, names[len(names)-1], test.last)

			// Ensure names are generated in chronological order.
			assert.True(t, sort.SliceIsSorted(names, func(i, j int) bool {
				a, _, _ := ArchiveSpan(names[i])
				b, _, _ := ArchiveSpan(names[j])
				return a < b
			}))
		})
	}

	// Ensure an end before the start year yields nothing.
	assert.Equal(t, len(ArchiveNames("BTCUSDT", shared.OneMinute, 1609459200000, 1577836800000)), 0)

	names := ArchiveNames("BTCUSDT", shared.Trades, 1682946000000, 1685750400000)
	want := []string{"BTCUSDT-trades-2023-05.zip", "BTCUSDT-trades-2023-06-01.zip",
		"BTCUSDT-trades-2023-06-02.zip", "BTCUSDT-trades-2023-06-03.zip"}
	if !cmp.Equal(names, want) {
		t.Errorf("mismatching names, got %v", cmp.Diff(names, want))
	}
}

func TestKindOf(t *testing.T) {
	kind, err := KindOf("BTCUSDT-1m-2023-05.zip")
	assert.NoError(t, err)
	assert.Equal(t, kind, Monthly)

	kind, err = KindOf("BTCUSDT-trades-2023-05-01.zip")
	assert.NoError(t, err)
	assert.Equal(t, kind, Daily)

	_, err = KindOf("BTCUSDT.zip")
	assert.True(t, errors.Is(err, ErrMalformedArchiveName))

	assert.Equal(t, Monthly.String(), "monthly")
	assert.Equal(t, ArchiveKind(9).String(), "unknown")
}

func TestArchiveSpan(t *testing.T) {
	start, end, err := ArchiveSpan("BTCUSDT-1m-2023-12.zip")
	assert.NoError(t, err)
	assert.Equal(t, start, int64(1701388800000))
	assert.Equal(t, end, int64(1704067200000))

	start, end, err = ArchiveSpan("BTCUSDT-1m-2023-05-01.zip")
	assert.NoError(t, err)
	assert.Equal(t, start, int64(1682899200000))
	assert.Equal(t, end, int64(1682985600000))

	_, _, err = ArchiveSpan("BTCUSDT-1m-2023-xx.zip")
	assert.True(t, errors.Is(err, ErrMalformedArchiveName))
}

func TestArchiveURL(t *testing.T) {
	tests := []struct {
		name    string
		mdt     shared.MarketDataType
		archive string
		want    string
	}{
		{
			name:    "monthly klines",
			mdt:     shared.OneSecond,
			archive: "BTCUSDT-1s-2023-05.zip",
			want:    "https://data.binance.vision/data/spot/monthly/klines/BTCUSDT/1s/BTCUSDT-1s-2023-05.zip",
		},
		{
			name:    "daily klines",
			mdt:     shared.OneMinute,
			archive: "BTCUSDT-1m-2023-05-02.zip",
			want:    "https://data.binance.vision/data/spot/daily/klines/BTCUSDT/1m/BTCUSDT-1m-2023-05-02.zip",
		},
		{
			name:    "monthly trades",
			mdt:     shared.Trades,
			archive: "BTCUSDT-trades-2023-05.zip",
			want:    "https://data.binance.vision/data/spot/monthly/trades/BTCUSDT/BTCUSDT-trades-2023-05.zip",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			url, err := ArchiveURL(DataURL+"/", "btcusdt", test.mdt, test.archive)
			assert.NoError(t, err)
			assert.Equal(t, url, test.want)
		})
	}

	_, err := ArchiveURL(DataURL, "BTCUSDT", shared.OneMinute, "archive.zip")
	assert.Error(t, err)
}
