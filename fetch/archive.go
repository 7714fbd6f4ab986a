package fetch

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dnldd/backtester/shared"
)

const (
	// ArchiveExtension is the extension of exchange market data archives.
	ArchiveExtension = ".zip"
)

var (
	// ErrMalformedArchiveName is returned when an archive name cannot be parsed.
	ErrMalformedArchiveName = errors.New("malformed archive name")
)

// ArchiveKind represents the publication period of an archive.
type ArchiveKind int

const (
	Monthly ArchiveKind = iota
	Daily
)

// String stringifies the provided archive kind.
func (k ArchiveKind) String() string {
	switch k {
	case Monthly:
		return "monthly"
	case Daily:
		return "daily"
	default:
		return "unknown"
	}
}

// monthlyName returns the monthly archive name of the provided symbol.
func monthlyName(symbol string, mdt shared.MarketDataType, year int, month time.Month) string {
	return fmt.Sprintf("%s-%s-%d-%02d%s", strings.ToUpper(symbol), mdt, year, int(month), ArchiveExtension)
}

// dailyName returns the daily archive name of the provided symbol.
func dailyName(symbol string, mdt shared.MarketDataType, year int, month time.Month, day int) string {
	return fmt.Sprintf("%s-%s-%d-%02d-%02d%s", strings.ToUpper(symbol), mdt, year, int(month), day,
		ArchiveExtension)
}

// ArchiveNames generates the names of the archives covering [start, end] in chronological order.
// Every month before the month of end is covered by a monthly archive, the month of end is covered
// by daily archives up to and including the day of end.
func ArchiveNames(symbol string, mdt shared.MarketDataType, start int64, end int64) []string {
	from := time.UnixMilli(start).UTC()
	to := time.UnixMilli(end).UTC()
	names := []string{}

	addMonths := func(year int, first time.Month, last time.Month) {
		for month := first; month <= last; month++ {
			names = append(names, monthlyName(symbol, mdt, year, month))
		}
	}

	switch {
	case to.Year() == from.Year():
		addMonths(to.Year(), from.Month(), to.Month()-1)
	case to.Year() > from.Year():
		addMonths(from.Year(), from.Month(), time.December)
		for year := from.Year() + 1; year < to.Year(); year++ {
			addMonths(year, time.January, time.December)
		}
		addMonths(to.Year(), time.January, to.Month()-1)
	default:
		return names
	}

	for day := 1; day <= to.Day(); day++ {
		names = append(names, dailyName(symbol, mdt, to.Year(), to.Month(), day))
	}

	return names
}

// KindOf returns the publication period of the provided archive name.
func KindOf(name string) (ArchiveKind, error) {
	switch strings.Count(strings.TrimSuffix(name, ArchiveExtension), "-") {
	case 3:
		return Monthly, nil
	case 4:
		return Daily, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrMalformedArchiveName, name)
	}
}

// ArchiveSpan returns the unix millisecond window [start, end) the provided archive covers.
func ArchiveSpan(name string) (int64, int64, error) {
	kind, err := KindOf(name)
	if err != nil {
		return 0, 0, err
	}

	parts := strings.Split(strings.TrimSuffix(name, ArchiveExtension), "-")
	fields := make([]int, 0, 3)
	for _, part := range parts[2:] {
		v, err := strconv.Atoi(part)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %q", ErrMalformedArchiveName, name)
		}
		fields = append(fields, v)
	}

	switch kind {
	case Monthly:
		from := time.Date(fields[0], time.Month(fields[1]), 1, 0, 0, 0, 0, time.UTC)
		return from.UnixMilli(), from.AddDate(0, 1, 0).UnixMilli(), nil
	default:
		from := time.Date(fields[0], time.Month(fields[1]), fields[2], 0, 0, 0, 0, time.UTC)
		return from.UnixMilli(), from.AddDate(0, 0, 1).UnixMilli(), nil
	}
}

// ArchiveURL returns the download url of the provided archive.
func ArchiveURL(baseURL string, symbol string, mdt shared.MarketDataType, name string) (string, error) {
	kind, err := KindOf(name)
	if err != nil {
		return "", err
	}

	symbol = strings.ToUpper(symbol)
	baseURL = strings.TrimSuffix(baseURL, "/")

	if mdt == shared.Trades {
		return fmt.Sprintf("%s/data/spot/%s/trades/%s/%s", baseURL, kind, symbol, name), nil
	}

	return fmt.Sprintf("%s/data/spot/%s/klines/%s/%s/%s", baseURL, kind, symbol, mdt, name), nil
}
