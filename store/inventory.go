package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dnldd/backtester/shared"
	"github.com/rs/zerolog"
)

var (
	// ErrMalformedFileName is returned when a market data file name cannot be parsed.
	ErrMalformedFileName = errors.New("malformed market data file name")
)

// FileInfo describes a stored market data file.
type FileInfo struct {
	Path           string
	Exchange       string
	Symbol         string
	MarketDataType shared.MarketDataType
	// DateStart is the date of the first record in unix milliseconds.
	DateStart int64
	// DateEnd is the date of the last record in unix milliseconds.
	DateEnd int64
}

// ParseFileName parses the exchange, symbol and market data type of the provided file name.
func ParseFileName(name string) (string, string, shared.MarketDataType, error) {
	base := filepath.Base(name)
	ext := strings.TrimPrefix(filepath.Ext(base), ".")
	if ext != KlineExtension && ext != TradeExtension {
		return "", "", 0, fmt.Errorf("%w: %q", ErrMalformedFileName, name)
	}

	parts := strings.Split(strings.TrimSuffix(base, "."+ext), "-")
	if len(parts) != 3 {
		return "", "", 0, fmt.Errorf("%w: %q", ErrMalformedFileName, name)
	}

	mdt, err := shared.ParseMarketDataType(parts[2])
	if err != nil {
		return "", "", 0, err
	}

	if (mdt == shared.Trades) != (ext == TradeExtension) {
		return "", "", 0, fmt.Errorf("%w: %q", ErrMalformedFileName, name)
	}

	return parts[0], strings.ToUpper(parts[1]), mdt, nil
}

// span returns the first and last record dates of the file at the provided path.
func span[T any](s *Store[T], path string) (int64, int64, error) {
	first, err := s.ReadFirst(path)
	if err != nil {
		return 0, 0, err
	}
	last, err := s.ReadLast(path)
	if err != nil {
		return 0, 0, err
	}

	return s.cfg.Codec.Date(first), s.cfg.Codec.Date(last), nil
}

// Describe returns the description of the market data file at the provided path.
func Describe(path string, logger *zerolog.Logger) (FileInfo, error) {
	exchange, symbol, mdt, err := ParseFileName(path)
	if err != nil {
		return FileInfo{}, err
	}

	info := FileInfo{
		Path:           path,
		Exchange:       exchange,
		Symbol:         symbol,
		MarketDataType: mdt,
	}

	if mdt == shared.Trades {
		info.DateStart, info.DateEnd, err = span(NewTradeStore(logger), path)
	} else {
		info.DateStart, info.DateEnd, err = span(NewKlineStore(logger), path)
	}
	if err != nil {
		return FileInfo{}, fmt.Errorf("describing %s: %w", path, err)
	}

	return info, nil
}

// Inventory describes every market data file in the provided data directory, sorted by path.
// Files that cannot be described are logged and skipped.
func Inventory(dataDir string, logger *zerolog.Logger) ([]FileInfo, error) {
	files := []string{}
	for _, ext := range []string{KlineExtension, TradeExtension} {
		set, err := ListFiles(dataDir, ext)
		if err != nil {
			return nil, err
		}
		files = append(files, set...)
	}
	sort.Strings(files)

	infos := make([]FileInfo, 0, len(files))
	for _, path := range files {
		info, err := Describe(path, logger)
		if err != nil {
			logger.Warn().Msgf("skipping market data file: %v", err)
			continue
		}
		infos = append(infos, info)
	}

	return infos, nil
}
