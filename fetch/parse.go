package fetch

import (
	"archive/zip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/dnldd/backtester/shared"
	"github.com/rs/zerolog"
)

const (
	// microsecondThreshold is the smallest timestamp read as microseconds. Archives published
	// from 2025 onwards report times in microseconds.
	microsecondThreshold = int64(1e15)
)

var (
	// ErrEmptyArchive is returned when an archive holds no files.
	ErrEmptyArchive = errors.New("archive holds no files")
)

// RowParser parses a single CSV row into a record.
type RowParser[T any] func(row []string) (T, error)

// parseTime parses a unix timestamp into milliseconds.
func parseTime(field string) (int64, error) {
	ts, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(field, 64)
		if ferr != nil {
			return 0, fmt.Errorf("parsing time %q: %w", field, err)
		}
		ts = int64(f)
	}

	if ts >= microsecondThreshold {
		ts /= 1000
	}

	return ts, nil
}

// parseFloats parses the provided fields as floats.
func parseFloats(fields ...string) ([]float64, error) {
	values := make([]float64, len(fields))
	for idx, field := range fields {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing float %q: %w", field, err)
		}
		values[idx] = v
	}

	return values, nil
}

// ParseKlineRow parses an archive kline row, open_time,open,high,low,close,volume followed by
// columns that are ignored.
func ParseKlineRow(row []string) (shared.Kline, error) {
	if len(row) < 6 {
		return shared.Kline{}, fmt.Errorf("kline row expects at least 6 columns, got %d", len(row))
	}

	date, err := parseTime(row[0])
	if err != nil {
		return shared.Kline{}, err
	}

	values, err := parseFloats(row[1:6]...)
	if err != nil {
		return shared.Kline{}, err
	}

	return shared.Kline{
		Date:   date,
		Open:   values[0],
		High:   values[1],
		Low:    values[2],
		Close:  values[3],
		Volume: values[4],
	}, nil
}

// ParseTradeRow parses an archive trade row, id,price,qty,quote_qty,time followed by columns
// that are ignored.
func ParseTradeRow(row []string) (shared.Trade, error) {
	if len(row) < 5 {
		return shared.Trade{}, fmt.Errorf("trade row expects at least 5 columns, got %d", len(row))
	}

	id, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return shared.Trade{}, fmt.Errorf("parsing trade id %q: %w", row[0], err)
	}

	values, err := parseFloats(row[1:4]...)
	if err != nil {
		return shared.Trade{}, err
	}

	date, err := parseTime(row[4])
	if err != nil {
		return shared.Trade{}, err
	}

	return shared.Trade{
		ID:      id,
		Price:   values[0],
		Qty:     values[1],
		BaseQty: values[2],
		Date:    date,
	}, nil
}

// ParseCSV parses the headerless CSV data of the provided reader. Rows that cannot be parsed,
// including a header row, are skipped.
func ParseCSV[T any](r io.Reader, parse RowParser[T], logger *zerolog.Logger) ([]T, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	records := []T{}
	line := 0
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				logger.Warn().Msgf("skipping malformed csv line %d: %v", line, err)
				continue
			}
			return nil, fmt.Errorf("reading csv: %w", err)
		}

		record, err := parse(row)
		if err != nil {
			logger.Warn().Msgf("skipping csv line %d: %v", line, err)
			continue
		}

		records = append(records, record)
	}

	return records, nil
}

// ReadArchive parses the CSV file held by the archive at the provided path.
func ReadArchive[T any](path string, parse RowParser[T], logger *zerolog.Logger) ([]T, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", path, err)
	}
	defer archive.Close()

	if len(archive.File) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyArchive, path)
	}

	file := archive.File[0]
	rc, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s in archive %s: %w", file.Name, path, err)
	}
	defer rc.Close()

	records, err := ParseCSV(rc, parse, logger)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", file.Name, err)
	}

	logger.Debug().Msgf("read %d records from %s", len(records), file.Name)

	return records, nil
}
