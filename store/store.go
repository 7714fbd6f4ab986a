package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dnldd/backtester/shared"
	"github.com/rs/zerolog"
	"golang.org/x/exp/mmap"
)

const (
	// KlineExtension is the file extension for kline market data.
	KlineExtension = "marketdata"
	// TradeExtension is the file extension for trade market data.
	TradeExtension = "markettrades"
)

var (
	// ErrMalformedFile is returned when a file's size is not a multiple of the record size.
	ErrMalformedFile = errors.New("malformed market data file")
	// ErrEmptyFile is returned when a record is requested from a file with no records.
	ErrEmptyFile = errors.New("empty market data file")
)

// FileName returns the market data file name for the provided exchange, symbol and type.
func FileName(exchange string, symbol string, mdt shared.MarketDataType) string {
	ext := KlineExtension
	if mdt == shared.Trades {
		ext = TradeExtension
	}

	return strings.ToLower(fmt.Sprintf("%s-%s-%s.%s", exchange, symbol, mdt.String(), ext))
}

// Path returns the full market data file path within the provided data directory.
func Path(dataDir string, exchange string, symbol string, mdt shared.MarketDataType) string {
	return filepath.Join(dataDir, FileName(exchange, symbol, mdt))
}

// ListFiles lists the files in the provided directory with the given extension.
func ListFiles(dir string, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.TrimPrefix(filepath.Ext(entry.Name()), ".") != ext {
			continue
		}

		files = append(files, filepath.Join(dir, entry.Name()))
	}

	return files, nil
}

// StoreConfig represents the configuration of a time series store.
type StoreConfig[T any] struct {
	// Codec encodes and decodes the stored records.
	Codec shared.Codec[T]
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Store reads and writes append-only files of fixed size records.
type Store[T any] struct {
	cfg *StoreConfig[T]
}

// NewStore initializes a new time series store.
func NewStore[T any](cfg *StoreConfig[T]) *Store[T] {
	return &Store[T]{cfg: cfg}
}

// NewKlineStore initializes a store for kline records.
func NewKlineStore(logger *zerolog.Logger) *Store[shared.Kline] {
	return NewStore(&StoreConfig[shared.Kline]{Codec: shared.KlineCodec{}, Logger: logger})
}

// NewTradeStore initializes a store for trade records.
func NewTradeStore(logger *zerolog.Logger) *Store[shared.Trade] {
	return NewStore(&StoreConfig[shared.Trade]{Codec: shared.TradeCodec{}, Logger: logger})
}

// save writes the provided records to the file opened with the provided flags.
func (s *Store[T]) save(path string, flags int, records []T) error {
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return err
	}

	_, err = f.Write(shared.EncodeAll(s.cfg.Codec, records))
	if err != nil {
		f.Close()
		return err
	}

	// Flush to disk so readers never observe a partially written batch.
	err = f.Sync()
	if err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

// Write creates or truncates the file at the provided path and writes the records to it.
func (s *Store[T]) Write(path string, records []T) error {
	err := s.save(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, records)
	if err != nil {
		return fmt.Errorf("writing %d records to %s: %w", len(records), path, err)
	}

	s.cfg.Logger.Debug().Msgf("wrote %d records to %s", len(records), path)
	return nil
}

// Append appends the provided records to the existing file at the provided path.
func (s *Store[T]) Append(path string, records []T) error {
	err := s.save(path, os.O_APPEND|os.O_WRONLY, records)
	if err != nil {
		return fmt.Errorf("appending %d records to %s: %w", len(records), path, err)
	}

	s.cfg.Logger.Debug().Msgf("appended %d records to %s", len(records), path)
	return nil
}

// view is a read-only memory mapped view over a record file.
type view[T any] struct {
	codec  shared.Codec[T]
	reader *mmap.ReaderAt
	count  int
	buf    []byte
}

// open maps the file at the provided path and validates its size.
func (s *Store[T]) open(path string) (*view[T], error) {
	reader, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}

	size := s.cfg.Codec.Size()
	if reader.Len()%size != 0 {
		reader.Close()
		return nil, fmt.Errorf("%w: %s has %d bytes, not a multiple of %d", ErrMalformedFile,
			path, reader.Len(), size)
	}

	return &view[T]{
		codec:  s.cfg.Codec,
		reader: reader,
		count:  reader.Len() / size,
		buf:    make([]byte, size),
	}, nil
}

// record decodes the record at the provided index.
func (v *view[T]) record(idx int) (T, error) {
	size := v.codec.Size()
	_, err := v.reader.ReadAt(v.buf, int64(idx*size))
	if err != nil {
		var zero T
		return zero, fmt.Errorf("reading record %d: %w", idx, err)
	}

	return v.codec.Decode(v.buf)
}

// date returns the timestamp of the record at the provided index.
func (v *view[T]) date(idx int) (int64, error) {
	rec, err := v.record(idx)
	if err != nil {
		return 0, err
	}

	return v.codec.Date(rec), nil
}

// close unmaps the view.
func (v *view[T]) close() error {
	return v.reader.Close()
}

// ReadAll reads every record in the file at the provided path.
func (s *Store[T]) ReadAll(path string) ([]T, error) {
	v, err := s.open(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	defer v.close()

	records := make([]T, 0, v.count)
	for idx := range v.count {
		rec, err := v.record(idx)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		records = append(records, rec)
	}

	return records, nil
}

// ReadFirst reads the first record in the file at the provided path.
func (s *Store[T]) ReadFirst(path string) (T, error) {
	var zero T
	v, err := s.open(path)
	if err != nil {
		return zero, fmt.Errorf("reading first record of %s: %w", path, err)
	}
	defer v.close()

	if v.count == 0 {
		return zero, fmt.Errorf("reading first record of %s: %w", path, ErrEmptyFile)
	}

	return v.record(0)
}

// ReadLast reads the last record in the file at the provided path.
func (s *Store[T]) ReadLast(path string) (T, error) {
	var zero T
	v, err := s.open(path)
	if err != nil {
		return zero, fmt.Errorf("reading last record of %s: %w", path, err)
	}
	defer v.close()

	if v.count == 0 {
		return zero, fmt.Errorf("reading last record of %s: %w", path, ErrEmptyFile)
	}

	return v.record(v.count - 1)
}

// ReadRange reads the records dated within [dateStart, dateEnd] from the file at the provided
// path. Records are expected to be spaced period milliseconds apart, which is used to jump
// straight to the range bounds. Irregular spacing is tolerated by walking the estimated bounds
// outwards before filtering. A zero period locates the bounds by binary search instead.
func (s *Store[T]) ReadRange(path string, dateStart int64, dateEnd int64, period int64) ([]T, error) {
	v, err := s.open(path)
	if err != nil {
		return nil, fmt.Errorf("reading range from %s: %w", path, err)
	}
	defer v.close()

	records, err := v.readRange(dateStart, dateEnd, period)
	if err != nil {
		return nil, fmt.Errorf("reading range from %s: %w", path, err)
	}

	return records, nil
}

// readRange implements the range extraction over the mapped view.
func (v *view[T]) readRange(dateStart int64, dateEnd int64, period int64) ([]T, error) {
	if v.count == 0 || dateStart > dateEnd {
		return []T{}, nil
	}

	first, err := v.date(0)
	if err != nil {
		return nil, err
	}
	last, err := v.date(v.count - 1)
	if err != nil {
		return nil, err
	}

	if dateEnd < first || dateStart > last {
		return []T{}, nil
	}

	var lo, hi int
	switch {
	case period > 0:
		lo, hi, err = v.estimateBounds(dateStart, dateEnd, first, last, period)
	default:
		lo, hi, err = v.searchBounds(dateStart, dateEnd)
	}
	if err != nil {
		return nil, err
	}

	records := make([]T, 0, max(hi-lo+1, 0))
	for idx := lo; idx <= hi; idx++ {
		rec, err := v.record(idx)
		if err != nil {
			return nil, err
		}

		date := v.codec.Date(rec)
		if date >= dateStart && date <= dateEnd {
			records = append(records, rec)
		}
	}

	return records, nil
}

// estimateBounds computes the index bounds from the expected record spacing and corrects them
// for drift caused by missing or extra records.
func (v *view[T]) estimateBounds(dateStart int64, dateEnd int64, first int64, last int64, period int64) (int, int, error) {
	lo := 0
	if dateStart > first {
		lo = min(int((dateStart-first)/period), v.count-1)
	}

	hi := v.count - 1
	if dateEnd < last {
		hi = max(v.count-1-int((last-dateEnd)/period), 0)
	}

	// Walk the lower bound back while the preceding record is still in range.
	for lo > 0 {
		prev, err := v.date(lo - 1)
		if err != nil {
			return 0, 0, err
		}
		if prev < dateStart {
			break
		}
		lo--
	}

	// Walk the upper bound forward while the next record is still in range.
	for hi < v.count-1 {
		next, err := v.date(hi + 1)
		if err != nil {
			return 0, 0, err
		}
		if next > dateEnd {
			break
		}
		hi++
	}

	return lo, hi, nil
}

// searchBounds locates the index bounds by binary search over the record dates.
func (v *view[T]) searchBounds(dateStart int64, dateEnd int64) (int, int, error) {
	var searchErr error
	dateAt := func(idx int) int64 {
		date, err := v.date(idx)
		if err != nil && searchErr == nil {
			searchErr = err
		}
		return date
	}

	lo := sort.Search(v.count, func(i int) bool { return dateAt(i) >= dateStart })
	hi := sort.Search(v.count, func(i int) bool { return dateAt(i) > dateEnd }) - 1
	if searchErr != nil {
		return 0, 0, searchErr
	}

	return lo, hi, nil
}
