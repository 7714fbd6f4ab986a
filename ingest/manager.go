package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dnldd/backtester/fetch"
	"github.com/dnldd/backtester/shared"
	"github.com/dnldd/backtester/store"
	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

const (
	// maxWorkers is the maximum number of symbols ingested concurrently.
	maxWorkers = 4
)

// ArchiveDownloader defines the requirements for downloading market data archives.
type ArchiveDownloader interface {
	// Download fetches the provided archive and returns its local path.
	Download(ctx context.Context, symbol string, mdt shared.MarketDataType, name string) (string, error)
}

// ManagerConfig represents the configuration for the ingest manager.
type ManagerConfig struct {
	// Symbols represents the ingested symbols.
	Symbols []string
	// Exchange is the exchange the market data is sourced from.
	Exchange string
	// MarketDataType is the ingested market data type.
	MarketDataType shared.MarketDataType
	// DataDir is the directory market data files are stored in.
	DataDir string
	// Downloader fetches market data archives.
	Downloader ArchiveDownloader
	// ExchangeClient fetches klines for archives that are not yet published. Optional.
	ExchangeClient shared.MarketFetcher
	// KeepArchives retains downloaded archives after they are ingested.
	KeepArchives bool
	// RecordMarketData records the span of an updated market data file. Optional.
	RecordMarketData func(ctx context.Context, info store.FileInfo) error
	// JobScheduler represents the job scheduler. Optional, required for scheduled syncs.
	JobScheduler *gocron.Scheduler
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *ManagerConfig) Validate() error {
	var errs error

	if len(cfg.Symbols) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no symbols provided"))
	}
	if cfg.Exchange == "" {
		errs = errors.Join(errs, fmt.Errorf("exchange cannot be an empty string"))
	}
	if cfg.MarketDataType != shared.Trades && !cfg.MarketDataType.IsKline() {
		errs = errors.Join(errs, fmt.Errorf("unknown market data type %d", cfg.MarketDataType))
	}
	if cfg.DataDir == "" {
		errs = errors.Join(errs, fmt.Errorf("data directory cannot be an empty string"))
	}
	if cfg.Downloader == nil {
		errs = errors.Join(errs, fmt.Errorf("downloader cannot be nil"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// Manager ingests exchange archives into market data files.
type Manager struct {
	cfg         *ManagerConfig
	klineStore  *store.Store[shared.Kline]
	tradeStore  *store.Store[shared.Trade]
	workers     chan struct{}
	locks       map[string]*sync.Mutex
	ingested    atomic.Int64
	archives    atomic.Int64
	missing     atomic.Int64
	lastSynced  atomic.Int64
	now         func() time.Time
	jobStarted  atomic.Bool
	jobSchedule string
}

// NewManager initializes the ingest manager.
func NewManager(cfg *ManagerConfig) (*Manager, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating ingest manager config: %w", err)
	}

	locks := make(map[string]*sync.Mutex, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		locks[symbol] = new(sync.Mutex)
	}

	return &Manager{
		cfg:        cfg,
		klineStore: store.NewKlineStore(cfg.Logger),
		tradeStore: store.NewTradeStore(cfg.Logger),
		workers:    make(chan struct{}, maxWorkers),
		locks:      locks,
		now:        time.Now,
	}, nil
}

// Ingested returns the number of records stored since the manager was created.
func (m *Manager) Ingested() int64 {
	return m.ingested.Load()
}

// Archives returns the number of archives processed since the manager was created.
func (m *Manager) Archives() int64 {
	return m.archives.Load()
}

// Missing returns the number of archives that were not published when requested.
func (m *Manager) Missing() int64 {
	return m.missing.Load()
}

// LastSynced returns the end of the last completed run in unix milliseconds.
func (m *Manager) LastSynced() int64 {
	return m.lastSynced.Load()
}

// pipeline describes how records of a market data type are parsed and stored.
type pipeline[T any] struct {
	store *store.Store[T]
	parse fetch.RowParser[T]
	date  func(T) int64
	// fill completes records following the provided previous record date.
	fill func(records []T, previousLast *int64) []T
	// fetch fetches the records of [start, end] from the exchange when an archive is missing.
	fetch func(ctx context.Context, symbol string, start int64, end int64) ([]T, error)
}

// klinePipeline returns the kline pipeline of the manager.
func (m *Manager) klinePipeline() *pipeline[shared.Kline] {
	period := m.cfg.MarketDataType.Period()
	p := &pipeline[shared.Kline]{
		store: m.klineStore,
		parse: fetch.ParseKlineRow,
		date:  func(k shared.Kline) int64 { return k.Date },
		fill: func(records []shared.Kline, previousLast *int64) []shared.Kline {
			return store.FillGaps(records, period, previousLast)
		},
	}

	if m.cfg.ExchangeClient != nil {
		p.fetch = func(ctx context.Context, symbol string, start int64, end int64) ([]shared.Kline, error) {
			return m.cfg.ExchangeClient.FetchKlines(ctx, symbol, m.cfg.MarketDataType, start, end)
		}
	}

	return p
}

// tradePipeline returns the trade pipeline of the manager.
func (m *Manager) tradePipeline() *pipeline[shared.Trade] {
	return &pipeline[shared.Trade]{
		store: m.tradeStore,
		parse: fetch.ParseTradeRow,
		date:  func(t shared.Trade) int64 { return t.Date },
		fill: func(records []shared.Trade, _ *int64) []shared.Trade {
			return records
		},
	}
}

// after returns the records dated after the provided date.
func after[T any](records []T, date func(T) int64, last *int64) []T {
	if last == nil {
		return records
	}

	for idx, rec := range records {
		if date(rec) > *last {
			return records[idx:]
		}
	}

	return records[:0]
}

// ingestSymbol downloads and stores the archives of the provided symbol covering [start, end].
// Records dated at or before the last stored record are skipped so reruns only append new data.
func ingestSymbol[T any](ctx context.Context, m *Manager, p *pipeline[T], symbol string, start int64, end int64) (int, error) {
	mdt := m.cfg.MarketDataType
	path := store.Path(m.cfg.DataDir, m.cfg.Exchange, symbol, mdt)

	var previousLast *int64
	exists := false
	last, err := p.store.ReadLast(path)
	switch {
	case err == nil:
		date := p.date(last)
		previousLast = &date
		exists = true
	case errors.Is(err, store.ErrEmptyFile):
		exists = true
	case errors.Is(err, os.ErrNotExist):
	default:
		return 0, err
	}

	stored := 0
	for _, name := range fetch.ArchiveNames(symbol, mdt, start, end) {
		select {
		case <-ctx.Done():
			return stored, ctx.Err()
		default:
		}

		spanStart, spanEnd, err := fetch.ArchiveSpan(name)
		if err != nil {
			return stored, err
		}
		if previousLast != nil && spanEnd <= *previousLast+max(mdt.Period(), 1) {
			m.cfg.Logger.Debug().Msgf("skipping ingested archive %s", name)
			continue
		}

		var records []T
		archivePath, err := m.cfg.Downloader.Download(ctx, symbol, mdt, name)
		switch {
		case err == nil:
			records, err = fetch.ReadArchive(archivePath, p.parse, m.cfg.Logger)
			if err != nil {
				return stored, err
			}
			m.archives.Inc()

			if !m.cfg.KeepArchives {
				rerr := os.Remove(archivePath)
				if rerr != nil {
					m.cfg.Logger.Warn().Msgf("removing archive %s: %v", archivePath, rerr)
				}
			}

		case errors.Is(err, fetch.ErrArchiveNotFound):
			m.missing.Inc()
			if p.fetch == nil {
				m.cfg.Logger.Warn().Msgf("archive %s is not published, skipping", name)
				continue
			}

			from := spanStart
			if previousLast != nil {
				from = max(from, *previousLast+1)
			}
			to := min(spanEnd-1, m.now().UnixMilli())

			m.cfg.Logger.Info().Msgf("archive %s is not published, fetching %s klines from the exchange",
				name, symbol)
			records, err = p.fetch(ctx, symbol, from, to)
			if err != nil {
				return stored, err
			}

		default:
			return stored, err
		}

		records = p.fill(after(records, p.date, previousLast), previousLast)
		if len(records) == 0 {
			continue
		}

		if exists {
			err = p.store.Append(path, records)
		} else {
			err = p.store.Write(path, records)
		}
		if err != nil {
			return stored, err
		}

		exists = true
		date := p.date(records[len(records)-1])
		previousLast = &date
		stored += len(records)
		m.ingested.Add(int64(len(records)))
	}

	if exists && m.cfg.RecordMarketData != nil {
		info, err := store.Describe(path, m.cfg.Logger)
		if err != nil {
			return stored, err
		}

		err = m.cfg.RecordMarketData(ctx, info)
		if err != nil {
			return stored, fmt.Errorf("recording %s market data: %w", symbol, err)
		}
	}

	return stored, nil
}

// IngestSymbol ingests the market data of the provided symbol covering [start, end].
func (m *Manager) IngestSymbol(ctx context.Context, symbol string, start int64, end int64) (int, error) {
	lock, ok := m.locks[symbol]
	if !ok {
		return 0, fmt.Errorf("no ingestion configured for symbol %s", symbol)
	}

	lock.Lock()
	defer lock.Unlock()

	var stored int
	var err error
	if m.cfg.MarketDataType == shared.Trades {
		stored, err = ingestSymbol(ctx, m, m.tradePipeline(), symbol, start, end)
	} else {
		stored, err = ingestSymbol(ctx, m, m.klinePipeline(), symbol, start, end)
	}
	if err != nil {
		return stored, fmt.Errorf("ingesting %s %s: %w", symbol, m.cfg.MarketDataType, err)
	}

	m.cfg.Logger.Info().Msgf("ingested %d %s records for %s", stored, m.cfg.MarketDataType, symbol)

	return stored, nil
}

// Run ingests the market data of every configured symbol covering [start, end], running
// symbols concurrently.
func (m *Manager) Run(ctx context.Context, start int64, end int64) error {
	var wg sync.WaitGroup
	var mtx sync.Mutex
	var errs error

	for _, symbol := range m.cfg.Symbols {
		select {
		case <-ctx.Done():
			wg.Wait()
			return errors.Join(errs, ctx.Err())
		case m.workers <- struct{}{}:
		}

		wg.Add(1)
		go func(symbol string) {
			defer func() {
				<-m.workers
				wg.Done()
			}()

			_, err := m.IngestSymbol(ctx, symbol, start, end)
			if err != nil {
				mtx.Lock()
				errs = errors.Join(errs, err)
				mtx.Unlock()
			}
		}(symbol)
	}

	wg.Wait()

	if errs == nil {
		m.lastSynced.Store(end)
	}

	return errs
}

// syncJob ingests market data published since the last completed run up to now.
func (m *Manager) syncJob(ctx context.Context, start int64) {
	from := m.lastSynced.Load()
	if from == 0 {
		from = start
	}

	err := m.Run(ctx, from, m.now().UnixMilli())
	if err != nil {
		m.cfg.Logger.Error().Msgf("syncing market data: %v", err)
	}
}

// ScheduleSync schedules a daily ingestion run at the provided UTC time (hh:mm), covering the
// market data published since start or the last completed run.
func (m *Manager) ScheduleSync(ctx context.Context, at string, start int64) error {
	if m.cfg.JobScheduler == nil {
		return errors.New("job scheduler cannot be nil")
	}

	if !m.jobStarted.CAS(false, true) {
		return fmt.Errorf("sync already scheduled at %s", m.jobSchedule)
	}

	_, err := m.cfg.JobScheduler.Every(1).Day().At(at).Do(m.syncJob, ctx, start)
	if err != nil {
		m.jobStarted.Store(false)
		return fmt.Errorf("scheduling market data sync: %w", err)
	}

	m.jobSchedule = at
	m.cfg.JobScheduler.StartAsync()

	return nil
}
