package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dnldd/backtester/backtest"
	"github.com/dnldd/backtester/database"
	"github.com/dnldd/backtester/fetch"
	"github.com/dnldd/backtester/ingest"
	"github.com/dnldd/backtester/shared"
	"github.com/dnldd/backtester/store"
	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"golang.org/x/time/rate"
)

const (
	// archiveDir is the data path subdirectory archives are downloaded to.
	archiveDir = "archives"
)

// BacktesterConfig represents the configuration struct for the backtester service.
type BacktesterConfig struct {
	// DataPath is the directory market data files are stored in.
	DataPath string
	// Exchange is the exchange market data is ingested from.
	Exchange string
	// BinanceDataURL is the base url of the exchange market data archives.
	BinanceDataURL string
	// SettingsPath is the filepath to the JSON run settings.
	SettingsPath string
	// Ingest is the flag for ingesting market data before the run.
	Ingest bool
	// Schedule is the daily UTC time (hh:mm) market data is synced at after the run. Empty
	// disables scheduled syncs.
	Schedule string
	// DBEndpoint is the database endpoint, results are not persisted when empty.
	DBEndpoint string
	// DBUser is the database user.
	DBUser string
	// DBPass is the database user pass.
	DBPass string
	// BinanceKey is the exchange API key.
	BinanceKey string
	// BinanceSecret is the exchange API secret.
	BinanceSecret string
	// Cancel is the context cancellation function.
	Cancel context.CancelFunc
}

// Validate asserts the config sane inputs.
func (cfg *BacktesterConfig) Validate() error {
	var errs error

	if cfg.DataPath == "" {
		errs = errors.Join(errs, fmt.Errorf("data path cannot be an empty string"))
	}
	if cfg.SettingsPath == "" {
		errs = errors.Join(errs, fmt.Errorf("settings path cannot be an empty string"))
	}
	if cfg.Cancel == nil {
		errs = errors.Join(errs, fmt.Errorf("context cancellation function cannot be nil"))
	}
	if cfg.Ingest || cfg.Schedule != "" {
		if cfg.Exchange == "" {
			errs = errors.Join(errs, fmt.Errorf("exchange cannot be an empty string"))
		}
		if cfg.BinanceDataURL == "" {
			errs = errors.Join(errs, fmt.Errorf("binance data url cannot be an empty string"))
		}
	}

	return errs
}

// Backtester represents the backtesting service.
type Backtester struct {
	cfg           *BacktesterConfig
	run           *backtest.RunSettings
	driver        *backtest.Driver
	ingestManager *ingest.Manager
	jobScheduler  *gocron.Scheduler
	db            *database.Database
	notifyLogger  zerolog.Logger
	logger        *zerolog.Logger
}

// NewBacktester initializes a new backtester service.
func NewBacktester(ctx context.Context, cfg *BacktesterConfig) (*Backtester, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating backtester config: %w", err)
	}

	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	logger := log.With().Str("service", "backtester").Logger()

	run, err := backtest.LoadRunSettings(cfg.SettingsPath)
	if err != nil {
		return nil, fmt.Errorf("loading run settings: %v", err)
	}

	var db *database.Database
	if cfg.DBEndpoint != "" {
		dbLogger := logger.With().Str("component", "database").Logger()
		db, err = database.NewDatabase(ctx, &database.DatabaseConfig{
			Endpoint: cfg.DBEndpoint,
			User:     cfg.DBUser,
			Pass:     cfg.DBPass,
			Logger:   &dbLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating database: %v", err)
		}
	}

	jobScheduler := gocron.NewScheduler(time.UTC)

	var ingestMgr *ingest.Manager
	if cfg.Ingest || cfg.Schedule != "" {
		if run.Backtest.Exchange != cfg.Exchange {
			return nil, fmt.Errorf("run exchange %s cannot be ingested from %s", run.Backtest.Exchange,
				cfg.Exchange)
		}

		downloaderLogger := logger.With().Str("component", "downloader").Logger()
		downloader, err := fetch.NewDownloader(&fetch.DownloaderConfig{
			BaseURL:    cfg.BinanceDataURL,
			ArchiveDir: filepath.Join(cfg.DataPath, archiveDir),
			Limiter:    rate.NewLimiter(rate.Limit(5), 5),
			Retries:    fetch.DefaultRetries,
			Logger:     &downloaderLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating downloader: %v", err)
		}

		exchangeLogger := logger.With().Str("component", "exchange").Logger()
		exchange, err := fetch.NewExchangeClient(&fetch.ExchangeConfig{
			APIKey:    cfg.BinanceKey,
			SecretKey: cfg.BinanceSecret,
			Logger:    &exchangeLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating exchange client: %v", err)
		}

		var recordMarketData func(ctx context.Context, info store.FileInfo) error
		if db != nil {
			recordMarketData = db.RecordMarketData
		}

		var fetcher shared.MarketFetcher
		if run.Backtest.MarketDataType.IsKline() {
			fetcher = exchange
		}

		ingestLogger := logger.With().Str("component", "ingestmanager").Logger()
		ingestMgr, err = ingest.NewManager(&ingest.ManagerConfig{
			Symbols:          run.Backtest.Symbols,
			Exchange:         run.Backtest.Exchange,
			MarketDataType:   run.Backtest.MarketDataType,
			DataDir:          cfg.DataPath,
			Downloader:       downloader,
			ExchangeClient:   fetcher,
			RecordMarketData: recordMarketData,
			JobScheduler:     jobScheduler,
			Logger:           &ingestLogger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating ingest manager: %v", err)
		}
	}

	driverLogger := logger.With().Str("component", "driver").Logger()
	driver := backtest.NewDriver(&backtest.DriverConfig{
		LoadKlines: backtest.NewStoreLoader(store.NewKlineStore(&driverLogger), cfg.DataPath,
			run.Backtest.Exchange, run.Backtest.MarketDataType),
		Logger: &driverLogger,
	})

	return &Backtester{
		cfg:           cfg,
		run:           run,
		driver:        driver,
		ingestManager: ingestMgr,
		jobScheduler:  jobScheduler,
		db:            db,
		notifyLogger:  logger.With().Str("component", "notifier").Logger(),
		logger:        &logger,
	}, nil
}

// notify relays strategy notifications.
func (b *Backtester) notify(message string) {
	b.notifyLogger.Info().Msg(message)
}

// report logs the stored market data and, when a database is configured, the registered market
// data and previous results.
func (b *Backtester) report(ctx context.Context) error {
	infos, err := store.Inventory(b.cfg.DataPath, b.logger)
	if err != nil {
		return fmt.Errorf("listing market data: %w", err)
	}
	for _, info := range infos {
		b.logger.Info().Msgf("stored %s %s %s market data from %s to %s", info.Exchange, info.Symbol,
			info.MarketDataType, shared.FormatDate(info.DateStart), shared.FormatDate(info.DateEnd))
	}

	if b.db == nil {
		return nil
	}

	registered, err := b.db.FetchMarketData(ctx)
	if err != nil {
		return err
	}
	if len(registered) != len(infos) {
		b.logger.Warn().Msgf("%d market data files stored, %d registered", len(infos), len(registered))
	}

	summaries, err := b.db.FetchResultSummaries(ctx)
	if err != nil {
		return err
	}
	if len(summaries) > 0 {
		latest := summaries[0]
		b.logger.Info().Msgf("%d previous results, latest %s backtest of %v with %d positions, "+
			"profit %.2f (%.2f%%)", len(summaries), latest.Strategy, latest.Symbols,
			latest.PositionsNumber, latest.TotalProfit, latest.TotalProfitPercent)
	}

	return nil
}

// Backtest ingests the run's market data when configured, then backtests its strategies and
// persists the result.
func (b *Backtester) Backtest(ctx context.Context) (*backtest.Result, error) {
	settings := &b.run.Backtest

	err := os.MkdirAll(b.cfg.DataPath, 0o755)
	if err != nil {
		return nil, fmt.Errorf("creating data path: %w", err)
	}

	if b.cfg.Ingest {
		// The run end is exclusive.
		err := b.ingestManager.Run(ctx, settings.DateStart, settings.DateEnd-1)
		if err != nil {
			return nil, fmt.Errorf("ingesting market data: %w", err)
		}
	}

	err = b.report(ctx)
	if err != nil {
		return nil, err
	}

	strategies, err := b.run.NewStrategies(b.notify, b.logger)
	if err != nil {
		return nil, fmt.Errorf("creating strategies: %w", err)
	}

	res, err := b.driver.Run(ctx, settings, strategies)
	if err != nil {
		return nil, err
	}

	m := res.Metrics
	b.logger.Info().Msgf("%s backtest of %v from %s to %s: %d positions, profit %.2f (%.2f%%), "+
		"max drawdown %.2f (%.2f%%), sortino %.4f", b.run.Kind, settings.Symbols,
		shared.FormatDate(settings.DateStart), shared.FormatDate(settings.DateEnd), m.PositionsNumber,
		m.TotalProfit, m.TotalProfitPercent, m.MaxDrawdown, m.Drawdown, m.Sortino)

	if b.db != nil {
		err = b.db.PersistResult(ctx, b.run.Kind.String(), res)
		if err != nil {
			return nil, fmt.Errorf("persisting result: %w", err)
		}
	}

	return res, nil
}

// Run handles the lifecycle processes of the backtester service.
func (b *Backtester) Run(ctx context.Context) error {
	defer b.cfg.Cancel()

	_, err := b.Backtest(ctx)
	if err != nil {
		return err
	}

	if b.cfg.Schedule == "" {
		return nil
	}

	err = b.ingestManager.ScheduleSync(ctx, b.cfg.Schedule, b.run.Backtest.DateStart)
	if err != nil {
		return err
	}

	b.logger.Info().Msgf("syncing market data daily at %s UTC", b.cfg.Schedule)

	<-ctx.Done()
	b.jobScheduler.Stop()

	return nil
}
