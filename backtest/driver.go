package backtest

import (
	"context"
	"errors"
	"fmt"

	"github.com/dnldd/backtester/metrics"
	"github.com/dnldd/backtester/position"
	"github.com/dnldd/backtester/shared"
	"github.com/dnldd/backtester/store"
	"github.com/dnldd/backtester/strategy"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LoadKlinesFunc loads the klines of a symbol dated within [dateStart, dateEnd].
type LoadKlinesFunc func(symbol string, dateStart int64, dateEnd int64) ([]shared.Kline, error)

// NewStoreLoader returns a kline loader reading the provided store's files in the data directory
// and filling any gaps in the result.
func NewStoreLoader(st *store.Store[shared.Kline], dataDir string, exchange string, mdt shared.MarketDataType) LoadKlinesFunc {
	return func(symbol string, dateStart int64, dateEnd int64) ([]shared.Kline, error) {
		path := store.Path(dataDir, exchange, symbol, mdt)
		klines, err := st.ReadRange(path, dateStart, dateEnd, mdt.Period())
		if err != nil {
			return nil, err
		}

		return store.FillGaps(klines, mdt.Period(), nil), nil
	}
}

// DriverConfig represents the backtest driver configuration.
type DriverConfig struct {
	// LoadKlines loads the klines of each chunk of the run. When nil the strategies step through
	// the klines they were given up front.
	LoadKlines LoadKlinesFunc
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Driver steps strategies through a shared timeline.
type Driver struct {
	cfg *DriverConfig
}

// NewDriver initializes a new backtest driver.
func NewDriver(cfg *DriverConfig) *Driver {
	return &Driver{cfg: cfg}
}

// Result represents the outcome of a backtest run.
type Result struct {
	ID            string
	Settings      Settings
	Positions     []*position.Position
	Metrics       metrics.Metrics
	StartDeposit  float64
	FinishDeposit float64
}

// chunks splits the provided timeline into runs of at most size timestamps.
func chunks(timeline []int64, size int) [][]int64 {
	if size <= 0 || size >= len(timeline) {
		return [][]int64{timeline}
	}

	set := make([][]int64, 0, (len(timeline)+size-1)/size)
	for start := 0; start < len(timeline); start += size {
		set = append(set, timeline[start:min(start+size, len(timeline))])
	}

	return set
}

// RunSequentially steps every strategy through each timestamp of the run in order, then closes
// every strategy's remaining positions at the last kline it processed.
func (d *Driver) RunSequentially(ctx context.Context, settings *Settings, strategies []strategy.Strategy) error {
	timeline, err := GenerateTimePeriod(settings.MarketDataType, settings.DateStart, settings.DateEnd)
	if err != nil {
		return err
	}

	for _, chunk := range chunks(timeline, settings.ChunkSize) {
		if len(chunk) == 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if d.cfg.LoadKlines != nil {
			for _, s := range strategies {
				klines, err := d.cfg.LoadKlines(s.Symbol(), chunk[0], chunk[len(chunk)-1])
				if err != nil {
					return fmt.Errorf("loading %s klines: %w", s.Symbol(), err)
				}
				s.SetKlines(klines)
			}
		}

		for _, ts := range chunk {
			for _, s := range strategies {
				s.RunKline(ts)
			}
		}

		d.cfg.Logger.Debug().Msgf("processed chunk %s to %s", shared.FormatDate(chunk[0]),
			shared.FormatDate(chunk[len(chunk)-1]))
	}

	for _, s := range strategies {
		last, ok := s.LastKline()
		if !ok {
			d.cfg.Logger.Warn().Msgf("%s processed no klines", s.Symbol())
			continue
		}

		s.CloseAllPositions(last.Date, last.Close)
	}

	return nil
}

// PositionsFromStrategies collects the closed positions of the provided strategies.
func PositionsFromStrategies(strategies []strategy.Strategy) []*position.Position {
	positions := []*position.Position{}
	for _, s := range strategies {
		positions = append(positions, s.ClosedPositions()...)
	}

	return positions
}

// Run backtests the provided strategies and summarises the outcome.
func (d *Driver) Run(ctx context.Context, settings *Settings, strategies []strategy.Strategy) (*Result, error) {
	if len(strategies) == 0 {
		return nil, errors.New("no strategies provided")
	}

	err := d.RunSequentially(ctx, settings, strategies)
	if err != nil {
		return nil, fmt.Errorf("running backtest: %w", err)
	}

	var startDeposit, finishDeposit float64
	for _, s := range strategies {
		startDeposit += s.Deposit()
		finishDeposit += s.Budget()
	}

	positions := PositionsFromStrategies(strategies)
	result := &Result{
		ID:            uuid.New().String(),
		Settings:      *settings,
		Positions:     positions,
		Metrics:       metrics.New(positions, startDeposit, finishDeposit),
		StartDeposit:  startDeposit,
		FinishDeposit: finishDeposit,
	}

	d.cfg.Logger.Info().Msgf("backtest %s closed %d positions, total profit %f", result.ID,
		len(positions), result.Metrics.TotalProfit)

	return result, nil
}
