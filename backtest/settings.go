package backtest

import (
	"errors"
	"fmt"

	"github.com/dnldd/backtester/shared"
)

// Settings represents the parameters of a backtest run.
type Settings struct {
	// Symbols are the symbols backtested, one strategy per symbol.
	Symbols []string
	// Exchange is the exchange the market data was sourced from.
	Exchange string
	// MarketDataType is the kline interval stepped through.
	MarketDataType shared.MarketDataType
	// DateStart is the inclusive start of the run in unix milliseconds.
	DateStart int64
	// DateEnd is the exclusive end of the run in unix milliseconds.
	DateEnd int64
	// Deposit is the starting budget of each strategy.
	Deposit float64
	// Commission is the commission charged per fill, in percent.
	Commission float64
	// ChunkSize is the number of timestamps klines are loaded for at a time, zero loads the
	// whole run at once.
	ChunkSize int
}

// Validate asserts the settings sane inputs.
func (s *Settings) Validate() error {
	var errs error
	if len(s.Symbols) == 0 {
		errs = errors.Join(errs, errors.New("no symbols provided"))
	}
	if s.Exchange == "" {
		errs = errors.Join(errs, errors.New("no exchange provided"))
	}
	if !s.MarketDataType.IsKline() {
		errs = errors.Join(errs, fmt.Errorf("market data type %s cannot be stepped through",
			s.MarketDataType))
	}
	if s.DateEnd <= s.DateStart {
		errs = errors.Join(errs, fmt.Errorf("date end (%d) must be after date start (%d)",
			s.DateEnd, s.DateStart))
	}
	if s.Deposit <= 0 {
		errs = errors.Join(errs, fmt.Errorf("deposit must be positive, got %f", s.Deposit))
	}
	if s.Commission < 0 {
		errs = errors.Join(errs, fmt.Errorf("commission cannot be negative, got %f", s.Commission))
	}
	if s.ChunkSize < 0 {
		errs = errors.Join(errs, fmt.Errorf("chunk size cannot be negative, got %d", s.ChunkSize))
	}

	return errs
}

// StrategySettings represents the run parameters of a single strategy.
type StrategySettings struct {
	Symbol         string
	Exchange       string
	MarketDataType shared.MarketDataType
	Deposit        float64
	Commission     float64
	DateStart      int64
	DateEnd        int64
}

// StrategiesSettings derives the settings of every strategy in the provided run.
func StrategiesSettings(settings *Settings) []StrategySettings {
	set := make([]StrategySettings, 0, len(settings.Symbols))
	for _, symbol := range settings.Symbols {
		set = append(set, StrategySettings{
			Symbol:         symbol,
			Exchange:       settings.Exchange,
			MarketDataType: settings.MarketDataType,
			Deposit:        settings.Deposit,
			Commission:     settings.Commission,
			DateStart:      settings.DateStart,
			DateEnd:        settings.DateEnd,
		})
	}

	return set
}

// GenerateTimePeriod returns the timestamps from start up to but excluding end, one period of
// the provided market data type apart.
func GenerateTimePeriod(mdt shared.MarketDataType, dateStart int64, dateEnd int64) ([]int64, error) {
	period := mdt.Period()
	if period <= 0 {
		return nil, fmt.Errorf("generating time period: %s has no fixed period", mdt)
	}

	if dateEnd <= dateStart {
		return []int64{}, nil
	}

	timeline := make([]int64, 0, (dateEnd-dateStart+period-1)/period)
	for ts := dateStart; ts < dateEnd; ts += period {
		timeline = append(timeline, ts)
	}

	return timeline, nil
}
