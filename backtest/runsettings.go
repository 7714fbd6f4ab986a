package backtest

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dnldd/backtester/shared"
	"github.com/dnldd/backtester/strategy"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// StrategyKind represents the kind of strategy a run backtests.
type StrategyKind int

const (
	GridKind StrategyKind = iota
	HODLKind
)

// String stringifies the provided strategy kind.
func (k StrategyKind) String() string {
	switch k {
	case GridKind:
		return "grid"
	case HODLKind:
		return "hodl"
	default:
		return "unknown"
	}
}

// ParseStrategyKind parses the provided strategy kind.
func ParseStrategyKind(kind string) (StrategyKind, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "grid":
		return GridKind, nil
	case "hodl":
		return HODLKind, nil
	default:
		return 0, fmt.Errorf("unknown strategy kind %q", kind)
	}
}

// RunSettings represents a complete backtest run definition.
type RunSettings struct {
	Kind     StrategyKind
	Backtest Settings
	Grid     strategy.GridSettings
	HODL     strategy.HODLSettings
}

// optionalFloat returns a pointer to the value at the provided path if it is set.
func optionalFloat(res gjson.Result, path string) *float64 {
	v := res.Get(path)
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}

	f := v.Float()
	return &f
}

// parseDate parses a date given either as a yyyy-mm-dd string or unix milliseconds.
func parseDate(res gjson.Result, path string) (int64, error) {
	v := res.Get(path)
	switch v.Type {
	case gjson.String:
		return shared.ParseDate(v.String())
	case gjson.Number:
		return v.Int(), nil
	default:
		return 0, fmt.Errorf("no %s provided", path)
	}
}

// ParseRunSettings parses the provided JSON run definition.
func ParseRunSettings(data []byte) (*RunSettings, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("run settings are not valid json")
	}

	res := gjson.ParseBytes(data)

	kind, err := ParseStrategyKind(res.Get("strategy").String())
	if err != nil {
		return nil, err
	}

	mdt, err := shared.ParseMarketDataType(res.Get("market_data_type").String())
	if err != nil {
		return nil, err
	}

	dateStart, err := parseDate(res, "date_start")
	if err != nil {
		return nil, err
	}
	dateEnd, err := parseDate(res, "date_end")
	if err != nil {
		return nil, err
	}

	symbols := []string{}
	for _, symbol := range res.Get("symbols").Array() {
		symbols = append(symbols, strings.ToUpper(symbol.String()))
	}

	run := &RunSettings{
		Kind: kind,
		Backtest: Settings{
			Symbols:        symbols,
			Exchange:       strings.ToLower(res.Get("exchange").String()),
			MarketDataType: mdt,
			DateStart:      dateStart,
			DateEnd:        dateEnd,
			Deposit:        res.Get("deposit").Float(),
			Commission:     res.Get("commission").Float(),
			ChunkSize:      int(res.Get("chunk_size").Int()),
		},
	}

	switch kind {
	case GridKind:
		run.Grid = strategy.GridSettings{
			PriceLow:   res.Get("grid.price_low").Float(),
			PriceHigh:  res.Get("grid.price_high").Float(),
			GridCount:  int(res.Get("grid.grids_count").Int()),
			Trigger:    optionalFloat(res, "grid.grid_trigger"),
			TakeProfit: optionalFloat(res, "grid.grid_tp"),
			StopLoss:   optionalFloat(res, "grid.grid_sl"),
			SellAll:    res.Get("grid.sell_all").Bool(),
		}
	case HODLKind:
		run.HODL = strategy.HODLSettings{
			PurchasePeriod: res.Get("hodl.purchase_period").Int(),
			PurchaseSize:   res.Get("hodl.purchase_size").Float(),
		}
	}

	err = run.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating run settings: %w", err)
	}

	return run, nil
}

// LoadRunSettings reads and parses the JSON run definition at the provided path.
func LoadRunSettings(path string) (*RunSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run settings: %w", err)
	}

	return ParseRunSettings(data)
}

// Validate asserts the run settings sane inputs.
func (r *RunSettings) Validate() error {
	errs := r.Backtest.Validate()
	switch r.Kind {
	case GridKind:
		errs = errors.Join(errs, r.Grid.Validate())
	case HODLKind:
		errs = errors.Join(errs, r.HODL.Validate())
	}

	return errs
}

// NewStrategies initializes a strategy per symbol of the run.
func (r *RunSettings) NewStrategies(notify func(message string), logger *zerolog.Logger) ([]strategy.Strategy, error) {
	strategies := make([]strategy.Strategy, 0, len(r.Backtest.Symbols))
	for _, s := range StrategiesSettings(&r.Backtest) {
		cfg := &strategy.Config{
			Symbol:     s.Symbol,
			Deposit:    s.Deposit,
			Commission: s.Commission,
			Notify:     notify,
			Logger:     logger,
		}

		switch r.Kind {
		case GridKind:
			g, err := strategy.NewGrid(cfg, r.Grid)
			if err != nil {
				return nil, err
			}
			strategies = append(strategies, g)
		case HODLKind:
			h, err := strategy.NewHODL(cfg, r.HODL)
			if err != nil {
				return nil, err
			}
			strategies = append(strategies, h)
		default:
			return nil, fmt.Errorf("unknown strategy kind %s", r.Kind)
		}
	}

	return strategies, nil
}
