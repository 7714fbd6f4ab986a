package grid

import (
	"errors"
	"fmt"

	"github.com/dnldd/backtester/shared"
	"github.com/rs/zerolog"
)

// EngineConfig represents the grid engine configuration.
type EngineConfig struct {
	// PriceLow is the lowest grid level.
	PriceLow float64
	// PriceHigh is the highest grid level.
	PriceHigh float64
	// GridCount is the number of intervals between the lowest and highest levels.
	GridCount int
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *EngineConfig) Validate() error {
	var errs error
	if cfg.GridCount <= 0 {
		errs = errors.Join(errs, fmt.Errorf("grid count must be positive, got %d", cfg.GridCount))
	}
	if cfg.PriceHigh <= cfg.PriceLow {
		errs = errors.Join(errs, fmt.Errorf("price high (%f) must be above price low (%f)",
			cfg.PriceHigh, cfg.PriceLow))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, errors.New("no logger provided"))
	}

	return errs
}

// Signal represents a fired grid level.
type Signal struct {
	// Index is the position of the fired level.
	Index int
	// Side is the side the level fired on.
	Side shared.Side
	// Price is the price of the fired level.
	Price float64
	// NextPrice is the adjacent level in the direction of profit, the level above for buys and
	// the level below for sells. It is zero when there is no such level.
	NextPrice float64
}

// Engine tracks price crossings over grid levels. A level that fires flips to the opposite side
// so it cannot fire again until price crosses it back.
type Engine struct {
	cfg         *EngineConfig
	triggers    []Trigger
	lastPrice   float64
	initialized bool
}

// NewEngine initializes a new grid engine.
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating grid engine config: %w", err)
	}

	return &Engine{cfg: cfg}, nil
}

// Triggers returns the grid levels.
func (e *Engine) Triggers() []Trigger {
	return e.triggers
}

// OnTick evaluates the provided price against the grid levels, returning the fired level if any.
// The levels are laid out around the first price received.
func (e *Engine) OnTick(price float64) (Signal, bool) {
	if !e.initialized {
		e.triggers = GenerateTriggers(e.cfg.PriceLow, e.cfg.PriceHigh, e.cfg.GridCount, price)
		e.lastPrice = price
		e.initialized = true
	}

	down := price <= e.lastPrice
	e.lastPrice = price

	if down {
		idx, ok := checkBuy(e.triggers, price)
		if !ok {
			return Signal{}, false
		}

		e.triggers[idx].Side = shared.Sell
		signal := Signal{
			Index:     idx,
			Side:      shared.Buy,
			Price:     e.triggers[idx].Price,
			NextPrice: e.triggers[idx+1].Price,
		}

		e.cfg.Logger.Debug().Msgf("buy level %d @ %f fired at %f", idx, signal.Price, price)
		return signal, true
	}

	idx, ok := checkSell(e.triggers, price)
	if !ok {
		return Signal{}, false
	}

	e.triggers[idx].Side = shared.Buy
	signal := Signal{
		Index: idx,
		Side:  shared.Sell,
		Price: e.triggers[idx].Price,
	}
	if idx > 0 {
		signal.NextPrice = e.triggers[idx-1].Price
	}

	e.cfg.Logger.Debug().Msgf("sell level %d @ %f fired at %f", idx, signal.Price, price)
	return signal, true
}
