package strategy

import (
	"errors"
	"fmt"

	"github.com/dnldd/backtester/grid"
	"github.com/dnldd/backtester/position"
	"github.com/dnldd/backtester/shared"
	"github.com/google/uuid"
)

// GridSettings represents the parameters of a grid strategy.
type GridSettings struct {
	PriceLow  float64
	PriceHigh float64
	GridCount int
	// Trigger is the price at or below which the grid activates.
	Trigger *float64
	// TakeProfit is the price at or above which the grid stops trading.
	TakeProfit *float64
	// StopLoss is the price at or below which the grid stops trading. Every grid buy also rests a
	// stop loss order at this price.
	StopLoss *float64
	// SellAll force closes all positions once trading stops.
	SellAll bool
}

// Validate asserts the settings sane inputs.
func (s *GridSettings) Validate() error {
	var errs error
	if s.GridCount <= 0 {
		errs = errors.Join(errs, fmt.Errorf("grid count must be positive, got %d", s.GridCount))
	}
	if s.PriceHigh <= s.PriceLow {
		errs = errors.Join(errs, fmt.Errorf("price high (%f) must be above price low (%f)",
			s.PriceHigh, s.PriceLow))
	}
	if s.TakeProfit != nil && s.StopLoss != nil && *s.TakeProfit <= *s.StopLoss {
		errs = errors.Join(errs, fmt.Errorf("take profit (%f) must be above stop loss (%f)",
			*s.TakeProfit, *s.StopLoss))
	}

	return errs
}

// Grid buys each time price falls through a grid level and takes profit one level higher.
type Grid struct {
	base
	settings  GridSettings
	engine    *grid.Engine
	orderSize float64
	active    bool
	stopped   bool
}

// Ensure the grid strategy implements the Strategy interface.
var _ Strategy = (*Grid)(nil)

// NewGrid initializes a new grid strategy.
func NewGrid(cfg *Config, settings GridSettings) (*Grid, error) {
	err := settings.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating grid settings: %w", err)
	}

	engine, err := grid.NewEngine(&grid.EngineConfig{
		PriceLow:  settings.PriceLow,
		PriceHigh: settings.PriceHigh,
		GridCount: settings.GridCount,
		Logger:    cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Grid{
		base:      newBase(cfg),
		settings:  settings,
		engine:    engine,
		orderSize: cfg.Deposit / float64(settings.GridCount),
	}, nil
}

// OrderSize returns the quote amount spent per grid buy.
func (g *Grid) OrderSize() float64 {
	return g.orderSize
}

// Stopped checks whether the grid stopped trading after crossing its take profit or stop loss.
func (g *Grid) Stopped() bool {
	return g.stopped
}

// RunKline processes the next kline if it is dated at the provided timestamp.
func (g *Grid) RunKline(ts int64) {
	kline, ok := g.next(ts)
	if !ok {
		return
	}

	g.checkOrders(kline)
	if g.stopped {
		return
	}

	tp, sl := g.settings.TakeProfit, g.settings.StopLoss
	if (tp != nil && kline.Close >= *tp) || (sl != nil && kline.Close <= *sl) {
		g.stopped = true
		g.cfg.Logger.Info().Msgf("%s grid stopped at %f", g.cfg.Symbol, kline.Close)
		if g.settings.SellAll {
			g.CloseAllPositions(kline.Date, kline.Close)
		}
		return
	}

	if !g.active {
		if g.settings.Trigger != nil && kline.Close > *g.settings.Trigger {
			return
		}

		g.active = true
		g.cfg.Logger.Info().Msgf("%s grid activated at %f", g.cfg.Symbol, kline.Close)
	}

	signal, ok := g.engine.OnTick(kline.Close)
	if !ok || signal.Side != shared.Buy {
		// Sells are left to the resting take profit and stop loss orders.
		return
	}

	if !g.affordable(kline.Close, g.orderSize) {
		return
	}

	pos, ok := g.positions.Current()
	if !ok {
		pos = g.positions.Open()
	}

	order := g.buy(pos, kline.Date, signal.Price, kline.Close, g.orderSize)
	qty := order.FilledQty()

	group := uuid.New().String()
	takeProfit := position.NewOrder(kline.Date, shared.TakeProfitMarket, shared.Sell, signal.NextPrice, qty)
	takeProfit.GroupID = group
	pos.AddOrder(takeProfit)

	if sl != nil {
		stopLoss := position.NewOrder(kline.Date, shared.StopMarket, shared.Sell, *sl, qty)
		stopLoss.GroupID = group
		pos.AddOrder(stopLoss)
	}
}
