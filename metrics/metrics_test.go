package metrics

import (
	"math"
	"testing"

	"github.com/dnldd/backtester/position"
	"github.com/dnldd/backtester/shared"
	"github.com/peterldowns/testy/assert"
)

// closedPosition builds a closed position of one unit bought at buy and sold at sell, closing at
// the provided date.
func closedPosition(symbol string, buy float64, sell float64, closeDate int64) *position.Position {
	pos := position.NewPosition(symbol)
	pos.AddOrder(position.NewMarketOrder(1502942400, shared.Buy, buy, 1, 0))
	pos.AddOrder(position.NewMarketOrder(closeDate, shared.Sell, sell, 1, 0))
	pos.Status = position.Closed
	pos.CalculatePnL()
	return pos
}

func fixture() []*position.Position {
	return []*position.Position{
		closedPosition("USD_BTC", 100, 120, 1502946000),
		closedPosition("USD_ETH", 100, 120, 1502946001),
		closedPosition("USD_ETH", 100, 80, 1502946002),
		closedPosition("USD_ETH", 100, 60, 1502946003),
	}
}

func almostEqual(a float64, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestMetrics(t *testing.T) {
	positions := fixture()
	m := New(positions, 1000, 980)

	assert.Equal(t, m.PositionsNumber, 4)
	assert.Equal(t, m.ProfitPositionsNumber, 2)
	assert.Equal(t, m.LossPositionsNumber, 2)
	assert.Equal(t, m.ProfitPositionsPercent, float64(50))
	assert.Equal(t, m.LossPositionsPercent, float64(50))
	assert.Equal(t, m.AverageProfitPosition, float64(20))
	assert.Equal(t, m.AverageLossPosition, float64(-30))
	assert.Equal(t, m.NumberOfCurrency, 2)
	assert.Equal(t, m.ProfitPerPositionInPercent, float64(10))
	assert.True(t, almostEqual(m.ProfitFactor, 0.6666666666666666))
	assert.Equal(t, m.ExpectedPayoff, float64(50*20+50*-30))
	assert.True(t, almostEqual(m.Sortino, -5.612486080160912))
	assert.Equal(t, m.AveragePositionSize, float64(100))
	assert.Equal(t, m.TotalProfit, float64(-20))
	assert.Equal(t, m.TotalProfitPercent, float64(-2))
	assert.Equal(t, m.MaxUseOfFunds, float64(100))

	// Ensure drawdown follows the balance in close order: 1020, 1040, 1020, 980.
	assert.Equal(t, m.MaxDeposit, float64(1040))
	assert.Equal(t, m.MaxDrawdown, float64(60))
	assert.True(t, almostEqual(m.Drawdown, 60.0/1040*100))
}

func TestMetricsEdgeCases(t *testing.T) {
	// Ensure no positions yields the zero value.
	assert.Equal(t, New(nil, 100, 100), Metrics{})

	// Ensure ratios guard against missing losses and a zero deposit.
	wins := []*position.Position{closedPosition("BTCUSDT", 100, 110, 2)}
	m := New(wins, 0, 10)
	assert.Equal(t, m.ProfitFactor, float64(0))
	assert.Equal(t, m.Sortino, float64(0))
	assert.Equal(t, m.TotalProfitPercent, float64(0))
	assert.Equal(t, m.LossPositionsPercent, float64(0))
	assert.Equal(t, m.AverageLossPosition, float64(0))

	// Ensure a single loss has no deviation to measure.
	single := append(wins, closedPosition("BTCUSDT", 100, 90, 3))
	m = New(single, 100, 100)
	assert.Equal(t, m.Sortino, float64(0))
	assert.Equal(t, m.ProfitFactor, float64(1))
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, percentOf(2, 5), float64(40))
	assert.Equal(t, percentOf(3, 5), float64(60))
	assert.Equal(t, percentOf(0, 0), float64(0))
	assert.Equal(t, expectedPayoff(2, 2, 2, 2), float64(8))
	assert.Equal(t, expectedPayoff(0, 0, 0, 0), float64(0))
	assert.Equal(t, average(nil), float64(0))

	positions := fixture()
	assert.Equal(t, profitPerPositionInPercent(positions, 0, 20), float64(0))
	assert.Equal(t, profitPerPositionInPercent(positions, 2, 0), float64(0))
	assert.Equal(t, stddev([]float64{-20}), float64(0))
}
