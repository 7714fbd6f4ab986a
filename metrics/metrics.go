package metrics

import (
	"math"
	"slices"

	"github.com/dnldd/backtester/position"
)

// tradingDays annualises the sortino ratio.
const tradingDays = 252

// Metrics represents the performance summary of a set of closed positions.
type Metrics struct {
	PositionsNumber            int     `json:"positions_number"`
	ProfitPositionsNumber      int     `json:"profit_positions_number"`
	ProfitPositionsPercent     float64 `json:"profit_positions_percent"`
	LossPositionsNumber        int     `json:"loss_positions_number"`
	LossPositionsPercent       float64 `json:"loss_positions_percent"`
	AverageProfitPosition      float64 `json:"average_profit_position"`
	AverageLossPosition        float64 `json:"average_loss_position"`
	NumberOfCurrency           int     `json:"number_of_currency"`
	ProfitPerPositionInPercent float64 `json:"profit_per_position_in_percent"`
	ProfitFactor               float64 `json:"profit_factor"`
	ExpectedPayoff             float64 `json:"expected_payoff"`
	Sortino                    float64 `json:"sortino"`
	AveragePositionSize        float64 `json:"average_position_size"`
	StartDeposit               float64 `json:"start_deposit"`
	FinishDeposit              float64 `json:"finish_deposit"`
	TotalProfit                float64 `json:"total_profit"`
	TotalProfitPercent         float64 `json:"total_profit_percent"`
	MaxDeposit                 float64 `json:"max_deposit"`
	MaxDrawdown                float64 `json:"max_drawdown"`
	Drawdown                   float64 `json:"drawdown"`
	MaxUseOfFunds              float64 `json:"max_use_of_funds"`
}

// pnl returns the profit of the provided position, zero when it was never calculated.
func pnl(pos *position.Position) float64 {
	if pos.PnL == nil {
		return 0
	}

	return *pos.PnL
}

// New computes the metrics of the provided closed positions.
func New(positions []*position.Position, startDeposit float64, finishDeposit float64) Metrics {
	if len(positions) == 0 {
		return Metrics{}
	}

	profits := filter(positions, func(v float64) bool { return v > 0 })
	losses := filter(positions, func(v float64) bool { return v < 0 })

	m := Metrics{
		PositionsNumber:       len(positions),
		ProfitPositionsNumber: len(profits),
		LossPositionsNumber:   len(losses),
		StartDeposit:          startDeposit,
		FinishDeposit:         finishDeposit,
	}

	m.ProfitPositionsPercent = percentOf(len(profits), len(profits)+len(losses))
	m.LossPositionsPercent = percentOf(len(losses), len(profits)+len(losses))
	m.AverageProfitPosition = average(profits)
	m.AverageLossPosition = average(losses)
	m.NumberOfCurrency = numberOfCurrency(positions)
	m.ProfitPerPositionInPercent = profitPerPositionInPercent(positions, len(profits), m.AverageProfitPosition)
	m.ProfitFactor = profitFactor(profits, losses)
	m.ExpectedPayoff = expectedPayoff(m.ProfitPositionsPercent, m.AverageProfitPosition,
		m.LossPositionsPercent, m.AverageLossPosition)
	m.Sortino = sortino(positions)
	m.AveragePositionSize = averagePositionSize(positions)
	m.TotalProfit = finishDeposit - startDeposit
	if startDeposit != 0 {
		m.TotalProfitPercent = (finishDeposit - startDeposit) / startDeposit * 100
	}
	m.MaxDeposit, m.MaxDrawdown, m.Drawdown = drawdown(positions, startDeposit)
	m.MaxUseOfFunds = maxUseOfFunds(positions)

	return m
}

// filter returns the profits of the positions matching the provided predicate.
func filter(positions []*position.Position, keep func(v float64) bool) []float64 {
	set := []float64{}
	for _, pos := range positions {
		if v := pnl(pos); keep(v) {
			set = append(set, v)
		}
	}

	return set
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}

	return total
}

func percentOf(n int, total int) float64 {
	if total == 0 {
		return 0
	}

	return float64(n) / float64(total) * 100
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	return sum(values) / float64(len(values))
}

// numberOfCurrency counts the distinct symbols traded.
func numberOfCurrency(positions []*position.Position) int {
	symbols := make(map[string]struct{})
	for _, pos := range positions {
		symbols[pos.Symbol] = struct{}{}
	}

	return len(symbols)
}

// buyNotional returns the quote amount spent buying into the provided position.
func buyNotional(pos *position.Position) float64 {
	return pos.VolumeBuy() * pos.WeightedAvgPriceBuy()
}

// profitPerPositionInPercent relates the total amount invested to the average profit made.
func profitPerPositionInPercent(positions []*position.Position, profitNumber int, averageProfit float64) float64 {
	if profitNumber == 0 || averageProfit == 0 {
		return 0
	}

	var invested float64
	for _, pos := range positions {
		invested += buyNotional(pos)
	}

	return invested / float64(profitNumber) / averageProfit
}

// profitFactor returns the ratio of gross profit to gross loss, zero without losses.
func profitFactor(profits []float64, losses []float64) float64 {
	loss := sum(losses)
	if loss == 0 {
		return 0
	}

	return math.Abs(sum(profits) / loss)
}

// expectedPayoff returns the profit expected per position.
func expectedPayoff(profitPercent float64, averageProfit float64, lossPercent float64, averageLoss float64) float64 {
	return profitPercent*averageProfit + lossPercent*averageLoss
}

// stddev returns the sample standard deviation of the provided values.
func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	mean := average(values)
	var squares float64
	for _, v := range values {
		squares += (v - mean) * (v - mean)
	}

	return math.Sqrt(squares / float64(len(values)-1))
}

// sortino returns the mean profit over the deviation of losses, annualised. It is zero with
// fewer than two losses.
func sortino(positions []*position.Position) float64 {
	deviation := stddev(filter(positions, func(v float64) bool { return v < 0 }))
	if deviation == 0 {
		return 0
	}

	all := filter(positions, func(float64) bool { return true })
	return sum(all) / float64(len(all)) / deviation * math.Sqrt(tradingDays)
}

// averagePositionSize returns the average quote amount invested per position.
func averagePositionSize(positions []*position.Position) float64 {
	var invested float64
	for _, pos := range positions {
		invested += buyNotional(pos)
	}

	return invested / float64(len(positions))
}

// maxUseOfFunds returns the largest quote amount invested in a single position.
func maxUseOfFunds(positions []*position.Position) float64 {
	var largest float64
	for idx, pos := range positions {
		notional := buyNotional(pos)
		if idx == 0 || notional > largest {
			largest = notional
		}
	}

	return largest
}

// drawdown replays the position profits in close order over the starting deposit, returning the
// peak balance, the largest decline from a peak and that decline as a percent of the final peak.
func drawdown(positions []*position.Position, startDeposit float64) (float64, float64, float64) {
	ordered := slices.Clone(positions)
	slices.SortStableFunc(ordered, func(a, b *position.Position) int {
		switch {
		case a.CloseDate() < b.CloseDate():
			return -1
		case a.CloseDate() > b.CloseDate():
			return 1
		default:
			return 0
		}
	})

	peak := startDeposit
	balance := startDeposit
	var maxDD float64
	for _, pos := range ordered {
		balance += pnl(pos)
		if balance > peak {
			peak = balance
		}
		if dd := peak - balance; dd > maxDD {
			maxDD = dd
		}
	}

	var percent float64
	if peak > 0 {
		percent = maxDD / peak * 100
	}

	return peak, maxDD, percent
}
