package grid

import "github.com/dnldd/backtester/shared"

// Trigger represents a grid level and the side it fires on next.
type Trigger struct {
	Price float64
	Side  shared.Side
}

// GeneratePrices returns count+1 equally spaced prices from low to high inclusive.
func GeneratePrices(low float64, high float64, count int) []float64 {
	if count <= 0 {
		return []float64{}
	}

	prices := make([]float64, 0, count+1)
	for i := 0; i <= count; i++ {
		prices = append(prices, low+float64(i)*(high-low)/float64(count))
	}

	return prices
}

// GenerateTriggers returns the grid levels between low and high. Levels at or above the start
// price fire on sells, the rest on buys.
func GenerateTriggers(low float64, high float64, count int, start float64) []Trigger {
	prices := GeneratePrices(low, high, count)
	triggers := make([]Trigger, 0, len(prices))
	for _, price := range prices {
		side := shared.Buy
		if price >= start {
			side = shared.Sell
		}

		triggers = append(triggers, Trigger{Price: price, Side: side})
	}

	return triggers
}

// checkBuy returns the lowest buy level at or above the provided price. The top level is never
// a candidate since a buy there has no level above it to take profit at.
func checkBuy(triggers []Trigger, price float64) (int, bool) {
	for i := 0; i < len(triggers)-1; i++ {
		if triggers[i].Side == shared.Buy && price <= triggers[i].Price {
			return i, true
		}
	}

	return 0, false
}

// checkSell returns the highest sell level at or below the provided price.
func checkSell(triggers []Trigger, price float64) (int, bool) {
	for i := len(triggers) - 1; i >= 0; i-- {
		if triggers[i].Side == shared.Sell && price >= triggers[i].Price {
			return i, true
		}
	}

	return 0, false
}
