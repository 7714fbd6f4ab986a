package store

import "github.com/dnldd/backtester/shared"

// FillGaps returns the provided ascending klines with flat zero volume klines inserted wherever
// consecutive klines are more than a period apart. Inserted klines carry the close of the kline
// preceding the gap. When previousLast is provided the span between it and the first kline is
// filled as well, using the first kline's close.
func FillGaps(klines []shared.Kline, period int64, previousLast *int64) []shared.Kline {
	if period <= 0 || len(klines) == 0 {
		return klines
	}

	filled := make([]shared.Kline, 0, len(klines))
	if previousLast != nil && klines[0].Date-*previousLast > period {
		for date := *previousLast + period; date < klines[0].Date; date += period {
			filled = append(filled, shared.NewFlatKline(date, klines[0].Close))
		}
	}

	for idx, k := range klines {
		if idx > 0 {
			prev := klines[idx-1]
			missing := (k.Date-prev.Date)/period - 1
			for i := int64(1); i <= missing; i++ {
				filled = append(filled, shared.NewFlatKline(prev.Date+period*i, prev.Close))
			}
		}

		filled = append(filled, k)
	}

	return filled
}
