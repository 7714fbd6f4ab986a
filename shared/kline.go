package shared

// Kline represents a unit candlestick for a market over a fixed period.
type Kline struct {
	// Date is the open time of the kline in unix milliseconds.
	Date   int64
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// NewFlatKline initializes a zero volume kline carrying the provided price.
func NewFlatKline(date int64, price float64) Kline {
	return Kline{
		Date:  date,
		Open:  price,
		High:  price,
		Low:   price,
		Close: price,
	}
}

// Trade represents a single executed market trade.
type Trade struct {
	ID      int64
	Price   float64
	Qty     float64
	BaseQty float64
	// Date is the trade time in unix milliseconds.
	Date int64
}

// Kline returns the trade as a flat kline so trade data can drive the same consumers.
func (t *Trade) Kline() Kline {
	k := NewFlatKline(t.Date, t.Price)
	k.Volume = t.Qty
	return k
}
