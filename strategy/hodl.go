package strategy

import (
	"errors"
	"fmt"
)

// HODLSettings represents the parameters of a HODL strategy.
type HODLSettings struct {
	// PurchasePeriod is the interval between purchases in milliseconds.
	PurchasePeriod int64
	// PurchaseSize is the quote amount spent per purchase.
	PurchaseSize float64
}

// Validate asserts the settings sane inputs.
func (s *HODLSettings) Validate() error {
	var errs error
	if s.PurchasePeriod <= 0 {
		errs = errors.Join(errs, fmt.Errorf("purchase period must be positive, got %d", s.PurchasePeriod))
	}
	if s.PurchaseSize <= 0 {
		errs = errors.Join(errs, fmt.Errorf("purchase size must be positive, got %f", s.PurchaseSize))
	}

	return errs
}

// HODL buys a fixed amount every purchase period and holds until the run ends.
type HODL struct {
	base
	settings     HODLSettings
	lastPurchase int64
	purchased    bool
}

// Ensure the HODL strategy implements the Strategy interface.
var _ Strategy = (*HODL)(nil)

// NewHODL initializes a new HODL strategy.
func NewHODL(cfg *Config, settings HODLSettings) (*HODL, error) {
	err := settings.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating hodl settings: %w", err)
	}

	return &HODL{
		base:     newBase(cfg),
		settings: settings,
	}, nil
}

// RunKline processes the next kline if it is dated at the provided timestamp.
func (h *HODL) RunKline(ts int64) {
	kline, ok := h.next(ts)
	if !ok {
		return
	}

	h.checkOrders(kline)

	if h.purchased && kline.Date < h.lastPurchase+h.settings.PurchasePeriod {
		return
	}
	if !h.affordable(kline.Close, h.settings.PurchaseSize) {
		return
	}

	// Each purchase is held as its own position.
	pos := h.positions.Open()
	h.buy(pos, kline.Date, kline.Close, kline.Close, h.settings.PurchaseSize)
	h.lastPurchase = kline.Date
	h.purchased = true
}
