package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type MarketType string

const (
	Spot       MarketType = "SPOT"
	Futures    MarketType = "FUTURES"
	Options    MarketType = "OPTIONS"
	Prediction MarketType = "PREDICTION"
)

// TradingPair is immutable once registered with an engine.
type TradingPair struct {
	Base              string          `json:"base"`
	Quote             string          `json:"quote"`
	MarketType        MarketType      `json:"market_type"`
	MinOrderSize      decimal.Decimal `json:"min_order_size"`
	MaxOrderSize      decimal.Decimal `json:"max_order_size"`
	PricePrecision    int32           `json:"price_precision"`
	QuantityPrecision int32           `json:"quantity_precision"`
	MakerFee          decimal.Decimal `json:"maker_fee"`
	TakerFee          decimal.Decimal `json:"taker_fee"`
}

func (p TradingPair) Symbol() string { return p.Base + "/" + p.Quote }

// SplitSymbol returns base and quote of a "BASE/QUOTE" symbol.
func SplitSymbol(symbol string) (string, string, bool) {
	base, quote, ok := strings.Cut(symbol, "/")
	if !ok || base == "" || quote == "" {
		return "", "", false
	}
	return base, quote, true
}

func (p TradingPair) Validate() error {
	if p.Base == "" || p.Quote == "" {
		return fmt.Errorf("%w: base and quote assets are required", ErrInvalidPair)
	}
	if p.Base == p.Quote {
		return fmt.Errorf("%w: base and quote must differ", ErrInvalidPair)
	}
	switch p.MarketType {
	case Spot, Futures, Options, Prediction:
	default:
		return fmt.Errorf("%w: unknown market type %q", ErrInvalidPair, p.MarketType)
	}
	if !p.MinOrderSize.IsPositive() {
		return fmt.Errorf("%w: min order size must be > 0", ErrInvalidPair)
	}
	if p.MaxOrderSize.LessThan(p.MinOrderSize) {
		return fmt.Errorf("%w: max order size below min order size", ErrInvalidPair)
	}
	if p.PricePrecision < 0 || p.QuantityPrecision < 0 {
		return fmt.Errorf("%w: precision must be >= 0", ErrInvalidPair)
	}
	one := decimal.NewFromInt(1)
	if p.MakerFee.IsNegative() || p.TakerFee.IsNegative() ||
		p.MakerFee.GreaterThanOrEqual(one) || p.TakerFee.GreaterThanOrEqual(one) {
		return fmt.Errorf("%w: fee rates must be in [0, 1)", ErrInvalidPair)
	}
	// Both fees come out of the seller's proceeds.
	if p.MakerFee.Add(p.TakerFee).GreaterThanOrEqual(one) {
		return fmt.Errorf("%w: maker and taker fee together must be below 1", ErrInvalidPair)
	}
	return nil
}

func (p TradingPair) RoundPrice(v decimal.Decimal) decimal.Decimal {
	return v.Round(p.PricePrecision)
}

func (p TradingPair) TruncateQuantity(v decimal.Decimal) decimal.Decimal {
	return v.Truncate(p.QuantityPrecision)
}
