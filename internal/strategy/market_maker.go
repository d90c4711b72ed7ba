package strategy

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

var bpsDivisor = decimal.NewFromInt(10000)

type MarketMakerConfig struct {
	QuantityPerQuote decimal.Decimal
	HalfSpreadBps    decimal.Decimal
	SkewFactor       decimal.Decimal // price shift per unit of inventory
	MaxInventory     decimal.Decimal // zero disables the inventory cap
}

// MarketMaker quotes around the mid price, one side per tick, shifting both
// quotes against its inventory: bid = mid×(1−h) − skew, ask = mid×(1+h) − skew
// with skew = position × SkewFactor.
type MarketMaker struct {
	base
	cfg      MarketMakerConfig
	nextSell bool
}

func NewMarketMaker(id, symbol string, cfg MarketMakerConfig) (*MarketMaker, error) {
	if !cfg.QuantityPerQuote.IsPositive() {
		return nil, fmt.Errorf("market maker %s: quantity per quote must be > 0", id)
	}
	if cfg.HalfSpreadBps.IsNegative() || cfg.MaxInventory.IsNegative() {
		return nil, fmt.Errorf("market maker %s: spread and inventory cap must be >= 0", id)
	}
	m := &MarketMaker{cfg: cfg}
	m.init(id, symbol)
	return m, nil
}

func (m *MarketMaker) Name() string { return KindMarketMaker }

// Quotes returns the skewed bid and ask for mid at the current position.
func (m *MarketMaker) Quotes(mid decimal.Decimal) (bid, ask decimal.Decimal) {
	h := m.cfg.HalfSpreadBps.Div(bpsDivisor)
	skew := m.Position().Mul(m.cfg.SkewFactor)
	one := decimal.NewFromInt(1)
	bid = mid.Mul(one.Sub(h)).Sub(skew)
	ask = mid.Mul(one.Add(h)).Sub(skew)
	return bid, ask
}

func (m *MarketMaker) GenerateSignal(ctx context.Context, snap MarketSnapshot) (*Signal, error) {
	mid := snap.MidPrice()
	if !mid.IsPositive() {
		return nil, nil
	}
	bid, ask := m.Quotes(mid)
	bid = snap.Pair.RoundPrice(bid)
	ask = snap.Pair.RoundPrice(ask)

	position := m.Position()
	sell := m.nextSell
	if limit := m.cfg.MaxInventory; limit.IsPositive() {
		switch {
		case position.GreaterThanOrEqual(limit):
			sell = true
		case position.LessThanOrEqual(limit.Neg()):
			sell = false
		}
	}
	m.nextSell = !sell

	intent, price := IntentBuy, bid
	if sell {
		intent, price = IntentSell, ask
	}
	if !price.IsPositive() {
		return nil, nil
	}
	sig := m.signal(intent, snap, m.cfg.QuantityPerQuote)
	sig.Price = price
	sig.Confidence = 0.5
	sig.Urgency = 3
	sig.Metadata["bid"] = bid.String()
	sig.Metadata["ask"] = ask.String()
	sig.Metadata["mid"] = mid.String()
	sig.Normalize()
	return sig, nil
}
