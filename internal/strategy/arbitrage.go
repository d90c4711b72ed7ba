package strategy

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// LocalVenue names this exchange among the venues an Arbitrage compares.
const LocalVenue = "local"

type ArbitrageConfig struct {
	MinProfitBps decimal.Decimal
	Quantity     decimal.Decimal
}

// Arbitrage trades the local book when it is the cheapest or the richest of
// the tracked venues and the dispersion exceeds MinProfitBps.
type Arbitrage struct {
	base
	cfg ArbitrageConfig
}

func NewArbitrage(id, symbol string, cfg ArbitrageConfig) (*Arbitrage, error) {
	if !cfg.MinProfitBps.IsPositive() || !cfg.Quantity.IsPositive() {
		return nil, fmt.Errorf("arbitrage %s: min profit and quantity must be > 0", id)
	}
	a := &Arbitrage{cfg: cfg}
	a.init(id, symbol)
	return a, nil
}

func (a *Arbitrage) Name() string { return KindArbitrage }

func (a *Arbitrage) GenerateSignal(ctx context.Context, snap MarketSnapshot) (*Signal, error) {
	local := snap.MidPrice()
	if !local.IsPositive() || len(snap.Venues) == 0 {
		return nil, nil
	}
	prices := map[string]decimal.Decimal{LocalVenue: local}
	for venue, p := range snap.Venues {
		if p.IsPositive() && venue != LocalVenue {
			prices[venue] = p
		}
	}
	if len(prices) < 2 {
		return nil, nil
	}

	venues := make([]string, 0, len(prices))
	for v := range prices {
		venues = append(venues, v)
	}
	sort.Strings(venues)
	cheapest, richest := venues[0], venues[0]
	for _, v := range venues[1:] {
		if prices[v].LessThan(prices[cheapest]) {
			cheapest = v
		}
		if prices[v].GreaterThan(prices[richest]) {
			richest = v
		}
	}
	low, high := prices[cheapest], prices[richest]
	spreadBps := high.Sub(low).Div(low).Mul(bpsDivisor)
	if spreadBps.LessThan(a.cfg.MinProfitBps) {
		return nil, nil
	}

	var intent Intent
	switch {
	case cheapest == LocalVenue:
		intent = IntentBuy
	case richest == LocalVenue:
		intent = IntentSell
	default:
		return nil, nil
	}
	sig := a.signal(intent, snap, a.cfg.Quantity)
	strength, _ := spreadBps.Div(a.cfg.MinProfitBps.Mul(decimal.NewFromInt(2))).Float64()
	sig.Confidence = strength
	sig.Urgency = 9
	sig.Metadata["cheapest"] = cheapest
	sig.Metadata["richest"] = richest
	sig.Metadata["spread_bps"] = spreadBps.StringFixed(2)
	sig.Normalize()
	return sig, nil
}
