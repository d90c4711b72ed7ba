package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Orders   int             `json:"orders"`
}

type OrderbookSnapshot struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

func (s *OrderbookSnapshot) DeepCopy() *OrderbookSnapshot {
	cp := *s
	cp.Bids = append([]PriceLevel(nil), s.Bids...)
	cp.Asks = append([]PriceLevel(nil), s.Asks...)
	return &cp
}

type MarketStats struct {
	TotalTrades     int64           `json:"total_trades"`
	TotalVolume     decimal.Decimal `json:"total_volume"`
	TradesPerSecond float64         `json:"trades_per_second"`
	ActiveOrders    int             `json:"active_orders"`
	HaltedSymbols   []string        `json:"halted_symbols"`
}

// MarketData is the read-only per-symbol view strategies are fed from.
type MarketData struct {
	Symbol    string
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	LastPrice decimal.Decimal
	Volume    decimal.Decimal // cumulative traded base quantity
	Trades    int64
	Timestamp time.Time
}

func (m MarketData) MidPrice() decimal.Decimal {
	switch {
	case m.BestBid.IsPositive() && m.BestAsk.IsPositive():
		return m.BestBid.Add(m.BestAsk).Div(decimal.NewFromInt(2))
	case m.LastPrice.IsPositive():
		return m.LastPrice
	case m.BestBid.IsPositive():
		return m.BestBid
	default:
		return m.BestAsk
	}
}
