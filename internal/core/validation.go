package core

import (
	"time"

	"github.com/olyamironova/exchange-core/internal/domain"
	"github.com/shopspring/decimal"
)

// validate checks o against the registry, the pair rules, halts and the
// ledger. It returns the funds to reserve and the asset they are held in.
// Caller holds e.mu.
func (e *Engine) validate(o *domain.Order, now time.Time) (decimal.Decimal, string, error) {
	pair, ok := e.pairs[o.Symbol]
	if !ok {
		return decimal.Zero, "", domain.NewValidationError("Trading pair %s not found", o.Symbol)
	}
	if _, dup := e.orders[o.ID]; dup {
		return decimal.Zero, "", domain.NewValidationError("Duplicate order id %s", o.ID)
	}
	if o.AgentID == "" {
		return decimal.Zero, "", domain.NewValidationError("Agent id required")
	}
	if !o.Side.Valid() {
		return decimal.Zero, "", domain.NewValidationError("Invalid side %q", o.Side)
	}
	if !o.Type.Valid() {
		return decimal.Zero, "", domain.NewValidationError("Invalid order type %q", o.Type)
	}
	if o.Quantity.LessThan(pair.MinOrderSize) {
		return decimal.Zero, "", domain.NewValidationError("Order size too small")
	}
	if o.Quantity.GreaterThan(pair.MaxOrderSize) {
		return decimal.Zero, "", domain.NewValidationError("Order size too large")
	}
	if !o.Quantity.Equal(pair.TruncateQuantity(o.Quantity)) {
		return decimal.Zero, "", domain.NewValidationError("Quantity exceeds %d decimal places", pair.QuantityPrecision)
	}
	if o.Price.IsNegative() || o.StopPrice.IsNegative() {
		return decimal.Zero, "", domain.NewValidationError("Price must not be negative")
	}
	switch o.Type {
	case domain.Limit:
		if !o.HasPrice() {
			return decimal.Zero, "", domain.NewValidationError("Limit orders require a price")
		}
	case domain.StopLoss, domain.TakeProfit:
		if !o.StopPrice.IsPositive() {
			return decimal.Zero, "", domain.NewValidationError("Stop price required for %s orders", o.Type)
		}
	}
	if p, ok := o.LimitPrice(); ok && !p.Equal(pair.RoundPrice(p)) {
		return decimal.Zero, "", domain.NewValidationError("Price exceeds %d decimal places", pair.PricePrecision)
	}
	if reason, halted := e.halts[o.Symbol]; halted {
		return decimal.Zero, "", &domain.MarketHaltedError{Symbol: o.Symbol, Reason: reason}
	}

	var required decimal.Decimal
	asset := pair.Base
	if o.Side == domain.Buy {
		asset = pair.Quote
		if o.Type == domain.Market {
			required = e.marketBuyCost(e.books[o.Symbol], o, now)
		} else {
			required = reservationFor(o)
		}
	} else {
		required = o.Quantity
	}
	if e.ledger.Available(o.AgentID, asset).LessThan(required) {
		return decimal.Zero, "", domain.NewValidationError("Insufficient balance")
	}
	return required, asset, nil
}

// reservationFor is what an open order keeps locked for its remaining
// quantity: base for sells, quote at the limit (or stop) price for buys.
func reservationFor(o *domain.Order) decimal.Decimal {
	remaining := o.Remaining()
	if o.Side == domain.Sell {
		return remaining
	}
	if p, ok := o.LimitPrice(); ok {
		return remaining.Mul(p)
	}
	return remaining.Mul(o.StopPrice)
}

// marketBuyCost walks the asks exactly as matching will (skipping expired
// orders and the buyer's own orders) and prices the fillable part of o.
func (e *Engine) marketBuyCost(book *OrderBook, o *domain.Order, now time.Time) decimal.Decimal {
	cost := decimal.Zero
	left := o.Quantity
	book.each(domain.Sell, func(r *domain.Order) bool {
		if r.Expired(now) || r.AgentID == o.AgentID {
			return true
		}
		qty := decimal.Min(left, r.Remaining())
		cost = cost.Add(qty.Mul(r.Price))
		left = left.Sub(qty)
		return left.IsPositive()
	})
	return cost
}
