package domain

import "github.com/shopspring/decimal"

// PlaceResult is what the engine reports back for every PlaceOrder call, accepted or not.
type PlaceResult struct {
	OrderID           string
	Accepted          bool
	Status            OrderStatus
	Fills             []Fill
	RemainingQuantity decimal.Decimal
	Reason            string
	Err               error // *ValidationError or *MarketHaltedError when rejected
}

func (r PlaceResult) FilledQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, f := range r.Fills {
		total = total.Add(f.Quantity)
	}
	return total
}
