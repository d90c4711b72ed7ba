package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string
type OrderType string
type OrderStatus string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"

	Market     OrderType = "MARKET"
	Limit      OrderType = "LIMIT"
	StopLoss   OrderType = "STOP_LOSS"
	TakeProfit OrderType = "TAKE_PROFIT"

	Pending   OrderStatus = "PENDING"
	Partial   OrderStatus = "PARTIAL"
	Filled    OrderStatus = "FILLED"
	Cancelled OrderStatus = "CANCELLED"
	Rejected  OrderStatus = "REJECTED"
)

func (s Side) Valid() bool { return s == Buy || s == Sell }

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (t OrderType) Valid() bool {
	switch t {
	case Market, Limit, StopLoss, TakeProfit:
		return true
	}
	return false
}

// Triggered reports whether the order type waits off-book for a stop price.
func (t OrderType) Triggered() bool { return t == StopLoss || t == TakeProfit }

// Open reports whether an order in this status may still rest in a book or receive fills.
func (s OrderStatus) Open() bool { return s == Pending || s == Partial }

type Order struct {
	ID             string
	AgentID        string
	Symbol         string
	Side           Side
	Type           OrderType
	Quantity       decimal.Decimal
	Price          decimal.Decimal // zero when absent
	StopPrice      decimal.Decimal // trigger for STOP_LOSS / TAKE_PROFIT
	Activated      bool            // stop order whose trigger has fired
	FilledQuantity decimal.Decimal
	Status         OrderStatus
	Reason         string
	TTL            *time.Duration
	Seq            uint64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (o *Order) HasPrice() bool { return o.Price.IsPositive() }

// LimitPrice is the worst price the order accepts, if it has one. Market orders
// and priceless stop orders take whatever the book offers.
func (o *Order) LimitPrice() (decimal.Decimal, bool) {
	if o.Type == Market || !o.HasPrice() {
		return decimal.Zero, false
	}
	return o.Price, true
}

func (o *Order) Remaining() decimal.Decimal { return o.Quantity.Sub(o.FilledQuantity) }

// Expired follows now > created + ttl; orders without a TTL never expire.
func (o *Order) Expired(now time.Time) bool {
	if o.TTL == nil {
		return false
	}
	return now.After(o.CreatedAt.Add(*o.TTL))
}

// Fill records qty more units executed and moves the status to PARTIAL or FILLED.
func (o *Order) Fill(qty decimal.Decimal, at time.Time) {
	o.FilledQuantity = o.FilledQuantity.Add(qty)
	if o.Remaining().IsZero() {
		o.Status = Filled
	} else {
		o.Status = Partial
	}
	o.UpdatedAt = at
}

func (o *Order) PartiallyFilled() bool {
	return o.FilledQuantity.GreaterThan(decimal.Zero) &&
		o.FilledQuantity.LessThan(o.Quantity)
}
