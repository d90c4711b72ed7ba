package core

import (
	"time"

	"github.com/olyamironova/exchange-core/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// priceLevel holds the resting orders at one price in arrival order.
type priceLevel struct {
	price  decimal.Decimal
	orders []*domain.Order
}

func (l *priceLevel) quantity() decimal.Decimal {
	total := decimal.Zero
	for _, o := range l.orders {
		total = total.Add(o.Remaining())
	}
	return total
}

// OrderBook is the per-symbol resting liquidity. Both trees are ordered best
// price first, so Min() is always the top of book.
type OrderBook struct {
	Symbol string
	bids   *btree.BTreeG[*priceLevel]
	asks   *btree.BTreeG[*priceLevel]
	index  map[string]*domain.Order
}

func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		bids: btree.NewBTreeG(func(a, b *priceLevel) bool {
			return a.price.GreaterThan(b.price)
		}),
		asks: btree.NewBTreeG(func(a, b *priceLevel) bool {
			return a.price.LessThan(b.price)
		}),
		index: make(map[string]*domain.Order),
	}
}

func (ob *OrderBook) side(s domain.Side) *btree.BTreeG[*priceLevel] {
	if s == domain.Buy {
		return ob.bids
	}
	return ob.asks
}

func (ob *OrderBook) Len() int { return len(ob.index) }

func (ob *OrderBook) Contains(orderID string) bool {
	_, ok := ob.index[orderID]
	return ok
}

// add appends o at the back of its price level.
func (ob *OrderBook) add(o *domain.Order) {
	tree := ob.side(o.Side)
	level, ok := tree.Get(&priceLevel{price: o.Price})
	if !ok {
		level = &priceLevel{price: o.Price}
		tree.Set(level)
	}
	level.orders = append(level.orders, o)
	ob.index[o.ID] = o
}

func (ob *OrderBook) remove(o *domain.Order) bool {
	if _, ok := ob.index[o.ID]; !ok {
		return false
	}
	delete(ob.index, o.ID)
	tree := ob.side(o.Side)
	level, ok := tree.Get(&priceLevel{price: o.Price})
	if !ok {
		return true
	}
	for i, r := range level.orders {
		if r.ID == o.ID {
			level.orders = append(level.orders[:i], level.orders[i+1:]...)
			break
		}
	}
	if len(level.orders) == 0 {
		tree.Delete(level)
	}
	return true
}

// best returns the top level of a side.
func (ob *OrderBook) best(s domain.Side) (*priceLevel, bool) {
	return ob.side(s).Min()
}

func (ob *OrderBook) bestPrice(s domain.Side) decimal.Decimal {
	if level, ok := ob.best(s); ok {
		return level.price
	}
	return decimal.Zero
}

// each visits resting orders of a side best price first, FIFO within a level.
func (ob *OrderBook) each(s domain.Side, fn func(o *domain.Order) bool) {
	ob.side(s).Scan(func(level *priceLevel) bool {
		for _, o := range level.orders {
			if !fn(o) {
				return false
			}
		}
		return true
	})
}

func (ob *OrderBook) levels(s domain.Side, depth int) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, max(depth, 0))
	ob.side(s).Scan(func(level *priceLevel) bool {
		if depth > 0 && len(out) >= depth {
			return false
		}
		out = append(out, domain.PriceLevel{
			Price:    level.price,
			Quantity: level.quantity(),
			Orders:   len(level.orders),
		})
		return true
	})
	return out
}

// Snapshot aggregates the top depth levels of each side; depth <= 0 means all.
func (ob *OrderBook) Snapshot(depth int, at time.Time) *domain.OrderbookSnapshot {
	return &domain.OrderbookSnapshot{
		Symbol:    ob.Symbol,
		Bids:      ob.levels(domain.Buy, depth),
		Asks:      ob.levels(domain.Sell, depth),
		Timestamp: at,
	}
}

// expired collects resting orders whose TTL has elapsed.
func (ob *OrderBook) expired(now time.Time) []*domain.Order {
	var out []*domain.Order
	for _, s := range []domain.Side{domain.Buy, domain.Sell} {
		ob.each(s, func(o *domain.Order) bool {
			if o.Expired(now) {
				out = append(out, o)
			}
			return true
		})
	}
	return out
}
