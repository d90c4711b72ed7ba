package core

import (
	"context"

	"github.com/olyamironova/exchange-core/internal/domain"
	"github.com/olyamironova/exchange-core/internal/metrics"
	"go.uber.org/zap"
)

// cacheDepth is how many levels per side are written through to the cache.
const cacheDepth = 50

// effects tracks what a critical section touched so the matching path itself
// never does I/O.
type effects struct {
	orders   map[string]*domain.Order
	orderIDs []string
	trades   []*domain.Trade
	balances map[balanceKey]struct{}
	symbols  map[string]struct{}
}

func newEffects() *effects {
	return &effects{
		orders:   make(map[string]*domain.Order),
		balances: make(map[balanceKey]struct{}),
		symbols:  make(map[string]struct{}),
	}
}

func (fx *effects) order(o *domain.Order) {
	if _, ok := fx.orders[o.ID]; !ok {
		fx.orderIDs = append(fx.orderIDs, o.ID)
	}
	fx.orders[o.ID] = o
	fx.symbols[o.Symbol] = struct{}{}
}

func (fx *effects) trade(t *domain.Trade) {
	fx.trades = append(fx.trades, t)
	fx.symbols[t.Symbol] = struct{}{}
}

func (fx *effects) touch(agent, asset string) {
	fx.balances[balanceKey{agent, asset}] = struct{}{}
}

func (fx *effects) book(symbol string) {
	fx.symbols[symbol] = struct{}{}
}

// batch is a consistent copy of everything one critical section changed.
type batch struct {
	orders    []domain.Order
	trades    []domain.Trade
	balances  []domain.Balance
	books     []*domain.OrderbookSnapshot
	listeners []TradeListener
	ticket    uint64
}

// collect copies the touched state. Caller holds e.mu.
func (e *Engine) collect(fx *effects) *batch {
	b := &batch{listeners: e.listeners, ticket: e.flushNext}
	e.flushNext++
	for _, id := range fx.orderIDs {
		b.orders = append(b.orders, *fx.orders[id])
	}
	for _, t := range fx.trades {
		b.trades = append(b.trades, *t)
	}
	for k := range fx.balances {
		b.balances = append(b.balances, e.ledger.Balance(k.agent, k.asset))
	}
	now := e.now()
	for symbol := range fx.symbols {
		book, ok := e.books[symbol]
		if !ok {
			continue
		}
		metrics.ActiveOrders.WithLabelValues(symbol).Set(float64(book.Len() + len(e.triggers[symbol])))
		if e.cache != nil {
			b.books = append(b.books, book.Snapshot(cacheDepth, now))
		}
	}
	return b
}

// flush runs the side effects of a batch outside the lock, after every batch
// collected before it. Failures are logged; the in-memory state stays
// authoritative. Trade listeners run here and must not call back into the engine.
func (e *Engine) flush(ctx context.Context, b *batch) {
	e.flushMu.Lock()
	for e.flushDone != b.ticket {
		e.flushCond.Wait()
	}
	e.flushMu.Unlock()
	defer func() {
		e.flushMu.Lock()
		e.flushDone++
		e.flushCond.Broadcast()
		e.flushMu.Unlock()
	}()

	if e.repo != nil && (len(b.orders) > 0 || len(b.trades) > 0 || len(b.balances) > 0) {
		if err := e.persist(ctx, b); err != nil {
			e.logger.Error("persist batch failed",
				zap.Int("orders", len(b.orders)),
				zap.Int("trades", len(b.trades)),
				zap.Error(err))
		}
	}
	for _, snap := range b.books {
		if err := e.cache.SetOrderbook(ctx, snap.Symbol, snap); err != nil {
			e.logger.Warn("order book cache write failed", zap.String("symbol", snap.Symbol), zap.Error(err))
		}
	}
	if e.publisher != nil && len(b.trades) > 0 {
		if err := e.publisher.PublishTrades(ctx, b.trades); err != nil {
			e.logger.Warn("publish trades failed", zap.Int("trades", len(b.trades)), zap.Error(err))
		}
	}
	for _, t := range b.trades {
		for _, fn := range b.listeners {
			fn(t)
		}
	}
}
