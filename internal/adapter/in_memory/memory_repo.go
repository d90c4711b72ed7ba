package in_memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/olyamironova/exchange-core/internal/domain"
	"github.com/olyamironova/exchange-core/internal/port"
)

var _ port.Repository = (*MemoryRepo)(nil)

type balanceKey struct{ agent, asset string }

type MemoryRepo struct {
	mu       sync.Mutex
	orders   map[string]*domain.Order
	trades   map[string]*domain.Trade
	byOrder  map[string][]string
	balances map[balanceKey]*domain.Balance
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		orders:   make(map[string]*domain.Order),
		trades:   make(map[string]*domain.Trade),
		byOrder:  make(map[string][]string),
		balances: make(map[balanceKey]*domain.Balance),
	}
}

func (r *MemoryRepo) SaveOrder(ctx context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveOrder(o)
	return nil
}

func (r *MemoryRepo) saveOrder(o *domain.Order) {
	cp := *o
	r.orders[o.ID] = &cp
}

func (r *MemoryRepo) SaveTrade(ctx context.Context, t *domain.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveTrade(t)
	return nil
}

func (r *MemoryRepo) saveTrade(t *domain.Trade) {
	if _, ok := r.trades[t.ID]; ok {
		return
	}
	cp := *t
	r.trades[t.ID] = &cp
	r.byOrder[t.BuyOrderID] = append(r.byOrder[t.BuyOrderID], t.ID)
	r.byOrder[t.SellOrderID] = append(r.byOrder[t.SellOrderID], t.ID)
}

func (r *MemoryRepo) SaveBalance(ctx context.Context, b *domain.Balance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveBalance(b)
	return nil
}

func (r *MemoryRepo) saveBalance(b *domain.Balance) {
	cp := *b
	r.balances[balanceKey{b.AgentID, b.Asset}] = &cp
}

// LoadOpenOrders returns pending and partial orders of symbol in arrival order.
func (r *MemoryRepo) LoadOpenOrders(ctx context.Context, symbol string) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []*domain.Order
	for _, o := range r.orders {
		if o.Symbol == symbol && o.Status.Open() && o.Remaining().IsPositive() {
			cp := *o
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Seq < res[j].Seq })
	return res, nil
}

func (r *MemoryRepo) LoadBalances(ctx context.Context) ([]*domain.Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]*domain.Balance, 0, len(r.balances))
	for _, b := range r.balances {
		cp := *b
		res = append(res, &cp)
	}
	return res, nil
}

func (r *MemoryRepo) LoadTradesForOrder(ctx context.Context, orderID string) ([]*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.byOrder[orderID]
	res := make([]*domain.Trade, 0, len(ids))
	for _, id := range ids {
		cp := *r.trades[id]
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Seq < res[j].Seq })
	return res, nil
}

func (r *MemoryRepo) LoadRecentTrades(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []*domain.Trade
	for _, t := range r.trades {
		if t.Symbol == symbol {
			cp := *t
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Seq < res[j].Seq })
	if limit > 0 && len(res) > limit {
		res = res[len(res)-limit:]
	}
	return res, nil
}

func (r *MemoryRepo) LastTradeSeq(ctx context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var last uint64
	for _, t := range r.trades {
		last = max(last, t.Seq)
	}
	return last, nil
}

// Order returns the stored copy of an order, for inspection.
func (r *MemoryRepo) Order(id string) (domain.Order, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

func (r *MemoryRepo) TradeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trades)
}

// BeginTx buffers writes and applies them on Commit under one lock.
func (r *MemoryRepo) BeginTx(ctx context.Context) (port.Tx, error) {
	return &memoryTx{repo: r}, nil
}

type memoryTx struct {
	repo     *MemoryRepo
	orders   []domain.Order
	trades   []domain.Trade
	balances []domain.Balance
	done     bool
}

func (tx *memoryTx) SaveOrder(ctx context.Context, o *domain.Order) error {
	tx.orders = append(tx.orders, *o)
	return nil
}

func (tx *memoryTx) SaveTrade(ctx context.Context, t *domain.Trade) error {
	tx.trades = append(tx.trades, *t)
	return nil
}

func (tx *memoryTx) SaveBalance(ctx context.Context, b *domain.Balance) error {
	tx.balances = append(tx.balances, *b)
	return nil
}

func (tx *memoryTx) Commit(ctx context.Context) error {
	if tx.done {
		return errors.New("tx already closed")
	}
	tx.done = true
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range tx.orders {
		r.saveOrder(&tx.orders[i])
	}
	for i := range tx.trades {
		r.saveTrade(&tx.trades[i])
	}
	for i := range tx.balances {
		r.saveBalance(&tx.balances[i])
	}
	return nil
}

func (tx *memoryTx) Rollback(ctx context.Context) error {
	tx.done = true
	return nil
}
