package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/exchange-core/internal/domain"
	"github.com/olyamironova/exchange-core/internal/metrics"
	"github.com/olyamironova/exchange-core/internal/port"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TradeListener is told about every executed trade after the engine has
// released its lock, in trade sequence order. It must not call the engine.
type TradeListener func(t domain.Trade)

type marketState struct {
	lastPrice decimal.Decimal
	volume    decimal.Decimal
	trades    int64
}

// Engine owns all mutable exchange state: pairs, books, orders, trades, the
// balance ledger and halts. A single mutex serialises every mutation.
type Engine struct {
	logger    *zap.Logger
	repo      port.Repository
	cache     port.Cache
	publisher port.TradePublisher
	listeners []TradeListener
	now       func() time.Time

	cancelMarketRemainder bool
	breakerCfg            BreakerConfig

	mu            sync.Mutex
	pairs         map[string]domain.TradingPair
	books         map[string]*OrderBook
	orders        map[string]*domain.Order
	reserved      map[string]decimal.Decimal // funds still held per open order
	triggers      map[string][]*domain.Order // stop orders waiting for their price, arrival order
	trades        []*domain.Trade
	tradesByOrder map[string][]*domain.Trade
	ledger        *Ledger
	halts         map[string]string
	breakers      map[string]*breaker
	market        map[string]*marketState
	seq           uint64
	tradeSeq      uint64
	totalTrades   int64
	totalVolume   decimal.Decimal
	startedAt     time.Time
	flushNext     uint64 // ticket of the next collected batch

	// Batches are flushed strictly in ticket order.
	flushMu   sync.Mutex
	flushCond *sync.Cond
	flushDone uint64
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		logger:        zap.NewNop(),
		now:           time.Now,
		pairs:         make(map[string]domain.TradingPair),
		books:         make(map[string]*OrderBook),
		orders:        make(map[string]*domain.Order),
		reserved:      make(map[string]decimal.Decimal),
		triggers:      make(map[string][]*domain.Order),
		tradesByOrder: make(map[string][]*domain.Trade),
		ledger:        NewLedger(),
		halts:         make(map[string]string),
		breakers:      make(map[string]*breaker),
		market:        make(map[string]*marketState),
	}
	e.flushCond = sync.NewCond(&e.flushMu)
	for _, opt := range opts {
		opt(e)
	}
	e.startedAt = e.now()
	return e
}

// AddTradeListener registers fn for every trade executed from now on.
func (e *Engine) AddTradeListener(fn TradeListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, fn)
}

func (e *Engine) RegisterTradingPair(p domain.TradingPair) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	symbol := p.Symbol()
	if _, ok := e.pairs[symbol]; ok {
		return fmt.Errorf("%s: %w", symbol, domain.ErrPairExists)
	}
	e.pairs[symbol] = p
	e.books[symbol] = NewOrderBook(symbol)
	e.breakers[symbol] = &breaker{}
	e.market[symbol] = &marketState{volume: decimal.Zero}
	e.logger.Info("trading pair registered",
		zap.String("symbol", symbol),
		zap.String("market_type", string(p.MarketType)),
		zap.String("min_order_size", p.MinOrderSize.String()),
		zap.String("max_order_size", p.MaxOrderSize.String()))
	return nil
}

func (e *Engine) Pair(symbol string) (domain.TradingPair, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pairs[symbol]
	return p, ok
}

func (e *Engine) Pairs() []domain.TradingPair {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.TradingPair, 0, len(e.pairs))
	for _, p := range e.pairs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol() < out[j].Symbol() })
	return out
}

func (e *Engine) Deposit(ctx context.Context, agentID, asset string, amount decimal.Decimal) error {
	e.mu.Lock()
	if err := e.ledger.Deposit(agentID, asset, amount); err != nil {
		e.mu.Unlock()
		return err
	}
	fx := newEffects()
	fx.touch(agentID, asset)
	b := e.collect(fx)
	e.mu.Unlock()
	e.flush(ctx, b)
	return nil
}

func (e *Engine) Withdraw(ctx context.Context, agentID, asset string, amount decimal.Decimal) error {
	e.mu.Lock()
	if err := e.ledger.Withdraw(agentID, asset, amount); err != nil {
		e.mu.Unlock()
		return err
	}
	fx := newEffects()
	fx.touch(agentID, asset)
	b := e.collect(fx)
	e.mu.Unlock()
	e.flush(ctx, b)
	return nil
}

func (e *Engine) Balance(agentID, asset string) domain.Balance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Balance(agentID, asset)
}

func (e *Engine) Balances(agentID string) []domain.Balance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Balances(agentID)
}

// TotalSupply sums an asset over all accounts, fee account included.
func (e *Engine) TotalSupply(asset string) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Total(asset)
}

// PlaceOrder validates o, matches it against the book and reports the outcome.
// Rejections come back as values: nothing is mutated for a rejected order.
func (e *Engine) PlaceOrder(ctx context.Context, o *domain.Order) domain.PlaceResult {
	start := time.Now()
	defer func() { metrics.OrderLatency.Observe(time.Since(start).Seconds()) }()

	e.mu.Lock()
	now := e.now()
	prepare(o, now)
	required, asset, err := e.validate(o, now)
	if err != nil {
		e.mu.Unlock()
		return e.reject(o, err)
	}
	fx := newEffects()
	result, err := e.admit(o, required, asset, now, fx)
	if err != nil {
		e.mu.Unlock()
		return e.reject(o, err)
	}
	b := e.collect(fx)
	e.mu.Unlock()

	metrics.OrdersProcessed.WithLabelValues(string(o.Side), "accepted").Inc()
	e.flush(ctx, b)
	return result
}

func prepare(o *domain.Order, now time.Time) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.CreatedAt = now
	o.UpdatedAt = now
	o.FilledQuantity = decimal.Zero
}

// admit reserves required of asset for a validated order, then matches it or
// parks it as a trigger. Caller holds e.mu.
func (e *Engine) admit(o *domain.Order, required decimal.Decimal, asset string, now time.Time, fx *effects) (domain.PlaceResult, error) {
	if err := e.ledger.Lock(o.AgentID, asset, required); err != nil {
		return domain.PlaceResult{}, domain.NewValidationError("Insufficient balance")
	}
	pair := e.pairs[o.Symbol]
	book := e.books[o.Symbol]

	e.seq++
	o.Seq = e.seq
	o.Status = domain.Pending
	e.orders[o.ID] = o
	e.reserved[o.ID] = required

	fx.touch(o.AgentID, asset)
	fx.order(o)
	fx.book(o.Symbol)

	var fills []domain.Fill
	if o.Type.Triggered() && !o.Activated {
		e.triggers[o.Symbol] = append(e.triggers[o.Symbol], o)
		e.logger.Debug("trigger order parked",
			zap.String("order_id", o.ID),
			zap.String("symbol", o.Symbol),
			zap.String("stop_price", o.StopPrice.String()))
	} else {
		fills = e.execute(book, pair, o, now, fx)
	}
	e.fireTriggers(book, pair, now, fx)

	return domain.PlaceResult{
		OrderID:           o.ID,
		Accepted:          true,
		Status:            o.Status,
		Fills:             fills,
		RemainingQuantity: o.Remaining(),
		Reason:            o.Reason,
	}, nil
}

func (e *Engine) reject(o *domain.Order, err error) domain.PlaceResult {
	o.Status = domain.Rejected
	o.Reason = err.Error()
	metrics.OrdersProcessed.WithLabelValues(string(o.Side), "rejected").Inc()
	e.logger.Info("order rejected",
		zap.String("order_id", o.ID),
		zap.String("agent_id", o.AgentID),
		zap.String("symbol", o.Symbol),
		zap.String("reason", o.Reason))
	return domain.PlaceResult{
		OrderID:           o.ID,
		Accepted:          false,
		Status:            domain.Rejected,
		RemainingQuantity: o.Quantity,
		Reason:            o.Reason,
		Err:               err,
	}
}

// CancelOrder cancels an open order owned by agentID and releases its funds.
func (e *Engine) CancelOrder(ctx context.Context, orderID, agentID string) (bool, error) {
	e.mu.Lock()
	o, ok := e.orders[orderID]
	if !ok || o.AgentID != agentID {
		e.mu.Unlock()
		return false, domain.ErrOrderNotFound
	}
	if !o.Status.Open() {
		e.mu.Unlock()
		return false, fmt.Errorf("cancel %s: %w", orderID, domain.ErrOrderNotOpen)
	}
	fx := newEffects()
	e.cancel(o, "cancelled by owner", e.now(), fx)
	b := e.collect(fx)
	e.mu.Unlock()
	e.flush(ctx, b)
	return true, nil
}

// ModifyOrder replaces an open order with a new one carrying the new price and
// quantity, in one critical section. The replacement queues behind existing
// orders at its price and keeps the activation of a triggered stop order. When
// the replacement is rejected the original order is left untouched and the
// rejection is returned as the result.
func (e *Engine) ModifyOrder(ctx context.Context, orderID, agentID string, price, qty decimal.Decimal) (domain.PlaceResult, error) {
	e.mu.Lock()
	old, ok := e.orders[orderID]
	if !ok || old.AgentID != agentID {
		e.mu.Unlock()
		return domain.PlaceResult{}, domain.ErrOrderNotFound
	}
	if !old.Status.Open() || !e.working(old) {
		e.mu.Unlock()
		return domain.PlaceResult{}, fmt.Errorf("modify %s: %w", orderID, domain.ErrOrderNotOpen)
	}
	now := e.now()
	repl := &domain.Order{
		AgentID:   old.AgentID,
		Symbol:    old.Symbol,
		Side:      old.Side,
		Type:      old.Type,
		Quantity:  qty,
		Price:     price,
		StopPrice: old.StopPrice,
		Activated: old.Activated,
		TTL:       old.TTL,
	}
	prepare(repl, now)

	// The replacement may spend what the original holds.
	held := e.reserved[orderID]
	heldAsset := e.reservationAsset(old)
	e.ledger.Unlock(old.AgentID, heldAsset, held)
	required, asset, err := e.validate(repl, now)
	if err != nil {
		if lockErr := e.ledger.Lock(old.AgentID, heldAsset, held); lockErr != nil {
			panic(fmt.Sprintf("engine: relock %s of order %s: %v", held, orderID, lockErr))
		}
		e.mu.Unlock()
		return e.reject(repl, err), nil
	}

	fx := newEffects()
	delete(e.reserved, orderID)
	fx.touch(old.AgentID, heldAsset)
	e.cancel(old, "replaced by "+repl.ID, now, fx)
	result, err := e.admit(repl, required, asset, now, fx)
	if err != nil {
		// validate checked the same ledger state admit locks against.
		panic(fmt.Sprintf("engine: admit validated replacement %s: %v", repl.ID, err))
	}
	b := e.collect(fx)
	e.mu.Unlock()

	metrics.OrdersProcessed.WithLabelValues(string(repl.Side), "accepted").Inc()
	e.flush(ctx, b)
	return result, nil
}

// working reports whether o rests in its book or waits as a trigger.
func (e *Engine) working(o *domain.Order) bool {
	if book, ok := e.books[o.Symbol]; ok && book.Contains(o.ID) {
		return true
	}
	for _, p := range e.triggers[o.Symbol] {
		if p.ID == o.ID {
			return true
		}
	}
	return false
}

// reservationAsset is the asset an open order keeps locked.
func (e *Engine) reservationAsset(o *domain.Order) string {
	pair := e.pairs[o.Symbol]
	if o.Side == domain.Buy {
		return pair.Quote
	}
	return pair.Base
}

// GetOrder returns a copy of the order.
func (e *Engine) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return *o, nil
}

func (e *Engine) GetTradesForOrder(ctx context.Context, orderID string) ([]domain.Trade, error) {
	e.mu.Lock()
	trades := copyTrades(e.tradesByOrder[orderID])
	_, known := e.orders[orderID]
	e.mu.Unlock()
	if len(trades) > 0 || known || e.repo == nil {
		return trades, nil
	}
	stored, err := e.repo.LoadTradesForOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load trades for %s: %w", orderID, err)
	}
	return copyTrades(stored), nil
}

// Trades returns up to limit most recent trades of symbol, oldest first.
func (e *Engine) Trades(symbol string, limit int) []domain.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.Trade
	for i := len(e.trades) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if symbol == "" || e.trades[i].Symbol == symbol {
			out = append(out, *e.trades[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// GetOrderBook returns the top depth aggregated levels of each side.
func (e *Engine) GetOrderBook(ctx context.Context, symbol string, depth int) (*domain.OrderbookSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	book, ok := e.books[symbol]
	if !ok {
		return nil, fmt.Errorf("%s: %w", symbol, domain.ErrPairNotFound)
	}
	return book.Snapshot(depth, e.now()), nil
}

func (e *Engine) GetMarketStats() domain.MarketStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	active := 0
	for symbol, book := range e.books {
		active += book.Len() + len(e.triggers[symbol])
	}
	halted := make([]string, 0, len(e.halts))
	for s := range e.halts {
		halted = append(halted, s)
	}
	sort.Strings(halted)
	tps := 0.0
	if elapsed := e.now().Sub(e.startedAt).Seconds(); elapsed > 0 {
		tps = float64(e.totalTrades) / elapsed
	}
	return domain.MarketStats{
		TotalTrades:     e.totalTrades,
		TotalVolume:     e.totalVolume,
		TradesPerSecond: tps,
		ActiveOrders:    active,
		HaltedSymbols:   halted,
	}
}

func (e *Engine) MarketData(symbol string) (domain.MarketData, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	book, ok := e.books[symbol]
	if !ok {
		return domain.MarketData{}, fmt.Errorf("%s: %w", symbol, domain.ErrPairNotFound)
	}
	ms := e.market[symbol]
	return domain.MarketData{
		Symbol:    symbol,
		BestBid:   book.bestPrice(domain.Buy),
		BestAsk:   book.bestPrice(domain.Sell),
		LastPrice: ms.lastPrice,
		Volume:    ms.volume,
		Trades:    ms.trades,
		Timestamp: e.now(),
	}, nil
}

// Halt puts symbol under a circuit breaker; new orders are rejected until Resume.
func (e *Engine) Halt(symbol, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pairs[symbol]; !ok {
		return fmt.Errorf("%s: %w", symbol, domain.ErrPairNotFound)
	}
	e.halt(symbol, reason)
	return nil
}

func (e *Engine) halt(symbol, reason string) {
	e.halts[symbol] = reason
	metrics.HaltedSymbols.Set(float64(len(e.halts)))
	e.logger.Warn("market halted", zap.String("symbol", symbol), zap.String("reason", reason))
}

func (e *Engine) Resume(symbol string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pairs[symbol]; !ok {
		return fmt.Errorf("%s: %w", symbol, domain.ErrPairNotFound)
	}
	delete(e.halts, symbol)
	e.breakers[symbol].reset()
	metrics.HaltedSymbols.Set(float64(len(e.halts)))
	e.logger.Info("market resumed", zap.String("symbol", symbol))
	return nil
}

func (e *Engine) Halted(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.halts[symbol]
	return ok
}

// restoredTrades is how many recent trades per symbol Restore reloads.
const restoredTrades = 1000

// Restore rebuilds balances, open orders, the trade sequence and the recent
// trade log of symbols from the repository. It must run before the engine
// accepts orders.
func (e *Engine) Restore(ctx context.Context, symbols []string) error {
	if e.repo == nil {
		return nil
	}
	balances, err := e.repo.LoadBalances(ctx)
	if err != nil {
		return fmt.Errorf("load balances: %w", err)
	}
	lastSeq, err := e.repo.LastTradeSeq(ctx)
	if err != nil {
		return fmt.Errorf("load last trade seq: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, b := range balances {
		e.ledger.restore(*b)
	}
	e.tradeSeq = max(e.tradeSeq, lastSeq)
	for _, s := range symbols {
		book, ok := e.books[s]
		if !ok {
			return fmt.Errorf("restore %s: %w", s, domain.ErrPairNotFound)
		}
		recent, err := e.repo.LoadRecentTrades(ctx, s, restoredTrades)
		if err != nil {
			return fmt.Errorf("load trades for %s: %w", s, err)
		}
		e.trades = append(e.trades, recent...)
		if n := len(recent); n > 0 {
			e.market[s].lastPrice = recent[n-1].Price
		}

		orders, err := e.repo.LoadOpenOrders(ctx, s)
		if err != nil {
			return fmt.Errorf("load open orders for %s: %w", s, err)
		}
		sort.Slice(orders, func(i, j int) bool { return orders[i].Seq < orders[j].Seq })
		for _, o := range orders {
			if o.FilledQuantity.IsPositive() {
				filled, err := e.repo.LoadTradesForOrder(ctx, o.ID)
				if err != nil {
					return fmt.Errorf("load trades for order %s: %w", o.ID, err)
				}
				e.tradesByOrder[o.ID] = filled
			}
			e.orders[o.ID] = o
			e.reserved[o.ID] = reservationFor(o)
			if o.Seq > e.seq {
				e.seq = o.Seq
			}
			if o.Type.Triggered() && !o.Activated {
				e.triggers[s] = append(e.triggers[s], o)
			} else {
				book.add(o)
			}
		}
		metrics.ActiveOrders.WithLabelValues(s).Set(float64(book.Len() + len(e.triggers[s])))
		e.logger.Info("order book restored",
			zap.String("symbol", s),
			zap.Int("orders", len(orders)),
			zap.Int("trades", len(recent)),
			zap.Uint64("trade_seq", e.tradeSeq))
	}
	sort.SliceStable(e.trades, func(i, j int) bool { return e.trades[i].Seq < e.trades[j].Seq })
	return nil
}

func copyTrades(in []*domain.Trade) []domain.Trade {
	out := make([]domain.Trade, 0, len(in))
	for _, t := range in {
		out = append(out, *t)
	}
	return out
}
