package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/olyamironova/exchange-core/internal/domain"
	"github.com/shopspring/decimal"
)

type Intent string

const (
	IntentBuy   Intent = "BUY"
	IntentSell  Intent = "SELL"
	IntentHold  Intent = "HOLD"
	IntentClose Intent = "CLOSE"
)

const (
	MinUrgency = 1
	MaxUrgency = 10
)

// Signal is a trading intent produced by a strategy. A zero Price means the
// order goes to market.
type Signal struct {
	StrategyID string
	Intent     Intent
	Symbol     string
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	Confidence float64
	Urgency    int
	Timestamp  time.Time
	Metadata   map[string]string
}

func (s *Signal) HasPrice() bool { return s.Price.IsPositive() }

// Normalize clamps confidence to [0, 1] and urgency to [1, 10].
func (s *Signal) Normalize() {
	s.Confidence = min(max(s.Confidence, 0), 1)
	s.Urgency = min(max(s.Urgency, MinUrgency), MaxUrgency)
}

// MarketSnapshot is what a strategy sees on one tick.
type MarketSnapshot struct {
	Pair      domain.TradingPair
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	LastPrice decimal.Decimal
	Volume    decimal.Decimal // base traded since the previous tick
	Venues    map[string]decimal.Decimal
	Timestamp time.Time
}

func (m MarketSnapshot) Symbol() string { return m.Pair.Symbol() }

func (m MarketSnapshot) MidPrice() decimal.Decimal {
	return domain.MarketData{BestBid: m.BestBid, BestAsk: m.BestAsk, LastPrice: m.LastPrice}.MidPrice()
}

// Price is the last trade if there was one, the mid otherwise.
func (m MarketSnapshot) Price() decimal.Decimal {
	if m.LastPrice.IsPositive() {
		return m.LastPrice
	}
	return m.MidPrice()
}

type State struct {
	Position     decimal.Decimal
	AveragePrice decimal.Decimal
	RealizedPnL  decimal.Decimal
	Trades       int64
	Active       bool
}

type Strategy interface {
	ID() string
	Name() string
	Symbol() string
	Active() bool
	SetActive(active bool)
	// GenerateSignal returns nil when the strategy has nothing to do this tick.
	GenerateSignal(ctx context.Context, snap MarketSnapshot) (*Signal, error)
	// UpdatePosition applies a fill: qty > 0 bought, qty < 0 sold.
	UpdatePosition(qty, price decimal.Decimal)
	State() State
}

// base keeps the position and PnL bookkeeping shared by every strategy.
type base struct {
	id     string
	symbol string

	mu       sync.Mutex
	active   bool
	position decimal.Decimal
	avgPrice decimal.Decimal
	realized decimal.Decimal
	trades   int64
}

func (b *base) init(id, symbol string) {
	b.id = id
	b.symbol = symbol
	b.active = true
}

func (b *base) ID() string     { return b.id }
func (b *base) Symbol() string { return b.symbol }

func (b *base) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *base) SetActive(active bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = active
}

func (b *base) Position() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.position
}

// UpdatePosition books a fill with the average-cost method: adding to a
// position moves the average price, reducing it realizes PnL against it.
func (b *base) UpdatePosition(qty, price decimal.Decimal) {
	if qty.IsZero() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trades++

	if b.position.IsZero() || b.position.Sign() == qty.Sign() {
		held := b.position.Abs()
		added := qty.Abs()
		b.avgPrice = held.Mul(b.avgPrice).Add(added.Mul(price)).Div(held.Add(added))
		b.position = b.position.Add(qty)
		return
	}

	closed := decimal.Min(qty.Abs(), b.position.Abs())
	pnl := closed.Mul(price.Sub(b.avgPrice))
	if b.position.IsNegative() {
		pnl = pnl.Neg()
	}
	b.realized = b.realized.Add(pnl)
	flipped := qty.Abs().GreaterThan(b.position.Abs())
	b.position = b.position.Add(qty)
	switch {
	case b.position.IsZero():
		b.avgPrice = decimal.Zero
	case flipped:
		b.avgPrice = price
	}
}

func (b *base) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return State{
		Position:     b.position,
		AveragePrice: b.avgPrice,
		RealizedPnL:  b.realized,
		Trades:       b.trades,
		Active:       b.active,
	}
}

func (b *base) signal(intent Intent, snap MarketSnapshot, qty decimal.Decimal) *Signal {
	return &Signal{
		StrategyID: b.id,
		Intent:     intent,
		Symbol:     b.symbol,
		Quantity:   snap.Pair.TruncateQuantity(qty),
		Timestamp:  snap.Timestamp,
		Metadata:   make(map[string]string),
	}
}

const (
	KindMarketMaker = "market_maker"
	KindMomentum    = "momentum"
	KindArbitrage   = "arbitrage"
)

// Spec describes one strategy instance; only the fields of its Kind are read.
type Spec struct {
	ID     string
	Kind   string
	Symbol string

	MarketMaker MarketMakerConfig
	Momentum    MomentumConfig
	Arbitrage   ArbitrageConfig
}

func Build(spec Spec) (Strategy, error) {
	if spec.ID == "" || spec.Symbol == "" {
		return nil, fmt.Errorf("strategy: id and symbol are required")
	}
	switch spec.Kind {
	case KindMarketMaker:
		return NewMarketMaker(spec.ID, spec.Symbol, spec.MarketMaker)
	case KindMomentum:
		return NewMomentum(spec.ID, spec.Symbol, spec.Momentum)
	case KindArbitrage:
		return NewArbitrage(spec.ID, spec.Symbol, spec.Arbitrage)
	default:
		return nil, fmt.Errorf("strategy %s: unknown kind %q", spec.ID, spec.Kind)
	}
}
