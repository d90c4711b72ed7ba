package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/olyamironova/exchange-core/internal/core"
	"github.com/olyamironova/exchange-core/internal/domain"
	"github.com/olyamironova/exchange-core/internal/strategy"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const btcusd = "BTC/USD"

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newExchange(t *testing.T) *core.Engine {
	t.Helper()
	e := core.NewEngine()
	require.NoError(t, e.RegisterTradingPair(domain.TradingPair{
		Base: "BTC", Quote: "USD", MarketType: domain.Spot,
		MinOrderSize: dec("0.01"), MaxOrderSize: dec("100"),
		PricePrecision: 2, QuantityPrecision: 4,
		TakerFee: dec("0.001"),
	}))
	return e
}

func fund(t *testing.T, e *core.Engine, agent, usd, btc string) {
	t.Helper()
	ctx := context.Background()
	for asset, amount := range map[string]string{"USD": usd, "BTC": btc} {
		if v := dec(amount); v.IsPositive() {
			require.NoError(t, e.Deposit(ctx, agent, asset, v))
		}
	}
}

// seedBook leaves bid 1 @ 99 and ask 1 @ 101 from a liquidity provider.
func seedBook(t *testing.T, e *core.Engine) {
	t.Helper()
	ctx := context.Background()
	fund(t, e, "lp", "1000", "10")
	for _, o := range []*domain.Order{
		{AgentID: "lp", Symbol: btcusd, Side: domain.Buy, Type: domain.Limit, Quantity: dec("1"), Price: dec("99")},
		{AgentID: "lp", Symbol: btcusd, Side: domain.Sell, Type: domain.Limit, Quantity: dec("1"), Price: dec("101")},
	} {
		require.True(t, e.PlaceOrder(ctx, o).Accepted)
	}
}

type stubStrategy struct {
	id     string
	symbol string
	next   *strategy.Signal
	err    error

	mu       sync.Mutex
	position decimal.Decimal
	fills    int
}

func (s *stubStrategy) ID() string     { return s.id }
func (s *stubStrategy) Name() string   { return "stub" }
func (s *stubStrategy) Symbol() string { return s.symbol }
func (s *stubStrategy) Active() bool   { return true }
func (s *stubStrategy) SetActive(bool) {}

func (s *stubStrategy) State() strategy.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strategy.State{Position: s.position, Trades: int64(s.fills), Active: true}
}

func (s *stubStrategy) GenerateSignal(ctx context.Context, snap strategy.MarketSnapshot) (*strategy.Signal, error) {
	if s.err != nil || s.next == nil {
		return nil, s.err
	}
	sig := *s.next
	sig.StrategyID = s.id
	sig.Symbol = s.symbol
	sig.Timestamp = snap.Timestamp
	sig.Metadata = map[string]string{}
	return &sig, nil
}

func (s *stubStrategy) UpdatePosition(qty, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = s.position.Add(qty)
	s.fills++
}

func newRunner(t *testing.T, ex Exchange, limits RiskLimits, venues VenueQuoter, strategies ...strategy.Strategy) *Runner {
	t.Helper()
	r, err := NewRunner(ex, NewMarketSource(ex, venues, nil), NewRiskManager(limits), NewQueue(16),
		RunnerConfig{TickInterval: 5 * time.Millisecond, PopTimeout: 5 * time.Millisecond, IdleSleep: time.Millisecond},
		nil, strategies...)
	require.NoError(t, err)
	return r
}

func TestRunner_MakerFillsFeedBackToStrategy(t *testing.T) {
	ctx := context.Background()
	ex := newExchange(t)
	seedBook(t, ex)
	fund(t, ex, "mm", "1000", "10")
	fund(t, ex, "taker", "0", "5")

	mm, err := strategy.NewMarketMaker("mm", btcusd, strategy.MarketMakerConfig{
		QuantityPerQuote: dec("1"),
		HalfSpreadBps:    dec("10"),
	})
	require.NoError(t, err)
	r := newRunner(t, ex, RiskLimits{}, nil, mm)

	assert.Equal(t, 1, r.Tick(ctx))
	assert.Equal(t, 1, r.Drain(ctx))

	ob, err := ex.GetOrderBook(ctx, btcusd, 1)
	require.NoError(t, err)
	require.Len(t, ob.Bids, 1)
	assert.True(t, ob.Bids[0].Price.Equal(dec("99.9")))

	res := ex.PlaceOrder(ctx, &domain.Order{AgentID: "taker", Symbol: btcusd, Side: domain.Sell, Type: domain.Market, Quantity: dec("1")})
	require.Len(t, res.Fills, 1)

	st := mm.State()
	assert.True(t, st.Position.Equal(dec("1")), st.Position.String())
	assert.True(t, st.AveragePrice.Equal(dec("99.9")))
	assert.Equal(t, int64(1), st.Trades)
}

func TestRunner_TakerFillsFeedBackToStrategy(t *testing.T) {
	ctx := context.Background()
	ex := newExchange(t)
	seedBook(t, ex)
	fund(t, ex, "arb", "1000", "0")

	arb, err := strategy.NewArbitrage("arb", btcusd, strategy.ArbitrageConfig{MinProfitBps: dec("50"), Quantity: dec("0.5")})
	require.NoError(t, err)
	venues := StaticVenues{btcusd: {"binance": dec("105")}}
	r := newRunner(t, ex, RiskLimits{}, venues, arb)

	require.Equal(t, 1, r.Tick(ctx))
	require.Equal(t, 1, r.Drain(ctx))

	st := arb.State()
	assert.True(t, st.Position.Equal(dec("0.5")))
	assert.True(t, st.AveragePrice.Equal(dec("101")))
	assert.True(t, ex.Balance("arb", "USD").Available.Equal(dec("949.5")))
}

func TestRunner_RiskRejectsAndClamps(t *testing.T) {
	ctx := context.Background()
	ex := newExchange(t)
	seedBook(t, ex)
	fund(t, ex, "arb", "1000", "0")
	venues := StaticVenues{btcusd: {"binance": dec("105")}}

	arb, _ := strategy.NewArbitrage("arb", btcusd, strategy.ArbitrageConfig{MinProfitBps: dec("50"), Quantity: dec("0.5")})
	r := newRunner(t, ex, RiskLimits{MaxPosition: dec("0.4")}, venues, arb)
	assert.Equal(t, 0, r.Tick(ctx))
	assert.Equal(t, 0, r.queue.Len())

	arb2, _ := strategy.NewArbitrage("arb", btcusd, strategy.ArbitrageConfig{MinProfitBps: dec("50"), Quantity: dec("0.5")})
	r = newRunner(t, ex, RiskLimits{MaxOrderSize: dec("0.2")}, venues, arb2)
	require.Equal(t, 1, r.Tick(ctx))
	sig, ok := r.queue.TryPop()
	require.True(t, ok)
	assert.True(t, sig.Quantity.Equal(dec("0.2")))
	assert.Equal(t, "0.5", sig.Metadata["clamped_from"])
}

func TestRunner_CloseHoldAndFailures(t *testing.T) {
	ctx := context.Background()
	ex := newExchange(t)
	seedBook(t, ex)
	fund(t, ex, "closer", "0", "1")

	closer := &stubStrategy{id: "closer", symbol: btcusd, next: &strategy.Signal{Intent: strategy.IntentClose}}
	closer.UpdatePosition(dec("1"), dec("95"))
	holder := &stubStrategy{id: "holder", symbol: btcusd, next: &strategy.Signal{Intent: strategy.IntentHold}}
	broken := &stubStrategy{id: "broken", symbol: btcusd, err: errors.New("model diverged")}
	broke := &stubStrategy{id: "broke", symbol: btcusd, next: &strategy.Signal{Intent: strategy.IntentBuy, Quantity: dec("1"), Price: dec("100")}}

	r := newRunner(t, ex, RiskLimits{}, nil, closer, holder, broken, broke)
	assert.Equal(t, 2, r.Tick(ctx), "close and buy are queued, hold and errors are not")

	// "broke" has no USD: its order is rejected and dropped without stopping the drain.
	assert.Equal(t, 1, r.Drain(ctx))
	assert.True(t, closer.State().Position.IsZero())
	assert.True(t, broke.State().Position.IsZero())
	assert.Equal(t, 0, r.queue.Len())

	// Nothing left to close: risk rejects the empty close.
	assert.Equal(t, 1, r.Tick(ctx))
}

// A taker buy books exactly the traded base, so closing the whole position
// afterwards is covered by the strategy's holdings.
func TestRunner_CloseAfterTakerBuyMatchesHoldings(t *testing.T) {
	ctx := context.Background()
	ex := newExchange(t)
	seedBook(t, ex)
	fund(t, ex, "trader", "200", "0")

	trader := &stubStrategy{id: "trader", symbol: btcusd, next: &strategy.Signal{Intent: strategy.IntentBuy, Quantity: dec("1")}}
	r := newRunner(t, ex, RiskLimits{}, nil, trader)
	require.Equal(t, 1, r.Tick(ctx))
	require.Equal(t, 1, r.Drain(ctx))
	assert.True(t, trader.State().Position.Equal(dec("1")))
	assert.True(t, ex.Balance("trader", "BTC").Available.Equal(trader.State().Position))

	trader.next = &strategy.Signal{Intent: strategy.IntentClose}
	require.Equal(t, 1, r.Tick(ctx))
	require.Equal(t, 1, r.Drain(ctx))
	assert.True(t, trader.State().Position.IsZero())
	assert.True(t, ex.Balance("trader", "BTC").Total().IsZero())
}

type rejectingExchange struct {
	*core.Engine
	placed int
}

func (x *rejectingExchange) PlaceOrder(ctx context.Context, o *domain.Order) domain.PlaceResult {
	x.placed++
	err := domain.NewValidationError("Insufficient balance")
	return domain.PlaceResult{Accepted: false, Status: domain.Rejected, Reason: err.Reason, Err: err}
}

func TestRunner_ExecutionErrorWrapsRejection(t *testing.T) {
	ctx := context.Background()
	ex := &rejectingExchange{Engine: newExchange(t)}
	buyer := &stubStrategy{id: "buyer", symbol: btcusd, next: &strategy.Signal{Intent: strategy.IntentBuy, Quantity: dec("1")}}
	r := newRunner(t, ex, RiskLimits{}, nil, buyer)

	sig := &strategy.Signal{StrategyID: "buyer", Symbol: btcusd, Intent: strategy.IntentBuy, Quantity: dec("1")}
	_, err := r.execute(ctx, sig)
	var execErr *domain.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "buyer", execErr.StrategyID)
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, 1, ex.placed)

	_, err = r.execute(ctx, &strategy.Signal{StrategyID: "ghost", Intent: strategy.IntentBuy, Quantity: dec("1")})
	assert.ErrorAs(t, err, &execErr)
}

func TestNewRunner_Validation(t *testing.T) {
	ex := newExchange(t)
	a := &stubStrategy{id: "a", symbol: btcusd}
	_, err := NewRunner(ex, NewMarketSource(ex, nil, nil), NewRiskManager(RiskLimits{}), NewQueue(1), RunnerConfig{}, nil, a, a)
	assert.Error(t, err)

	b := &stubStrategy{id: "b", symbol: "ETH/USD"}
	_, err = NewRunner(ex, NewMarketSource(ex, nil, nil), NewRiskManager(RiskLimits{}), NewQueue(1), RunnerConfig{}, nil, b)
	assert.ErrorIs(t, err, domain.ErrPairNotFound)
}

func TestRunner_RunUntilCancelled(t *testing.T) {
	ex := newExchange(t)
	seedBook(t, ex)
	fund(t, ex, "arb", "1000", "0")
	arb, _ := strategy.NewArbitrage("arb", btcusd, strategy.ArbitrageConfig{MinProfitBps: dec("50"), Quantity: dec("0.5")})
	r := newRunner(t, ex, RiskLimits{}, StaticVenues{btcusd: {"binance": dec("105")}}, arb)
	r.cfg.SweepInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return arb.State().Position.GreaterThanOrEqual(dec("1"))
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.ErrorIs(t, r.queue.Push(&strategy.Signal{}), ErrQueueClosed)
}
