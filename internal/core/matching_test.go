package core

import (
	"context"
	"testing"
	"time"

	"github.com/olyamironova/exchange-core/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatching_BestPriceFirst(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	for _, s := range []struct{ agent, price string }{{"s1", "101"}, {"s2", "100"}, {"s3", "102"}} {
		deposit(t, e, s.agent, "BTC", "1")
		require.True(t, e.PlaceOrder(ctx, limitOrder(s.agent, domain.Sell, "1", s.price)).Accepted)
	}
	deposit(t, e, "buyer", "USD", "303")

	res := e.PlaceOrder(ctx, marketOrder("buyer", domain.Buy, "3"))
	require.Len(t, res.Fills, 3)
	assert.True(t, res.Fills[0].Price.Equal(dec("100")))
	assert.True(t, res.Fills[1].Price.Equal(dec("101")))
	assert.True(t, res.Fills[2].Price.Equal(dec("102")))
	assert.Equal(t, domain.Filled, res.Status)
	assertBalance(t, e, "buyer", "USD", "0", "0")
}

func TestMatching_LimitStopsAtIncompatiblePrice(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	deposit(t, e, "buyer", "USD", "1000")
	require.True(t, e.PlaceOrder(ctx, limitOrder("buyer", domain.Buy, "1", "100")).Accepted)
	require.True(t, e.PlaceOrder(ctx, limitOrder("buyer", domain.Buy, "1", "98")).Accepted)

	deposit(t, e, "seller", "BTC", "3")
	res := e.PlaceOrder(ctx, limitOrder("seller", domain.Sell, "3", "99"))
	require.Len(t, res.Fills, 1)
	assert.True(t, res.Fills[0].Price.Equal(dec("100")))
	assert.Equal(t, domain.Partial, res.Status)

	ob, err := e.GetOrderBook(ctx, btcusd, 0)
	require.NoError(t, err)
	require.Len(t, ob.Asks, 1)
	assert.True(t, ob.Asks[0].Price.Equal(dec("99")))
	assert.True(t, ob.Asks[0].Quantity.Equal(dec("2")))
	require.Len(t, ob.Bids, 1)
	assert.True(t, ob.Bids[0].Price.Equal(dec("98")))
}

func TestMatching_PriceImprovementReleased(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	deposit(t, e, "seller", "BTC", "1")
	deposit(t, e, "buyer", "USD", "210")
	require.True(t, e.PlaceOrder(ctx, limitOrder("seller", domain.Sell, "1", "100")).Accepted)

	res := e.PlaceOrder(ctx, limitOrder("buyer", domain.Buy, "2", "105"))
	require.Len(t, res.Fills, 1)
	assert.Equal(t, domain.Partial, res.Status)
	// 100 paid, 105 kept for the resting unit, 5 of improvement released.
	assertBalance(t, e, "buyer", "USD", "5", "105")
}

func TestMatching_SelfTradeCancelsResting(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	deposit(t, e, "alice", "BTC", "1")
	deposit(t, e, "alice", "USD", "100")

	ask := e.PlaceOrder(ctx, limitOrder("alice", domain.Sell, "1", "100"))
	bid := e.PlaceOrder(ctx, limitOrder("alice", domain.Buy, "1", "100"))
	require.True(t, bid.Accepted)
	assert.Empty(t, bid.Fills)
	assert.Equal(t, domain.Pending, bid.Status)

	resting, err := e.GetOrder(ctx, ask.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.Cancelled, resting.Status)
	assert.Equal(t, "self-trade prevention", resting.Reason)
	assert.Empty(t, e.Trades(btcusd, 0))
	assertBalance(t, e, "alice", "BTC", "1", "0")
	assertBalance(t, e, "alice", "USD", "0", "100")
}

func TestMatching_MarketBuySkipsOwnOrders(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	deposit(t, e, "alice", "BTC", "1")
	deposit(t, e, "alice", "USD", "101")
	deposit(t, e, "bob", "BTC", "1")
	require.True(t, e.PlaceOrder(ctx, limitOrder("alice", domain.Sell, "1", "100")).Accepted)
	require.True(t, e.PlaceOrder(ctx, limitOrder("bob", domain.Sell, "1", "101")).Accepted)

	res := e.PlaceOrder(ctx, marketOrder("alice", domain.Buy, "1"))
	require.True(t, res.Accepted, res.Reason)
	require.Len(t, res.Fills, 1)
	assert.True(t, res.Fills[0].Price.Equal(dec("101")))
	assertBalance(t, e, "alice", "USD", "0", "0")
	assertBalance(t, e, "alice", "BTC", "2", "0")
}

func TestMatching_ExpiredMakerPurgedBeforeMatch(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()
	deposit(t, e, "seller", "BTC", "1")
	deposit(t, e, "buyer", "USD", "100")

	ttl := time.Second
	ask := limitOrder("seller", domain.Sell, "1", "100")
	ask.TTL = &ttl
	require.True(t, e.PlaceOrder(ctx, ask).Accepted)

	clock.Advance(2 * time.Second)
	res := e.PlaceOrder(ctx, limitOrder("buyer", domain.Buy, "1", "100"))
	require.True(t, res.Accepted)
	assert.Empty(t, res.Fills)

	got, _ := e.GetOrder(ctx, ask.ID)
	assert.Equal(t, domain.Cancelled, got.Status)
	assert.Equal(t, "expired", got.Reason)
	assertBalance(t, e, "seller", "BTC", "1", "0")
}

func TestStopLoss_SellActivatesAndCascades(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	deposit(t, e, "A", "BTC", "1")
	deposit(t, e, "B", "USD", "188")
	deposit(t, e, "C", "BTC", "1")

	stop := e.PlaceOrder(ctx, &domain.Order{
		AgentID: "A", Symbol: btcusd, Side: domain.Sell, Type: domain.StopLoss,
		Quantity: dec("1"), StopPrice: dec("95"),
	})
	require.True(t, stop.Accepted, stop.Reason)
	assert.Equal(t, domain.Pending, stop.Status)
	assertBalance(t, e, "A", "BTC", "0", "1")

	require.True(t, e.PlaceOrder(ctx, limitOrder("B", domain.Buy, "2", "94")).Accepted)
	assert.Equal(t, 2, e.GetMarketStats().ActiveOrders)

	res := e.PlaceOrder(ctx, marketOrder("C", domain.Sell, "1"))
	require.Len(t, res.Fills, 1)

	got, err := e.GetOrder(ctx, stop.OrderID)
	require.NoError(t, err)
	assert.True(t, got.Activated)
	assert.Equal(t, domain.Filled, got.Status)
	assert.Len(t, e.Trades(btcusd, 0), 2)
	assert.Equal(t, 0, e.GetMarketStats().ActiveOrders)
	assertBalance(t, e, "B", "BTC", "2", "0")
}

func TestStopLoss_BuyWithoutPriceBoundedByReservation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	deposit(t, e, "S", "BTC", "2")
	deposit(t, e, "D", "USD", "110")
	deposit(t, e, "X", "USD", "110")

	stop := e.PlaceOrder(ctx, &domain.Order{
		AgentID: "D", Symbol: btcusd, Side: domain.Buy, Type: domain.StopLoss,
		Quantity: dec("1"), StopPrice: dec("110"),
	})
	require.True(t, stop.Accepted, stop.Reason)
	assertBalance(t, e, "D", "USD", "0", "110")

	require.True(t, e.PlaceOrder(ctx, limitOrder("S", domain.Sell, "1", "110")).Accepted)
	require.True(t, e.PlaceOrder(ctx, limitOrder("S", domain.Sell, "1", "111")).Accepted)
	// Parked orders do not react to quotes, only to trades.
	got, _ := e.GetOrder(ctx, stop.OrderID)
	assert.False(t, got.Activated)

	require.Len(t, e.PlaceOrder(ctx, marketOrder("X", domain.Buy, "1")).Fills, 1)

	got, _ = e.GetOrder(ctx, stop.OrderID)
	assert.True(t, got.Activated)
	assert.Equal(t, domain.Partial, got.Status)
	assert.True(t, got.FilledQuantity.Equal(dec("0.9909")), got.FilledQuantity.String())
	// 110 − 0.9909 × 111 stays with D; nothing remains locked.
	assertBalance(t, e, "D", "USD", "0.0101", "0")
}

func TestTakeProfit_SellRestsAsLimitAfterActivation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	deposit(t, e, "A", "BTC", "1")
	deposit(t, e, "B", "USD", "100")
	deposit(t, e, "C", "BTC", "1")

	stop := e.PlaceOrder(ctx, &domain.Order{
		AgentID: "A", Symbol: btcusd, Side: domain.Sell, Type: domain.TakeProfit,
		Quantity: dec("1"), Price: dec("99"), StopPrice: dec("100"),
	})
	require.True(t, stop.Accepted, stop.Reason)
	require.True(t, e.PlaceOrder(ctx, limitOrder("B", domain.Buy, "1", "100")).Accepted)
	require.Len(t, e.PlaceOrder(ctx, limitOrder("C", domain.Sell, "1", "100")).Fills, 1)

	got, _ := e.GetOrder(ctx, stop.OrderID)
	assert.True(t, got.Activated)
	assert.Equal(t, domain.Pending, got.Status)
	ob, _ := e.GetOrderBook(ctx, btcusd, 0)
	require.Len(t, ob.Asks, 1)
	assert.True(t, ob.Asks[0].Price.Equal(dec("99")))
}

func TestStopOrders_HaltedSymbolKeepsTriggersParked(t *testing.T) {
	e, _ := newTestEngine(t, WithCircuitBreaker(BreakerConfig{
		Enabled:        true,
		MaxMovePercent: dec("10"),
		Window:         time.Minute,
	}))
	ctx := context.Background()
	deposit(t, e, "S", "BTC", "2")
	deposit(t, e, "B", "USD", "1000")
	deposit(t, e, "A", "BTC", "1")

	require.True(t, e.PlaceOrder(ctx, limitOrder("S", domain.Sell, "1", "100")).Accepted)
	require.Len(t, e.PlaceOrder(ctx, limitOrder("B", domain.Buy, "1", "100")).Fills, 1)

	stop := e.PlaceOrder(ctx, &domain.Order{
		AgentID: "A", Symbol: btcusd, Side: domain.Sell, Type: domain.TakeProfit,
		Quantity: dec("1"), StopPrice: dec("110"),
	})
	require.True(t, stop.Accepted, stop.Reason)

	require.True(t, e.PlaceOrder(ctx, limitOrder("S", domain.Sell, "1", "120")).Accepted)
	require.Len(t, e.PlaceOrder(ctx, marketOrder("B", domain.Buy, "1")).Fills, 1)
	require.True(t, e.Halted(btcusd))

	got, _ := e.GetOrder(ctx, stop.OrderID)
	assert.False(t, got.Activated)
	assertBalance(t, e, "A", "BTC", "0", "1")

	require.NoError(t, e.Resume(btcusd))
	require.True(t, e.PlaceOrder(ctx, limitOrder("B", domain.Buy, "1", "119")).Accepted)

	got, _ = e.GetOrder(ctx, stop.OrderID)
	assert.True(t, got.Activated)
	assert.Equal(t, domain.Filled, got.Status)
	assertBalance(t, e, "A", "USD", "118.881", "0")
}

func TestTriggered(t *testing.T) {
	cases := []struct {
		typ    domain.OrderType
		side   domain.Side
		last   string
		expect bool
	}{
		{domain.StopLoss, domain.Sell, "95", true},
		{domain.StopLoss, domain.Sell, "96", false},
		{domain.StopLoss, domain.Buy, "105", true},
		{domain.StopLoss, domain.Buy, "104", false},
		{domain.TakeProfit, domain.Sell, "105", true},
		{domain.TakeProfit, domain.Sell, "104", false},
		{domain.TakeProfit, domain.Buy, "95", true},
		{domain.TakeProfit, domain.Buy, "96", false},
	}
	for _, tc := range cases {
		stop := "95"
		if (tc.typ == domain.StopLoss && tc.side == domain.Buy) || (tc.typ == domain.TakeProfit && tc.side == domain.Sell) {
			stop = "105"
		}
		o := &domain.Order{Type: tc.typ, Side: tc.side, StopPrice: dec(stop)}
		assert.Equal(t, tc.expect, triggered(o, dec(tc.last)), "%s %s stop=%s last=%s", tc.typ, tc.side, stop, tc.last)
	}
}
