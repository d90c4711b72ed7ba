package in_memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/olyamironova/exchange-core/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepo_LoadOpenOrdersInSeqOrder(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepo()
	for i, st := range []domain.OrderStatus{domain.Pending, domain.Filled, domain.Partial, domain.Cancelled} {
		o := &domain.Order{
			ID:       string(rune('a' + i)),
			Symbol:   "BTC/USD",
			Quantity: decimal.NewFromInt(2),
			Status:   st,
			Seq:      uint64(10 - i),
		}
		if st == domain.Filled {
			o.FilledQuantity = o.Quantity
		}
		require.NoError(t, r.SaveOrder(ctx, o))
	}
	require.NoError(t, r.SaveOrder(ctx, &domain.Order{ID: "z", Symbol: "ETH/USD", Quantity: decimal.NewFromInt(1), Status: domain.Pending}))

	open, err := r.LoadOpenOrders(ctx, "BTC/USD")
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "c", open[0].ID)
	assert.Equal(t, "a", open[1].ID)
}

func TestMemoryRepo_TxCommitAndRollback(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepo()

	tx, err := r.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SaveOrder(ctx, &domain.Order{ID: "o1", Symbol: "BTC/USD"}))
	require.NoError(t, tx.Rollback(ctx))
	_, ok := r.Order("o1")
	assert.False(t, ok)

	tx, err = r.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.SaveOrder(ctx, &domain.Order{ID: "o1", Symbol: "BTC/USD"}))
	require.NoError(t, tx.SaveTrade(ctx, &domain.Trade{ID: "t1", BuyOrderID: "o1", SellOrderID: "o2"}))
	require.NoError(t, tx.SaveBalance(ctx, &domain.Balance{AgentID: "alice", Asset: "USD", Available: decimal.NewFromInt(5)}))
	require.NoError(t, tx.Commit(ctx))
	assert.Error(t, tx.Commit(ctx))

	_, ok = r.Order("o1")
	assert.True(t, ok)
	trades, err := r.LoadTradesForOrder(ctx, "o2")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "t1", trades[0].ID)

	balances, err := r.LoadBalances(ctx)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.True(t, balances[0].Available.Equal(decimal.NewFromInt(5)))

	trades, err = r.LoadTradesForOrder(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestMemoryRepo_RecentTradesAndLastSeq(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepo()
	seq, err := r.LastTradeSeq(ctx)
	require.NoError(t, err)
	assert.Zero(t, seq)

	for i, symbol := range []string{"BTC/USD", "ETH/USD", "BTC/USD", "BTC/USD"} {
		require.NoError(t, r.SaveTrade(ctx, &domain.Trade{
			ID: fmt.Sprintf("t%d", i+1), Symbol: symbol, Seq: uint64(i + 1),
			BuyOrderID: "b", SellOrderID: "s",
		}))
	}

	recent, err := r.LoadRecentTrades(ctx, "BTC/USD", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "t3", recent[0].ID)
	assert.Equal(t, "t4", recent[1].ID)

	seq, err = r.LastTradeSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), seq)
}

func TestCache_CopiesSnapshots(t *testing.T) {
	ctx := context.Background()
	c := NewCache()
	snap := &domain.OrderbookSnapshot{Symbol: "BTC/USD", Bids: []domain.PriceLevel{{Price: decimal.NewFromInt(1), Quantity: decimal.NewFromInt(1), Orders: 1}}}
	require.NoError(t, c.SetOrderbook(ctx, "BTC/USD", snap))
	snap.Bids[0].Orders = 99

	got, err := c.GetOrderbook(ctx, "BTC/USD")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.Bids[0].Orders)

	require.NoError(t, c.Invalidate(ctx, "BTC/USD"))
	got, err = c.GetOrderbook(ctx, "BTC/USD")
	require.NoError(t, err)
	assert.Nil(t, got)
}
