package port

import (
	"context"

	"github.com/olyamironova/exchange-core/internal/domain"
)

type Repository interface {
	SaveOrder(ctx context.Context, o *domain.Order) error
	SaveTrade(ctx context.Context, t *domain.Trade) error
	SaveBalance(ctx context.Context, b *domain.Balance) error
	LoadOpenOrders(ctx context.Context, symbol string) ([]*domain.Order, error)
	LoadBalances(ctx context.Context) ([]*domain.Balance, error)
	LoadTradesForOrder(ctx context.Context, orderID string) ([]*domain.Trade, error)
	// LoadRecentTrades returns up to limit latest trades of symbol, oldest first.
	LoadRecentTrades(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error)
	// LastTradeSeq is the highest stored trade sequence number, 0 when there are none.
	LastTradeSeq(ctx context.Context) (uint64, error)
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx groups the writes produced by one matching pass so they land together.
type Tx interface {
	SaveOrder(ctx context.Context, o *domain.Order) error
	SaveTrade(ctx context.Context, t *domain.Trade) error
	SaveBalance(ctx context.Context, b *domain.Balance) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
