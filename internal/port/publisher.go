package port

import (
	"context"

	"github.com/olyamironova/exchange-core/internal/domain"
)

// TradePublisher pushes executed trades to downstream consumers.
type TradePublisher interface {
	PublishTrades(ctx context.Context, trades []domain.Trade) error
	Close() error
}
