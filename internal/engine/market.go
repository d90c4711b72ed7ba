package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/olyamironova/exchange-core/internal/domain"
	"github.com/olyamironova/exchange-core/internal/strategy"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// VenueQuoter supplies prices of a symbol on other venues.
type VenueQuoter interface {
	Quotes(ctx context.Context, symbol string) (map[string]decimal.Decimal, error)
}

// StaticVenues serves fixed venue prices: symbol -> venue -> price.
type StaticVenues map[string]map[string]decimal.Decimal

func (s StaticVenues) Quotes(ctx context.Context, symbol string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(s[symbol]))
	for venue, p := range s[symbol] {
		out[venue] = p
	}
	return out, nil
}

// MarketReader is the read side of the exchange a MarketSource needs.
type MarketReader interface {
	Pair(symbol string) (domain.TradingPair, bool)
	MarketData(symbol string) (domain.MarketData, error)
}

// MarketSource turns exchange state into strategy snapshots. Volume in a
// snapshot is what traded since the previous snapshot of the same symbol.
type MarketSource struct {
	exchange MarketReader
	venues   VenueQuoter
	logger   *zap.Logger

	mu         sync.Mutex
	lastVolume map[string]decimal.Decimal
}

func NewMarketSource(exchange MarketReader, venues VenueQuoter, logger *zap.Logger) *MarketSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarketSource{
		exchange:   exchange,
		venues:     venues,
		logger:     logger,
		lastVolume: make(map[string]decimal.Decimal),
	}
}

func (m *MarketSource) Snapshot(ctx context.Context, symbol string) (strategy.MarketSnapshot, error) {
	pair, ok := m.exchange.Pair(symbol)
	if !ok {
		return strategy.MarketSnapshot{}, fmt.Errorf("%s: %w", symbol, domain.ErrPairNotFound)
	}
	md, err := m.exchange.MarketData(symbol)
	if err != nil {
		return strategy.MarketSnapshot{}, err
	}

	m.mu.Lock()
	delta := md.Volume.Sub(m.lastVolume[symbol])
	m.lastVolume[symbol] = md.Volume
	m.mu.Unlock()

	snap := strategy.MarketSnapshot{
		Pair:      pair,
		BestBid:   md.BestBid,
		BestAsk:   md.BestAsk,
		LastPrice: md.LastPrice,
		Volume:    delta,
		Timestamp: md.Timestamp,
	}
	if m.venues != nil {
		quotes, err := m.venues.Quotes(ctx, symbol)
		if err != nil {
			m.logger.Warn("venue quotes unavailable", zap.String("symbol", symbol), zap.Error(err))
		} else {
			snap.Venues = quotes
		}
	}
	return snap, nil
}
