package core

import (
	"time"

	"github.com/olyamironova/exchange-core/internal/port"
	"go.uber.org/zap"
)

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l.Named("core") }
}

func WithRepository(r port.Repository) Option {
	return func(e *Engine) { e.repo = r }
}

func WithCache(c port.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

func WithPublisher(p port.TradePublisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithTradeListener(fn TradeListener) Option {
	return func(e *Engine) { e.listeners = append(e.listeners, fn) }
}

func WithCircuitBreaker(cfg BreakerConfig) Option {
	return func(e *Engine) { e.breakerCfg = cfg }
}

// WithCancelMarketRemainder marks market orders CANCELLED when the book runs
// out before they fill, instead of leaving them PARTIAL.
func WithCancelMarketRemainder(v bool) Option {
	return func(e *Engine) { e.cancelMarketRemainder = v }
}
