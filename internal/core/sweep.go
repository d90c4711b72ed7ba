package core

import (
	"context"
	"time"

	"github.com/olyamironova/exchange-core/internal/metrics"
	"go.uber.org/zap"
)

// SweepExpired cancels every resting or parked order whose TTL has elapsed and
// returns how many it cancelled.
func (e *Engine) SweepExpired(ctx context.Context) int {
	e.mu.Lock()
	now := e.now()
	fx := newEffects()
	n := 0
	for symbol, book := range e.books {
		expired := book.expired(now)
		for _, o := range e.triggers[symbol] {
			if o.Expired(now) {
				expired = append(expired, o)
			}
		}
		for _, o := range expired {
			e.cancel(o, "expired", now, fx)
			n++
		}
	}
	b := e.collect(fx)
	e.mu.Unlock()

	if n > 0 {
		metrics.ExpiredOrders.Add(float64(n))
		e.logger.Info("expired orders swept", zap.Int("count", n))
	}
	e.flush(ctx, b)
	return n
}

// RunSweeper calls SweepExpired every interval until ctx is done.
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.SweepExpired(ctx)
		}
	}
}
