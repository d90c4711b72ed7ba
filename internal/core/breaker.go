package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// BreakerConfig drives the automatic circuit breaker. A trade printing more
// than MaxMovePercent away from the first price of the current window halts the
// symbol until Resume is called.
type BreakerConfig struct {
	Enabled        bool
	MaxMovePercent decimal.Decimal
	Window         time.Duration
}

type breaker struct {
	reference   decimal.Decimal
	windowStart time.Time
}

var hundred = decimal.NewFromInt(100)

// observe feeds a trade price and reports whether the breaker trips.
func (b *breaker) observe(cfg BreakerConfig, price decimal.Decimal, now time.Time) bool {
	if !cfg.Enabled || !cfg.MaxMovePercent.IsPositive() {
		return false
	}
	if b.reference.IsZero() || (cfg.Window > 0 && now.Sub(b.windowStart) > cfg.Window) {
		b.reference = price
		b.windowStart = now
		return false
	}
	move := price.Sub(b.reference).Abs().Div(b.reference).Mul(hundred)
	return move.GreaterThan(cfg.MaxMovePercent)
}

func (b *breaker) reset() {
	b.reference = decimal.Zero
	b.windowStart = time.Time{}
}
