package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/olyamironova/exchange-core/internal/strategy"
	"github.com/shopspring/decimal"
)

var (
	ErrPositionLimit  = errors.New("position limit exceeded")
	ErrDailyLossLimit = errors.New("daily loss limit reached")
	ErrEmptySignal    = errors.New("signal has no quantity")
)

// RiskLimits are checked before a signal is queued. Zero disables a limit.
type RiskLimits struct {
	MaxPosition    decimal.Decimal // per strategy, absolute
	DailyLossLimit decimal.Decimal // summed realized PnL of all strategies
	MaxOrderSize   decimal.Decimal // larger signals are clamped, not rejected
}

type RiskManager struct {
	limits RiskLimits

	mu       sync.Mutex
	day      time.Time
	baseline decimal.Decimal
}

func NewRiskManager(limits RiskLimits) *RiskManager {
	return &RiskManager{limits: limits}
}

// Validate checks sig against the limits, given the originating strategy's
// state and the realized PnL of all strategies. It may shrink sig.Quantity;
// for a close it sets the quantity to the open position.
func (r *RiskManager) Validate(sig *strategy.Signal, st strategy.State, totalRealized decimal.Decimal, now time.Time) error {
	if sig.Intent == strategy.IntentClose {
		sig.Quantity = st.Position.Abs()
	}
	if !sig.Quantity.IsPositive() {
		return ErrEmptySignal
	}
	if size := r.limits.MaxOrderSize; size.IsPositive() && sig.Quantity.GreaterThan(size) {
		if sig.Metadata == nil {
			sig.Metadata = make(map[string]string)
		}
		sig.Metadata["clamped_from"] = sig.Quantity.String()
		sig.Quantity = size
	}
	if sig.Intent == strategy.IntentClose {
		return nil
	}

	if limit := r.limits.DailyLossLimit; limit.IsPositive() {
		if loss := r.dailyLoss(totalRealized, now); loss.GreaterThanOrEqual(limit) {
			return fmt.Errorf("%w: lost %s today, limit %s", ErrDailyLossLimit, loss, limit)
		}
	}

	if limit := r.limits.MaxPosition; limit.IsPositive() {
		delta := sig.Quantity
		if sig.Intent == strategy.IntentSell {
			delta = delta.Neg()
		}
		projected := st.Position.Add(delta).Abs()
		if projected.GreaterThan(limit) && projected.GreaterThan(st.Position.Abs()) {
			return fmt.Errorf("%w: %s would reach %s, limit %s", ErrPositionLimit, sig.StrategyID, projected, limit)
		}
	}
	return nil
}

// dailyLoss is how much realized PnL fell since the first check of the
// current UTC day.
func (r *RiskManager) dailyLoss(totalRealized decimal.Decimal, now time.Time) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	day := now.UTC().Truncate(24 * time.Hour)
	if !day.Equal(r.day) {
		r.day = day
		r.baseline = totalRealized
	}
	return r.baseline.Sub(totalRealized)
}
