package strategy

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

type MomentumConfig struct {
	Window         int             // observations between the compared prices
	VolumeWindow   int             // observations in the rolling volume average
	PriceThreshold decimal.Decimal // relative move, 0.01 = 1%
	VolumeMultiple decimal.Decimal
	Quantity       decimal.Decimal
}

// Momentum follows a price move over Window ticks when the tick volume
// confirms it by exceeding VolumeMultiple × its rolling average.
type Momentum struct {
	base
	cfg     MomentumConfig
	prices  []decimal.Decimal
	volumes []decimal.Decimal
}

func NewMomentum(id, symbol string, cfg MomentumConfig) (*Momentum, error) {
	if cfg.Window < 1 || cfg.VolumeWindow < 1 {
		return nil, fmt.Errorf("momentum %s: windows must be >= 1", id)
	}
	if !cfg.PriceThreshold.IsPositive() || !cfg.Quantity.IsPositive() || cfg.VolumeMultiple.IsNegative() {
		return nil, fmt.Errorf("momentum %s: threshold and quantity must be > 0", id)
	}
	m := &Momentum{cfg: cfg}
	m.init(id, symbol)
	return m, nil
}

func (m *Momentum) Name() string { return KindMomentum }

func (m *Momentum) GenerateSignal(ctx context.Context, snap MarketSnapshot) (*Signal, error) {
	price := snap.Price()
	if !price.IsPositive() {
		return nil, nil
	}
	avgVolume, haveVolume := m.averageVolume()
	m.observe(price, snap.Volume)

	if len(m.prices) <= m.cfg.Window || !haveVolume {
		return nil, nil
	}
	ref := m.prices[len(m.prices)-1-m.cfg.Window]
	change := price.Sub(ref).Div(ref)
	if change.Abs().LessThanOrEqual(m.cfg.PriceThreshold) {
		return nil, nil
	}

	intent := IntentBuy
	if change.IsNegative() {
		intent = IntentSell
	}
	if !snap.Volume.GreaterThan(avgVolume.Mul(m.cfg.VolumeMultiple)) {
		sig := m.signal(IntentHold, snap, decimal.Zero)
		sig.Metadata["reason"] = "volume not confirmed"
		sig.Metadata["change"] = change.String()
		sig.Normalize()
		return sig, nil
	}

	position := m.Position()
	if (intent == IntentSell && position.IsPositive()) || (intent == IntentBuy && position.IsNegative()) {
		intent = IntentClose
	}
	sig := m.signal(intent, snap, m.cfg.Quantity)
	strength, _ := change.Abs().Div(m.cfg.PriceThreshold.Mul(decimal.NewFromInt(2))).Float64()
	sig.Confidence = strength
	sig.Urgency = 7
	sig.Metadata["change"] = change.String()
	sig.Metadata["avg_volume"] = avgVolume.String()
	sig.Normalize()
	return sig, nil
}

func (m *Momentum) averageVolume() (decimal.Decimal, bool) {
	if len(m.volumes) == 0 {
		return decimal.Zero, false
	}
	return decimal.Sum(m.volumes[0], m.volumes[1:]...).Div(decimal.NewFromInt(int64(len(m.volumes)))), true
}

func (m *Momentum) observe(price, volume decimal.Decimal) {
	m.prices = append(m.prices, price)
	if len(m.prices) > m.cfg.Window+1 {
		m.prices = m.prices[len(m.prices)-m.cfg.Window-1:]
	}
	m.volumes = append(m.volumes, volume)
	if len(m.volumes) > m.cfg.VolumeWindow {
		m.volumes = m.volumes[len(m.volumes)-m.cfg.VolumeWindow:]
	}
}
