package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/olyamironova/exchange-core/internal/core"
	"github.com/olyamironova/exchange-core/internal/domain"
	"github.com/olyamironova/exchange-core/internal/metrics"
	"github.com/olyamironova/exchange-core/internal/strategy"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Exchange is the part of core.Engine the pipeline drives.
type Exchange interface {
	MarketReader
	PlaceOrder(ctx context.Context, o *domain.Order) domain.PlaceResult
	AddTradeListener(fn core.TradeListener)
	SweepExpired(ctx context.Context) int
}

type RunnerConfig struct {
	TickInterval  time.Duration
	PopTimeout    time.Duration
	IdleSleep     time.Duration
	SweepInterval time.Duration // zero disables the expiry sweeper
}

// Runner moves signals from strategies to the exchange: Tick polls every
// active strategy and queues what passes risk, Drain executes the queue.
// Strategies trade under their own id as agent id.
type Runner struct {
	logger     *zap.Logger
	exchange   Exchange
	source     *MarketSource
	risk       *RiskManager
	queue      *Queue
	cfg        RunnerConfig
	now        func() time.Time
	strategies []strategy.Strategy
	byID       map[string]strategy.Strategy
}

func NewRunner(exchange Exchange, source *MarketSource, risk *RiskManager, queue *Queue, cfg RunnerConfig, logger *zap.Logger, strategies ...strategy.Strategy) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		logger:   logger.Named("pipeline"),
		exchange: exchange,
		source:   source,
		risk:     risk,
		queue:    queue,
		cfg:      cfg,
		now:      time.Now,
		byID:     make(map[string]strategy.Strategy, len(strategies)),
	}
	for _, s := range strategies {
		if _, dup := r.byID[s.ID()]; dup {
			return nil, fmt.Errorf("duplicate strategy id %s", s.ID())
		}
		if _, ok := exchange.Pair(s.Symbol()); !ok {
			return nil, fmt.Errorf("strategy %s: %s: %w", s.ID(), s.Symbol(), domain.ErrPairNotFound)
		}
		r.byID[s.ID()] = s
		r.strategies = append(r.strategies, s)
	}
	exchange.AddTradeListener(r.onTrade)
	return r, nil
}

// onTrade feeds fills of resting strategy orders back to their strategy.
// Taker fills are fed back by execute from the PlaceOrder result.
func (r *Runner) onTrade(t domain.Trade) {
	if t.MakerOrderID == t.BuyOrderID {
		if s, ok := r.byID[t.BuyerID]; ok {
			s.UpdatePosition(t.Quantity, t.Price)
		}
		return
	}
	if s, ok := r.byID[t.SellerID]; ok {
		s.UpdatePosition(t.Quantity.Neg(), t.Price)
	}
}

func (r *Runner) totalRealized() decimal.Decimal {
	total := decimal.Zero
	for _, s := range r.strategies {
		total = total.Add(s.State().RealizedPnL)
	}
	return total
}

// Tick takes one snapshot per symbol, asks every active strategy for a signal
// concurrently and queues the ones that pass risk. It returns how many were queued.
func (r *Runner) Tick(ctx context.Context) int {
	snaps := make(map[string]strategy.MarketSnapshot)
	var active []strategy.Strategy
	for _, s := range r.strategies {
		if !s.Active() {
			continue
		}
		if _, ok := snaps[s.Symbol()]; !ok {
			snap, err := r.source.Snapshot(ctx, s.Symbol())
			if err != nil {
				r.logger.Warn("market snapshot failed", zap.String("symbol", s.Symbol()), zap.Error(err))
				continue
			}
			snaps[s.Symbol()] = snap
		}
		active = append(active, s)
	}

	signals := make([]*strategy.Signal, len(active))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range active {
		i, s := i, s
		snap := snaps[s.Symbol()]
		g.Go(func() error {
			sig, err := s.GenerateSignal(gctx, snap)
			if err != nil {
				metrics.Signals.WithLabelValues(s.ID(), "failed").Inc()
				r.logger.Warn("signal generation failed", zap.String("strategy", s.ID()), zap.Error(err))
				return nil
			}
			signals[i] = sig
			return nil
		})
	}
	_ = g.Wait()

	now := r.now()
	total := r.totalRealized()
	queuedCount := 0
	for i, sig := range signals {
		if sig == nil {
			continue
		}
		s := active[i]
		if sig.Intent == strategy.IntentHold {
			metrics.Signals.WithLabelValues(s.ID(), "hold").Inc()
			continue
		}
		if err := r.risk.Validate(sig, s.State(), total, now); err != nil {
			metrics.Signals.WithLabelValues(s.ID(), "rejected").Inc()
			r.logger.Warn("signal rejected by risk",
				zap.String("strategy", s.ID()),
				zap.String("intent", string(sig.Intent)),
				zap.String("quantity", sig.Quantity.String()),
				zap.Error(err))
			continue
		}
		if err := r.queue.Push(sig); err != nil {
			metrics.Signals.WithLabelValues(s.ID(), "dropped").Inc()
			r.logger.Warn("signal dropped", zap.String("strategy", s.ID()), zap.Error(err))
			continue
		}
		metrics.Signals.WithLabelValues(s.ID(), "queued").Inc()
		queuedCount++
	}
	return queuedCount
}

// Drain executes every queued signal and returns how many were executed.
func (r *Runner) Drain(ctx context.Context) int {
	n := 0
	for {
		sig, ok := r.queue.TryPop()
		if !ok {
			return n
		}
		if r.handle(ctx, sig) {
			n++
		}
	}
}

func (r *Runner) handle(ctx context.Context, sig *strategy.Signal) bool {
	res, err := r.execute(ctx, sig)
	if err != nil {
		metrics.Signals.WithLabelValues(sig.StrategyID, "failed").Inc()
		r.logger.Warn("signal execution failed", zap.Error(err))
		return false
	}
	if res == nil {
		return false
	}
	metrics.Signals.WithLabelValues(sig.StrategyID, "executed").Inc()
	r.logger.Debug("signal executed",
		zap.String("strategy", sig.StrategyID),
		zap.String("order_id", res.OrderID),
		zap.String("status", string(res.Status)),
		zap.Int("fills", len(res.Fills)))
	return true
}

// execute submits sig as an order and feeds taker fills back to the strategy.
// It returns nil, nil for a close with nothing left to close.
func (r *Runner) execute(ctx context.Context, sig *strategy.Signal) (*domain.PlaceResult, error) {
	s, ok := r.byID[sig.StrategyID]
	if !ok {
		return nil, &domain.ExecutionError{StrategyID: sig.StrategyID, Err: errors.New("unknown strategy")}
	}
	o, ok := toOrder(sig, s.State())
	if !ok {
		return nil, nil
	}
	res := r.exchange.PlaceOrder(ctx, o)
	if !res.Accepted {
		return nil, &domain.ExecutionError{StrategyID: sig.StrategyID, Err: res.Err}
	}
	for _, f := range res.Fills {
		qty := f.Quantity
		if o.Side == domain.Sell {
			qty = qty.Neg()
		}
		s.UpdatePosition(qty, f.Price)
	}
	return &res, nil
}

func toOrder(sig *strategy.Signal, st strategy.State) (*domain.Order, bool) {
	o := &domain.Order{
		AgentID:  sig.StrategyID,
		Symbol:   sig.Symbol,
		Type:     domain.Market,
		Quantity: sig.Quantity,
	}
	if sig.HasPrice() {
		o.Type = domain.Limit
		o.Price = sig.Price
	}
	switch sig.Intent {
	case strategy.IntentBuy:
		o.Side = domain.Buy
	case strategy.IntentSell:
		o.Side = domain.Sell
	case strategy.IntentClose:
		if st.Position.IsZero() {
			return nil, false
		}
		o.Side = domain.Sell
		if st.Position.IsNegative() {
			o.Side = domain.Buy
		}
		o.Quantity = decimal.Min(sig.Quantity, st.Position.Abs())
	default:
		return nil, false
	}
	return o, true
}

// Run ticks, drains and sweeps until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(r.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				r.Tick(ctx)
			}
		}
	})
	g.Go(func() error {
		defer r.queue.Close()
		for {
			sig, err := r.queue.Pop(ctx, r.cfg.PopTimeout)
			switch {
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrQueueClosed):
				return nil
			case err != nil:
				return err
			case sig == nil:
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(r.cfg.IdleSleep):
				}
			default:
				r.handle(ctx, sig)
			}
		}
	})
	if r.cfg.SweepInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(r.cfg.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					r.exchange.SweepExpired(ctx)
				}
			}
		})
	}
	r.logger.Info("pipeline started", zap.Int("strategies", len(r.strategies)))
	err := g.Wait()
	r.logger.Info("pipeline stopped")
	return err
}

func (r *Runner) Strategies() []strategy.Strategy {
	return append([]strategy.Strategy(nil), r.strategies...)
}
