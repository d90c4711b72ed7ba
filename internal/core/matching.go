package core

import (
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/exchange-core/internal/domain"
	"github.com/olyamironova/exchange-core/internal/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// execute matches taker against the opposite side of book (price-time
// priority, resting price wins) and then rests or retires what is left.
// Caller holds e.mu.
func (e *Engine) execute(book *OrderBook, pair domain.TradingPair, taker *domain.Order, now time.Time, fx *effects) []domain.Fill {
	var fills []domain.Fill
	limit, hasLimit := taker.LimitPrice()
	budgeted := taker.Side == domain.Buy && !hasLimit

	for taker.Remaining().IsPositive() {
		level, ok := book.best(taker.Side.Opposite())
		if !ok {
			break
		}
		if hasLimit && !crosses(taker.Side, limit, level.price) {
			break
		}
		maker := level.orders[0]
		if maker.Expired(now) {
			e.cancel(maker, "expired", now, fx)
			continue
		}
		if maker.AgentID == taker.AgentID {
			e.cancel(maker, "self-trade prevention", now, fx)
			continue
		}

		qty := decimal.Min(taker.Remaining(), maker.Remaining())
		if budgeted {
			affordable := pair.TruncateQuantity(e.reserved[taker.ID].Div(level.price))
			qty = decimal.Min(qty, affordable)
			if !qty.IsPositive() {
				break
			}
		}
		t := e.trade(book, pair, taker, maker, level.price, qty, now, fx)
		fills = append(fills, domain.Fill{Price: t.Price, Quantity: t.Quantity, Timestamp: t.Timestamp})
	}

	if taker.Remaining().IsZero() {
		e.release(taker, fx)
		return fills
	}
	if hasLimit {
		// Rest the remainder and keep only remaining × limit locked; the rest of
		// the reservation was price improvement.
		if taker.Side == domain.Buy {
			e.releaseDown(taker, taker.Remaining().Mul(limit), fx)
		}
		book.add(taker)
		fx.order(taker)
		return fills
	}

	// Market remainder never rests.
	e.release(taker, fx)
	switch {
	case len(fills) == 0:
		taker.Status = domain.Cancelled
		taker.Reason = "no liquidity"
	case e.cancelMarketRemainder:
		taker.Status = domain.Cancelled
		taker.Reason = "unfilled market remainder cancelled"
	}
	taker.UpdatedAt = now
	fx.order(taker)
	return fills
}

func crosses(takerSide domain.Side, limit, resting decimal.Decimal) bool {
	if takerSide == domain.Buy {
		return limit.GreaterThanOrEqual(resting)
	}
	return limit.LessThanOrEqual(resting)
}

// trade records one match between taker and maker at price for qty and settles
// it in the ledger in the same critical section.
func (e *Engine) trade(book *OrderBook, pair domain.TradingPair, taker, maker *domain.Order, price, qty decimal.Decimal, now time.Time, fx *effects) *domain.Trade {
	value := price.Mul(qty)
	e.tradeSeq++
	t := &domain.Trade{
		ID:           uuid.NewString(),
		Symbol:       book.Symbol,
		MakerOrderID: maker.ID,
		TakerSide:    taker.Side,
		Price:        price,
		Quantity:     qty,
		MakerFee:     value.Mul(pair.MakerFee),
		TakerFee:     value.Mul(pair.TakerFee),
		Seq:          e.tradeSeq,
		Timestamp:    now,
	}
	buy, sell := taker, maker
	if taker.Side == domain.Sell {
		buy, sell = maker, taker
	}
	t.BuyOrderID, t.SellOrderID = buy.ID, sell.ID
	t.BuyerID, t.SellerID = buy.AgentID, sell.AgentID

	e.ledger.ApplyTrade(t, pair)
	e.reserved[buy.ID] = e.reserved[buy.ID].Sub(value)
	e.reserved[sell.ID] = e.reserved[sell.ID].Sub(qty)

	taker.Fill(qty, now)
	maker.Fill(qty, now)
	if maker.Remaining().IsZero() {
		book.remove(maker)
		e.release(maker, fx)
	}

	e.trades = append(e.trades, t)
	e.tradesByOrder[buy.ID] = append(e.tradesByOrder[buy.ID], t)
	e.tradesByOrder[sell.ID] = append(e.tradesByOrder[sell.ID], t)
	e.totalTrades++
	e.totalVolume = e.totalVolume.Add(value)
	ms := e.market[book.Symbol]
	ms.lastPrice = price
	ms.volume = ms.volume.Add(qty)
	ms.trades++

	fx.trade(t)
	fx.order(taker)
	fx.order(maker)
	fx.touch(t.BuyerID, pair.Base)
	fx.touch(t.BuyerID, pair.Quote)
	fx.touch(t.SellerID, pair.Base)
	fx.touch(t.SellerID, pair.Quote)
	fx.touch(domain.FeeAccount, pair.Quote)

	metrics.TradesExecuted.WithLabelValues(book.Symbol).Inc()
	metrics.TradedVolume.WithLabelValues(book.Symbol).Add(value.InexactFloat64())

	if e.breakers[book.Symbol].observe(e.breakerCfg, price, now) {
		if _, halted := e.halts[book.Symbol]; !halted {
			e.halt(book.Symbol, "price moved beyond circuit breaker band")
		}
	}
	return t
}

// release returns whatever the order still holds to the owner's available balance.
func (e *Engine) release(o *domain.Order, fx *effects) {
	e.releaseDown(o, decimal.Zero, fx)
}

// releaseDown unlocks the part of o's reservation above keep.
func (e *Engine) releaseDown(o *domain.Order, keep decimal.Decimal, fx *effects) {
	held, ok := e.reserved[o.ID]
	if !ok {
		return
	}
	excess := held.Sub(keep)
	if excess.IsPositive() {
		asset := e.reservationAsset(o)
		e.ledger.Unlock(o.AgentID, asset, excess)
		fx.touch(o.AgentID, asset)
	}
	if keep.IsPositive() {
		e.reserved[o.ID] = keep
	} else {
		delete(e.reserved, o.ID)
	}
}

// cancel takes an open order out of the book or the trigger list, releases its
// funds and marks it CANCELLED.
func (e *Engine) cancel(o *domain.Order, reason string, now time.Time, fx *effects) {
	if book, ok := e.books[o.Symbol]; ok {
		book.remove(o)
	}
	e.dropTrigger(o)
	e.release(o, fx)
	o.Status = domain.Cancelled
	o.Reason = reason
	o.UpdatedAt = now
	fx.order(o)
	fx.book(o.Symbol)
	e.logger.Debug("order cancelled",
		zap.String("order_id", o.ID),
		zap.String("symbol", o.Symbol),
		zap.String("reason", reason))
}

func (e *Engine) dropTrigger(o *domain.Order) {
	pending := e.triggers[o.Symbol]
	for i, p := range pending {
		if p.ID == o.ID {
			e.triggers[o.Symbol] = append(pending[:i], pending[i+1:]...)
			return
		}
	}
}

// fireTriggers activates parked stop orders whose stop price the last trade
// has crossed, in arrival order, until a pass activates nothing. Halted
// symbols keep their triggers parked.
func (e *Engine) fireTriggers(book *OrderBook, pair domain.TradingPair, now time.Time, fx *effects) {
	for {
		if _, halted := e.halts[book.Symbol]; halted {
			return
		}
		last := e.market[book.Symbol].lastPrice
		if last.IsZero() {
			return
		}
		var next *domain.Order
		for _, o := range e.triggers[book.Symbol] {
			if o.Expired(now) {
				continue
			}
			if triggered(o, last) {
				next = o
				break
			}
		}
		if next == nil {
			return
		}
		e.dropTrigger(next)
		next.Activated = true
		next.UpdatedAt = now
		e.logger.Info("stop order activated",
			zap.String("order_id", next.ID),
			zap.String("symbol", next.Symbol),
			zap.String("last_price", last.String()))
		e.execute(book, pair, next, now, fx)
		fx.order(next)
	}
}

func triggered(o *domain.Order, last decimal.Decimal) bool {
	switch {
	case o.Type == domain.StopLoss && o.Side == domain.Sell,
		o.Type == domain.TakeProfit && o.Side == domain.Buy:
		return last.LessThanOrEqual(o.StopPrice)
	default:
		return last.GreaterThanOrEqual(o.StopPrice)
	}
}
