package core

import (
	"fmt"
	"sort"

	"github.com/olyamironova/exchange-core/internal/domain"
	"github.com/shopspring/decimal"
)

type balanceKey struct {
	agent string
	asset string
}

// Ledger maps (agent, asset) to available and locked funds. It is not safe for
// concurrent use; the engine mutates it only inside its critical section.
type Ledger struct {
	accounts map[balanceKey]*domain.Balance
}

func NewLedger() *Ledger {
	return &Ledger{accounts: make(map[balanceKey]*domain.Balance)}
}

func (l *Ledger) account(agent, asset string) *domain.Balance {
	k := balanceKey{agent, asset}
	b, ok := l.accounts[k]
	if !ok {
		b = &domain.Balance{AgentID: agent, Asset: asset}
		l.accounts[k] = b
	}
	return b
}

func (l *Ledger) Balance(agent, asset string) domain.Balance {
	if b, ok := l.accounts[balanceKey{agent, asset}]; ok {
		return *b
	}
	return domain.Balance{AgentID: agent, Asset: asset}
}

func (l *Ledger) Balances(agent string) []domain.Balance {
	var out []domain.Balance
	for k, b := range l.accounts {
		if k.agent == agent {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

func (l *Ledger) Available(agent, asset string) decimal.Decimal {
	return l.Balance(agent, asset).Available
}

func (l *Ledger) Deposit(agent, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	b := l.account(agent, asset)
	b.Available = b.Available.Add(amount)
	return nil
}

func (l *Ledger) Withdraw(agent, asset string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	b := l.account(agent, asset)
	if b.Available.LessThan(amount) {
		return fmt.Errorf("withdraw %s %s: %w", amount, asset, domain.ErrInsufficientBalance)
	}
	b.Available = b.Available.Sub(amount)
	return nil
}

// Lock moves amount from available to locked.
func (l *Ledger) Lock(agent, asset string, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	b := l.account(agent, asset)
	if b.Available.LessThan(amount) {
		return domain.ErrInsufficientBalance
	}
	b.Available = b.Available.Sub(amount)
	b.Locked = b.Locked.Add(amount)
	return nil
}

// Unlock returns amount from locked to available.
func (l *Ledger) Unlock(agent, asset string, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	b := l.account(agent, asset)
	b.Locked = mustNotUnderflow(b.Locked.Sub(amount), b)
	b.Available = b.Available.Add(amount)
}

// ApplyTrade settles one fill. The buyer pays exactly the trade value out of
// locked quote and receives exactly the traded base; the seller delivers base
// out of locked base and is credited the trade value less both fees, which go
// to the fee account in quote.
func (l *Ledger) ApplyTrade(t *domain.Trade, pair domain.TradingPair) {
	base, quote := pair.Base, pair.Quote
	value := t.Value()
	fees := t.BuyerFee().Add(t.SellerFee())

	buyerQuote := l.account(t.BuyerID, quote)
	buyerQuote.Locked = mustNotUnderflow(buyerQuote.Locked.Sub(value), buyerQuote)
	buyerBase := l.account(t.BuyerID, base)
	buyerBase.Available = buyerBase.Available.Add(t.Quantity)

	sellerBase := l.account(t.SellerID, base)
	sellerBase.Locked = mustNotUnderflow(sellerBase.Locked.Sub(t.Quantity), sellerBase)
	sellerQuote := l.account(t.SellerID, quote)
	sellerQuote.Available = sellerQuote.Available.Add(value.Sub(fees))

	if fees.IsPositive() {
		fq := l.account(domain.FeeAccount, quote)
		fq.Available = fq.Available.Add(fees)
	}
}

// Total sums every account's holdings of asset.
func (l *Ledger) Total(asset string) decimal.Decimal {
	total := decimal.Zero
	for k, b := range l.accounts {
		if k.asset == asset {
			total = total.Add(b.Total())
		}
	}
	return total
}

func (l *Ledger) restore(b domain.Balance) {
	acc := l.account(b.AgentID, b.Asset)
	acc.Available = b.Available
	acc.Locked = b.Locked
}

// mustNotUnderflow panics when a locked balance would go below zero: fills are
// always backed by a reservation, so this only happens on corrupted state.
func mustNotUnderflow(v decimal.Decimal, b *domain.Balance) decimal.Decimal {
	if v.IsNegative() {
		panic(fmt.Sprintf("ledger: locked %s balance of %s would go negative", b.Asset, b.AgentID))
	}
	return v
}
