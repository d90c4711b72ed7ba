package grpc

import (
	"sync"

	"github.com/olyamironova/exchange-core/internal/domain"
)

const subscriberBuffer = 64

// TradePubSub fans executed trades out to stream subscribers. Subscribers of
// the empty symbol receive every trade. A subscriber that falls behind loses
// trades rather than blocking the engine.
type TradePubSub struct {
	mu   sync.Mutex
	subs map[string]map[chan domain.Trade]struct{}
}

func NewTradePubSub() *TradePubSub {
	return &TradePubSub{subs: make(map[string]map[chan domain.Trade]struct{})}
}

func (p *TradePubSub) Subscribe(symbol string) chan domain.Trade {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan domain.Trade, subscriberBuffer)
	if _, ok := p.subs[symbol]; !ok {
		p.subs[symbol] = make(map[chan domain.Trade]struct{})
	}
	p.subs[symbol][ch] = struct{}{}
	return ch
}

func (p *TradePubSub) Unsubscribe(symbol string, ch chan domain.Trade) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.subs[symbol]; ok {
		if _, ok := m[ch]; ok {
			delete(m, ch)
			close(ch)
		}
		if len(m) == 0 {
			delete(p.subs, symbol)
		}
	}
}

func (p *TradePubSub) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.subs {
		n += len(m)
	}
	return n
}

func (p *TradePubSub) PublishTrade(t domain.Trade) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, key := range []string{t.Symbol, ""} {
		for ch := range p.subs[key] {
			select {
			case ch <- t:
			default:
			}
		}
	}
}
