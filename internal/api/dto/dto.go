package dto

import (
	"fmt"
	"time"

	"github.com/olyamironova/exchange-core/internal/domain"
	"github.com/shopspring/decimal"
)

type SubmitOrderRequest struct {
	OrderID   string          `json:"order_id,omitempty"` // client-chosen id makes resubmission idempotent
	AgentID   string          `json:"agent_id" binding:"required"`
	Symbol    string          `json:"symbol" binding:"required"`
	Side      string          `json:"side" binding:"required"`
	Type      string          `json:"type" binding:"required"`
	Price     decimal.Decimal `json:"price,omitempty"`
	StopPrice decimal.Decimal `json:"stop_price,omitempty"`
	Quantity  decimal.Decimal `json:"quantity"`
	TTL       string          `json:"ttl,omitempty"` // Go duration, e.g. "30s"
}

// Validate rejects malformed requests before they reach the engine; pair
// rules and balances are the engine's job.
func (r *SubmitOrderRequest) Validate() error {
	if !domain.Side(r.Side).Valid() {
		return fmt.Errorf("invalid side: %s", r.Side)
	}
	if !domain.OrderType(r.Type).Valid() {
		return fmt.Errorf("invalid order type: %s", r.Type)
	}
	if !r.Quantity.IsPositive() {
		return fmt.Errorf("quantity must be > 0")
	}
	if domain.OrderType(r.Type) == domain.Limit && !r.Price.IsPositive() {
		return fmt.Errorf("price must be > 0 for LIMIT orders")
	}
	return nil
}

// Order converts the request into an engine order.
func (r *SubmitOrderRequest) Order() (*domain.Order, error) {
	o := &domain.Order{
		ID:        r.OrderID,
		AgentID:   r.AgentID,
		Symbol:    r.Symbol,
		Side:      domain.Side(r.Side),
		Type:      domain.OrderType(r.Type),
		Price:     r.Price,
		StopPrice: r.StopPrice,
		Quantity:  r.Quantity,
	}
	if r.TTL != "" {
		ttl, err := time.ParseDuration(r.TTL)
		if err != nil || ttl < 0 {
			return nil, fmt.Errorf("invalid ttl %q", r.TTL)
		}
		o.TTL = &ttl
	}
	return o, nil
}

type Fill struct {
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Timestamp time.Time       `json:"timestamp"`
}

type SubmitOrderResponse struct {
	OrderID   string          `json:"order_id"`
	Accepted  bool            `json:"accepted"`
	Status    string          `json:"status"`
	Fills     []Fill          `json:"fills"`
	Filled    decimal.Decimal `json:"filled"`
	Remaining decimal.Decimal `json:"remaining"`
	Message   string          `json:"message,omitempty"`
}

func FromResult(r domain.PlaceResult) SubmitOrderResponse {
	fills := make([]Fill, len(r.Fills))
	for i, f := range r.Fills {
		fills[i] = Fill{Price: f.Price, Quantity: f.Quantity, Timestamp: f.Timestamp}
	}
	return SubmitOrderResponse{
		OrderID:   r.OrderID,
		Accepted:  r.Accepted,
		Status:    string(r.Status),
		Fills:     fills,
		Filled:    r.FilledQuantity(),
		Remaining: r.RemainingQuantity,
		Message:   r.Reason,
	}
}

type ModifyOrderRequest struct {
	OrderID  string          `json:"order_id" binding:"required"`
	AgentID  string          `json:"agent_id" binding:"required"`
	NewPrice decimal.Decimal `json:"new_price,omitempty"`
	NewQty   decimal.Decimal `json:"new_qty"`
}

type ModifyOrderResponse struct {
	ReplacedOrderID string `json:"replaced_order_id"`
	SubmitOrderResponse
}

type CancelOrderRequest struct {
	OrderID string `json:"order_id" binding:"required"`
	AgentID string `json:"agent_id" binding:"required"`
}

type CancelOrderResponse struct {
	OrderID   string `json:"order_id"`
	Cancelled bool   `json:"cancelled"`
	Message   string `json:"message,omitempty"`
}

type Order struct {
	ID        string          `json:"id"`
	AgentID   string          `json:"agent_id"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Type      string          `json:"type"`
	Price     decimal.Decimal `json:"price"`
	StopPrice decimal.Decimal `json:"stop_price"`
	Quantity  decimal.Decimal `json:"quantity"`
	Filled    decimal.Decimal `json:"filled"`
	Remaining decimal.Decimal `json:"remaining"`
	Status    string          `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func FromOrder(o domain.Order) Order {
	return Order{
		ID:        o.ID,
		AgentID:   o.AgentID,
		Symbol:    o.Symbol,
		Side:      string(o.Side),
		Type:      string(o.Type),
		Price:     o.Price,
		StopPrice: o.StopPrice,
		Quantity:  o.Quantity,
		Filled:    o.FilledQuantity,
		Remaining: o.Remaining(),
		Status:    string(o.Status),
		Reason:    o.Reason,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

type GetOrderResponse struct {
	Order Order `json:"order"`
}

type Trade struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	BuyOrder  string          `json:"buy_order"`
	SellOrder string          `json:"sell_order"`
	Buyer     string          `json:"buyer"`
	Seller    string          `json:"seller"`
	TakerSide string          `json:"taker_side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	MakerFee  decimal.Decimal `json:"maker_fee"`
	TakerFee  decimal.Decimal `json:"taker_fee"`
	Seq       uint64          `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
}

func FromTrade(t domain.Trade) Trade {
	return Trade{
		ID:        t.ID,
		Symbol:    t.Symbol,
		BuyOrder:  t.BuyOrderID,
		SellOrder: t.SellOrderID,
		Buyer:     t.BuyerID,
		Seller:    t.SellerID,
		TakerSide: string(t.TakerSide),
		Price:     t.Price,
		Quantity:  t.Quantity,
		MakerFee:  t.MakerFee,
		TakerFee:  t.TakerFee,
		Seq:       t.Seq,
		Timestamp: t.Timestamp,
	}
}

func FromTrades(in []domain.Trade) []Trade {
	out := make([]Trade, len(in))
	for i, t := range in {
		out[i] = FromTrade(t)
	}
	return out
}

type GetTradesResponse struct {
	Trades []Trade `json:"trades"`
}

type GetOrderbookResponse struct {
	Symbol    string              `json:"symbol"`
	Bids      []domain.PriceLevel `json:"bids"`
	Asks      []domain.PriceLevel `json:"asks"`
	Timestamp time.Time           `json:"timestamp"`
}

func FromSnapshot(s *domain.OrderbookSnapshot) GetOrderbookResponse {
	cp := s.DeepCopy()
	return GetOrderbookResponse{Symbol: cp.Symbol, Bids: cp.Bids, Asks: cp.Asks, Timestamp: cp.Timestamp}
}

type Pair struct {
	Base              string          `json:"base" binding:"required"`
	Quote             string          `json:"quote" binding:"required"`
	Symbol            string          `json:"symbol,omitempty"`
	MarketType        string          `json:"market_type,omitempty"`
	MinOrderSize      decimal.Decimal `json:"min_order_size"`
	MaxOrderSize      decimal.Decimal `json:"max_order_size"`
	PricePrecision    int32           `json:"price_precision"`
	QuantityPrecision int32           `json:"quantity_precision"`
	MakerFee          decimal.Decimal `json:"maker_fee"`
	TakerFee          decimal.Decimal `json:"taker_fee"`
}

// TradingPair converts p; market type defaults to spot.
func (p Pair) TradingPair() domain.TradingPair {
	mt := domain.MarketType(p.MarketType)
	if mt == "" {
		mt = domain.Spot
	}
	return domain.TradingPair{
		Base:              p.Base,
		Quote:             p.Quote,
		MarketType:        mt,
		MinOrderSize:      p.MinOrderSize,
		MaxOrderSize:      p.MaxOrderSize,
		PricePrecision:    p.PricePrecision,
		QuantityPrecision: p.QuantityPrecision,
		MakerFee:          p.MakerFee,
		TakerFee:          p.TakerFee,
	}
}

func FromPair(p domain.TradingPair) Pair {
	return Pair{
		Base:              p.Base,
		Quote:             p.Quote,
		Symbol:            p.Symbol(),
		MarketType:        string(p.MarketType),
		MinOrderSize:      p.MinOrderSize,
		MaxOrderSize:      p.MaxOrderSize,
		PricePrecision:    p.PricePrecision,
		QuantityPrecision: p.QuantityPrecision,
		MakerFee:          p.MakerFee,
		TakerFee:          p.TakerFee,
	}
}

type GetOrderbookRequest struct {
	Symbol string `json:"symbol"`
	Depth  int    `json:"depth,omitempty"`
}

type StreamTradesRequest struct {
	Symbol string `json:"symbol,omitempty"` // empty streams every symbol
}

type HaltRequest struct {
	Symbol string `json:"symbol" binding:"required"`
	Reason string `json:"reason,omitempty"`
}

type HaltResponse struct {
	Symbol string `json:"symbol"`
	Halted bool   `json:"halted"`
}

type BalanceRequest struct {
	AgentID string          `json:"agent_id" binding:"required"`
	Asset   string          `json:"asset" binding:"required"`
	Amount  decimal.Decimal `json:"amount"`
}

type BalancesResponse struct {
	AgentID  string           `json:"agent_id"`
	Balances []domain.Balance `json:"balances"`
}
