package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/olyamironova/exchange-core/internal/domain"
	"github.com/olyamironova/exchange-core/internal/port"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var _ port.TradePublisher = (*TradePublisher)(nil)

// messageWriter is the part of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TradeEvent is the wire form of an executed trade on the trades topic.
type TradeEvent struct {
	ID           string          `json:"id"`
	Symbol       string          `json:"symbol"`
	BuyOrderID   string          `json:"buy_order_id"`
	SellOrderID  string          `json:"sell_order_id"`
	BuyerID      string          `json:"buyer_id"`
	SellerID     string          `json:"seller_id"`
	MakerOrderID string          `json:"maker_order_id"`
	TakerSide    domain.Side     `json:"taker_side"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	MakerFee     decimal.Decimal `json:"maker_fee"`
	TakerFee     decimal.Decimal `json:"taker_fee"`
	Seq          uint64          `json:"seq"`
	Timestamp    time.Time       `json:"timestamp"`
}

func NewTradeEvent(t domain.Trade) TradeEvent {
	return TradeEvent{
		ID:           t.ID,
		Symbol:       t.Symbol,
		BuyOrderID:   t.BuyOrderID,
		SellOrderID:  t.SellOrderID,
		BuyerID:      t.BuyerID,
		SellerID:     t.SellerID,
		MakerOrderID: t.MakerOrderID,
		TakerSide:    t.TakerSide,
		Price:        t.Price,
		Quantity:     t.Quantity,
		MakerFee:     t.MakerFee,
		TakerFee:     t.TakerFee,
		Seq:          t.Seq,
		Timestamp:    t.Timestamp,
	}
}

// TradePublisher writes every trade to one topic, keyed by symbol so a
// symbol's trades stay ordered within a partition.
type TradePublisher struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

func NewTradePublisher(brokers []string, topic string, logger *zap.Logger) *TradePublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Snappy,
	}
	return newTradePublisher(w, topic, logger)
}

func newTradePublisher(w messageWriter, topic string, logger *zap.Logger) *TradePublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TradePublisher{writer: w, topic: topic, logger: logger.Named("kafka")}
}

func (p *TradePublisher) PublishTrades(ctx context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(trades))
	for _, t := range trades {
		payload, err := json.Marshal(NewTradeEvent(t))
		if err != nil {
			return fmt.Errorf("marshal trade %s: %w", t.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(t.Symbol),
			Value: payload,
			Time:  t.Timestamp,
			Headers: []kafka.Header{
				{Key: "event-type", Value: []byte("trade.executed")},
			},
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d trades to %s: %w", len(msgs), p.topic, err)
	}
	p.logger.Debug("trades published", zap.String("topic", p.topic), zap.Int("count", len(msgs)))
	return nil
}

func (p *TradePublisher) Close() error {
	return p.writer.Close()
}
