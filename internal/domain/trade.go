package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Trade struct {
	ID           string
	Symbol       string
	BuyOrderID   string
	SellOrderID  string
	BuyerID      string
	SellerID     string
	MakerOrderID string
	TakerSide    Side
	Price        decimal.Decimal
	Quantity     decimal.Decimal
	MakerFee     decimal.Decimal // trade value × maker rate, in quote
	TakerFee     decimal.Decimal // trade value × taker rate, in quote
	Seq          uint64
	Timestamp    time.Time
}

func (t *Trade) Value() decimal.Decimal { return t.Price.Mul(t.Quantity) }

// BuyerFee is the fee owed for the buying side, in quote. The ledger withholds
// it, together with SellerFee, from the seller's quote proceeds.
func (t *Trade) BuyerFee() decimal.Decimal {
	if t.TakerSide == Buy {
		return t.TakerFee
	}
	return t.MakerFee
}

// SellerFee is the fee owed for the selling side, in quote.
func (t *Trade) SellerFee() decimal.Decimal {
	if t.TakerSide == Sell {
		return t.TakerFee
	}
	return t.MakerFee
}

type Fill struct {
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Timestamp time.Time
}
