package domain

import "github.com/shopspring/decimal"

// FeeAccount collects every fee withheld by the ledger.
const FeeAccount = "exchange-fees"

type Balance struct {
	AgentID   string          `json:"agent_id"`
	Asset     string          `json:"asset"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
}

func (b Balance) Total() decimal.Decimal { return b.Available.Add(b.Locked) }
