package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionPriceSource tells where Position.ExecutionPrice came from.
type ExecutionPriceSource string

const (
	// PriceSourceFills means the price is the average fill price of the order so far.
	PriceSourceFills ExecutionPriceSource = "fills"
	// PriceSourceQuote means the order has no fills yet and the live quote is reported.
	PriceSourceQuote ExecutionPriceSource = "quote"
)

// PriceLimit is a price bound of an order. NoLimit marks a BUY order without a price ceiling.
type PriceLimit struct {
	Value   decimal.Decimal `json:"value"`
	NoLimit bool            `json:"noLimit,omitempty"`
}

// Execution is the most recent swap of an order as seen on chain.
type Execution struct {
	Signature string          `json:"signature"`
	At        time.Time       `json:"at"`
	InAmount  decimal.Decimal `json:"inAmount"`
	OutAmount decimal.Decimal `json:"outAmount"`
}

// Position is the human-readable view of one DCA account.
type Position struct {
	ID          string    `json:"id"`
	User        string    `json:"user"`
	Token       string    `json:"token"`
	Mint        TokenID   `json:"mint"`
	Direction   Direction `json:"direction"`
	InputToken  TokenID   `json:"inputToken"`
	OutputToken TokenID   `json:"outputToken"`

	TotalAmount      decimal.Decimal `json:"totalAmount"`
	AmountPerCycle   decimal.Decimal `json:"amountPerCycle"`
	TotalCycles      uint64          `json:"totalCycles"`
	CompletedCycles  decimal.Decimal `json:"completedCycles"`
	RemainingCycles  uint64          `json:"remainingCycles"`
	RemainingInCycle decimal.Decimal `json:"remainingInCycle"`
	IsActive         bool            `json:"isActive"`

	ExecutionPrice       decimal.Decimal      `json:"executionPrice"`
	ExecutionPriceSource ExecutionPriceSource `json:"executionPriceSource"`
	MaxPrice             *PriceLimit          `json:"maxPrice,omitempty"`
	MinPrice             *PriceLimit          `json:"minPrice,omitempty"`

	CycleFrequency time.Duration   `json:"cycleFrequency"`
	NextCycleAt    time.Time       `json:"nextCycleAt"`
	LastExecutedAt *time.Time      `json:"lastExecutedAt,omitempty"`
	CycleProgress  decimal.Decimal `json:"cycleProgress"`
}
