package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TokenSummary aggregates the active orders of one token.
type TokenSummary struct {
	Token          string          `json:"token"`
	Mint           TokenID         `json:"mint"`
	BuyOrders      int             `json:"buyOrders"`
	SellOrders     int             `json:"sellOrders"`
	BuyVolume      decimal.Decimal `json:"buyVolume"`
	SellVolume     decimal.Decimal `json:"sellVolume"`
	BuyVolumeUSDC  decimal.Decimal `json:"buyVolumeUSDC"`
	SellVolumeUSDC decimal.Decimal `json:"sellVolumeUSDC"`
	Price          decimal.Decimal `json:"price"`
}

// TimeSeriesPoint is one chart sample per successful poll.
type TimeSeriesPoint struct {
	Timestamp  time.Time       `json:"timestamp"`
	BuyVolume  decimal.Decimal `json:"buyVolume"`
	SellVolume decimal.Decimal `json:"sellVolume"`
	BuyOrders  int             `json:"buyOrders"`
	SellOrders int             `json:"sellOrders"`
}

// PointFromSummary samples a summary at the given time.
func PointFromSummary(s TokenSummary, at time.Time) TimeSeriesPoint {
	return TimeSeriesPoint{
		Timestamp:  at,
		BuyVolume:  s.BuyVolume,
		SellVolume: s.SellVolume,
		BuyOrders:  s.BuyOrders,
		SellOrders: s.SellOrders,
	}
}

// Snapshot is the complete result of one poll, published as a whole.
type Snapshot struct {
	GeneratedAt time.Time                     `json:"generatedAt"`
	Positions   []Position                    `json:"positions"`
	Summary     map[TokenID]TokenSummary      `json:"summary"`
	ChartData   map[TokenID][]TimeSeriesPoint `json:"chartData"`
	Warnings    []string                      `json:"warnings,omitempty"`
}
