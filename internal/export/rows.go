package export

import (
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/dcastat/internal/domain"
)

const timeLayout = "2006-01-02 15:04:05"

// buildSummary builds the SUMMARY sheet data, one row per token sorted by symbol.
// Columns: Token | Mint | Price | Buy Orders | Buy Volume | Buy Volume (quote) | Sell Orders | Sell Volume | Sell Volume (quote)
func buildSummary(summary map[domain.TokenID]domain.TokenSummary) [][]any {
	data := [][]any{{
		"Token", "Mint", "Price",
		"Buy Orders", "Buy Volume", "Buy Volume (quote)",
		"Sell Orders", "Sell Volume", "Sell Volume (quote)",
	}}

	rows := lo.Values(summary)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Token < rows[j].Token })
	for _, s := range rows {
		data = append(data, []any{
			s.Token, string(s.Mint), toFloat(s.Price),
			s.BuyOrders, toFloat(s.BuyVolume), toFloat(s.BuyVolumeUSDC),
			s.SellOrders, toFloat(s.SellVolume), toFloat(s.SellVolumeUSDC),
		})
	}
	return data
}

// buildPositions builds the POSITIONS sheet data in snapshot order.
func buildPositions(positions []domain.Position) [][]any {
	data := [][]any{{
		"ID", "User", "Token", "Direction", "Active",
		"Total Amount", "Per Cycle", "Total Cycles", "Completed Cycles", "Remaining Cycles", "Remaining In Cycle",
		"Execution Price", "Price Source", "Max Price", "Min Price",
		"Next Cycle", "Last Executed", "Cycle Progress",
	}}

	for _, p := range positions {
		data = append(data, []any{
			p.ID, p.User, p.Token, string(p.Direction), p.IsActive,
			toFloat(p.TotalAmount), toFloat(p.AmountPerCycle), p.TotalCycles,
			toFloat(p.CompletedCycles), p.RemainingCycles, toFloat(p.RemainingInCycle),
			toFloat(p.ExecutionPrice), string(p.ExecutionPriceSource),
			limitValue(p.MaxPrice), limitValue(p.MinPrice),
			formatTime(&p.NextCycleAt), formatTime(p.LastExecutedAt),
			toFloat(p.CycleProgress),
		})
	}
	return data
}

// buildChart builds the CHART sheet data: every point of every token, oldest first.
// Columns: Token | Timestamp | Buy Volume | Sell Volume | Buy Orders | Sell Orders
func buildChart(chart map[domain.TokenID][]domain.TimeSeriesPoint, symbols map[domain.TokenID]string) [][]any {
	data := [][]any{{"Token", "Timestamp", "Buy Volume", "Sell Volume", "Buy Orders", "Sell Orders"}}

	mints := lo.Keys(chart)
	sort.Slice(mints, func(i, j int) bool { return mints[i] < mints[j] })
	for _, mint := range mints {
		name := symbols[mint]
		if name == "" {
			name = string(mint)
		}
		for _, pt := range chart[mint] {
			data = append(data, []any{
				name, pt.Timestamp.UTC().Format(timeLayout),
				toFloat(pt.BuyVolume), toFloat(pt.SellVolume),
				pt.BuyOrders, pt.SellOrders,
			})
		}
	}
	return data
}

func limitValue(l *domain.PriceLimit) any {
	switch {
	case l == nil:
		return nil
	case l.NoLimit:
		return "no limit"
	}
	return toFloat(l.Value)
}

func formatTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
