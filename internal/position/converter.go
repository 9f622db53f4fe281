// Package position converts raw DCA accounts into human-readable positions.
package position

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/dcastat/internal/domain"
)

// Input is everything Convert needs. All external lookups happen before Convert is called.
type Input struct {
	Account      domain.RawAccount
	Token        domain.Token
	Quote        domain.Token
	Direction    domain.Direction
	CurrentPrice decimal.Decimal // quote per token

	// LastExecution is nil when the lookup found nothing or failed.
	LastExecution *domain.Execution
	Now           time.Time
}

// Convert builds a Position from a raw account. It performs no I/O.
func Convert(in Input) (domain.Position, error) {
	acc := in.Account
	if err := acc.Validate(); err != nil {
		return domain.Position{}, err
	}
	if in.Direction != domain.DirectionBuy && in.Direction != domain.DirectionSell {
		return domain.Position{}, fmt.Errorf("account %s: unknown direction %q: %w", acc.ID, in.Direction, domain.ErrMalformedAccount)
	}

	inDecimals, outDecimals := in.Quote.Decimals, in.Token.Decimals
	if in.Direction == domain.DirectionSell {
		inDecimals, outDecimals = in.Token.Decimals, in.Quote.Decimals
	}

	total := acc.TotalCycles()
	rem := acc.InUsed % acc.InAmountPerCycle

	pos := domain.Position{
		ID:               acc.ID,
		User:             acc.User,
		Token:            in.Token.Symbol,
		Mint:             in.Token.Mint,
		Direction:        in.Direction,
		InputToken:       acc.InputMint,
		OutputToken:      acc.OutputMint,
		TotalAmount:      domain.FromNative(acc.Remaining(), inDecimals),
		AmountPerCycle:   domain.FromNative(acc.InAmountPerCycle, inDecimals),
		TotalCycles:      total,
		CompletedCycles:  completedCycles(acc, total),
		RemainingCycles:  acc.RemainingCycles(),
		RemainingInCycle: remainingInCycle(acc, rem, inDecimals),
		IsActive:         acc.IsActive(),
		CycleFrequency:   time.Duration(acc.CycleFrequency) * time.Second,
		NextCycleAt:      acc.NextCycle(),
	}

	var ok bool
	pos.ExecutionPrice, pos.ExecutionPriceSource, ok = executionPrice(in, inDecimals, outDecimals)
	if !ok {
		return domain.Position{}, fmt.Errorf("account %s: no fills and no quote for %s: %w", acc.ID, in.Token.Symbol, domain.ErrPriceUnavailable)
	}

	switch in.Direction {
	case domain.DirectionBuy:
		pos.MaxPrice = maxPrice(acc, inDecimals, outDecimals)
	case domain.DirectionSell:
		pos.MinPrice = minPrice(acc, inDecimals, outDecimals)
	}

	if in.LastExecution != nil && !in.LastExecution.At.IsZero() {
		at := in.LastExecution.At
		pos.LastExecutedAt = &at
	}
	pos.CycleProgress = cycleProgress(acc, in.LastExecution, in.Now)

	return pos, nil
}

// completedCycles is floor(used/perCycle) plus the fractional part of the cycle in progress,
// reported fractional and never above total.
func completedCycles(acc domain.RawAccount, total uint64) decimal.Decimal {
	whole := decimal.NewFromUint64(acc.InUsed / acc.InAmountPerCycle)
	rem := acc.InUsed % acc.InAmountPerCycle
	completed := whole
	if rem != 0 {
		frac := decimal.NewFromUint64(rem).Div(decimal.NewFromUint64(acc.InAmountPerCycle)).Truncate(12)
		completed = whole.Add(frac)
	}
	totalD := decimal.NewFromUint64(total)
	if completed.GreaterThan(totalD) {
		return totalD
	}
	return completed
}

// remainingInCycle is what is left to swap in the cycle in progress. At a cycle boundary
// with fills, the previous cycle is complete and nothing is in progress.
func remainingInCycle(acc domain.RawAccount, rem uint64, decimals int32) decimal.Decimal {
	if !acc.IsActive() || (rem == 0 && acc.InUsed > 0) {
		return decimal.Zero
	}
	return domain.FromNative(acc.InAmountPerCycle-rem, decimals)
}

// executionPrice returns the average fill price in quote per token, or the live quote when
// the order has not filled yet. It reports false when neither is available.
func executionPrice(in Input, inDecimals, outDecimals int32) (decimal.Decimal, domain.ExecutionPriceSource, bool) {
	acc := in.Account
	quote := func() (decimal.Decimal, domain.ExecutionPriceSource, bool) {
		if !in.CurrentPrice.IsPositive() {
			return decimal.Decimal{}, "", false
		}
		return in.CurrentPrice, domain.PriceSourceQuote, true
	}
	if acc.InUsed == 0 || acc.OutReceived == 0 {
		return quote()
	}

	used := domain.FromNative(acc.InUsed, inDecimals)
	received := domain.FromNative(acc.OutReceived, outDecimals)

	// BUY spends quote for tokens, SELL spends tokens for quote.
	quoteAmt, tokenAmt := used, received
	if in.Direction == domain.DirectionSell {
		quoteAmt, tokenAmt = received, used
	}
	price, ok := domain.SafeDiv(quoteAmt, tokenAmt)
	if !ok {
		return quote()
	}
	return price, domain.PriceSourceFills, true
}

func maxPrice(acc domain.RawAccount, inDecimals, outDecimals int32) *domain.PriceLimit {
	if acc.MaxOutAmount == 0 {
		return &domain.PriceLimit{NoLimit: true}
	}
	v, ok := domain.SafeDiv(domain.FromNative(acc.InAmountPerCycle, inDecimals), domain.FromNative(acc.MaxOutAmount, outDecimals))
	if !ok {
		return &domain.PriceLimit{NoLimit: true}
	}
	return &domain.PriceLimit{Value: v}
}

func minPrice(acc domain.RawAccount, inDecimals, outDecimals int32) *domain.PriceLimit {
	if acc.MinOutAmount == 0 {
		return nil
	}
	v, ok := domain.SafeDiv(domain.FromNative(acc.MinOutAmount, outDecimals), domain.FromNative(acc.InAmountPerCycle, inDecimals))
	if !ok {
		return nil
	}
	return &domain.PriceLimit{Value: v}
}

// cycleProgress is the elapsed fraction of the current cycle in [0, 1]. It prefers the last
// on-chain execution and falls back to the scheduled next cycle time.
func cycleProgress(acc domain.RawAccount, last *domain.Execution, now time.Time) decimal.Decimal {
	if !acc.IsActive() {
		return decimal.NewFromInt(1)
	}
	if acc.CycleFrequency <= 0 {
		return decimal.Zero
	}
	freq := decimal.NewFromInt(acc.CycleFrequency)

	var elapsed decimal.Decimal
	if last != nil && !last.At.IsZero() {
		elapsed = decimal.NewFromInt(now.Unix() - last.At.Unix())
	} else {
		untilNext := decimal.NewFromInt(acc.NextCycleAt - now.Unix())
		elapsed = freq.Sub(untilNext)
	}

	progress := elapsed.Div(freq)
	switch {
	case progress.IsNegative():
		return decimal.Zero
	case progress.GreaterThan(decimal.NewFromInt(1)):
		return decimal.NewFromInt(1)
	}
	return progress.Round(4)
}
