// Package summary groups raw DCA accounts by token and folds them into per-token summaries.
package summary

import (
	"errors"
	"fmt"
	"sort"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/dcastat/internal/domain"
)

// Bucket holds the accounts of one tracked token split by direction.
type Bucket struct {
	Token domain.Token
	Buys  []domain.RawAccount
	Sells []domain.RawAccount
}

// Categorize groups accounts by tracked token and direction. Every tracked token gets a bucket,
// accounts on untracked pairs are dropped.
func Categorize(accounts []domain.RawAccount, registry *domain.Registry) map[domain.TokenID]Bucket {
	buckets := lo.SliceToMap(registry.Tokens(), func(t domain.Token) (domain.TokenID, Bucket) {
		return t.Mint, Bucket{Token: t}
	})

	for _, acc := range accounts {
		tok, dir, ok := registry.Classify(acc)
		if !ok {
			continue
		}
		b := buckets[tok.Mint]
		if dir == domain.DirectionBuy {
			b.Buys = append(b.Buys, acc)
		} else {
			b.Sells = append(b.Sells, acc)
		}
		buckets[tok.Mint] = b
	}
	return buckets
}

// Aggregate builds a summary per token from the active accounts of each bucket.
// A token that needs a price and has none is left out and reported with ErrPriceUnavailable;
// malformed accounts are skipped and reported with ErrMalformedAccount. The returned error joins
// every such failure, the map holds all tokens that could be summarized.
func Aggregate(buckets map[domain.TokenID]Bucket, prices map[domain.TokenID]decimal.Decimal, quote domain.Token) (map[domain.TokenID]domain.TokenSummary, error) {
	mints := lo.Keys(buckets)
	sort.Slice(mints, func(i, j int) bool { return mints[i] < mints[j] })

	result := make(map[domain.TokenID]domain.TokenSummary, len(buckets))
	var errs []error
	for _, mint := range mints {
		s, tokenErrs := aggregateToken(buckets[mint], prices[mint], quote)
		errs = append(errs, tokenErrs...)
		if s != nil {
			result[mint] = *s
		}
	}
	return result, errors.Join(errs...)
}

func aggregateToken(b Bucket, price decimal.Decimal, quote domain.Token) (*domain.TokenSummary, []error) {
	var errs []error
	usable := func(accounts []domain.RawAccount) []domain.RawAccount {
		return lo.Filter(accounts, func(a domain.RawAccount, _ int) bool {
			if !a.IsActive() {
				return false
			}
			if err := a.Validate(); err != nil {
				errs = append(errs, err)
				return false
			}
			return true
		})
	}
	buys := usable(b.Buys)
	sells := usable(b.Sells)

	if price.IsNegative() {
		price = decimal.Zero
	}

	// Remaining cycles times amount per cycle, in quote units.
	buyQuote := decimal.Zero
	for _, a := range buys {
		committed := decimal.NewFromUint64(a.RemainingCycles()).Mul(decimal.NewFromUint64(a.InAmountPerCycle))
		buyQuote = buyQuote.Add(committed.Shift(-quote.Decimals))
	}

	buyTokens := decimal.Zero
	if len(buys) > 0 {
		v, ok := domain.SafeDiv(buyQuote, price)
		if !ok {
			errs = append(errs, fmt.Errorf("token %s: %d active buy orders: %w", b.Token.Symbol, len(buys), domain.ErrPriceUnavailable))
			return nil, errs
		}
		buyTokens = v
	}

	sellTokens := decimal.Zero
	for _, a := range sells {
		sellTokens = sellTokens.Add(domain.FromNative(a.Remaining(), b.Token.Decimals))
	}
	sellQuote := sellTokens.Mul(price)

	return &domain.TokenSummary{
		Token:          b.Token.Symbol,
		Mint:           b.Token.Mint,
		BuyOrders:      len(buys),
		SellOrders:     len(sells),
		BuyVolume:      domain.ClampNonNegative(buyTokens).Round(0),
		SellVolume:     domain.ClampNonNegative(sellTokens).Round(0),
		BuyVolumeUSDC:  domain.ClampNonNegative(buyQuote).Round(0),
		SellVolumeUSDC: domain.ClampNonNegative(sellQuote).Round(0),
		Price:          price,
	}, errs
}
