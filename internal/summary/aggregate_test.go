package summary

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/dcastat/internal/domain"
)

const (
	solMint domain.TokenID = "So11111111111111111111111111111111111111112"
	jupMint domain.TokenID = "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN"
)

var (
	sol  = domain.Token{Symbol: "SOL", Mint: solMint, Decimals: 9}
	jup  = domain.Token{Symbol: "JUP", Mint: jupMint, Decimals: 6}
	usdc = domain.USDCToken()
)

func testRegistry() *domain.Registry {
	return domain.NewRegistry(usdc, []domain.Token{sol, jup})
}

func buy(id string, out domain.TokenID, deposited, used, perCycle uint64) domain.RawAccount {
	return domain.RawAccount{ID: id, InputMint: usdc.Mint, OutputMint: out, InDeposited: deposited, InUsed: used, InAmountPerCycle: perCycle}
}

func sell(id string, in domain.TokenID, deposited, withdrawn, used, perCycle uint64) domain.RawAccount {
	return domain.RawAccount{ID: id, InputMint: in, OutputMint: usdc.Mint, InDeposited: deposited, InWithdrawn: withdrawn, InUsed: used, InAmountPerCycle: perCycle}
}

func TestCategorize(t *testing.T) {
	accounts := []domain.RawAccount{
		buy("b1", solMint, 100, 0, 10),
		buy("b2", solMint, 100, 0, 10),
		sell("s1", solMint, 100, 0, 0, 10),
		sell("s2", jupMint, 100, 0, 0, 10),
		buy("x", "UNTRACKED", 100, 0, 10),
		{ID: "pair", InputMint: solMint, OutputMint: jupMint, InDeposited: 10, InAmountPerCycle: 1},
	}

	buckets := Categorize(accounts, testRegistry())
	if len(buckets) != 2 {
		t.Fatalf("buckets = %d, want 2", len(buckets))
	}
	if got := len(buckets[solMint].Buys); got != 2 {
		t.Errorf("SOL buys = %d, want 2", got)
	}
	if got := len(buckets[solMint].Sells); got != 1 {
		t.Errorf("SOL sells = %d, want 1", got)
	}
	if got := len(buckets[jupMint].Sells); got != 1 {
		t.Errorf("JUP sells = %d, want 1", got)
	}
	if got := len(buckets[jupMint].Buys); got != 0 {
		t.Errorf("JUP buys = %d, want 0", got)
	}
}

func TestCategorizeEmptyStillHasTrackedTokens(t *testing.T) {
	buckets := Categorize(nil, testRegistry())
	if _, ok := buckets[jupMint]; !ok {
		t.Error("expected a bucket for every tracked token")
	}
}

func TestAggregateVolumes(t *testing.T) {
	accounts := []domain.RawAccount{
		// 1000 USDC, 400 used, 100 per cycle -> 6 remaining cycles -> 600 USDC
		buy("b1", solMint, 1_000_000_000, 400_000_000, 100_000_000),
		// 300 USDC unused, 100 per cycle -> 300 USDC
		buy("b2", solMint, 300_000_000, 0, 100_000_000),
		// completed, excluded
		buy("b3", solMint, 500_000_000, 500_000_000, 100_000_000),
		// 10 SOL deposited, 2 withdrawn -> 8 SOL
		sell("s1", solMint, 10_000_000_000, 2_000_000_000, 3_000_000_000, 1_000_000_000),
		// completed, excluded
		sell("s2", solMint, 5_000_000_000, 0, 5_000_000_000, 1_000_000_000),
	}
	prices := map[domain.TokenID]decimal.Decimal{
		solMint: decimal.NewFromInt(150),
		jupMint: decimal.RequireFromString("0.9"),
	}

	summaries, err := Aggregate(Categorize(accounts, testRegistry()), prices, usdc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := summaries[solMint]
	if s.BuyOrders != 2 || s.SellOrders != 1 {
		t.Errorf("orders = %d buy / %d sell, want 2 / 1", s.BuyOrders, s.SellOrders)
	}
	if !s.BuyVolumeUSDC.Equal(decimal.NewFromInt(900)) {
		t.Errorf("BuyVolumeUSDC = %s, want 900", s.BuyVolumeUSDC)
	}
	if !s.BuyVolume.Equal(decimal.NewFromInt(6)) {
		t.Errorf("BuyVolume = %s, want 6", s.BuyVolume)
	}
	if !s.SellVolume.Equal(decimal.NewFromInt(8)) {
		t.Errorf("SellVolume = %s, want 8", s.SellVolume)
	}
	if !s.SellVolumeUSDC.Equal(decimal.NewFromInt(1200)) {
		t.Errorf("SellVolumeUSDC = %s, want 1200", s.SellVolumeUSDC)
	}
	if !s.Price.Equal(decimal.NewFromInt(150)) {
		t.Errorf("Price = %s, want 150", s.Price)
	}

	j, ok := summaries[jupMint]
	if !ok {
		t.Fatal("missing JUP summary")
	}
	if j.BuyOrders != 0 || j.SellOrders != 0 || !j.BuyVolume.IsZero() || !j.SellVolume.IsZero() {
		t.Errorf("JUP summary = %+v, want empty", j)
	}
}

func TestAggregateRoundsOnlyFinalFields(t *testing.T) {
	// Each order commits 0.4 USDC per remaining cycle; rounding each term would yield 0.
	accounts := []domain.RawAccount{
		buy("b1", solMint, 400_000, 0, 400_000),
		buy("b2", solMint, 400_000, 0, 400_000),
		buy("b3", solMint, 400_000, 0, 400_000),
	}
	prices := map[domain.TokenID]decimal.Decimal{solMint: decimal.RequireFromString("0.1")}

	summaries, err := Aggregate(Categorize(accounts, testRegistry()), prices, usdc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := summaries[solMint]
	if !s.BuyVolumeUSDC.Equal(decimal.NewFromInt(1)) {
		t.Errorf("BuyVolumeUSDC = %s, want 1 (1.2 rounded)", s.BuyVolumeUSDC)
	}
	if !s.BuyVolume.Equal(decimal.NewFromInt(12)) {
		t.Errorf("BuyVolume = %s, want 12", s.BuyVolume)
	}
}

func TestAggregateZeroPriceWithActiveBuys(t *testing.T) {
	accounts := []domain.RawAccount{
		buy("b1", solMint, 100_000_000, 0, 10_000_000),
		sell("s1", jupMint, 100_000_000, 0, 0, 10_000_000),
	}
	prices := map[domain.TokenID]decimal.Decimal{
		solMint: decimal.Zero,
		jupMint: decimal.NewFromInt(1),
	}

	summaries, err := Aggregate(Categorize(accounts, testRegistry()), prices, usdc)
	if !errors.Is(err, domain.ErrPriceUnavailable) {
		t.Fatalf("err = %v, want ErrPriceUnavailable", err)
	}
	if _, ok := summaries[solMint]; ok {
		t.Error("SOL summary should be omitted without a price")
	}
	if j, ok := summaries[jupMint]; !ok || j.SellOrders != 1 {
		t.Errorf("JUP summary = %+v, %v, want 1 sell order", j, ok)
	}
}

func TestAggregateZeroPriceSellOnly(t *testing.T) {
	accounts := []domain.RawAccount{sell("s1", solMint, 2_000_000_000, 0, 0, 1_000_000_000)}

	summaries, err := Aggregate(Categorize(accounts, testRegistry()), nil, usdc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := summaries[solMint]
	if !s.SellVolume.Equal(decimal.NewFromInt(2)) || !s.SellVolumeUSDC.IsZero() {
		t.Errorf("summary = %+v, want 2 SOL and 0 USDC", s)
	}
}

func TestAggregateSkipsMalformed(t *testing.T) {
	accounts := []domain.RawAccount{
		buy("bad", solMint, 100_000_000, 0, 0),
		buy("good", solMint, 100_000_000, 0, 50_000_000),
	}
	prices := map[domain.TokenID]decimal.Decimal{solMint: decimal.NewFromInt(100)}

	summaries, err := Aggregate(Categorize(accounts, testRegistry()), prices, usdc)
	if !errors.Is(err, domain.ErrMalformedAccount) {
		t.Fatalf("err = %v, want ErrMalformedAccount", err)
	}
	if s := summaries[solMint]; s.BuyOrders != 1 || !s.BuyVolumeUSDC.Equal(decimal.NewFromInt(100)) {
		t.Errorf("summary = %+v, want 1 order and 100 USDC", s)
	}
}

func TestAggregateNonNegativeAndIdempotent(t *testing.T) {
	accounts := []domain.RawAccount{
		buy("b1", solMint, 1_000_000_000, 999_999_999, 7),
		sell("s1", solMint, 10, 10, 3, 1),
		{ID: "w", InputMint: usdc.Mint, OutputMint: solMint, InDeposited: 100, InWithdrawn: 90, InUsed: 50, InAmountPerCycle: 10},
	}
	prices := map[domain.TokenID]decimal.Decimal{solMint: decimal.RequireFromString("0.000001")}
	buckets := Categorize(accounts, testRegistry())

	first, err := Aggregate(buckets, prices, usdc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Aggregate(buckets, prices, usdc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for mint, s := range first {
		for _, v := range []decimal.Decimal{s.BuyVolume, s.SellVolume, s.BuyVolumeUSDC, s.SellVolumeUSDC} {
			if v.IsNegative() {
				t.Errorf("%s: negative volume in %+v", mint, s)
			}
		}
		o := second[mint]
		if s.BuyVolume.String() != o.BuyVolume.String() || s.SellVolumeUSDC.String() != o.SellVolumeUSDC.String() ||
			s.BuyOrders != o.BuyOrders || s.SellOrders != o.SellOrders {
			t.Errorf("%s: Aggregate not deterministic: %+v vs %+v", mint, s, o)
		}
	}
}
