package price

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/dcastat/internal/domain"
)

type mockFetcher struct {
	mu     sync.Mutex
	prices map[domain.TokenID]decimal.Decimal
	err    error
	calls  [][]domain.TokenID
}

func (m *mockFetcher) FetchPrices(_ context.Context, mints []domain.TokenID) (map[domain.TokenID]decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mints)
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[domain.TokenID]decimal.Decimal)
	for _, mint := range mints {
		if p, ok := m.prices[mint]; ok {
			out[mint] = p
		}
	}
	return out, nil
}

func TestGetPrice(t *testing.T) {
	f := &mockFetcher{prices: map[domain.TokenID]decimal.Decimal{"SOL": decimal.NewFromInt(150)}}
	svc := NewService(f, time.Minute)

	if got := svc.GetPrice(context.Background(), "SOL"); !got.Equal(decimal.NewFromInt(150)) {
		t.Errorf("GetPrice(SOL) = %s, want 150", got)
	}
}

func TestGetPriceFailureReturnsZero(t *testing.T) {
	f := &mockFetcher{err: errors.New("upstream down")}
	svc := NewService(f, time.Minute)

	if got := svc.GetPrice(context.Background(), "SOL"); !got.IsZero() {
		t.Errorf("GetPrice() = %s, want 0 on failure", got)
	}
}

func TestGetPricesMissingTokenIsZero(t *testing.T) {
	f := &mockFetcher{prices: map[domain.TokenID]decimal.Decimal{"SOL": decimal.NewFromInt(150)}}
	svc := NewService(f, time.Minute)

	got := svc.GetPrices(context.Background(), []domain.TokenID{"SOL", "UNKNOWN"})
	if len(got) != 2 {
		t.Fatalf("GetPrices() returned %d entries, want 2", len(got))
	}
	if !got["UNKNOWN"].IsZero() {
		t.Errorf("UNKNOWN = %s, want 0", got["UNKNOWN"])
	}
}

func TestGetPricesUsesCache(t *testing.T) {
	f := &mockFetcher{prices: map[domain.TokenID]decimal.Decimal{"SOL": decimal.NewFromInt(150)}}
	svc := NewService(f, time.Minute)

	svc.GetPrices(context.Background(), []domain.TokenID{"SOL"})
	svc.GetPrices(context.Background(), []domain.TokenID{"SOL", "SOL"})

	if len(f.calls) != 1 {
		t.Errorf("fetcher calls = %d, want 1", len(f.calls))
	}
}

func TestGetPricesFailureNotCached(t *testing.T) {
	f := &mockFetcher{err: errors.New("upstream down")}
	svc := NewService(f, time.Minute)

	svc.GetPrice(context.Background(), "SOL")
	f.err = nil
	f.prices = map[domain.TokenID]decimal.Decimal{"SOL": decimal.NewFromInt(140)}

	if got := svc.GetPrice(context.Background(), "SOL"); !got.Equal(decimal.NewFromInt(140)) {
		t.Errorf("GetPrice() after recovery = %s, want 140", got)
	}
}

func TestGetPricesBatches(t *testing.T) {
	f := &mockFetcher{prices: map[domain.TokenID]decimal.Decimal{}}
	svc := NewService(f, time.Minute)

	mints := make([]domain.TokenID, 0, 250)
	for i := range 250 {
		mints = append(mints, domain.TokenID(string(rune('A'+i%26))+string(rune('a'+i/26))))
	}
	svc.GetPrices(context.Background(), mints)

	if len(f.calls) != 3 {
		t.Errorf("fetcher calls = %d, want 3 batches", len(f.calls))
	}
	for _, c := range f.calls {
		if len(c) > maxIDsPerRequest {
			t.Errorf("batch of %d exceeds %d", len(c), maxIDsPerRequest)
		}
	}
}
