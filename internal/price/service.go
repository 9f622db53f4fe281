package price

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mtlprog/dcastat/internal/domain"
)

const (
	maxIDsPerRequest = 100
	maxConcurrent    = 4
)

// Fetcher defines the upstream price lookup.
type Fetcher interface {
	FetchPrices(ctx context.Context, mints []domain.TokenID) (map[domain.TokenID]decimal.Decimal, error)
}

// Service resolves current token prices. Lookups never fail: a token without a price is
// reported as zero and the caller decides whether zero is usable.
type Service struct {
	fetcher Fetcher
	cache   *priceCache
}

// NewService creates a price Service caching quotes for ttl.
func NewService(fetcher Fetcher, ttl time.Duration) *Service {
	return &Service{
		fetcher: fetcher,
		cache:   newPriceCache(ttl),
	}
}

// GetPrice returns the current price of mint, or zero when it cannot be determined.
func (s *Service) GetPrice(ctx context.Context, mint domain.TokenID) decimal.Decimal {
	return s.GetPrices(ctx, []domain.TokenID{mint})[mint]
}

// GetPrices returns a price for every requested mint, zero where none is available.
// Uncached mints are fetched in concurrent batches.
func (s *Service) GetPrices(ctx context.Context, mints []domain.TokenID) map[domain.TokenID]decimal.Decimal {
	result := make(map[domain.TokenID]decimal.Decimal, len(mints))
	var missing []domain.TokenID
	for _, m := range lo.Uniq(mints) {
		if p, ok := s.cache.get(m); ok {
			result[m] = p
			continue
		}
		result[m] = decimal.Zero
		missing = append(missing, m)
	}
	if len(missing) == 0 {
		return result
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for _, batch := range lo.Chunk(missing, maxIDsPerRequest) {
		g.Go(func() error {
			prices, err := s.fetcher.FetchPrices(gctx, batch)
			if err != nil {
				slog.Warn("price lookup failed, using zero", "tokens", len(batch), "error", err)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for _, m := range batch {
				p, ok := prices[m]
				if !ok {
					slog.Warn("no price for token, using zero", "mint", m)
					continue
				}
				result[m] = p
				s.cache.set(m, p)
			}
			return nil
		})
	}
	_ = g.Wait()

	return result
}
