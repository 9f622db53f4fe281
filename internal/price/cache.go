package price

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/dcastat/internal/domain"
)

const defaultCacheTTL = 10 * time.Second

type cacheEntry struct {
	price     decimal.Decimal
	expiresAt time.Time
}

type priceCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[domain.TokenID]cacheEntry
}

func newPriceCache(ttl time.Duration) *priceCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &priceCache{
		ttl:     ttl,
		entries: make(map[domain.TokenID]cacheEntry),
	}
}

func (c *priceCache) get(mint domain.TokenID) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[mint]
	if !ok || time.Now().After(entry.expiresAt) {
		return decimal.Zero, false
	}
	return entry.price, true
}

func (c *priceCache) set(mint domain.TokenID, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[mint] = cacheEntry{
		price:     price,
		expiresAt: time.Now().Add(c.ttl),
	}
}
