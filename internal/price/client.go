package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/dcastat/internal/domain"
	"github.com/mtlprog/dcastat/internal/ratelimit"
)

// Client fetches quote-currency prices from a Jupiter-style price API.
type Client struct {
	baseURL    string
	vsToken    domain.TokenID
	httpClient *http.Client
	delay      time.Duration
	maxRetries int
	limiter    *ratelimit.Limiter
}

// NewClient creates a price API client. Prices are quoted in vsToken.
func NewClient(baseURL string, vsToken domain.TokenID, timeout, delay time.Duration, maxRetries int, limiter *ratelimit.Limiter) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		vsToken:    vsToken,
		httpClient: &http.Client{Timeout: timeout},
		delay:      delay,
		maxRetries: maxRetries,
		limiter:    limiter,
	}
}

type priceResponse struct {
	Data map[string]*struct {
		ID    string `json:"id"`
		Price string `json:"price"`
	} `json:"data"`
}

// FetchPrices returns the price of every requested mint the API knows about.
// Mints the API has no price for are absent from the result.
func (c *Client) FetchPrices(ctx context.Context, mints []domain.TokenID) (map[domain.TokenID]decimal.Decimal, error) {
	if len(mints) == 0 {
		return map[domain.TokenID]decimal.Decimal{}, nil
	}

	ids := make([]string, len(mints))
	for i, m := range mints {
		ids[i] = string(m)
	}
	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	if c.vsToken != "" {
		params.Set("vsToken", string(c.vsToken))
	}

	body, err := c.fetchWithRetry(ctx, c.baseURL+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp priceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing price response: %w", err)
	}

	result := make(map[domain.TokenID]decimal.Decimal, len(resp.Data))
	for id, entry := range resp.Data {
		if entry == nil {
			continue
		}
		p, err := decimal.NewFromString(entry.Price)
		if err != nil || !p.IsPositive() {
			continue
		}
		result[domain.TokenID(id)] = p
	}
	return result, nil
}

func (c *Client) fetchWithRetry(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := range c.maxRetries + 1 {
		if attempt > 0 {
			delay := c.delay * time.Duration(1<<uint(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for price API rate limit: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("creating price request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("price request failed: %w", err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading price response: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			return body, nil
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("price API rate limited (attempt %d/%d)", attempt+1, c.maxRetries+1)
			continue
		}

		return nil, fmt.Errorf("price API HTTP %d: %s", resp.StatusCode, string(body))
	}

	return nil, lastErr
}
