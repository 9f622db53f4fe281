// Package solana reads DCA program accounts and their transactions over Solana JSON-RPC.
package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/mtlprog/dcastat/internal/ratelimit"
)

// Client is a Solana JSON-RPC client with retry on 429.
type Client struct {
	endpoint   string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	limiter    *ratelimit.Limiter
	nextID     atomic.Uint64
}

// NewClient creates a new JSON-RPC client for endpoint.
func NewClient(endpoint string, timeout time.Duration, maxRetries int, baseDelay time.Duration, limiter *ratelimit.Limiter) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		limiter:    limiter,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call performs a JSON-RPC request and returns the raw result.
func (c *Client) call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", method, err)
	}

	var lastErr error
	for attempt := range c.maxRetries + 1 {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rpc rate limit: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("executing %s: %w", method, err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s response: %w", method, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("HTTP 429 for %s (attempt %d/%d)", method, attempt+1, c.maxRetries+1)
			if attempt < c.maxRetries {
				delay := c.baseDelay * time.Duration(1<<uint(attempt))
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(delay):
				}
				continue
			}
			return nil, lastErr
		}

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("HTTP %d for %s: %s", resp.StatusCode, method, string(body))
		}

		var out rpcResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("parsing %s response: %w", method, err)
		}
		if out.Error != nil {
			return nil, fmt.Errorf("%s: %w", method, out.Error)
		}
		return out.Result, nil
	}

	return nil, lastErr
}

// callJSON performs a JSON-RPC request and unmarshals the result into dest.
func (c *Client) callJSON(ctx context.Context, dest any, method string, params ...any) error {
	result, err := c.call(ctx, method, params...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(result, dest); err != nil {
		return fmt.Errorf("parsing %s result: %w", method, err)
	}
	return nil
}
