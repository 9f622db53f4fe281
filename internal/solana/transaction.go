package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/mtlprog/dcastat/internal/domain"
)

const (
	detailsTTL     = time.Hour
	detailsCleanup = 10 * time.Minute
)

// TransactionLookup finds the most recent swap executed by a DCA account.
type TransactionLookup struct {
	client  *Client
	details *cache.Cache
}

// NewTransactionLookup creates a TransactionLookup. Parsed transactions are cached by signature.
func NewTransactionLookup(client *Client) *TransactionLookup {
	return &TransactionLookup{
		client:  client,
		details: cache.New(detailsTTL, detailsCleanup),
	}
}

// RecentSignature returns the newest confirmed signature touching accountID, or "" when there is none.
func (l *TransactionLookup) RecentSignature(ctx context.Context, accountID string) (string, error) {
	var result []struct {
		Signature string          `json:"signature"`
		Err       json.RawMessage `json:"err"`
	}
	err := l.client.callJSON(ctx, &result, "getSignaturesForAddress", accountID, map[string]any{
		"limit":      1,
		"commitment": "confirmed",
	})
	if err != nil {
		return "", fmt.Errorf("signatures of %s: %w: %w", accountID, domain.ErrTransactionLookupFailed, err)
	}
	if len(result) == 0 {
		return "", nil
	}
	return result[0].Signature, nil
}

// TransactionDetails returns the amounts accountID swapped in the transaction, read from the
// token balances it owns before and after. It returns nil when the transaction is unknown,
// failed, or moved none of the account's tokens.
func (l *TransactionLookup) TransactionDetails(ctx context.Context, accountID, signature string) (*domain.Execution, error) {
	key := signature + ":" + accountID
	if v, ok := l.details.Get(key); ok {
		return v.(*domain.Execution), nil
	}

	result, err := l.client.call(ctx, "getTransaction", signature, map[string]any{
		"encoding":                       "jsonParsed",
		"commitment":                     "confirmed",
		"maxSupportedTransactionVersion": 0,
	})
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w: %w", signature, domain.ErrTransactionLookupFailed, err)
	}
	if !gjson.ValidBytes(result) {
		return nil, fmt.Errorf("transaction %s: invalid JSON: %w", signature, domain.ErrTransactionLookupFailed)
	}

	exec := parseExecution(gjson.ParseBytes(result), accountID, signature)
	if exec != nil {
		l.details.SetDefault(key, exec)
	}
	return exec, nil
}

// LastExecution combines RecentSignature and TransactionDetails.
func (l *TransactionLookup) LastExecution(ctx context.Context, accountID string) (*domain.Execution, error) {
	sig, err := l.RecentSignature(ctx, accountID)
	if err != nil || sig == "" {
		return nil, err
	}
	return l.TransactionDetails(ctx, accountID, sig)
}

type balanceKey struct {
	index int64
	mint  string
}

func parseExecution(tx gjson.Result, owner, signature string) *domain.Execution {
	if !tx.Exists() || tx.Type == gjson.Null {
		return nil
	}
	if e := tx.Get("meta.err"); e.Exists() && e.Type != gjson.Null {
		return nil
	}

	pre := ownedBalances(tx.Get("meta.preTokenBalances"), owner)
	post := ownedBalances(tx.Get("meta.postTokenBalances"), owner)

	in, out := decimal.Zero, decimal.Zero
	for k, after := range post {
		delta := after.Sub(pre[k])
		if delta.IsPositive() {
			out = out.Add(delta)
		} else {
			in = in.Add(delta.Neg())
		}
	}
	for k, before := range pre {
		if _, ok := post[k]; !ok {
			in = in.Add(before)
		}
	}
	if in.IsZero() && out.IsZero() {
		return nil
	}

	exec := &domain.Execution{Signature: signature, InAmount: in, OutAmount: out}
	if bt := tx.Get("blockTime").Int(); bt > 0 {
		exec.At = time.Unix(bt, 0).UTC()
	}
	return exec
}

func ownedBalances(list gjson.Result, owner string) map[balanceKey]decimal.Decimal {
	out := make(map[balanceKey]decimal.Decimal)
	list.ForEach(func(_, b gjson.Result) bool {
		if b.Get("owner").String() != owner {
			return true
		}
		amount := domain.SafeParse(b.Get("uiTokenAmount.amount").String())
		k := balanceKey{index: b.Get("accountIndex").Int(), mint: b.Get("mint").String()}
		out[k] = amount.Shift(-int32(b.Get("uiTokenAmount.decimals").Int()))
		return true
	})
	return out
}
