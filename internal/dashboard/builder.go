// Package dashboard runs one full aggregation pass over the DCA program and keeps the
// published snapshots with their chart history.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/dcastat/internal/domain"
	"github.com/mtlprog/dcastat/internal/position"
	"github.com/mtlprog/dcastat/internal/summary"
)

// AccountProvider lists the raw DCA accounts.
type AccountProvider interface {
	ListAccounts(ctx context.Context) ([]domain.RawAccount, error)
}

// PriceProvider returns a price for every requested mint, zero when unknown.
type PriceProvider interface {
	GetPrices(ctx context.Context, mints []domain.TokenID) map[domain.TokenID]decimal.Decimal
}

// ExecutionLookup finds the most recent execution of an account, nil when there is none.
type ExecutionLookup interface {
	LastExecution(ctx context.Context, accountID string) (*domain.Execution, error)
}

// DefaultLookupTimeout bounds the transaction lookup phase of one pass.
const DefaultLookupTimeout = 20 * time.Second

// Config tunes the transaction lookup phase.
type Config struct {
	LookupWorkers int
	// LookupTimeout caps the lookup phase. It is further limited to three quarters of the time
	// left on the pass context, so expired lookups still leave room to publish.
	LookupTimeout time.Duration
}

// Builder assembles snapshots from the account, price and transaction sources.
type Builder struct {
	accounts      AccountProvider
	prices        PriceProvider
	lookup        ExecutionLookup
	registry      *domain.Registry
	pool          *ants.Pool
	lookupTimeout time.Duration
}

// NewBuilder creates a Builder. Transaction lookups run on a pool of cfg.LookupWorkers
// goroutines; lookup may be nil to skip them. Call Close to release the pool.
func NewBuilder(accounts AccountProvider, prices PriceProvider, lookup ExecutionLookup, registry *domain.Registry, cfg Config) (*Builder, error) {
	if accounts == nil {
		panic("dashboard.NewBuilder: accounts is nil")
	}
	if prices == nil {
		panic("dashboard.NewBuilder: prices is nil")
	}
	if registry == nil {
		panic("dashboard.NewBuilder: registry is nil")
	}
	if cfg.LookupWorkers <= 0 {
		cfg.LookupWorkers = 1
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	pool, err := ants.NewPool(cfg.LookupWorkers)
	if err != nil {
		return nil, fmt.Errorf("creating lookup pool: %w", err)
	}
	return &Builder{
		accounts:      accounts,
		prices:        prices,
		lookup:        lookup,
		registry:      registry,
		pool:          pool,
		lookupTimeout: cfg.LookupTimeout,
	}, nil
}

// Close releases the lookup pool.
func (b *Builder) Close() {
	b.pool.Release()
}

// Build runs one pass: list accounts, price tokens, look up last executions, aggregate and
// convert. A failure to list accounts or a cancelled ctx fails the pass; everything else is
// skipped and reported in the snapshot warnings.
func (b *Builder) Build(ctx context.Context, now time.Time) (domain.Snapshot, error) {
	listed, err := b.accounts.ListAccounts(ctx)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("listing accounts: %w", err)
	}
	if len(listed) == 0 {
		return domain.Snapshot{}, fmt.Errorf("listing accounts: %w", domain.ErrProviderUnavailable)
	}

	var warnings []string
	accounts := lo.Filter(listed, func(acc domain.RawAccount, _ int) bool {
		if err := acc.Validate(); err != nil {
			w := fmt.Sprintf("skipping account %s: %v", acc.ID, err)
			slog.Warn("Dashboard: " + w)
			warnings = append(warnings, w)
			return false
		}
		return true
	})

	buckets := summary.Categorize(accounts, b.registry)

	mints := lo.FilterMap(lo.Values(buckets), func(bk summary.Bucket, _ int) (domain.TokenID, bool) {
		return bk.Token.Mint, len(bk.Buys)+len(bk.Sells) > 0
	})
	sort.Slice(mints, func(i, j int) bool { return mints[i] < mints[j] })
	prices := b.prices.GetPrices(ctx, mints)

	executions, lookupWarnings := b.lookupExecutions(ctx, buckets)
	warnings = append(warnings, lookupWarnings...)
	if errors.Is(ctx.Err(), context.Canceled) {
		return domain.Snapshot{}, ctx.Err()
	}

	summaries, err := summary.Aggregate(buckets, prices, b.registry.Quote())
	warnings = append(warnings, errorMessages(err)...)

	var positions []domain.Position
	for mint, bk := range buckets {
		// A token without a summary has no price to show its positions against.
		if _, ok := summaries[mint]; !ok {
			continue
		}
		for _, side := range []struct {
			dir      domain.Direction
			accounts []domain.RawAccount
		}{
			{domain.DirectionBuy, bk.Buys},
			{domain.DirectionSell, bk.Sells},
		} {
			for _, acc := range side.accounts {
				pos, err := position.Convert(position.Input{
					Account:       acc,
					Token:         bk.Token,
					Quote:         b.registry.Quote(),
					Direction:     side.dir,
					CurrentPrice:  prices[mint],
					LastExecution: executions[acc.ID],
					Now:           now,
				})
				if err != nil {
					w := fmt.Sprintf("skipping position %s: %v", acc.ID, err)
					slog.Warn("Dashboard: " + w)
					warnings = append(warnings, w)
					continue
				}
				positions = append(positions, pos)
			}
		}
	}
	sortPositions(positions)
	sort.Strings(warnings)

	return domain.Snapshot{
		GeneratedAt: now,
		Positions:   positions,
		Summary:     summaries,
		Warnings:    warnings,
	}, nil
}

// lookupBudget derives the context for the lookup phase from the pass context.
func (b *Builder) lookupBudget(ctx context.Context) (context.Context, context.CancelFunc) {
	budget := b.lookupTimeout
	if deadline, ok := ctx.Deadline(); ok {
		budget = min(budget, time.Until(deadline)*3/4)
	}
	return context.WithTimeout(ctx, budget)
}

// lookupExecutions fetches the last execution of every active tracked account on the pool.
// A failed lookup leaves the account without an execution. Lookups cut off by the phase
// deadline are reported together in one warning.
func (b *Builder) lookupExecutions(ctx context.Context, buckets map[domain.TokenID]summary.Bucket) (map[string]*domain.Execution, []string) {
	result := make(map[string]*domain.Execution)
	if b.lookup == nil {
		return result, nil
	}

	lookupCtx, cancel := b.lookupBudget(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		warnings []string
		expired  int
	)
	warn := func(w string, err error) {
		slog.Warn("Dashboard: "+w, "error", err)
		mu.Lock()
		warnings = append(warnings, w)
		mu.Unlock()
	}

	for _, bk := range buckets {
		for _, acc := range slices.Concat(bk.Buys, bk.Sells) {
			if !acc.IsActive() {
				continue
			}
			id := acc.ID
			wg.Add(1)
			err := b.pool.Submit(func() {
				defer wg.Done()
				var (
					exec *domain.Execution
					err  error
				)
				if err = lookupCtx.Err(); err == nil {
					exec, err = b.lookup.LastExecution(lookupCtx, id)
				}
				if err != nil {
					if lookupCtx.Err() != nil {
						mu.Lock()
						expired++
						mu.Unlock()
						return
					}
					warn(fmt.Sprintf("last execution of %s unavailable, progress from schedule", id), err)
					return
				}
				if exec == nil {
					return
				}
				mu.Lock()
				result[id] = exec
				mu.Unlock()
			})
			if err != nil {
				wg.Done()
				warn(fmt.Sprintf("last execution of %s not scheduled", id), err)
			}
		}
	}
	wg.Wait()

	if expired > 0 {
		err := fmt.Errorf("%d lookups cut off by the lookup deadline: %w", expired, domain.ErrTransactionLookupFailed)
		warn(fmt.Sprintf("last executions unavailable, progress from schedule: %v", err), err)
	}
	return result, warnings
}

func errorMessages(err error) []string {
	if err == nil {
		return nil
	}
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		return lo.Map(joined.Unwrap(), func(e error, _ int) string {
			slog.Warn("Dashboard: aggregation skipped", "error", e)
			return e.Error()
		})
	}
	slog.Warn("Dashboard: aggregation skipped", "error", err)
	return []string{err.Error()}
}

func sortPositions(positions []domain.Position) {
	sort.SliceStable(positions, func(i, j int) bool {
		a, b := positions[i], positions[j]
		if a.Token != b.Token {
			return a.Token < b.Token
		}
		if a.Direction != b.Direction {
			return a.Direction < b.Direction
		}
		return a.ID < b.ID
	})
}
