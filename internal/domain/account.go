package domain

import (
	"fmt"
	"time"
)

// RawAccount is a decoded DCA program account. Amounts are native units of the mint they refer to.
type RawAccount struct {
	ID         string  `json:"id"`
	User       string  `json:"user"`
	InputMint  TokenID `json:"inputMint"`
	OutputMint TokenID `json:"outputMint"`

	InDeposited  uint64 `json:"inDeposited"`
	InWithdrawn  uint64 `json:"inWithdrawn"`
	InUsed       uint64 `json:"inUsed"`
	OutReceived  uint64 `json:"outReceived"`
	OutWithdrawn uint64 `json:"outWithdrawn"`

	InAmountPerCycle uint64 `json:"inAmountPerCycle"`
	CycleFrequency   int64  `json:"cycleFrequency"`
	NextCycleAt      int64  `json:"nextCycleAt"`
	CreatedAt        int64  `json:"createdAt"`

	// Zero means no bound.
	MinOutAmount uint64 `json:"minOutAmount"`
	MaxOutAmount uint64 `json:"maxOutAmount"`
}

// IsActive reports whether the order still has unconsumed capital.
func (a RawAccount) IsActive() bool {
	return a.InUsed != a.InDeposited
}

// Validate checks the invariants the cycle math relies on.
func (a RawAccount) Validate() error {
	if a.InAmountPerCycle == 0 {
		return fmt.Errorf("account %s: zero amount per cycle: %w", a.ID, ErrMalformedAccount)
	}
	if a.InWithdrawn > a.InDeposited {
		return fmt.Errorf("account %s: withdrawn %d exceeds deposited %d: %w", a.ID, a.InWithdrawn, a.InDeposited, ErrMalformedAccount)
	}
	if a.InUsed > a.InDeposited {
		return fmt.Errorf("account %s: used %d exceeds deposited %d: %w", a.ID, a.InUsed, a.InDeposited, ErrMalformedAccount)
	}
	if a.CycleFrequency < 0 {
		return fmt.Errorf("account %s: negative cycle frequency: %w", a.ID, ErrMalformedAccount)
	}
	return nil
}

// RemainingCapital is the input amount still to be swapped: deposited - withdrawn - used, floored at zero.
func (a RawAccount) RemainingCapital() uint64 {
	spent := a.InWithdrawn + a.InUsed
	if spent < a.InWithdrawn || spent >= a.InDeposited {
		return 0
	}
	return a.InDeposited - spent
}

// TotalCycles is ceil(deposited / amountPerCycle). Callers must Validate first.
func (a RawAccount) TotalCycles() uint64 {
	n := a.InDeposited / a.InAmountPerCycle
	if a.InDeposited%a.InAmountPerCycle != 0 {
		n++
	}
	return n
}

// RemainingCycles is ceil(RemainingCapital / amountPerCycle). This is the only source of
// remaining-cycle counts: positions and summaries both use it.
func (a RawAccount) RemainingCycles() uint64 {
	rem := a.RemainingCapital()
	n := rem / a.InAmountPerCycle
	if rem%a.InAmountPerCycle != 0 {
		n++
	}
	return n
}

// Remaining is the input amount not yet withdrawn by the owner: deposited - withdrawn.
func (a RawAccount) Remaining() uint64 {
	if a.InWithdrawn > a.InDeposited {
		return 0
	}
	return a.InDeposited - a.InWithdrawn
}

// NextCycle returns NextCycleAt as a time.
func (a RawAccount) NextCycle() time.Time {
	return time.Unix(a.NextCycleAt, 0).UTC()
}
