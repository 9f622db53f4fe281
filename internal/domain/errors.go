package domain

import "errors"

var (
	// ErrProviderUnavailable indicates the account source failed or returned no accounts.
	ErrProviderUnavailable = errors.New("account provider unavailable")

	// ErrMalformedAccount indicates an account whose fields break the cycle math invariants.
	ErrMalformedAccount = errors.New("malformed account")

	// ErrPriceUnavailable indicates a zero or missing quote where a division by price is required.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrTransactionLookupFailed indicates the last execution of an account could not be determined.
	ErrTransactionLookupFailed = errors.New("transaction lookup failed")
)
