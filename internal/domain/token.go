package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// TokenID identifies a token by its mint address.
type TokenID string

// Direction is the side of a DCA order relative to the tracked token.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
)

// Token describes an SPL token tracked by the dashboard.
type Token struct {
	Symbol   string  `json:"symbol"`
	Mint     TokenID `json:"mint"`
	Decimals int32   `json:"decimals"`
}

// USDCMint is the mainnet USDC mint, the default quote token.
const USDCMint TokenID = "EPjFWdd5AufqSSqeM2qFM8yeNpLpMj6xmSXwBBFH6T6A"

var usdcToken = Token{Symbol: "USDC", Mint: USDCMint, Decimals: 6}

// USDCToken returns the default quote token.
func USDCToken() Token { return usdcToken }

// ParseToken parses "SYMBOL:MINT:DECIMALS".
func ParseToken(s string) (Token, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return Token{}, fmt.Errorf("token %q: want SYMBOL:MINT:DECIMALS", s)
	}
	decimals, err := strconv.ParseInt(parts[2], 10, 32)
	if err != nil || decimals < 0 || decimals > 18 {
		return Token{}, fmt.Errorf("token %q: invalid decimals %q", s, parts[2])
	}
	if parts[0] == "" || parts[1] == "" {
		return Token{}, fmt.Errorf("token %q: empty symbol or mint", s)
	}
	return Token{Symbol: parts[0], Mint: TokenID(parts[1]), Decimals: int32(decimals)}, nil
}

// Registry holds the tracked tokens and the quote token every order is paired with.
type Registry struct {
	quote  Token
	tokens []Token
}

// NewRegistry creates a registry. Duplicate mints keep the first entry and the quote token is never tracked.
func NewRegistry(quote Token, tokens []Token) *Registry {
	tracked := lo.UniqBy(lo.Filter(tokens, func(t Token, _ int) bool {
		return t.Mint != quote.Mint
	}), func(t Token) TokenID { return t.Mint })
	return &Registry{quote: quote, tokens: tracked}
}

// Quote returns the quote token.
func (r *Registry) Quote() Token { return r.quote }

// Tokens returns a copy of the tracked tokens in configuration order.
func (r *Registry) Tokens() []Token {
	out := make([]Token, len(r.tokens))
	copy(out, r.tokens)
	return out
}

// Lookup returns the tracked token with the given mint.
func (r *Registry) Lookup(mint TokenID) (Token, bool) {
	return lo.Find(r.tokens, func(t Token) bool { return t.Mint == mint })
}

// Classify returns the tracked token and direction of an order.
// Buying spends the quote token, selling receives it. Other pairs are not tracked.
func (r *Registry) Classify(acc RawAccount) (Token, Direction, bool) {
	switch {
	case acc.InputMint == r.quote.Mint:
		if t, ok := r.Lookup(acc.OutputMint); ok {
			return t, DirectionBuy, true
		}
	case acc.OutputMint == r.quote.Mint:
		if t, ok := r.Lookup(acc.InputMint); ok {
			return t, DirectionSell, true
		}
	}
	return Token{}, "", false
}
