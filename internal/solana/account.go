package solana

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mr-tron/base58"

	"github.com/mtlprog/dcastat/internal/domain"
)

// DefaultProgramID is the mainnet Jupiter DCA program.
const DefaultProgramID = "DCA265Vj8a9CEuX1eb1LWRnDT7uK6q1xMipnNyatn23M"

// AccountSize is the length of a DCA account including its 8-byte discriminator.
const AccountSize = 289

// ErrInvalidAccountData is returned by DecodeAccount for data that is not a DCA account.
var ErrInvalidAccountData = errors.New("invalid DCA account data")

// Field offsets of the DCA account layout.
const (
	offUser             = 8
	offInputMint        = 40
	offOutputMint       = 72
	offIdx              = 104
	offNextCycleAt      = 112
	offInDeposited      = 120
	offInWithdrawn      = 128
	offOutWithdrawn     = 136
	offInUsed           = 144
	offOutReceived      = 152
	offInAmountPerCycle = 160
	offCycleFrequency   = 168
	offNextCycleLeft    = 176
	offInAccount        = 184
	offOutAccount       = 216
	offMinOut           = 248
	offMaxOut           = 256
	offCreatedAt        = 280
)

// DecodeAccount decodes the binary data of a DCA program account at address id.
func DecodeAccount(id string, data []byte) (domain.RawAccount, error) {
	if len(data) < AccountSize {
		return domain.RawAccount{}, fmt.Errorf("account %s: %d bytes, want %d: %w", id, len(data), AccountSize, ErrInvalidAccountData)
	}

	u64 := func(off int) uint64 { return binary.LittleEndian.Uint64(data[off : off+8]) }
	i64 := func(off int) int64 { return int64(u64(off)) }
	key := func(off int) string { return base58.Encode(data[off : off+32]) }

	return domain.RawAccount{
		ID:               id,
		User:             key(offUser),
		InputMint:        domain.TokenID(key(offInputMint)),
		OutputMint:       domain.TokenID(key(offOutputMint)),
		InDeposited:      u64(offInDeposited),
		InWithdrawn:      u64(offInWithdrawn),
		InUsed:           u64(offInUsed),
		OutReceived:      u64(offOutReceived),
		OutWithdrawn:     u64(offOutWithdrawn),
		InAmountPerCycle: u64(offInAmountPerCycle),
		CycleFrequency:   i64(offCycleFrequency),
		NextCycleAt:      i64(offNextCycleAt),
		CreatedAt:        i64(offCreatedAt),
		MinOutAmount:     u64(offMinOut),
		MaxOutAmount:     u64(offMaxOut),
	}, nil
}

type programAccount struct {
	Pubkey  string `json:"pubkey"`
	Account struct {
		Data []string `json:"data"`
	} `json:"account"`
}

// AccountSource lists the accounts of one DCA program.
type AccountSource struct {
	client    *Client
	programID string
}

// NewAccountSource creates an AccountSource for programID, DefaultProgramID when empty.
func NewAccountSource(client *Client, programID string) *AccountSource {
	if programID == "" {
		programID = DefaultProgramID
	}
	return &AccountSource{client: client, programID: programID}
}

// ListAccounts returns every decodable account of the program. Accounts that fail to decode
// are logged and skipped. A transport failure or an empty result is ErrProviderUnavailable.
func (s *AccountSource) ListAccounts(ctx context.Context) ([]domain.RawAccount, error) {
	var result []programAccount
	err := s.client.callJSON(ctx, &result, "getProgramAccounts", s.programID, map[string]any{
		"encoding":   "base64",
		"commitment": "confirmed",
		"filters":    []any{map[string]any{"dataSize": AccountSize}},
	})
	if err != nil {
		return nil, fmt.Errorf("listing accounts of %s: %w: %w", s.programID, domain.ErrProviderUnavailable, err)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("program %s returned no accounts: %w", s.programID, domain.ErrProviderUnavailable)
	}

	accounts := make([]domain.RawAccount, 0, len(result))
	for _, pa := range result {
		if len(pa.Account.Data) == 0 {
			slog.Warn("Solana: account without data, skipping", "account", pa.Pubkey)
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(pa.Account.Data[0])
		if err != nil {
			slog.Warn("Solana: invalid base64 account data, skipping", "account", pa.Pubkey, "error", err)
			continue
		}
		acc, err := DecodeAccount(pa.Pubkey, raw)
		if err != nil {
			slog.Warn("Solana: failed to decode account, skipping", "account", pa.Pubkey, "error", err)
			continue
		}
		accounts = append(accounts, acc)
	}

	if len(accounts) == 0 {
		return nil, fmt.Errorf("program %s: no decodable accounts: %w", s.programID, domain.ErrProviderUnavailable)
	}
	return accounts, nil
}
