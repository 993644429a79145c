// Package chain holds the outbound interfaces to the value-transfer network
// and the pooled-rewards claim API, plus their HTTP implementations. Key
// custody lives behind the signer service; this package only invokes the
// abstract transfer capability.
package chain

import (
	"context"
	"errors"
	"strings"
)

// Transfer is one recipient/amount pair inside a batch submission.
type Transfer struct {
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"`
}

// TransferService submits value transfers and reports treasury balance.
// TransferBatch submits the whole batch as one operation and returns the
// shared transaction id; a returned error means no transfer in the batch
// was confirmed.
type TransferService interface {
	TransferBatch(ctx context.Context, transfers []Transfer) (txid string, err error)
	Balance(ctx context.Context, address string) (int64, error)
}

// RewardsClaimant pulls accumulated pooled rewards into the treasury and
// reports the amount newly available.
type RewardsClaimant interface {
	Claim(ctx context.Context, tokenMint, treasury string) (int64, error)
}

// ErrInvalidAddress is returned by ValidateAddress for malformed wallets.
var ErrInvalidAddress = errors.New("invalid wallet address")

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// ValidateAddress checks the base58 shape of a wallet identifier before any
// transfer is attempted. Full on-curve validation belongs to the signer
// service; this guards against obviously broken input reaching a batch.
func ValidateAddress(address string) error {
	if len(address) < 32 || len(address) > 44 {
		return ErrInvalidAddress
	}
	for _, r := range address {
		if !strings.ContainsRune(base58Alphabet, r) {
			return ErrInvalidAddress
		}
	}
	return nil
}
