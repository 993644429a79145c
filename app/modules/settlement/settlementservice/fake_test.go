package settlementservice

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/streamside-labs/sidepool/app/modules/round/roundtypes"
	"github.com/streamside-labs/sidepool/internal/chain"
)

// FakeRoundManager implements RoundManager with overridable funcs.
type FakeRoundManager struct {
	SnapshotFunc func(ctx context.Context) (*roundtypes.Round, error)
	ResetFunc    func(ctx context.Context) (string, string, error)

	ResetCalls int
}

func (f *FakeRoundManager) Snapshot(ctx context.Context) (*roundtypes.Round, error) {
	return f.SnapshotFunc(ctx)
}

func (f *FakeRoundManager) Reset(ctx context.Context) (string, string, error) {
	f.ResetCalls++
	if f.ResetFunc != nil {
		return f.ResetFunc(ctx)
	}
	return "round_old", "round_new", nil
}

// FakeTransfer implements chain.TransferService and records batches.
type FakeTransfer struct {
	mu               sync.Mutex
	TransferFunc     func(ctx context.Context, transfers []chain.Transfer) (string, error)
	BalanceFunc      func(ctx context.Context, address string) (int64, error)
	Batches          [][]chain.Transfer
	TransferAttempts int
}

func (f *FakeTransfer) TransferBatch(ctx context.Context, transfers []chain.Transfer) (string, error) {
	f.mu.Lock()
	f.TransferAttempts++
	attempt := f.TransferAttempts
	batch := make([]chain.Transfer, len(transfers))
	copy(batch, transfers)
	f.Batches = append(f.Batches, batch)
	f.mu.Unlock()

	if f.TransferFunc != nil {
		return f.TransferFunc(ctx, transfers)
	}
	return fmt.Sprintf("tx_%d", attempt), nil
}

func (f *FakeTransfer) Balance(ctx context.Context, address string) (int64, error) {
	if f.BalanceFunc != nil {
		return f.BalanceFunc(ctx, address)
	}
	return 1 << 62, nil
}

// FakeClaimant implements chain.RewardsClaimant.
type FakeClaimant struct {
	ClaimFunc  func(ctx context.Context, tokenMint, treasury string) (int64, error)
	ClaimCalls int
}

func (f *FakeClaimant) Claim(ctx context.Context, tokenMint, treasury string) (int64, error) {
	f.ClaimCalls++
	if f.ClaimFunc != nil {
		return f.ClaimFunc(ctx, tokenMint, treasury)
	}
	return 0, nil
}

// testWallet builds a deterministic, base58-valid wallet identifier.
func testWallet(i int) string {
	const alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZ"
	b := []byte(strings.Repeat("m", 40))
	b[0] = alphabet[i%len(alphabet)]
	b[1] = alphabet[(i/len(alphabet))%len(alphabet)]
	b[2] = alphabet[(i/(len(alphabet)*len(alphabet)))%len(alphabet)]
	return string(b)
}
