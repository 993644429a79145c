package settlementservice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamside-labs/sidepool/app/modules/round/roundtypes"
	"github.com/streamside-labs/sidepool/internal/chain"
)

func pendingEntries(n int, amount int64) []roundtypes.PayoutEntry {
	entries := make([]roundtypes.PayoutEntry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, roundtypes.PayoutEntry{
			Wallet: testWallet(i),
			Amount: amount,
			Status: roundtypes.PayoutPending,
		})
	}
	return entries
}

func newTestDisburser(transfer *FakeTransfer) *Disburser {
	cfg := testGameConfig()
	cfg.BatchInterval = time.Millisecond
	return NewDisburser(transfer, testWallet(999), cfg, testLogger())
}

func TestDisburser_PartitionsIntoBatches(t *testing.T) {
	transfer := &FakeTransfer{}
	d := newTestDisburser(transfer)

	results := d.Disburse(context.Background(), pendingEntries(45, 1_000_000))

	require.Equal(t, 3, transfer.TransferAttempts)
	assert.Len(t, transfer.Batches[0], 20)
	assert.Len(t, transfer.Batches[1], 20)
	assert.Len(t, transfer.Batches[2], 5)

	for _, entry := range results {
		assert.Equal(t, roundtypes.PayoutSent, entry.Status)
	}
	// entries in the same batch share a transaction id
	assert.Equal(t, results[0].Txid, results[19].Txid)
	assert.NotEqual(t, results[0].Txid, results[20].Txid)
}

func TestDisburser_DeductsFeeFromEachTransfer(t *testing.T) {
	transfer := &FakeTransfer{}
	d := newTestDisburser(transfer)

	d.Disburse(context.Background(), pendingEntries(1, 1_000_000))

	require.Len(t, transfer.Batches, 1)
	assert.Equal(t, int64(995_000), transfer.Batches[0][0].Amount)
}

func TestDisburser_MarksInvalidAddressWithoutAttempting(t *testing.T) {
	transfer := &FakeTransfer{}
	d := newTestDisburser(transfer)

	entries := pendingEntries(3, 1_000_000)
	entries[1].Wallet = "not-a-wallet"

	results := d.Disburse(context.Background(), entries)

	assert.Equal(t, roundtypes.PayoutSent, results[0].Status)
	assert.Equal(t, roundtypes.PayoutFailed, results[1].Status)
	assert.Equal(t, "invalid wallet address", results[1].Error)
	assert.Equal(t, roundtypes.PayoutSent, results[2].Status)

	require.Len(t, transfer.Batches, 1)
	assert.Len(t, transfer.Batches[0], 2)
}

func TestDisburser_MarksDustAfterFees(t *testing.T) {
	transfer := &FakeTransfer{}
	d := newTestDisburser(transfer)

	// 5000 fee estimate leaves nothing to send
	results := d.Disburse(context.Background(), pendingEntries(2, 4_000))

	for _, entry := range results {
		assert.Equal(t, roundtypes.PayoutFailed, entry.Status)
		assert.Equal(t, "amount too small after fee deduction", entry.Error)
	}
	assert.Zero(t, transfer.TransferAttempts)
}

func TestDisburser_InsufficientFundsFailsWholeBatch(t *testing.T) {
	transfer := &FakeTransfer{
		BalanceFunc: func(ctx context.Context, _ string) (int64, error) {
			return 1_500_000, nil // covers one entry, not the batch of three
		},
	}
	d := newTestDisburser(transfer)

	results := d.Disburse(context.Background(), pendingEntries(3, 1_000_000))

	for _, entry := range results {
		assert.Equal(t, roundtypes.PayoutFailed, entry.Status)
		assert.Equal(t, "insufficient funds", entry.Error)
	}
	// no partial send is ever attempted
	assert.Zero(t, transfer.TransferAttempts)
}

func TestDisburser_UnreachableServiceFailsUniformly(t *testing.T) {
	transfer := &FakeTransfer{
		BalanceFunc: func(ctx context.Context, _ string) (int64, error) {
			return 0, errors.New("dial tcp: connection refused")
		},
	}
	d := newTestDisburser(transfer)

	results := d.Disburse(context.Background(), pendingEntries(2, 1_000_000))

	for _, entry := range results {
		assert.Equal(t, roundtypes.PayoutFailed, entry.Status)
		assert.Contains(t, entry.Error, "transfer service unreachable")
	}
}

func TestDisburser_RejectedTransactionFailsBatch(t *testing.T) {
	transfer := &FakeTransfer{
		TransferFunc: func(ctx context.Context, _ []chain.Transfer) (string, error) {
			return "", errors.New("transfer rejected: simulation failed")
		},
	}
	d := newTestDisburser(transfer)

	results := d.Disburse(context.Background(), pendingEntries(2, 1_000_000))

	for _, entry := range results {
		assert.Equal(t, roundtypes.PayoutFailed, entry.Status)
		assert.Contains(t, entry.Error, "simulation failed")
	}
}

func TestDisburser_FreshAttemptClearsPriorState(t *testing.T) {
	transfer := &FakeTransfer{}
	d := newTestDisburser(transfer)

	entries := pendingEntries(2, 1_000_000)
	entries[0].Status = roundtypes.PayoutFailed
	entries[0].Error = "insufficient funds"
	entries[1].Status = roundtypes.PayoutFailed
	entries[1].Error = "insufficient funds"

	results := d.Disburse(context.Background(), entries)

	for _, entry := range results {
		assert.Equal(t, roundtypes.PayoutSent, entry.Status)
		assert.Empty(t, entry.Error)
		assert.NotEmpty(t, entry.Txid)
	}
}

func TestDisburser_CanceledContextFailsRemainingEntries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	transfer := &FakeTransfer{}
	d := newTestDisburser(transfer)

	results := d.Disburse(ctx, pendingEntries(2, 1_000_000))

	for _, entry := range results {
		assert.Equal(t, roundtypes.PayoutFailed, entry.Status)
		assert.Contains(t, entry.Error, "disbursement aborted")
	}
	assert.Zero(t, transfer.TransferAttempts)
}
