package chain

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClient_TransferBatch(t *testing.T) {
	var received transferRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/transfer", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(transferResponse{Txid: "5KtP9confirmed"})
	}))
	defer server.Close()

	client := NewClient(server.URL, testLogger())

	txid, err := client.TransferBatch(context.Background(), []Transfer{
		{Recipient: "walletA", Amount: 1000},
		{Recipient: "walletB", Amount: 2000},
	})
	require.NoError(t, err)
	assert.Equal(t, "5KtP9confirmed", txid)
	require.Len(t, received.Transfers, 2)
	assert.Equal(t, int64(2000), received.Transfers[1].Amount)
}

func TestClient_TransferBatch_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(transferResponse{Error: "blockhash expired"})
	}))
	defer server.Close()

	client := NewClient(server.URL, testLogger())

	_, err := client.TransferBatch(context.Background(), []Transfer{{Recipient: "walletA", Amount: 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blockhash expired")
}

func TestClient_Balance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/balance/treasury123", r.URL.Path)
		_ = json.NewEncoder(w).Encode(balanceResponse{Lamports: 987654})
	}))
	defer server.Close()

	client := NewClient(server.URL, testLogger())

	balance, err := client.Balance(context.Background(), "treasury123")
	require.NoError(t, err)
	assert.Equal(t, int64(987654), balance)
}

// fakeBalances serves scripted balance reads for claimer tests.
type fakeBalances struct {
	balances []int64
	reads    atomic.Int32
}

func (f *fakeBalances) TransferBatch(ctx context.Context, transfers []Transfer) (string, error) {
	return "", nil
}

func (f *fakeBalances) Balance(ctx context.Context, address string) (int64, error) {
	i := int(f.reads.Add(1)) - 1
	if i >= len(f.balances) {
		i = len(f.balances) - 1
	}
	return f.balances[i], nil
}

func TestClaimer_Claim(t *testing.T) {
	var authHeader atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	balances := &fakeBalances{balances: []int64{1_000_000, 3_500_000}}
	claimer := NewClaimer(server.URL, "secret-key", balances, testLogger())

	claimed, err := claimer.Claim(context.Background(), "mint123", "treasury123")
	require.NoError(t, err)
	assert.Equal(t, int64(2_500_000), claimed)
	assert.Equal(t, "Bearer secret-key", authHeader.Load())
}

func TestClaimer_Claim_NegativeDeltaFlooredAtZero(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	// fees can leave the treasury lower after a claim than before
	balances := &fakeBalances{balances: []int64{1_000_000, 995_000}}
	claimer := NewClaimer(server.URL, "", balances, testLogger())

	claimed, err := claimer.Claim(context.Background(), "mint123", "treasury123")
	require.NoError(t, err)
	assert.Zero(t, claimed)
}

func TestClaimer_Claim_SkipsWhenUnconfigured(t *testing.T) {
	balances := &fakeBalances{balances: []int64{1}}
	claimer := NewClaimer("http://unused", "", balances, testLogger())

	claimed, err := claimer.Claim(context.Background(), "", "")
	require.NoError(t, err)
	assert.Zero(t, claimed)
	assert.Zero(t, balances.reads.Load())
}

func TestClaimer_Claim_APIFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "claim window closed", http.StatusForbidden)
	}))
	defer server.Close()

	balances := &fakeBalances{balances: []int64{1_000_000}}
	claimer := NewClaimer(server.URL, "", balances, testLogger())

	claimed, err := claimer.Claim(context.Background(), "mint123", "treasury123")
	require.Error(t, err)
	assert.Zero(t, claimed)
	assert.Contains(t, err.Error(), "status 403")
}
