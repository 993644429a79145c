package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamside-labs/sidepool/app/handlers"
	"github.com/streamside-labs/sidepool/app/modules/oracle/oracleservice"
	"github.com/streamside-labs/sidepool/app/modules/round/roundservice"
	"github.com/streamside-labs/sidepool/app/modules/round/roundtypes"
	"github.com/streamside-labs/sidepool/app/modules/settlement/settlementservice"
	"github.com/streamside-labs/sidepool/config"
	"github.com/streamside-labs/sidepool/internal/chain"
	"github.com/streamside-labs/sidepool/internal/ledger"
	"github.com/streamside-labs/sidepool/internal/observability"
)

const testJWTSecret = "test-oracle-secret"

// stubTransfer never fails; router tests cover wiring, not transfer edge
// cases.
type stubTransfer struct{}

func (stubTransfer) TransferBatch(ctx context.Context, transfers []chain.Transfer) (string, error) {
	return "tx_stub", nil
}

func (stubTransfer) Balance(ctx context.Context, address string) (int64, error) {
	return 1 << 50, nil
}

type stubClaimant struct {
	rewards int64
}

func (s stubClaimant) Claim(ctx context.Context, tokenMint, treasury string) (int64, error) {
	return s.rewards, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := ledger.NewMemoryStore()
	registry := prometheus.NewRegistry()
	metrics := observability.New(registry)

	game := config.GameConfig{
		WinThreshold:        3,
		ConfidenceThreshold: 0.9,
		MinimumPayout:       1000,
		BatchSize:           20,
		BatchInterval:       time.Millisecond,
		FeeEstimate:         5000,
		PendingTTL:          7 * 24 * time.Hour,
		HistoryPageSize:     50,
	}
	chainCfg := config.ChainConfig{
		TreasuryAddress: "TreasuryWa11etAddre55ForRouterTest123456",
		TokenMint:       "MintAddre55ForRouterTest4567890abcdefgh",
	}

	rounds := roundservice.NewManager(store, nil, game, metrics, logger)
	disburser := settlementservice.NewDisburser(stubTransfer{}, chainCfg.TreasuryAddress, game, logger)
	engine := settlementservice.NewEngine(rounds, store, stubClaimant{rewards: 10_000_000}, disburser, nil, game, chainCfg, metrics, logger)
	gateway := oracleservice.NewGateway(rounds, engine, store, nil, game, metrics, logger)
	history := roundservice.NewHistoryReader(store, game.HistoryPageSize, logger)

	h := handlers.New(rounds, gateway, engine, history, logger)
	server := httptest.NewServer(newRouter(h, testJWTSecret, registry))
	t.Cleanup(server.Close)
	return server
}

func oracleToken(t *testing.T) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "oracle",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, payload
}

// testWalletAddr builds base58-shaped wallet addresses distinct per index.
func testWalletAddr(i int) string {
	return "Wa11et" + strings.Repeat(string(rune('a'+i)), 34)
}

func TestRouter_PredictEndpoint(t *testing.T) {
	server := newTestServer(t)
	url := server.URL + "/api/predict"

	resp, body := doJSON(t, http.MethodPost, url, "", map[string]string{
		"wallet": testWalletAddr(1),
		"side":   "purple",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var result struct {
		Success    bool                   `json:"success"`
		Prediction *roundtypes.Prediction `json:"prediction"`
	}
	require.NoError(t, json.Unmarshal(body, &result))
	assert.True(t, result.Success)
	assert.Equal(t, roundtypes.SidePurple, result.Prediction.Side)

	// same wallet again conflicts
	resp, _ = doJSON(t, http.MethodPost, url, "", map[string]string{
		"wallet": testWalletAddr(1),
		"side":   "yellow",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// unknown side is a validation failure
	resp, _ = doJSON(t, http.MethodPost, url, "", map[string]string{
		"wallet": testWalletAddr(2),
		"side":   "green",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRouter_StateOmitsWallets(t *testing.T) {
	server := newTestServer(t)

	for i := 0; i < 3; i++ {
		resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/predict", "", map[string]string{
			"wallet": testWalletAddr(i),
			"side":   "yellow",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodGet, server.URL+"/api/state", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var state roundtypes.StateProjection
	require.NoError(t, json.Unmarshal(body, &state))
	assert.Equal(t, 3, state.Counts.Yellow)
	assert.Equal(t, roundtypes.PhaseOpen, state.Phase)
	assert.NotContains(t, string(body), testWalletAddr(0))
}

func TestRouter_InternalEndpointsRequireJWT(t *testing.T) {
	server := newTestServer(t)
	url := server.URL + "/internal/lock"

	resp, _ := doJSON(t, http.MethodPost, url, "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	badToken := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"iss": "oracle"})
	signed, err := badToken.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)
	resp, _ = doJSON(t, http.MethodPost, url, signed, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, url, oracleToken(t), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_FullRoundFlow(t *testing.T) {
	server := newTestServer(t)
	token := oracleToken(t)

	// three wallets predict, two back the eventual winner
	for i, side := range []string{"purple", "purple", "yellow"} {
		resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/predict", "", map[string]string{
			"wallet": testWalletAddr(i),
			"side":   side,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/internal/lock", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// predictions are refused once locked
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/predict", "", map[string]string{
		"wallet": testWalletAddr(9),
		"side":   "purple",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var state roundtypes.StateProjection
	respState, body := doJSON(t, http.MethodGet, server.URL+"/api/state", "", nil)
	require.Equal(t, http.StatusOK, respState.StatusCode)
	require.NoError(t, json.Unmarshal(body, &state))

	resp, body = doJSON(t, http.MethodPost, server.URL+"/internal/result", token, map[string]any{
		"roundId":    state.RoundID,
		"winner":     "purple",
		"score":      map[string]int{"purple": 3, "yellow": 1},
		"confidence": 0.97,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var outcome struct {
		Success    bool   `json:"success"`
		Action     string `json:"action"`
		Settlement *struct {
			Winners           int   `json:"winners"`
			TotalRewards      int64 `json:"totalRewards"`
			SuccessfulPayouts int   `json:"successfulPayouts"`
		} `json:"settlement"`
	}
	require.NoError(t, json.Unmarshal(body, &outcome))
	assert.True(t, outcome.Success)
	assert.Equal(t, "settled", outcome.Action)
	require.NotNil(t, outcome.Settlement)
	assert.Equal(t, 2, outcome.Settlement.Winners)
	assert.Equal(t, 2, outcome.Settlement.SuccessfulPayouts)

	// a fresh round is open afterwards
	respState, body = doJSON(t, http.MethodGet, server.URL+"/api/state", "", nil)
	require.Equal(t, http.StatusOK, respState.StatusCode)
	var next roundtypes.StateProjection
	require.NoError(t, json.Unmarshal(body, &next))
	assert.NotEqual(t, state.RoundID, next.RoundID)
	assert.Equal(t, roundtypes.PhaseOpen, next.Phase)
	assert.Zero(t, next.Counts.Total())

	// and the settled round shows up in history
	respHist, body := doJSON(t, http.MethodGet, server.URL+"/api/history", "", nil)
	require.Equal(t, http.StatusOK, respHist.StatusCode)
	var records []roundtypes.RoundHistory
	require.NoError(t, json.Unmarshal(body, &records))
	require.Len(t, records, 1)
	assert.Equal(t, state.RoundID, records[0].ID)
	assert.Equal(t, roundtypes.SidePurple, records[0].Winner)
	assert.Equal(t, 2, records[0].WinnerCount)
}

func TestRouter_Probes(t *testing.T) {
	server := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, server.URL+"/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	resp, _ = doJSON(t, http.MethodGet, server.URL+"/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health roundtypes.Health
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, roundtypes.PhaseOpen, health.Phase)
}
