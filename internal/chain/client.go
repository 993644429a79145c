package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const clientTimeout = 30 * time.Second

// Client talks to the signer sidecar that holds the treasury key. The
// sidecar exposes /transfer (batch submission, confirmed before returning)
// and /balance.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ TransferService = (*Client)(nil)

// NewClient returns a transfer client for the signer service at baseURL.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: clientTimeout},
		logger:     logger,
	}
}

type transferRequest struct {
	Transfers []Transfer `json:"transfers"`
}

type transferResponse struct {
	Txid  string `json:"txid"`
	Error string `json:"error,omitempty"`
}

// TransferBatch submits one confirmed transaction covering every transfer
// in the batch.
func (c *Client) TransferBatch(ctx context.Context, transfers []Transfer) (string, error) {
	body, err := json.Marshal(transferRequest{Transfers: transfers})
	if err != nil {
		return "", fmt.Errorf("failed to marshal transfer batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transfer", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build transfer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transfer submission failed: %w", err)
	}
	defer resp.Body.Close()

	var result transferResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode transfer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || result.Error != "" {
		reason := result.Error
		if reason == "" {
			reason = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return "", fmt.Errorf("transfer rejected: %s", reason)
	}

	c.logger.Info("batch transaction confirmed",
		slog.String("txid", result.Txid),
		slog.Int("transfers", len(transfers)))
	return result.Txid, nil
}

type balanceResponse struct {
	Lamports int64 `json:"lamports"`
}

// Balance returns the current lamport balance of address.
func (c *Client) Balance(ctx context.Context, address string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/balance/"+address, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build balance request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("balance lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("balance lookup failed: status %d", resp.StatusCode)
	}

	var result balanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to decode balance response: %w", err)
	}
	return result.Lamports, nil
}

// Claimer calls the rewards-claim API and measures the claimed amount as
// the treasury balance delta, floored at zero.
type Claimer struct {
	apiURL     string
	apiKey     string
	balances   TransferService
	httpClient *http.Client
	logger     *slog.Logger
}

var _ RewardsClaimant = (*Claimer)(nil)

// NewClaimer returns a rewards claimant using the given claim API and the
// transfer service for balance reads.
func NewClaimer(apiURL, apiKey string, balances TransferService, logger *slog.Logger) *Claimer {
	return &Claimer{
		apiURL:     apiURL,
		apiKey:     apiKey,
		balances:   balances,
		httpClient: &http.Client{Timeout: clientTimeout},
		logger:     logger,
	}
}

// Claim pulls accumulated creator rewards for tokenMint into treasury and
// returns the amount newly available. Returns 0 with the error when the
// claim could not be executed; callers treat that as nothing claimed.
func (c *Claimer) Claim(ctx context.Context, tokenMint, treasury string) (int64, error) {
	if tokenMint == "" || treasury == "" {
		c.logger.Warn("token mint or treasury address not configured, skipping claim")
		return 0, nil
	}

	before, err := c.balances.Balance(ctx, treasury)
	if err != nil {
		return 0, fmt.Errorf("failed to read treasury balance before claim: %w", err)
	}

	if err := c.executeClaim(ctx, tokenMint, treasury); err != nil {
		return 0, err
	}

	after, err := c.balances.Balance(ctx, treasury)
	if err != nil {
		return 0, fmt.Errorf("failed to read treasury balance after claim: %w", err)
	}

	claimed := after - before
	if claimed < 0 {
		claimed = 0
	}
	c.logger.Info("rewards claim completed",
		slog.Int64("balance_before", before),
		slog.Int64("balance_after", after),
		slog.Int64("claimed", claimed))
	return claimed, nil
}

func (c *Claimer) executeClaim(ctx context.Context, tokenMint, treasury string) error {
	body, err := json.Marshal(map[string]string{
		"mint":     tokenMint,
		"receiver": treasury,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal claim request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build claim request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("claim request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("claim API failed: status %d: %s", resp.StatusCode, detail)
	}
	return nil
}
