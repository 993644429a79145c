package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every setting the engine needs, constructed once at startup
// and passed into each component.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	NATS     NATSConfig     `yaml:"nats"`
	Postgres PostgresConfig `yaml:"postgres"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Chain    ChainConfig    `yaml:"chain"`
	Game     GameConfig     `yaml:"game"`
}

// HTTPConfig holds the HTTP listener settings.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// NATSConfig holds NATS configuration.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// PostgresConfig holds Postgres configuration.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// LedgerConfig selects the ledger store backend.
type LedgerConfig struct {
	// Backend is one of "memory", "nats", "postgres".
	Backend string `yaml:"backend"`
	Bucket  string `yaml:"bucket"`
}

// OracleConfig guards the oracle-facing endpoints.
type OracleConfig struct {
	// JWTSecret authenticates /internal callers. Empty disables auth (dev).
	JWTSecret string `yaml:"jwt_secret"`
}

// ChainConfig points at the signer service and rewards-claim API.
type ChainConfig struct {
	SignerURL       string `yaml:"signer_url"`
	TreasuryAddress string `yaml:"treasury_address"`
	TokenMint       string `yaml:"token_mint"`
	ClaimAPIURL     string `yaml:"claim_api_url"`
	ClaimAPIKey     string `yaml:"claim_api_key"`
}

// GameConfig holds the game-rule constants. Everything that used to be a
// worker env var is explicit here.
type GameConfig struct {
	// WinThreshold is the goal count a side must reach to win a round.
	WinThreshold int `yaml:"win_threshold"`
	// ConfidenceThreshold is the minimum oracle confidence for a result to
	// be trusted; lower reports void the round.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	// MinimumPayout is the dust threshold in lamports per wallet.
	MinimumPayout int64 `yaml:"minimum_payout"`
	// BatchSize caps how many payout entries ride one transfer submission.
	BatchSize int `yaml:"batch_size"`
	// BatchInterval paces consecutive transfer submissions.
	BatchInterval time.Duration `yaml:"batch_interval"`
	// FeeEstimate is the estimated per-transfer network fee in lamports,
	// deducted per entry at send time.
	FeeEstimate int64 `yaml:"fee_estimate"`
	// PendingTTL bounds how long a dust-held accumulation record is kept.
	PendingTTL time.Duration `yaml:"pending_ttl"`
	// HistoryPageSize caps get-history responses.
	HistoryPageSize int `yaml:"history_page_size"`
}

// LoadConfig loads configuration from a YAML file, falling back to the
// environment when the file is absent, then applies env overrides and
// defaults.
func LoadConfig(filename string) (*Config, error) {
	var cfg Config

	if data, err := os.ReadFile(filename); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	// --- OVERRIDE WITH ENV VARS IF PRESENT ---
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("LEDGER_BACKEND"); v != "" {
		cfg.Ledger.Backend = v
	}
	if v := os.Getenv("ORACLE_JWT_SECRET"); v != "" {
		cfg.Oracle.JWTSecret = v
	}
	if v := os.Getenv("SIGNER_URL"); v != "" {
		cfg.Chain.SignerURL = v
	}
	if v := os.Getenv("TREASURY_ADDRESS"); v != "" {
		cfg.Chain.TreasuryAddress = v
	}
	if v := os.Getenv("TOKEN_MINT"); v != "" {
		cfg.Chain.TokenMint = v
	}
	if v := os.Getenv("CLAIM_API_KEY"); v != "" {
		cfg.Chain.ClaimAPIKey = v
	}
	if v := os.Getenv("CONFIDENCE_THRESHOLD"); v != "" {
		threshold, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid CONFIDENCE_THRESHOLD: %w", err)
		}
		cfg.Game.ConfidenceThreshold = threshold
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Ledger.Backend == "" {
		c.Ledger.Backend = "memory"
	}
	if c.Ledger.Bucket == "" {
		c.Ledger.Bucket = "sidepool"
	}
	if c.Game.WinThreshold == 0 {
		c.Game.WinThreshold = 3
	}
	if c.Game.ConfidenceThreshold == 0 {
		c.Game.ConfidenceThreshold = 0.9
	}
	if c.Game.MinimumPayout == 0 {
		c.Game.MinimumPayout = 1000
	}
	if c.Game.BatchSize == 0 {
		c.Game.BatchSize = 20
	}
	if c.Game.BatchInterval == 0 {
		c.Game.BatchInterval = time.Second
	}
	if c.Game.FeeEstimate == 0 {
		c.Game.FeeEstimate = 5000
	}
	if c.Game.PendingTTL == 0 {
		c.Game.PendingTTL = 7 * 24 * time.Hour
	}
	if c.Game.HistoryPageSize == 0 {
		c.Game.HistoryPageSize = 50
	}
}
