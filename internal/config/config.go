package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	ListenAddr string

	RedisURL string

	// Chain settlement
	RPCURL          string
	ContractAddress string
	OperatorKeyHex  string
	ChainID         int64

	SignTimeout      time.Duration
	SettleMaxRetries int
	SettleRetryDelay time.Duration

	MaxConcurrentRooms int

	// Ranked wager table, tokens per tier. Overridable via WAGER_TABLE_FILE.
	RankedWagers map[string]int64
}

// DefaultRankedWagers is the built-in tier to stake table.
func DefaultRankedWagers() map[string]int64 {
	return map[string]int64{
		"novice":      10,
		"amateur":     20,
		"pro":         50,
		"expert":      100,
		"grandmaster": 200,
	}
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:         ":8080",
		SignTimeout:        2 * time.Minute,
		SettleMaxRetries:   3,
		SettleRetryDelay:   5 * time.Second,
		MaxConcurrentRooms: 500,
		RankedWagers:       DefaultRankedWagers(),
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))

	cfg.RPCURL = strings.TrimSpace(os.Getenv("RPC_URL"))
	cfg.ContractAddress = strings.TrimSpace(os.Getenv("CONTRACT_ADDRESS"))
	cfg.OperatorKeyHex = strings.TrimSpace(os.Getenv("OPERATOR_KEY"))
	if v := strings.TrimSpace(os.Getenv("CHAIN_ID")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("CHAIN_ID: %w", err)
		}
		cfg.ChainID = n
	}

	if v := strings.TrimSpace(os.Getenv("SIGN_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, errors.New("SIGN_TIMEOUT must be a positive duration")
		}
		cfg.SignTimeout = d
	}
	if v := strings.TrimSpace(os.Getenv("SETTLE_MAX_RETRIES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.SettleMaxRetries = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("SETTLE_RETRY_DELAY")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SettleRetryDelay = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("MAX_CONCURRENT_ROOMS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrentRooms = n
		}
	}

	if path := strings.TrimSpace(os.Getenv("WAGER_TABLE_FILE")); path != "" {
		table, err := loadWagerTable(path)
		if err != nil {
			return nil, err
		}
		cfg.RankedWagers = table
	}

	// Settlement is optional for local play; when any chain variable is set,
	// all of them must be.
	chainVars := []string{cfg.RPCURL, cfg.ContractAddress, cfg.OperatorKeyHex}
	set := 0
	for _, v := range chainVars {
		if v != "" {
			set++
		}
	}
	if set != 0 && set != len(chainVars) {
		return nil, errors.New("RPC_URL, CONTRACT_ADDRESS and OPERATOR_KEY must be set together")
	}
	if set == len(chainVars) && cfg.ChainID == 0 {
		return nil, errors.New("CHAIN_ID is required when settlement is configured")
	}

	return cfg, nil
}

// SettlementEnabled reports whether on-chain settlement is configured.
func (c *AppConfig) SettlementEnabled() bool {
	return c.RPCURL != "" && c.ContractAddress != "" && c.OperatorKeyHex != ""
}

func loadWagerTable(path string) (map[string]int64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wager table: %w", err)
	}
	var table map[string]int64
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("wager table: %w", err)
	}
	for _, tier := range []string{"novice", "amateur", "pro", "expert", "grandmaster"} {
		w, ok := table[tier]
		if !ok || w <= 0 {
			return nil, fmt.Errorf("wager table: missing or invalid tier %q", tier)
		}
	}
	return table, nil
}
