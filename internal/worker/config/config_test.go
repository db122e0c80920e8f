package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigYAML = `
log:
  level: debug
chain:
  rpc_url: http://127.0.0.1:8545
  chain_id: 8453
contracts:
  savings: "0x1111111111111111111111111111111111111111"
  dca: "0x2222222222222222222222222222222222222222"
calendar:
  location: UTC
tokens:
  - address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"
    symbol: USDC
    decimals: 6
price:
  static:
    eth: 2500
watch:
  users:
    - "0x00000000000000000000000000000000000000aa"
`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.test.yaml"), []byte(testConfigYAML), 0o644))

	cfg, err := Load(dir, "config.test")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, uint64(8453), cfg.Chain.ChainID)
	assert.Equal(t, "0x2222222222222222222222222222222222222222", cfg.Contracts.DCA)
	require.Len(t, cfg.Tokens, 1)
	assert.Equal(t, uint8(6), cfg.Tokens[0].Decimals)
	assert.Equal(t, []string{"0x00000000000000000000000000000000000000aa"}, cfg.Watch.Users)

	// 未配置的字段走默认值
	assert.Equal(t, uint64(50000), cfg.Fetch.ActivityLookbackBlocks)
	assert.Equal(t, 12, cfg.Trend.Buckets)
	assert.Equal(t, 30*time.Second, cfg.Cache.StaleAfter())
	assert.Equal(t, 5.0, cfg.Slippage.CriticalPct)

	loc, err := cfg.Calendar.TimeLocation()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestValidate(t *testing.T) {
	valid := Config{
		Estimate:   EstimateConfig{GasPerIndividualTx: 100, GasPerBatchedTx: 40},
		Slippage:   SlippageConfig{WarningPct: 1, CriticalPct: 5},
		Trend:      TrendConfig{Days: 30, Buckets: 12},
		Withdrawal: WithdrawalConfig{DefaultPenaltyBps: 500},
		Fetch:      FetchConfig{ActivityLookbackBlocks: 10, AnalyticsLookbackBlocks: 10},
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"batched gas not lower", func(c *Config) { c.Estimate.GasPerBatchedTx = 100 }},
		{"critical below warning", func(c *Config) { c.Slippage.CriticalPct = 0.5 }},
		{"zero buckets", func(c *Config) { c.Trend.Buckets = 0 }},
		{"penalty above 100%", func(c *Config) { c.Withdrawal.DefaultPenaltyBps = 10001 }},
		{"zero lookback", func(c *Config) { c.Fetch.AnalyticsLookbackBlocks = 0 }},
		{"unknown location", func(c *Config) { c.Calendar.Location = "Mars/Olympus" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
