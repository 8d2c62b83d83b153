package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
trading:
  stock_pools:
    us: ["AAPL.US"]
strategy:
  rsi:
    enabled: true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "SIMULATION", cfg.Trading.AccountType)
	assert.Equal(t, "USD", cfg.Trading.Currency)
	assert.Equal(t, float64(100_000), cfg.Trading.InitialCash)
	assert.Equal(t, 60*time.Second, cfg.Trading.TickInterval())
	assert.Equal(t, 4, cfg.Trading.MaxWorkers)
	assert.Equal(t, 20, cfg.Trading.MaxDailyTrades)
	assert.Equal(t, 300*time.Second, cfg.Trading.MinTradeInterval())
	assert.Equal(t, 10*time.Second, cfg.Trading.GatewayTimeout())

	assert.Equal(t, -0.10, cfg.Risk.StopLoss)
	assert.Equal(t, 0.15, cfg.Risk.TakeProfit)
	assert.Equal(t, 0.05, cfg.Risk.MaxDailyLoss)
	assert.Equal(t, -0.15, cfg.Risk.MaxPositionLoss)
	assert.Equal(t, 0.02, cfg.Risk.VolatilityThreshold)
	assert.Equal(t, 0.10, cfg.Risk.MaxPositionPerStock)

	assert.Equal(t, "unanimous", cfg.Strategy.ConflictPolicy)
	assert.Equal(t, 14, cfg.Strategy.RSI.Period)
	assert.Equal(t, 7*24*time.Hour, cfg.Credential.RefreshThreshold())
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
trading:
  account_type: simulation
  initial_cash: 50000
  stock_pools:
    hk: ["0700.HK", "9988.HK"]
    us: ["AAPL.US", "aapl.us"]
  min_trade_interval_seconds: 120
risk:
  stop_loss: -0.08
strategy:
  conflict_policy: first_wins
  ma_cross:
    enabled: true
    fast_window: 5
    slow_window: 20
`))
	require.NoError(t, err)

	assert.Equal(t, "SIMULATION", cfg.Trading.AccountType)
	assert.Equal(t, float64(50000), cfg.Trading.InitialCash)
	assert.Equal(t, 120*time.Second, cfg.Trading.MinTradeInterval())
	assert.Equal(t, -0.08, cfg.Risk.StopLoss)
	assert.Equal(t, "first_wins", cfg.Strategy.ConflictPolicy)
	// 股票池展开去重且排序稳定
	assert.Equal(t, []string{"0700.HK", "9988.HK", "AAPL.US"}, cfg.Trading.Symbols())
}

func TestLoadValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"空股票池", `
trading:
  stock_pools: {}
strategy:
  rsi:
    enabled: true
`},
		{"非法标的", `
trading:
  stock_pools:
    us: ["AAPL"]
strategy:
  rsi:
    enabled: true
`},
		{"非法账户类型", `
trading:
  account_type: PAPER
  stock_pools:
    us: ["AAPL.US"]
strategy:
  rsi:
    enabled: true
`},
		{"止损为正数", minimalYAML + `
risk:
  stop_loss: 0.10
`},
		{"持仓止损浅于普通止损", minimalYAML + `
risk:
  stop_loss: -0.10
  max_position_loss: -0.05
`},
		{"未启用任何策略", `
trading:
  stock_pools:
    us: ["AAPL.US"]
`},
		{"非法冲突策略", `
trading:
  stock_pools:
    us: ["AAPL.US"]
strategy:
  conflict_policy: majority
  rsi:
    enabled: true
`},
		{"macd周期倒置", `
trading:
  stock_pools:
    us: ["AAPL.US"]
strategy:
  macd:
    enabled: true
    fast_period: 26
    slow_period: 12
`},
		{"telegram缺少token", minimalYAML + `
notify:
  telegram:
    enabled: true
`},
		{"tick过短", `
trading:
  stock_pools:
    us: ["AAPL.US"]
  tick_interval_seconds: 2
strategy:
  rsi:
    enabled: true
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)

	_, err = Load("")
	assert.Error(t, err)
}

func TestProviderSnapshot(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)
	p := NewProvider(cfg)
	assert.Same(t, cfg, p.Snapshot())

	next := *cfg
	next.Risk.StopLoss = -0.2
	p.current.Store(&next)
	assert.Equal(t, -0.2, p.Snapshot().Risk.StopLoss)
}
