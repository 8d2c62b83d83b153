package config

import "strings"

// applyDefaults 填充未设置的配置项。风险阈值默认值与券商侧原始系统保持一致。
func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/trading.db"
	}
	if c.Database.AuditPath == "" {
		c.Database.AuditPath = "data/audit.db"
	}

	if c.Trading.AccountType == "" {
		c.Trading.AccountType = "SIMULATION"
	}
	c.Trading.AccountType = strings.ToUpper(strings.TrimSpace(c.Trading.AccountType))
	if c.Trading.Currency == "" {
		c.Trading.Currency = "USD"
	}
	if c.Trading.InitialCash <= 0 {
		c.Trading.InitialCash = 100_000
	}
	if c.Trading.TickIntervalSeconds <= 0 {
		c.Trading.TickIntervalSeconds = 60
	}
	if c.Trading.MaxWorkers <= 0 {
		c.Trading.MaxWorkers = 4
	}
	if c.Trading.MaxDailyTrades <= 0 {
		c.Trading.MaxDailyTrades = 20
	}
	if c.Trading.MinTradeIntervalSeconds <= 0 {
		c.Trading.MinTradeIntervalSeconds = 300
	}
	if c.Trading.GatewayTimeoutSeconds <= 0 {
		c.Trading.GatewayTimeoutSeconds = 10
	}

	if c.Risk.StopLoss == 0 {
		c.Risk.StopLoss = -0.10
	}
	if c.Risk.TakeProfit == 0 {
		c.Risk.TakeProfit = 0.15
	}
	if c.Risk.MaxDailyLoss == 0 {
		c.Risk.MaxDailyLoss = 0.05
	}
	if c.Risk.MaxPositionLoss == 0 {
		c.Risk.MaxPositionLoss = -0.15
	}
	if c.Risk.VolatilityThreshold == 0 {
		c.Risk.VolatilityThreshold = 0.02
	}
	if c.Risk.MaxPositionPerStock == 0 {
		c.Risk.MaxPositionPerStock = 0.10
	}

	if c.Strategy.ConflictPolicy == "" {
		c.Strategy.ConflictPolicy = "unanimous"
	}
	if c.Strategy.RSI.Period <= 0 {
		c.Strategy.RSI.Period = 14
	}
	if c.Strategy.RSI.Overbought <= 0 {
		c.Strategy.RSI.Overbought = 70
	}
	if c.Strategy.RSI.Oversold <= 0 {
		c.Strategy.RSI.Oversold = 30
	}
	if c.Strategy.MACD.FastPeriod <= 0 {
		c.Strategy.MACD.FastPeriod = 12
	}
	if c.Strategy.MACD.SlowPeriod <= 0 {
		c.Strategy.MACD.SlowPeriod = 26
	}
	if c.Strategy.MACD.SignalPeriod <= 0 {
		c.Strategy.MACD.SignalPeriod = 9
	}
	if c.Strategy.MACross.FastWindow <= 0 {
		c.Strategy.MACross.FastWindow = 5
	}
	if c.Strategy.MACross.SlowWindow <= 0 {
		c.Strategy.MACross.SlowWindow = 20
	}
	if c.Strategy.Sizing.CashFraction <= 0 {
		c.Strategy.Sizing.CashFraction = 0.10
	}
	if c.Strategy.Sizing.LotSize <= 0 {
		c.Strategy.Sizing.LotSize = 1
	}

	if c.Credential.RefreshThresholdDays <= 0 {
		c.Credential.RefreshThresholdDays = 7
	}
}
