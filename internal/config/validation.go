package config

import (
	"fmt"
	"strings"

	"github.com/qq148376839/trading-system/internal/market"
)

// validate 对配置进行基础校验，任何一项失败都阻止进程启动。
func validate(c *Config) error {
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Strategy.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (t *TradingConfig) validate() error {
	switch t.AccountType {
	case "SIMULATION", "REAL":
	default:
		return fmt.Errorf("trading.account_type 必须为 SIMULATION 或 REAL，当前 %q", t.AccountType)
	}
	symbols := t.Symbols()
	if len(symbols) == 0 {
		return fmt.Errorf("trading.stock_pools 至少需要一个标的")
	}
	for _, s := range symbols {
		if _, err := market.ParseSymbol(s); err != nil {
			return fmt.Errorf("trading.stock_pools: %w", err)
		}
	}
	if t.TickIntervalSeconds < 5 {
		return fmt.Errorf("trading.tick_interval_seconds 不得小于 5，当前 %d", t.TickIntervalSeconds)
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.StopLoss >= 0 {
		return fmt.Errorf("risk.stop_loss 必须为负数（亏损比例），当前 %v", r.StopLoss)
	}
	if r.TakeProfit <= 0 {
		return fmt.Errorf("risk.take_profit 必须为正数，当前 %v", r.TakeProfit)
	}
	if r.MaxDailyLoss <= 0 || r.MaxDailyLoss >= 1 {
		return fmt.Errorf("risk.max_daily_loss 必须在 (0,1) 区间，当前 %v", r.MaxDailyLoss)
	}
	if r.MaxPositionLoss >= 0 {
		return fmt.Errorf("risk.max_position_loss 必须为负数，当前 %v", r.MaxPositionLoss)
	}
	if r.MaxPositionLoss > r.StopLoss {
		// 持仓止损线必须比普通止损更深，否则规则顺序失去意义。
		return fmt.Errorf("risk.max_position_loss (%v) 不应浅于 risk.stop_loss (%v)", r.MaxPositionLoss, r.StopLoss)
	}
	if r.VolatilityThreshold <= 0 {
		return fmt.Errorf("risk.volatility_threshold 必须为正数，当前 %v", r.VolatilityThreshold)
	}
	if r.MaxPositionPerStock <= 0 || r.MaxPositionPerStock > 1 {
		return fmt.Errorf("risk.max_position_per_stock 必须在 (0,1] 区间，当前 %v", r.MaxPositionPerStock)
	}
	return nil
}

func (s *StrategyConfig) validate() error {
	switch s.ConflictPolicy {
	case "unanimous", "first_wins":
	default:
		return fmt.Errorf("strategy.conflict_policy 仅支持 unanimous / first_wins，当前 %q", s.ConflictPolicy)
	}
	if !s.RSI.Enabled && !s.MACD.Enabled && !s.MACross.Enabled {
		return fmt.Errorf("至少需要启用一个策略")
	}
	if s.MACD.Enabled && s.MACD.FastPeriod >= s.MACD.SlowPeriod {
		return fmt.Errorf("strategy.macd fast_period 必须小于 slow_period")
	}
	if s.MACross.Enabled && s.MACross.FastWindow >= s.MACross.SlowWindow {
		return fmt.Errorf("strategy.ma_cross fast_window 必须小于 slow_window")
	}
	if s.Sizing.CashFraction > 1 {
		return fmt.Errorf("strategy.sizing.cash_fraction 不得大于 1")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if strings.TrimSpace(n.Telegram.BotToken) == "" || strings.TrimSpace(n.Telegram.ChatID) == "" {
			return fmt.Errorf("notify.telegram 启用时 bot_token/chat_id 不能为空")
		}
	}
	return nil
}
