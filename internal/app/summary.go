package app

import (
	"fmt"
	"strings"

	"github.com/qq148376839/trading-system/internal/logger"
)

// printSummary 输出启动配置摘要，便于一眼核对账户模式与风控参数。
func (a *App) printSummary() {
	cfg := a.provider.Snapshot()
	var b strings.Builder
	line := strings.Repeat("=", 72)
	b.WriteString(line + "\n")
	b.WriteString("启动配置摘要 (STARTUP SUMMARY)\n")
	b.WriteString(line + "\n")

	b.WriteString("[账户 (ACCOUNT)]\n")
	fmt.Fprintf(&b, "  账户类型: %s\n", cfg.Trading.AccountType)
	fmt.Fprintf(&b, "  结算币种: %s\n", cfg.Trading.Currency)
	fmt.Fprintf(&b, "  可用资金: %s\n", a.book.Cash())
	fmt.Fprintf(&b, "  持仓标的: %d\n", len(a.book.Positions()))

	b.WriteString("[股票池 (STOCK POOLS)]\n")
	for name, pool := range cfg.Trading.StockPools {
		fmt.Fprintf(&b, "  %s: %s\n", name, strings.Join(pool, ", "))
	}
	fmt.Fprintf(&b, "  评估间隔: %s，并发度: %d\n", cfg.Trading.TickInterval(), cfg.Trading.MaxWorkers)

	b.WriteString("[风控 (RISK)]\n")
	fmt.Fprintf(&b, "  止损 %.0f%% / 止盈 %.0f%% / 日亏熔断 %.0f%% / 单票上限 %.0f%%\n",
		cfg.Risk.StopLoss*100, cfg.Risk.TakeProfit*100,
		cfg.Risk.MaxDailyLoss*100, cfg.Risk.MaxPositionPerStock*100)
	fmt.Fprintf(&b, "  节流: 单日 %d 笔，单标的间隔 %s\n",
		cfg.Trading.MaxDailyTrades, cfg.Trading.MinTradeInterval())

	b.WriteString("[策略 (STRATEGY)]\n")
	var enabled []string
	if cfg.Strategy.RSI.Enabled {
		enabled = append(enabled, fmt.Sprintf("rsi(%d)", cfg.Strategy.RSI.Period))
	}
	if cfg.Strategy.MACD.Enabled {
		enabled = append(enabled, fmt.Sprintf("macd(%d/%d/%d)",
			cfg.Strategy.MACD.FastPeriod, cfg.Strategy.MACD.SlowPeriod, cfg.Strategy.MACD.SignalPeriod))
	}
	if cfg.Strategy.MACross.Enabled {
		enabled = append(enabled, fmt.Sprintf("ma_cross(%d/%d)",
			cfg.Strategy.MACross.FastWindow, cfg.Strategy.MACross.SlowWindow))
	}
	fmt.Fprintf(&b, "  启用: %s，冲突策略: %s\n", strings.Join(enabled, ", "), cfg.Strategy.ConflictPolicy)

	if a.httpSrv != nil {
		fmt.Fprintf(&b, "[状态接口] %s\n", a.httpSrv.Addr())
	}
	b.WriteString(line)
	logger.InfoBlock(b.String())
}
