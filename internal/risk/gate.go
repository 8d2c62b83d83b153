// Package risk 实现下单前的风控闸门。规则按固定顺序短路评估，
// 阈值每次评估时从配置快照读取，保证热更新即时生效。
package risk

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/qq148376839/trading-system/internal/config"
	"github.com/qq148376839/trading-system/internal/ledger"
	"github.com/qq148376839/trading-system/internal/logger"
	"github.com/qq148376839/trading-system/internal/market"
	"github.com/qq148376839/trading-system/internal/store/auditlog"
)

var log = logger.Scope("RISK")

// Rule 标识触发的风控规则。
type Rule string

const (
	RulePositionStopLoss Rule = "position_stop_loss"
	RuleMaxPositionLoss  Rule = "max_position_loss"
	RuleDailyLoss        Rule = "daily_loss"
	RuleVolatility       Rule = "volatility"
	RulePositionSizing   Rule = "position_sizing"
)

// Proposal 是待裁决的交易意图。Quantity 为建议数量，闸门可向下收缩。
type Proposal struct {
	Symbol   market.Symbol
	Side     string // BUY / SELL
	Quantity int64
	Quote    market.Quote
}

// Decision 是裁决结果。Admitted 为 true 时 Quantity 为最终允许数量，
// 可能小于提案数量（仓位上限收缩）。
type Decision struct {
	Admitted bool
	Quantity int64
	Rule     Rule
	Reason   string
}

// Notifier 在高危风控事件时对外告警。
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Gate 组合配置快照、账本与审计日志完成裁决。
type Gate struct {
	cfg      *config.Provider
	book     *ledger.Ledger
	audit    *auditlog.AuditStore
	notifier Notifier
}

func NewGate(cfg *config.Provider, book *ledger.Ledger, audit *auditlog.AuditStore, notifier Notifier) *Gate {
	return &Gate{cfg: cfg, book: book, audit: audit, notifier: notifier}
}

// Evaluate 按顺序执行风控规则，任一规则拒绝即短路返回。
// 拒绝不计入交易节流，由调用方保证。
func (g *Gate) Evaluate(ctx context.Context, p Proposal) Decision {
	rc := g.cfg.Snapshot().Risk
	symbol := p.Symbol.String()
	pos := g.book.Position(symbol)
	price := decimal.NewFromFloat(p.Quote.Last)

	if p.Side == "BUY" {
		// 规则一：已亏穿止损线的持仓禁止加仓，先等退出通道处理。
		if pos.Quantity > 0 && pos.AvgCost.Sign() > 0 {
			lossRatio, _ := price.Sub(pos.AvgCost).Div(pos.AvgCost).Float64()
			if lossRatio <= rc.MaxPositionLoss {
				return g.reject(ctx, p, RuleMaxPositionLoss, auditlog.SeverityHigh, lossRatio, rc.MaxPositionLoss,
					fmt.Sprintf("%s 持仓亏损 %.2f%% 已穿最大持仓亏损线 %.2f%%", symbol, lossRatio*100, rc.MaxPositionLoss*100))
			}
			if lossRatio <= rc.StopLoss {
				return g.reject(ctx, p, RulePositionStopLoss, auditlog.SeverityMedium, lossRatio, rc.StopLoss,
					fmt.Sprintf("%s 持仓亏损 %.2f%% 已触止损线 %.2f%%，禁止加仓", symbol, lossRatio*100, rc.StopLoss*100))
			}
		}

		// 规则二：当日亏损熔断，只出不进。
		dailyLoss, _ := g.book.DailyLossRatio().Float64()
		if dailyLoss <= -rc.MaxDailyLoss {
			return g.reject(ctx, p, RuleDailyLoss, auditlog.SeverityHigh, dailyLoss, -rc.MaxDailyLoss,
				fmt.Sprintf("当日亏损 %.2f%% 已达熔断线 %.2f%%，暂停开仓", dailyLoss*100, rc.MaxDailyLoss*100))
		}

		// 规则三：波动过大时不追入。
		vol := p.Quote.Volatility()
		if vol > rc.VolatilityThreshold {
			return g.reject(ctx, p, RuleVolatility, auditlog.SeverityMedium, vol, rc.VolatilityThreshold,
				fmt.Sprintf("%s 日内振幅 %.2f%% 超过阈值 %.2f%%", symbol, vol*100, rc.VolatilityThreshold*100))
		}

		// 规则四：单票仓位上限，超限部分收缩，收缩至零视为拒绝。
		return g.clampPositionSize(ctx, p, pos, price, rc)
	}

	// SELL 是减险动作，不设闸门，只校验持仓充足（账本最终兜底）。
	if p.Quantity > pos.Quantity {
		return g.reject(ctx, p, RulePositionSizing, auditlog.SeverityLow, float64(p.Quantity), float64(pos.Quantity),
			fmt.Sprintf("%s 卖出数量 %d 超过持仓 %d", symbol, p.Quantity, pos.Quantity))
	}
	return Decision{Admitted: true, Quantity: p.Quantity}
}

func (g *Gate) clampPositionSize(ctx context.Context, p Proposal, pos ledger.Position, price decimal.Decimal, rc config.RiskConfig) Decision {
	symbol := p.Symbol.String()
	if price.Sign() <= 0 {
		return g.reject(ctx, p, RulePositionSizing, auditlog.SeverityLow, p.Quote.Last, 0,
			fmt.Sprintf("%s 行情价格无效", symbol))
	}
	marks := map[string]decimal.Decimal{symbol: price}
	equity := g.book.Equity(marks)
	maxValue := equity.Mul(decimal.NewFromFloat(rc.MaxPositionPerStock))
	heldValue := price.Mul(decimal.NewFromInt(pos.Quantity))
	headroom := maxValue.Sub(heldValue)
	if headroom.Sign() <= 0 {
		metric, _ := heldValue.Div(equity).Float64()
		return g.reject(ctx, p, RulePositionSizing, auditlog.SeverityMedium, metric, rc.MaxPositionPerStock,
			fmt.Sprintf("%s 仓位已达单票上限 %.0f%%", symbol, rc.MaxPositionPerStock*100))
	}
	maxQty := headroom.Div(price).IntPart()
	if maxQty <= 0 {
		return g.reject(ctx, p, RulePositionSizing, auditlog.SeverityMedium, 0, rc.MaxPositionPerStock,
			fmt.Sprintf("%s 剩余额度不足一股", symbol))
	}
	qty := p.Quantity
	if qty > maxQty {
		log.Infof("%s 买入数量 %d 超单票上限，收缩至 %d", symbol, qty, maxQty)
		g.record(ctx, p, RulePositionSizing, auditlog.SeverityLow, float64(qty), float64(maxQty), true,
			fmt.Sprintf("%s 买入数量 %d 收缩至 %d", symbol, qty, maxQty))
		qty = maxQty
	}
	return Decision{Admitted: true, Quantity: qty}
}

func (g *Gate) reject(ctx context.Context, p Proposal, rule Rule, sev auditlog.Severity, metric, threshold float64, reason string) Decision {
	log.Warnf("风控拒绝 %s %s: %s", p.Side, p.Symbol, reason)
	g.record(ctx, p, rule, sev, metric, threshold, false, reason)
	if sev == auditlog.SeverityHigh && g.notifier != nil {
		g.notifier.Notify(ctx, fmt.Sprintf("⛔ 风控拦截\n%s", reason))
	}
	return Decision{Admitted: false, Rule: rule, Reason: reason}
}

func (g *Gate) record(ctx context.Context, p Proposal, rule Rule, sev auditlog.Severity, metric, threshold float64, admitted bool, reason string) {
	if g.audit == nil {
		return
	}
	details, _ := json.Marshal(map[string]interface{}{
		"side":     p.Side,
		"quantity": p.Quantity,
		"last":     p.Quote.Last,
		"high":     p.Quote.High,
		"low":      p.Quote.Low,
	})
	if _, err := g.audit.InsertRiskEvent(ctx, auditlog.RiskEvent{
		Symbol:    p.Symbol.String(),
		Rule:      string(rule),
		Severity:  sev,
		Metric:    metric,
		Threshold: threshold,
		Admitted:  admitted,
		Reason:    reason,
		Details:   details,
	}); err != nil {
		log.Warnf("写入风控事件失败: %v", err)
	}
}
