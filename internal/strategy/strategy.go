// Package strategy 实现技术指标策略与信号聚合。
// 每个策略对单标的 K 线序列给出方向：+1 买入、-1 卖出、0 观望。
package strategy

import (
	"github.com/qq148376839/trading-system/internal/market"
)

// 信号方向。
const (
	SignalBuy  = 1
	SignalHold = 0
	SignalSell = -1
)

// Strategy 基于历史 K 线给出单标的方向判断。
// 数据不足以计算指标时返回错误，由聚合器隔离处理。
type Strategy interface {
	Name() string
	Evaluate(candles []market.Candle) (int, error)
}

// directionText 供日志展示。
func directionText(d int) string {
	switch {
	case d > 0:
		return "买入"
	case d < 0:
		return "卖出"
	default:
		return "观望"
	}
}
