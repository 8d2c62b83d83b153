package strategy

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/qq148376839/trading-system/internal/config"
	"github.com/qq148376839/trading-system/internal/logger"
	"github.com/qq148376839/trading-system/internal/market"
)

var log = logger.Scope("STRATEGY")

// Advice 是聚合后的单标的结论。Votes 保留各策略原始方向，供审计与日志。
type Advice struct {
	Direction int
	Votes     map[string]int
}

// Aggregator 按冲突策略聚合多个指标的方向判断。
// 单个策略出错只记日志并视为观望，不拖垮整个标的评估。
type Aggregator struct {
	strategies []Strategy
	policy     string
	sizing     config.SizingParams
}

// NewAggregator 按配置装配启用的策略，顺序固定：rsi、macd、ma_cross。
// first_wins 策略下该顺序即优先级。
func NewAggregator(sc config.StrategyConfig) *Aggregator {
	var list []Strategy
	if sc.RSI.Enabled {
		list = append(list, NewRSI(sc.RSI))
	}
	if sc.MACD.Enabled {
		list = append(list, NewMACD(sc.MACD))
	}
	if sc.MACross.Enabled {
		list = append(list, NewMACross(sc.MACross))
	}
	return &Aggregator{
		strategies: list,
		policy:     strings.TrimSpace(sc.ConflictPolicy),
		sizing:     sc.Sizing,
	}
}

// Decide 聚合各策略对同一 K 线序列的判断。
//   - unanimous: 所有非零方向一致才行动，存在分歧即观望；
//   - first_wins: 首个给出非零方向的策略说了算。
func (a *Aggregator) Decide(symbol market.Symbol, candles []market.Candle) Advice {
	votes := make(map[string]int, len(a.strategies))
	var nonZero []int
	for _, s := range a.strategies {
		dir, err := s.Evaluate(candles)
		if err != nil {
			log.Warnf("%s 策略 %s 评估失败，视为观望: %v", symbol, s.Name(), err)
			votes[s.Name()] = SignalHold
			continue
		}
		votes[s.Name()] = dir
		if dir != SignalHold {
			nonZero = append(nonZero, dir)
		}
	}

	advice := Advice{Direction: SignalHold, Votes: votes}
	switch a.policy {
	case "first_wins":
		for _, s := range a.strategies {
			if d := votes[s.Name()]; d != SignalHold {
				advice.Direction = d
				break
			}
		}
	default: // unanimous
		if len(nonZero) > 0 {
			agreed := nonZero[0]
			for _, d := range nonZero[1:] {
				if d != agreed {
					agreed = SignalHold
					break
				}
			}
			advice.Direction = agreed
		}
	}
	if advice.Direction != SignalHold {
		log.Infof("%s 聚合信号: %s (votes=%v)", symbol, directionText(advice.Direction), votes)
	}
	return advice
}

// SuggestQuantity 按可用资金占比换算建议买入股数，港股按整手向下取整。
// 资金或价格不足一股（一手）时返回 0。
func (a *Aggregator) SuggestQuantity(symbol market.Symbol, price float64, cash decimal.Decimal) int64 {
	if price <= 0 || cash.Sign() <= 0 {
		return 0
	}
	fraction := a.sizing.CashFraction
	if fraction <= 0 || fraction > 1 {
		fraction = 1
	}
	budget := cash.Mul(decimal.NewFromFloat(fraction))
	qty := budget.Div(decimal.NewFromFloat(price)).IntPart()
	lot := int64(1)
	if symbol.Market == market.MarketHK && a.sizing.LotSize > 1 {
		lot = int64(a.sizing.LotSize)
	}
	qty = qty / lot * lot
	if qty < 0 {
		return 0
	}
	return qty
}
