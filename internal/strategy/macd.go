package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"github.com/qq148376839/trading-system/internal/config"
	"github.com/qq148376839/trading-system/internal/market"
)

// MACD 策略：柱状图由负转正视为金叉买入，由正转负视为死叉卖出。
type MACD struct {
	fast   int
	slow   int
	signal int
}

func NewMACD(p config.MACDParams) *MACD {
	return &MACD{fast: p.FastPeriod, slow: p.SlowPeriod, signal: p.SignalPeriod}
}

func (s *MACD) Name() string { return "macd" }

func (s *MACD) Evaluate(candles []market.Candle) (int, error) {
	need := s.slow + s.signal + 1
	if len(candles) < need {
		return SignalHold, fmt.Errorf("macd 需要至少 %d 根 K 线，当前 %d", need, len(candles))
	}
	_, _, hist := talib.Macd(market.Closes(candles), s.fast, s.slow, s.signal)
	n := len(hist)
	prev, curr := hist[n-2], hist[n-1]
	switch {
	case prev <= 0 && curr > 0:
		return SignalBuy, nil
	case prev >= 0 && curr < 0:
		return SignalSell, nil
	default:
		return SignalHold, nil
	}
}
