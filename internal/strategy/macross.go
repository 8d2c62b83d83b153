package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"github.com/qq148376839/trading-system/internal/config"
	"github.com/qq148376839/trading-system/internal/market"
)

// MACross 策略：快线上穿慢线买入，下穿卖出。
type MACross struct {
	fast int
	slow int
}

func NewMACross(p config.MACrossParams) *MACross {
	return &MACross{fast: p.FastWindow, slow: p.SlowWindow}
}

func (s *MACross) Name() string { return "ma_cross" }

func (s *MACross) Evaluate(candles []market.Candle) (int, error) {
	need := s.slow + 1
	if len(candles) < need {
		return SignalHold, fmt.Errorf("ma_cross 需要至少 %d 根 K 线，当前 %d", need, len(candles))
	}
	closes := market.Closes(candles)
	fast := talib.Sma(closes, s.fast)
	slow := talib.Sma(closes, s.slow)
	n := len(closes)
	prevDiff := fast[n-2] - slow[n-2]
	currDiff := fast[n-1] - slow[n-1]
	switch {
	case prevDiff <= 0 && currDiff > 0:
		return SignalBuy, nil
	case prevDiff >= 0 && currDiff < 0:
		return SignalSell, nil
	default:
		return SignalHold, nil
	}
}
