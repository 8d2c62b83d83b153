package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"github.com/qq148376839/trading-system/internal/config"
	"github.com/qq148376839/trading-system/internal/market"
)

// RSI 策略：超卖买入、超买卖出。
type RSI struct {
	period     int
	overbought float64
	oversold   float64
}

func NewRSI(p config.RSIParams) *RSI {
	return &RSI{period: p.Period, overbought: p.Overbought, oversold: p.Oversold}
}

func (s *RSI) Name() string { return "rsi" }

func (s *RSI) Evaluate(candles []market.Candle) (int, error) {
	if len(candles) < s.period+1 {
		return SignalHold, fmt.Errorf("rsi 需要至少 %d 根 K 线，当前 %d", s.period+1, len(candles))
	}
	values := talib.Rsi(market.Closes(candles), s.period)
	last := values[len(values)-1]
	switch {
	case last < s.oversold:
		return SignalBuy, nil
	case last > s.overbought:
		return SignalSell, nil
	default:
		return SignalHold, nil
	}
}
