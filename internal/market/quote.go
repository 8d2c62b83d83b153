package market

import (
	"context"
	"time"
)

// Quote 是单个标的的实时快照。
type Quote struct {
	Symbol    Symbol
	Last      float64
	Open      float64
	High      float64
	Low       float64
	Volume    int64
	Timestamp time.Time
}

// Volatility 返回 (high-low)/last，供风控波动率检查使用。
// last 为 0 时返回 0，避免除零。
func (q Quote) Volatility() float64 {
	if q.Last <= 0 {
		return 0
	}
	return (q.High - q.Low) / q.Last
}

// Candle 是历史 K 线。策略侧全部用 float64 计算（talib 接口要求）。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Period 表示 K 线周期。
type Period string

const (
	PeriodDay    Period = "day"
	PeriodHour   Period = "hour"
	PeriodMinute Period = "min"
)

// QuoteProvider 是行情采集方的窄接口。
type QuoteProvider interface {
	GetQuote(ctx context.Context, symbol Symbol) (Quote, error)
	GetHistory(ctx context.Context, symbol Symbol, period Period, count int) ([]Candle, error)
}

// Closes 取出收盘价序列，按时间升序。
func Closes(candles []Candle) []float64 {
	out := make([]float64, 0, len(candles))
	for _, c := range candles {
		out = append(out, c.Close)
	}
	return out
}
