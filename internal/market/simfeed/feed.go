// Package simfeed 提供模拟行情源：按对数随机游走生成报价与日 K 序列。
// 仅用于 SIMULATION 账户模式与测试，实盘应接入真实行情网关。
package simfeed

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/qq148376839/trading-system/internal/market"
)

// Feed 为每个标的维护一条独立的价格路径。同一标的的序列可复现：
// 随机种子由标的代码派生，便于测试断言。
type Feed struct {
	mu         sync.Mutex
	states     map[string]*walkState
	basePrice  float64
	volatility float64 // 单步对数收益标准差
	nowFn      func() time.Time
}

type walkState struct {
	rng   *rand.Rand
	price float64
	high  float64
	low   float64
	open  float64
	day   string
}

// New 构造模拟行情源。basePrice 为各标的初始价，volatility 控制波动幅度。
func New(basePrice, volatility float64) *Feed {
	if basePrice <= 0 {
		basePrice = 100
	}
	if volatility <= 0 {
		volatility = 0.01
	}
	return &Feed{
		states:     make(map[string]*walkState),
		basePrice:  basePrice,
		volatility: volatility,
		nowFn:      time.Now,
	}
}

var _ market.QuoteProvider = (*Feed)(nil)

func seedFor(symbol string) int64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return int64(h.Sum64())
}

func (f *Feed) state(symbol string) *walkState {
	st, ok := f.states[symbol]
	if !ok {
		rng := rand.New(rand.NewSource(seedFor(symbol)))
		price := f.basePrice * (0.5 + rng.Float64())
		st = &walkState{rng: rng, price: price, high: price, low: price, open: price}
		f.states[symbol] = st
	}
	return st
}

// GetQuote 推进一步随机游走并返回最新报价。
func (f *Feed) GetQuote(_ context.Context, symbol market.Symbol) (market.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.nowFn()
	st := f.state(symbol.String())

	day := now.UTC().Format(time.DateOnly)
	if st.day != day {
		st.day = day
		st.open = st.price
		st.high = st.price
		st.low = st.price
	}
	st.price *= math.Exp(f.volatility * st.rng.NormFloat64())
	if st.price > st.high {
		st.high = st.price
	}
	if st.price < st.low {
		st.low = st.price
	}
	return market.Quote{
		Symbol:    symbol,
		Last:      st.price,
		Open:      st.open,
		High:      st.high,
		Low:       st.low,
		Volume:    1000 + st.rng.Int63n(100000),
		Timestamp: now,
	}, nil
}

// GetHistory 生成 count 根日 K，终点锚定当前价，保证与实时报价衔接。
func (f *Feed) GetHistory(_ context.Context, symbol market.Symbol, period market.Period, count int) ([]market.Candle, error) {
	if count <= 0 {
		return nil, fmt.Errorf("k 线数量必须为正数，当前 %d", count)
	}
	if period != market.PeriodDay {
		return nil, fmt.Errorf("模拟行情源仅支持日 K，当前 %q", period)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.nowFn()
	st := f.state(symbol.String())

	// 独立 rng 反向生成历史，不干扰实时路径。
	rng := rand.New(rand.NewSource(seedFor(symbol.String()) ^ 0x5f3759df))
	candles := make([]market.Candle, count)
	price := st.price
	for i := count - 1; i >= 0; i-- {
		open := price / math.Exp(f.volatility*rng.NormFloat64())
		high := math.Max(open, price) * (1 + f.volatility*rng.Float64())
		low := math.Min(open, price) * (1 - f.volatility*rng.Float64())
		candles[i] = market.Candle{
			Timestamp: now.AddDate(0, 0, -(count - 1 - i)),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     price,
			Volume:    float64(1000 + rng.Int63n(100000)),
		}
		price = open
	}
	return candles, nil
}
