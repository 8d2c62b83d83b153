package engine

import (
	"fmt"
	"sync"
	"time"
)

// Throttle 约束交易频率：单标的最小间隔 + 全账户单日上限。
// 风控拒绝不计入节流；提交到网关的尝试无论成败都计入。
type Throttle struct {
	mu          sync.Mutex
	lastAttempt map[string]time.Time
	tradesToday int
	tradeDate   string
	maxDaily    int
	minInterval time.Duration
}

func NewThrottle(maxDaily int, minInterval time.Duration) *Throttle {
	return &Throttle{
		lastAttempt: make(map[string]time.Time),
		maxDaily:    maxDaily,
		minInterval: minInterval,
	}
}

// Seed 在重启后从数据库恢复节流状态：各标的最近尝试时间与当日计数。
func (t *Throttle) Seed(last map[string]time.Time, countToday int, date string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for sym, ts := range last {
		t.lastAttempt[sym] = ts
	}
	if countToday > 0 {
		t.tradesToday = countToday
	}
	t.tradeDate = date
}

// RollDate 交易日切换时清零当日计数。幂等。
func (t *Throttle) RollDate(date string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.tradeDate == date {
		return
	}
	t.tradeDate = date
	t.tradesToday = 0
}

// TryReserve 原子地完成节流判定并预占额度：单标的最小间隔与全账户
// 日上限任一不满足即拒绝，且不产生任何状态变更；判定通过时在同一把锁内
// 登记本次尝试，多标的并发评估也不会突破日上限。
func (t *Throttle) TryReserve(symbol string, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.maxDaily > 0 && t.tradesToday >= t.maxDaily {
		return fmt.Errorf("当日交易次数已达上限 %d", t.maxDaily)
	}
	if last, ok := t.lastAttempt[symbol]; ok && t.minInterval > 0 {
		if elapsed := now.Sub(last); elapsed < t.minInterval {
			return fmt.Errorf("%s 距上次交易仅 %s，最小间隔 %s", symbol, elapsed.Round(time.Second), t.minInterval)
		}
	}
	t.lastAttempt[symbol] = now
	t.tradesToday++
	return nil
}

// TradesToday 返回当日已计数的交易尝试次数。
func (t *Throttle) TradesToday() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tradesToday
}
