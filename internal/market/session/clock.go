// Package session 实现市场交易时段时钟：判断标的当前是否可交易、
// 以及下一个开盘时刻。纯函数语义，可被任意多个 goroutine 并发调用。
package session

import (
	"fmt"
	"time"

	"github.com/qq148376839/trading-system/internal/market"
)

// maxSearchDays 限定 NextOpen 的向前搜索范围，超出即认为日历配置异常。
const maxSearchDays = 10

// Window 是某市场在其本地时区内的一个交易时段（分钟粒度，[Start, End)）。
type Window struct {
	Name  string
	Start int // 自当日零点起的分钟数
	End   int
}

func minutesOf(h, m int) int { return h*60 + m }

type schedule struct {
	loc     *time.Location
	windows []Window
}

// Clock 持有各市场的时段表与休市日历。
type Clock struct {
	schedules map[market.Market]schedule
	holidays  map[market.Market]map[string]struct{}
}

// NewClock 构造时钟。时段表为内置（对应券商行情侧的固定交易时段），
// 休市日历由外部配置提供。
func NewClock(cal *Calendar) (*Clock, error) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("加载美东时区失败: %w", err)
	}
	hk, err := time.LoadLocation("Asia/Hong_Kong")
	if err != nil {
		return nil, fmt.Errorf("加载香港时区失败: %w", err)
	}
	c := &Clock{
		schedules: map[market.Market]schedule{
			market.MarketUS: {
				loc: ny,
				windows: []Window{
					{Name: "pre_market", Start: minutesOf(4, 0), End: minutesOf(9, 30)},
					{Name: "regular", Start: minutesOf(9, 30), End: minutesOf(16, 0)},
					{Name: "after_market", Start: minutesOf(16, 0), End: minutesOf(20, 0)},
				},
			},
			market.MarketHK: {
				loc: hk,
				windows: []Window{
					{Name: "morning", Start: minutesOf(9, 30), End: minutesOf(12, 0)},
					{Name: "afternoon", Start: minutesOf(13, 0), End: minutesOf(16, 0)},
				},
			},
		},
		holidays: map[market.Market]map[string]struct{}{},
	}
	if cal != nil {
		for m, dates := range cal.Holidays {
			set := make(map[string]struct{}, len(dates))
			for _, d := range dates {
				set[d] = struct{}{}
			}
			c.holidays[m] = set
		}
	}
	return c, nil
}

// IsOpen 判断 now 时刻该标的所在市场是否处于任一交易时段。
func (c *Clock) IsOpen(symbol market.Symbol, now time.Time) bool {
	sched, ok := c.schedules[symbol.Market]
	if !ok {
		return false
	}
	local := now.In(sched.loc)
	if !c.isTradingDay(symbol.Market, local) {
		return false
	}
	minute := minutesOf(local.Hour(), local.Minute())
	for _, w := range sched.windows {
		if minute >= w.Start && minute < w.End {
			return true
		}
	}
	return false
}

// NextOpen 返回严格晚于 now 的最近一次开盘时刻。
// 搜索上限 maxSearchDays 天，超出返回错误而不是死循环。
func (c *Clock) NextOpen(symbol market.Symbol, now time.Time) (time.Time, error) {
	sched, ok := c.schedules[symbol.Market]
	if !ok {
		return time.Time{}, fmt.Errorf("未知市场: %s", symbol.Market)
	}
	local := now.In(sched.loc)
	for day := 0; day <= maxSearchDays; day++ {
		candidate := local.AddDate(0, 0, day)
		if !c.isTradingDay(symbol.Market, candidate) {
			continue
		}
		for _, w := range sched.windows {
			open := time.Date(candidate.Year(), candidate.Month(), candidate.Day(),
				w.Start/60, w.Start%60, 0, 0, sched.loc)
			if open.After(now) {
				return open, nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("%s 市场 %d 天内未找到开盘时段，请检查休市日历", symbol.Market, maxSearchDays)
}

// LocalDate 返回该市场本地日历日（YYYY-MM-DD），供账本做"按交易日"的重置。
func (c *Clock) LocalDate(m market.Market, now time.Time) string {
	sched, ok := c.schedules[m]
	if !ok {
		return now.UTC().Format(time.DateOnly)
	}
	return now.In(sched.loc).Format(time.DateOnly)
}

// DayStart 返回该市场本地日历日的零点时刻，供"当日计数"类查询使用。
func (c *Clock) DayStart(m market.Market, now time.Time) time.Time {
	sched, ok := c.schedules[m]
	if !ok {
		y, mo, d := now.UTC().Date()
		return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
	}
	local := now.In(sched.loc)
	y, mo, d := local.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, sched.loc)
}

func (c *Clock) isTradingDay(m market.Market, local time.Time) bool {
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	if set, ok := c.holidays[m]; ok {
		if _, hit := set[local.Format(time.DateOnly)]; hit {
			return false
		}
	}
	return true
}
