// Package scheduler 驱动固定间隔的交易评估循环。
package scheduler

import (
	"context"
	"time"

	"github.com/qq148376839/trading-system/internal/logger"
)

// TickScheduler 按固定间隔对齐执行任务。执行时间对齐到整分/整间隔，
// 避免多实例在随机时刻打到行情接口。
type TickScheduler struct {
	Name           string
	Interval       time.Duration
	RunImmediately bool

	nowFn func() time.Time
}

func NewTickScheduler(name string, interval time.Duration) *TickScheduler {
	return &TickScheduler{
		Name:     name,
		Interval: interval,
		nowFn:    time.Now,
	}
}

// Start 阻塞运行直到 ctx 结束。task 在调度协程内同步执行，
// 单轮超时控制由 task 自身负责。
func (s *TickScheduler) Start(ctx context.Context, task func(ctx context.Context)) {
	if s == nil || task == nil {
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("TickScheduler[%s]: interval 无效 %s，调度器退出", s.Name, s.Interval)
		return
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	logger.Infof("TickScheduler[%s]: 启动，间隔=%s run_immediately=%v", s.Name, s.Interval, s.RunImmediately)
	if s.RunImmediately {
		task(ctx)
	}

	for {
		now := s.nowFn()
		next := now.Truncate(s.Interval).Add(s.Interval)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Infof("TickScheduler[%s]: 收到退出信号，停止调度", s.Name)
			return
		case <-timer.C:
			task(ctx)
		}
	}
}
