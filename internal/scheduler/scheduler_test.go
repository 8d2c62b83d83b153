package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTickSchedulerRunImmediately(t *testing.T) {
	var runs atomic.Int32
	s := NewTickScheduler("test", time.Hour)
	s.RunImmediately = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx, func(context.Context) {
			runs.Add(1)
			cancel()
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("调度器未退出")
	}
	assert.Equal(t, int32(1), runs.Load())
}

func TestTickSchedulerPeriodicExecution(t *testing.T) {
	var runs atomic.Int32
	s := NewTickScheduler("test", 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Start(ctx, func(context.Context) { runs.Add(1) })

	// 100ms 窗口内按 10ms 对齐至少应执行若干次
	assert.GreaterOrEqual(t, runs.Load(), int32(3))
}

func TestTickSchedulerInvalidInterval(t *testing.T) {
	s := NewTickScheduler("test", 0)
	done := make(chan struct{})
	go func() {
		s.Start(context.Background(), func(context.Context) {})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("无效间隔应立即退出")
	}
}

func TestTickSchedulerNilTask(t *testing.T) {
	// 空任务直接返回，不 panic
	NewTickScheduler("test", time.Second).Start(context.Background(), nil)
}
