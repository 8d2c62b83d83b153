// Package ratelimit 提供令牌桶限流与指数退避，约束对券商网关的请求频率。
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter 是线程安全的令牌桶限流器。
type Limiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // 每秒补充令牌数
	lastRefill time.Time
}

// NewLimiter 创建限流器。maxBurst 为突发上限，perSecond 为每秒补充速率。
func NewLimiter(maxBurst int, perSecond float64) *Limiter {
	return &Limiter{
		tokens:     float64(maxBurst),
		maxTokens:  float64(maxBurst),
		refillRate: perSecond,
		lastRefill: time.Now(),
	}
}

// Wait 阻塞直到获得一个令牌或 ctx 结束。
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		l.refill()
		if l.tokens >= 1 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		wait := time.Duration(float64(time.Second) / l.refillRate)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAcquire 非阻塞获取令牌。
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// refill 按流逝时间补充令牌，调用方须持锁。
func (l *Limiter) refill() {
	now := time.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	l.tokens += elapsed * l.refillRate
	if l.tokens > l.maxTokens {
		l.tokens = l.maxTokens
	}
	l.lastRefill = now
}
