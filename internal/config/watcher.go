package config

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/qq148376839/trading-system/internal/logger"
)

var log = logger.Scope("CONFIG")

// Provider 持有当前配置快照。风控阈值等热更新项必须经 Snapshot() 读取，
// 不得在组件内长期缓存。
type Provider struct {
	current atomic.Pointer[Config]
}

func NewProvider(cfg *Config) *Provider {
	p := &Provider{}
	p.current.Store(cfg)
	return p
}

// Snapshot 返回当前配置。返回值为只读快照，调用方不得修改。
func (p *Provider) Snapshot() *Config {
	return p.current.Load()
}

// Watch 监听配置文件变更并原子替换快照。解析或校验失败时保留旧配置，
// 只记录告警（热更新错误不应打断交易）。阻塞直到 ctx 结束。
func (p *Provider) Watch(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	// 监听目录而非文件：编辑器多以 rename+create 方式保存。
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}
	log.Infof("开始监听配置文件 %s", abs)

	var debounce *time.Timer
	reload := func() {
		cfg, err := Load(abs)
		if err != nil {
			log.Warnf("配置热更新失败，保留旧配置: %v", err)
			return
		}
		p.current.Store(cfg)
		log.Infof("配置已热更新（risk.stop_loss=%v max_daily_loss=%v max_position_per_stock=%v）",
			cfg.Risk.StopLoss, cfg.Risk.MaxDailyLoss, cfg.Risk.MaxPositionPerStock)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			// 200ms 去抖，避免编辑器分段写入触发多次加载。
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("配置监听错误: %v", err)
		}
	}
}
