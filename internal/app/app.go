// Package app 负责应用级编排：加载配置 → 装配依赖 → 启动交易循环、
// 配置监听与状态接口。
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/qq148376839/trading-system/internal/config"
	"github.com/qq148376839/trading-system/internal/engine"
	"github.com/qq148376839/trading-system/internal/ledger"
	"github.com/qq148376839/trading-system/internal/logger"
	"github.com/qq148376839/trading-system/internal/notifier"
	"github.com/qq148376839/trading-system/internal/scheduler"
	"github.com/qq148376839/trading-system/internal/store/auditlog"
	"github.com/qq148376839/trading-system/internal/store/gormstore"
	statushttp "github.com/qq148376839/trading-system/internal/transport/http/status"
)

// App 持有全部已装配的组件。
type App struct {
	provider  *config.Provider
	store     *gormstore.GormStore
	audit     *auditlog.AuditStore
	book      *ledger.Ledger
	engine    *engine.Engine
	announcer *notifier.Announcer
	httpSrv   *statushttp.Server

	configPath string
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	logger.SetLevel(cfg.App.LogLevel)
	provider := config.NewProvider(cfg)
	a, err := build(ctx, provider)
	if err != nil {
		return nil, err
	}
	a.configPath = cfgPath
	return a, nil
}

// Run 启动交易循环、配置热更新与状态接口，阻塞直到 ctx 结束。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.provider == nil {
		return fmt.Errorf("app 未初始化")
	}
	defer a.close()

	a.printSummary()
	cfg := a.provider.Snapshot()
	a.announcer.Notify(ctx, notifier.StartupMessage(
		cfg.Trading.AccountType, cfg.Trading.Symbols(), a.book.Cash()).RenderMarkdown())

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.provider.Watch(ctx, a.configPath); err != nil && ctx.Err() == nil {
			return fmt.Errorf("配置监听退出: %w", err)
		}
		return nil
	})

	if a.httpSrv != nil {
		group.Go(func() error {
			if err := a.httpSrv.Start(ctx); err != nil {
				return fmt.Errorf("状态接口异常退出: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		tick := scheduler.NewTickScheduler("trade", cfg.Trading.TickInterval())
		tick.RunImmediately = true
		tick.Start(ctx, a.engine.Tick)
		return nil
	})

	err := group.Wait()
	if ctx.Err() != nil {
		// 正常退出路径（信号触发取消）。
		return nil
	}
	return err
}

func (a *App) close() {
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			logger.Warnf("关闭审计库失败: %v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("关闭主库失败: %v", err)
		}
	}
}
