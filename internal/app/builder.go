package app

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/qq148376839/trading-system/internal/broker"
	"github.com/qq148376839/trading-system/internal/config"
	"github.com/qq148376839/trading-system/internal/credential"
	"github.com/qq148376839/trading-system/internal/engine"
	"github.com/qq148376839/trading-system/internal/ledger"
	"github.com/qq148376839/trading-system/internal/market"
	"github.com/qq148376839/trading-system/internal/market/session"
	"github.com/qq148376839/trading-system/internal/market/simfeed"
	"github.com/qq148376839/trading-system/internal/notifier"
	"github.com/qq148376839/trading-system/internal/risk"
	"github.com/qq148376839/trading-system/internal/store"
	"github.com/qq148376839/trading-system/internal/store/auditlog"
	"github.com/qq148376839/trading-system/internal/store/gormstore"
	"github.com/qq148376839/trading-system/internal/strategy"
	statushttp "github.com/qq148376839/trading-system/internal/transport/http/status"
)

// build 手工装配全部依赖。顺序：存储 → 时钟 → 行情/网关 → 凭证 →
// 账本 → 风控 → 策略 → 引擎 → 状态接口。
func build(ctx context.Context, provider *config.Provider) (*App, error) {
	cfg := provider.Snapshot()

	st, err := gormstore.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("初始化主库失败: %w", err)
	}
	var audit *auditlog.AuditStore
	if cfg.Database.AuditPath != "" {
		audit, err = auditlog.New(cfg.Database.AuditPath)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("初始化审计库失败: %w", err)
		}
	}

	var cal *session.Calendar
	if cfg.Market.HolidayCalendar != "" {
		cal, err = session.LoadCalendar(cfg.Market.HolidayCalendar)
		if err != nil {
			closeStores(st, audit)
			return nil, fmt.Errorf("加载休市日历失败: %w", err)
		}
	}
	clock, err := session.NewClock(cal)
	if err != nil {
		closeStores(st, audit)
		return nil, err
	}

	accountType := credential.AccountType(cfg.Trading.AccountType)
	var (
		quotes  market.QuoteProvider
		gateway broker.Gateway
	)
	switch accountType {
	case credential.AccountSimulation:
		feed := simfeed.New(100, 0.01)
		quotes = feed
		gateway = broker.NewPaper(feed, cfg.Trading.InitialCash, cfg.Trading.Currency)
	case credential.AccountReal:
		closeStores(st, audit)
		return nil, fmt.Errorf("REAL 账户需要接入券商网关，当前构建仅支持 SIMULATION")
	default:
		closeStores(st, audit)
		return nil, fmt.Errorf("非法账户类型 %q", cfg.Trading.AccountType)
	}

	rotator, err := bootstrapRotator(ctx, accountType, gateway, st, cfg)
	if err != nil {
		closeStores(st, audit)
		return nil, err
	}

	book, err := ledger.New(ctx, st, decimal.NewFromFloat(cfg.Trading.InitialCash))
	if err != nil {
		closeStores(st, audit)
		return nil, err
	}

	var sink notifier.TextNotifier = notifier.Noop{}
	if cfg.Notify.Telegram.Enabled {
		sink = notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
	}
	announcer := notifier.NewAnnouncer(sink)

	gate := risk.NewGate(provider, book, audit, announcer)
	agg := strategy.NewAggregator(cfg.Strategy)

	eng := engine.New(engine.Deps{
		Config:   provider,
		Clock:    clock,
		Quotes:   quotes,
		Gateway:  gateway,
		Rotator:  rotator,
		Book:     book,
		Gate:     gate,
		Strategy: agg,
		Store:    st,
		Audit:    audit,
		Notify:   announcer,
	})
	if err := eng.Restore(ctx); err != nil {
		closeStores(st, audit)
		return nil, err
	}

	var httpSrv *statushttp.Server
	if cfg.App.HTTPAddr != "" {
		httpSrv, err = statushttp.NewServer(cfg.App.HTTPAddr, &statushttp.Router{
			Config:  provider,
			Book:    book,
			Engine:  eng,
			Rotator: rotator,
			Store:   st,
			Audit:   audit,
			Clock:   clock,
		})
		if err != nil {
			closeStores(st, audit)
			return nil, err
		}
	}

	return &App{
		provider:  provider,
		store:     st,
		audit:     audit,
		book:      book,
		engine:    eng,
		announcer: announcer,
		httpSrv:   httpSrv,
	}, nil
}

// bootstrapRotator 加载凭证；模拟盘首次启动时自动签发一份 paper 凭证，
// 免去手工初始化数据库的步骤。
func bootstrapRotator(ctx context.Context, accountType credential.AccountType, gateway broker.Gateway, st store.Store, cfg *config.Config) (*credential.Rotator, error) {
	threshold := cfg.Credential.RefreshThreshold()
	rotator, err := credential.NewRotator(ctx, accountType, gateway, st, threshold)
	if err == nil {
		return rotator, nil
	}
	if accountType != credential.AccountSimulation {
		return nil, err
	}
	fresh, rerr := gateway.RefreshCredential(ctx, credential.Credential{AccountType: accountType})
	if rerr != nil {
		return nil, fmt.Errorf("签发模拟盘凭证失败: %w", rerr)
	}
	fresh.AccountType = accountType
	if serr := st.SaveCredential(ctx, fresh); serr != nil {
		return nil, fmt.Errorf("保存模拟盘凭证失败: %w", serr)
	}
	return credential.NewRotator(ctx, accountType, gateway, st, threshold)
}

func closeStores(st *gormstore.GormStore, audit *auditlog.AuditStore) {
	if audit != nil {
		audit.Close()
	}
	if st != nil {
		st.Close()
	}
}
