package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qq148376839/trading-system/internal/broker"
	"github.com/qq148376839/trading-system/internal/config"
	"github.com/qq148376839/trading-system/internal/credential"
	"github.com/qq148376839/trading-system/internal/ledger"
	"github.com/qq148376839/trading-system/internal/market"
	"github.com/qq148376839/trading-system/internal/market/session"
	"github.com/qq148376839/trading-system/internal/notifier"
	"github.com/qq148376839/trading-system/internal/risk"
	"github.com/qq148376839/trading-system/internal/store"
	"github.com/qq148376839/trading-system/internal/store/auditlog"
	"github.com/qq148376839/trading-system/internal/strategy"
)

var aapl = market.MustParseSymbol("AAPL.US")

// stubStore 是引擎测试用的进程内 Store。
type stubStore struct {
	mu         sync.Mutex
	positions  map[string]store.PositionRow
	account    store.AccountStateRow
	hasAccount bool
	trades     []store.TradeRecord
	lastTimes  map[string]time.Time
	countToday int
	creds      map[credential.AccountType]credential.Credential
}

func newStubStore() *stubStore {
	return &stubStore{
		positions: make(map[string]store.PositionRow),
		lastTimes: make(map[string]time.Time),
		creds:     make(map[credential.AccountType]credential.Credential),
	}
}

func (s *stubStore) ApplyFill(_ context.Context, mut store.FillMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, mut.Trade)
	if mut.NewPosition.Quantity == 0 {
		delete(s.positions, mut.NewPosition.Symbol)
	} else {
		s.positions[mut.NewPosition.Symbol] = mut.NewPosition
	}
	s.account = mut.NewAccount
	s.hasAccount = true
	return nil
}

func (s *stubStore) InsertTradeRecord(_ context.Context, rec store.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, rec)
	return nil
}

func (s *stubStore) ListTradeRecords(context.Context, string, int) ([]store.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.TradeRecord(nil), s.trades...), nil
}

func (s *stubStore) LastTradeTimes(context.Context) (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTimes, nil
}

func (s *stubStore) CountTradesSince(context.Context, time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countToday, nil
}

func (s *stubStore) LoadPositions(context.Context) ([]store.PositionRow, error) {
	return nil, nil
}

func (s *stubStore) LoadAccountState(context.Context) (store.AccountStateRow, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account, s.hasAccount, nil
}

func (s *stubStore) SaveAccountState(_ context.Context, row store.AccountStateRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = row
	s.hasAccount = true
	return nil
}

func (s *stubStore) SaveCredential(_ context.Context, cred credential.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[cred.AccountType] = cred
	return nil
}

func (s *stubStore) LoadCredential(_ context.Context, at credential.AccountType) (credential.Credential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.creds[at]
	return cred, ok, nil
}

func (s *stubStore) Close() error { return nil }

func (s *stubStore) tradeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trades)
}

func (s *stubStore) lastTrade() store.TradeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trades[len(s.trades)-1]
}

var _ store.Store = (*stubStore)(nil)

// fixedQuotes 始终返回固定价格。
type fixedQuotes struct{ last float64 }

func (f fixedQuotes) GetQuote(_ context.Context, sym market.Symbol) (market.Quote, error) {
	return market.Quote{Symbol: sym, Last: f.last, Open: f.last, High: f.last, Low: f.last}, nil
}

func (f fixedQuotes) GetHistory(context.Context, market.Symbol, market.Period, int) ([]market.Candle, error) {
	return nil, errors.New("测试行情源不提供历史数据")
}

func testConfig() *config.Config {
	return &config.Config{
		Trading: config.TradingConfig{
			AccountType:             "SIMULATION",
			InitialCash:             10000,
			Currency:                "USD",
			StockPools:              map[string][]string{"us": {"AAPL.US"}},
			TickIntervalSeconds:     60,
			MaxWorkers:              2,
			MaxDailyTrades:          20,
			MinTradeIntervalSeconds: 300,
			GatewayTimeoutSeconds:   1,
		},
		Risk: config.RiskConfig{
			StopLoss:            -0.10,
			TakeProfit:          0.15,
			MaxDailyLoss:        0.05,
			MaxPositionLoss:     -0.15,
			VolatilityThreshold: 0.02,
			MaxPositionPerStock: 0.5,
		},
		Strategy: config.StrategyConfig{
			ConflictPolicy: "unanimous",
			RSI:            config.RSIParams{Enabled: true, Period: 14, Overbought: 70, Oversold: 30},
			Sizing:         config.SizingParams{CashFraction: 0.2, LotSize: 100},
		},
	}
}

type testEnv struct {
	engine *Engine
	store  *stubStore
	audit  *auditlog.AuditStore
	book   *ledger.Ledger
	cfg    *config.Config
}

func newTestEnv(t *testing.T, gateway broker.Gateway, quotes market.QuoteProvider) *testEnv {
	t.Helper()
	ctx := context.Background()
	cfg := testConfig()
	provider := config.NewProvider(cfg)
	st := newStubStore()
	audit, err := auditlog.New(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = audit.Close() })
	book, err := ledger.New(ctx, st, decimal.NewFromInt(10000))
	require.NoError(t, err)
	clock, err := session.NewClock(nil)
	require.NoError(t, err)

	eng := New(Deps{
		Config:   provider,
		Clock:    clock,
		Quotes:   quotes,
		Gateway:  gateway,
		Book:     book,
		Gate:     risk.NewGate(provider, book, audit, nil),
		Strategy: strategy.NewAggregator(cfg.Strategy),
		Store:    st,
		Audit:    audit,
		Notify:   notifier.NewAnnouncer(nil),
	})
	return &testEnv{engine: eng, store: st, audit: audit, book: book, cfg: cfg}
}

func quoteAt(last float64) market.Quote {
	return market.Quote{Symbol: aapl, Last: last, Open: last, High: last, Low: last}
}

func TestTryTradeBuySettles(t *testing.T) {
	quotes := fixedQuotes{last: 100}
	env := newTestEnv(t, broker.NewPaper(quotes, 1_000_000, "USD"), quotes)
	ctx := context.Background()

	env.engine.tryTrade(ctx, env.cfg, aapl, broker.SideBuy, 10, quoteAt(100), time.Now(), "测试买入", nil)

	pos := env.book.Position("AAPL.US")
	assert.Equal(t, int64(10), pos.Quantity)
	assert.True(t, env.book.Cash().Equal(decimal.NewFromInt(9000)))
	assert.Equal(t, 1, env.engine.Throttle().TradesToday())

	require.Equal(t, 1, env.store.tradeCount())
	rec := env.store.lastTrade()
	assert.Equal(t, store.TradeCompleted, rec.Status)
	assert.NotEmpty(t, rec.CorrelationID)
}

func TestTryTradeRiskRejectionDoesNotConsumeThrottle(t *testing.T) {
	quotes := fixedQuotes{last: 100}
	env := newTestEnv(t, broker.NewPaper(quotes, 1_000_000, "USD"), quotes)
	ctx := context.Background()

	// 振幅 3% 超过阈值 2%，风控拒绝
	volatile := market.Quote{Symbol: aapl, Last: 100, High: 103, Low: 100}
	env.engine.tryTrade(ctx, env.cfg, aapl, broker.SideBuy, 10, volatile, time.Now(), "测试", nil)

	assert.Zero(t, env.engine.Throttle().TradesToday())
	assert.Zero(t, env.store.tradeCount())
	assert.Zero(t, env.book.Position("AAPL.US").Quantity)
}

func TestTryTradeThrottleBlocksSecondAttempt(t *testing.T) {
	quotes := fixedQuotes{last: 100}
	env := newTestEnv(t, broker.NewPaper(quotes, 1_000_000, "USD"), quotes)
	ctx := context.Background()

	env.engine.tryTrade(ctx, env.cfg, aapl, broker.SideBuy, 10, quoteAt(100), time.Now(), "第一笔", nil)
	require.Equal(t, 1, env.store.tradeCount())

	// 最小间隔 300s 内的第二次尝试：风控先放行，节流预占被拒
	env.engine.tryTrade(ctx, env.cfg, aapl, broker.SideBuy, 10, quoteAt(100), time.Now(), "第二笔", nil)
	assert.Equal(t, 1, env.store.tradeCount())
	assert.Equal(t, 1, env.engine.Throttle().TradesToday())

	// 节流拒绝作为终态记入状态机流水
	events, err := env.audit.ListEngineEvents(ctx, "AAPL.US", 10)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	last := events[0]
	assert.Equal(t, string(StateRiskChecked), last.FromState)
	assert.Equal(t, string(StateRejected), last.ToState)
	assert.Contains(t, last.Note, "throttled")
}

func TestTryTradeGatewayFailureRecordsFailed(t *testing.T) {
	quotes := fixedQuotes{last: 100}
	paper := broker.NewPaper(quotes, 1_000_000, "USD")
	paper.SubmitHook = func(broker.OrderRequest) error { return errors.New("网关内部错误") }
	env := newTestEnv(t, paper, quotes)
	ctx := context.Background()

	env.engine.tryTrade(ctx, env.cfg, aapl, broker.SideBuy, 10, quoteAt(100), time.Now(), "测试", nil)

	// 提交失败：消耗节流额度、写 FAILED 流水、不动账本
	assert.Equal(t, 1, env.engine.Throttle().TradesToday())
	require.Equal(t, 1, env.store.tradeCount())
	assert.Equal(t, store.TradeFailed, env.store.lastTrade().Status)
	assert.True(t, env.book.Cash().Equal(decimal.NewFromInt(10000)))
}

func TestTryTradeRetriesAfterRateLimit(t *testing.T) {
	quotes := fixedQuotes{last: 100}
	paper := broker.NewPaper(quotes, 1_000_000, "USD")
	var calls int
	paper.SubmitHook = func(broker.OrderRequest) error {
		calls++
		if calls == 1 {
			return broker.ErrRateLimited
		}
		return nil
	}
	env := newTestEnv(t, paper, quotes)
	ctx := context.Background()

	env.engine.tryTrade(ctx, env.cfg, aapl, broker.SideBuy, 10, quoteAt(100), time.Now(), "测试", nil)

	assert.Equal(t, 2, calls)
	require.Equal(t, 1, env.store.tradeCount())
	assert.Equal(t, store.TradeCompleted, env.store.lastTrade().Status)
	assert.Equal(t, int64(10), env.book.Position("AAPL.US").Quantity)
}

// hangingGateway 模拟网关提交超时但实际已成交的场景。
type hangingGateway struct{}

func (hangingGateway) SubmitOrder(ctx context.Context, _ broker.OrderRequest) (broker.OrderResult, error) {
	<-ctx.Done()
	return broker.OrderResult{}, ctx.Err()
}

func (hangingGateway) GetOrderStatus(context.Context, string) (broker.OrderStatus, error) {
	return broker.StatusFilled, nil
}

func (hangingGateway) GetPositions(context.Context) ([]broker.Position, error) { return nil, nil }
func (hangingGateway) GetAccountBalance(context.Context) (broker.Balance, error) {
	return broker.Balance{}, nil
}
func (hangingGateway) RefreshCredential(_ context.Context, c credential.Credential) (credential.Credential, error) {
	return c, nil
}

func TestTryTradeTimeoutReconciliation(t *testing.T) {
	quotes := fixedQuotes{last: 100}
	env := newTestEnv(t, hangingGateway{}, quotes)
	ctx := context.Background()

	env.engine.tryTrade(ctx, env.cfg, aapl, broker.SideBuy, 10, quoteAt(100), time.Now(), "测试", nil)

	// 提交超时但对账确认已成交：按行情价记账
	pos := env.book.Position("AAPL.US")
	assert.Equal(t, int64(10), pos.Quantity)
	require.Equal(t, 1, env.store.tradeCount())
	rec := env.store.lastTrade()
	assert.Equal(t, store.TradeCompleted, rec.Status)
	assert.Contains(t, rec.Reason, "超时对账确认")
}

func TestRestoreSeedsThrottle(t *testing.T) {
	quotes := fixedQuotes{last: 100}
	env := newTestEnv(t, broker.NewPaper(quotes, 1_000_000, "USD"), quotes)
	env.store.lastTimes["AAPL.US"] = time.Now().Add(-10 * time.Second)
	env.store.countToday = 5

	require.NoError(t, env.engine.Restore(context.Background()))

	assert.Equal(t, 5, env.engine.Throttle().TradesToday())
	// 10s 前的尝试仍在 300s 间隔内
	assert.Error(t, env.engine.Throttle().TryReserve("AAPL.US", time.Now()))
}

// reconGateway 返回固定的网关侧持仓与资金，用于启动对账。
type reconGateway struct {
	hangingGateway
	positions []broker.Position
	balance   broker.Balance
}

func (g reconGateway) GetPositions(context.Context) ([]broker.Position, error) {
	return g.positions, nil
}

func (g reconGateway) GetAccountBalance(context.Context) (broker.Balance, error) {
	return g.balance, nil
}

func TestVerifyGatewayReportsDiffs(t *testing.T) {
	quotes := fixedQuotes{last: 100}
	ctx := context.Background()

	t.Run("两侧一致无差异", func(t *testing.T) {
		gw := reconGateway{
			positions: []broker.Position{{Symbol: aapl, Quantity: 10, CostPrice: 100}},
			balance:   broker.Balance{AvailableCash: 9000},
		}
		env := newTestEnv(t, gw, quotes)
		_, err := env.book.ApplyFill(ctx, ledger.Fill{Symbol: "AAPL.US", Side: "BUY", Price: decimal.NewFromInt(100), Quantity: 10})
		require.NoError(t, err)

		assert.Empty(t, env.engine.verifyGateway(ctx))
	})

	t.Run("数量资金及缺失持仓各报一条", func(t *testing.T) {
		gw := reconGateway{
			positions: []broker.Position{
				{Symbol: aapl, Quantity: 30, CostPrice: 100},
				{Symbol: market.MustParseSymbol("0700.HK"), Quantity: 500},
			},
			balance: broker.Balance{AvailableCash: 8000},
		}
		env := newTestEnv(t, gw, quotes)
		_, err := env.book.ApplyFill(ctx, ledger.Fill{Symbol: "AAPL.US", Side: "BUY", Price: decimal.NewFromInt(100), Quantity: 10})
		require.NoError(t, err)

		diffs := env.engine.verifyGateway(ctx)
		require.Len(t, diffs, 3)
	})
}

func TestTickSkipsClosedMarket(t *testing.T) {
	quotes := fixedQuotes{last: 100}
	paper := broker.NewPaper(quotes, 1_000_000, "USD")
	env := newTestEnv(t, paper, quotes)
	ctx := context.Background()

	// 装配凭证轮换器：凭证远未到期，EnsureValid 不触发刷新
	require.NoError(t, env.store.SaveCredential(ctx, credential.Credential{
		AccountType: credential.AccountSimulation,
		AccessToken: "token",
		IssuedAt:    time.Now(),
		ExpiresAt:   time.Now().Add(90 * 24 * time.Hour),
	}))
	rotator, err := credential.NewRotator(ctx, credential.AccountSimulation, paper, env.store, 0)
	require.NoError(t, err)
	env.engine.rotator = rotator

	// 周日全市场休市
	env.engine.nowFn = func() time.Time {
		return time.Date(2026, 9, 6, 15, 0, 0, 0, time.UTC)
	}
	env.engine.Tick(ctx)

	assert.Zero(t, env.store.tradeCount())
	assert.Zero(t, env.engine.Throttle().TradesToday())
	// 交易日切换已落账
	assert.Equal(t, "2026-09-06", env.book.TradeDate())
}
