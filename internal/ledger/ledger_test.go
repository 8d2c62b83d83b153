package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qq148376839/trading-system/internal/credential"
	"github.com/qq148376839/trading-system/internal/store"
)

// fakeStore 是进程内 Store 实现，支持注入落库错误。
type fakeStore struct {
	mu         sync.Mutex
	positions  map[string]store.PositionRow
	account    store.AccountStateRow
	hasAccount bool
	trades     []store.TradeRecord
	creds      map[credential.AccountType]credential.Credential

	applyErr error
	saveErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		positions: make(map[string]store.PositionRow),
		creds:     make(map[credential.AccountType]credential.Credential),
	}
}

func (f *fakeStore) ApplyFill(_ context.Context, mut store.FillMutation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.trades = append(f.trades, mut.Trade)
	if mut.NewPosition.Quantity == 0 {
		delete(f.positions, mut.NewPosition.Symbol)
	} else {
		f.positions[mut.NewPosition.Symbol] = mut.NewPosition
	}
	f.account = mut.NewAccount
	f.hasAccount = true
	return nil
}

func (f *fakeStore) InsertTradeRecord(_ context.Context, rec store.TradeRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trades = append(f.trades, rec)
	return nil
}

func (f *fakeStore) ListTradeRecords(context.Context, string, int) ([]store.TradeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.TradeRecord(nil), f.trades...), nil
}

func (f *fakeStore) LastTradeTimes(context.Context) (map[string]time.Time, error) {
	return map[string]time.Time{}, nil
}

func (f *fakeStore) CountTradesSince(context.Context, time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.trades), nil
}

func (f *fakeStore) LoadPositions(context.Context) ([]store.PositionRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.PositionRow, 0, len(f.positions))
	for _, row := range f.positions {
		out = append(out, row)
	}
	return out, nil
}

func (f *fakeStore) LoadAccountState(context.Context) (store.AccountStateRow, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.account, f.hasAccount, nil
}

func (f *fakeStore) SaveAccountState(_ context.Context, row store.AccountStateRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.account = row
	f.hasAccount = true
	return nil
}

func (f *fakeStore) SaveCredential(_ context.Context, cred credential.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds[cred.AccountType] = cred
	return nil
}

func (f *fakeStore) LoadCredential(_ context.Context, at credential.AccountType) (credential.Credential, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cred, ok := f.creds[at]
	return cred, ok, nil
}

func (f *fakeStore) Close() error { return nil }

var _ store.Store = (*fakeStore)(nil)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestNewInitializesEmptyAccount(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	l, err := New(ctx, fs, dec("10000"))
	require.NoError(t, err)

	assert.True(t, l.Cash().Equal(dec("10000")))
	assert.True(t, l.DayStartEquity().Equal(dec("10000")))
	// 初始账户状态必须立即落库
	assert.True(t, fs.hasAccount)
}

func TestNewRejectsNonPositiveInitialCash(t *testing.T) {
	_, err := New(context.Background(), newFakeStore(), decimal.Zero)
	assert.Error(t, err)
}

func TestNewRestoresFromStore(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	fs.positions["AAPL.US"] = store.PositionRow{Symbol: "AAPL.US", Quantity: 10, AvgCost: dec("100")}
	fs.positions["MSFT.US"] = store.PositionRow{Symbol: "MSFT.US", Quantity: 0, AvgCost: dec("50")}
	fs.account = store.AccountStateRow{
		Cash:             dec("5000"),
		DailyRealizedPnL: dec("-120"),
		DayStartEquity:   dec("6000"),
		TradeDate:        "2026-09-01",
	}
	fs.hasAccount = true

	l, err := New(ctx, fs, dec("99999"))
	require.NoError(t, err)

	// 初始资金参数被数据库状态覆盖
	assert.True(t, l.Cash().Equal(dec("5000")))
	assert.Equal(t, "2026-09-01", l.TradeDate())
	assert.Equal(t, int64(10), l.Position("AAPL.US").Quantity)
	// 零持仓行不进入内存
	assert.Zero(t, l.Position("MSFT.US").Quantity)
}

func TestApplyFillBuyAveragesCost(t *testing.T) {
	ctx := context.Background()
	l, err := New(ctx, newFakeStore(), dec("10000"))
	require.NoError(t, err)

	pos, err := l.ApplyFill(ctx, Fill{Symbol: "aapl.us", Side: "BUY", Price: dec("100"), Quantity: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(10), pos.Quantity)
	assert.True(t, pos.AvgCost.Equal(dec("100")))
	assert.True(t, l.Cash().Equal(dec("9000")))

	// 加仓摊薄：(100*10 + 50*10) / 20 = 75
	pos, err = l.ApplyFill(ctx, Fill{Symbol: "AAPL.US", Side: "BUY", Price: dec("50"), Quantity: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(20), pos.Quantity)
	assert.True(t, pos.AvgCost.Equal(dec("75")))
	assert.True(t, l.Cash().Equal(dec("8500")))
}

func TestApplyFillBuyInsufficientCash(t *testing.T) {
	ctx := context.Background()
	l, err := New(ctx, newFakeStore(), dec("1000"))
	require.NoError(t, err)

	_, err = l.ApplyFill(ctx, Fill{Symbol: "AAPL.US", Side: "BUY", Price: dec("100"), Quantity: 11})
	assert.Error(t, err)
	assert.True(t, l.Cash().Equal(dec("1000")))
	assert.Zero(t, l.Position("AAPL.US").Quantity)
}

func TestApplyFillSellRealizesPnL(t *testing.T) {
	ctx := context.Background()
	l, err := New(ctx, newFakeStore(), dec("10000"))
	require.NoError(t, err)
	_, err = l.ApplyFill(ctx, Fill{Symbol: "AAPL.US", Side: "BUY", Price: dec("100"), Quantity: 10})
	require.NoError(t, err)

	// 部分卖出：盈亏结转，摊薄成本不变
	pos, err := l.ApplyFill(ctx, Fill{Symbol: "AAPL.US", Side: "SELL", Price: dec("110"), Quantity: 4})
	require.NoError(t, err)
	assert.Equal(t, int64(6), pos.Quantity)
	assert.True(t, pos.AvgCost.Equal(dec("100")))
	assert.True(t, l.DailyRealizedPnL().Equal(dec("40")))
	assert.True(t, l.Cash().Equal(dec("9440")))

	// 清仓：持仓移除，成本归零
	pos, err = l.ApplyFill(ctx, Fill{Symbol: "AAPL.US", Side: "SELL", Price: dec("90"), Quantity: 6})
	require.NoError(t, err)
	assert.Zero(t, pos.Quantity)
	assert.True(t, pos.AvgCost.IsZero())
	assert.True(t, l.DailyRealizedPnL().Equal(dec("-20")))
	assert.Empty(t, l.Positions())
}

func TestApplyFillSellInsufficientPosition(t *testing.T) {
	ctx := context.Background()
	l, err := New(ctx, newFakeStore(), dec("10000"))
	require.NoError(t, err)

	_, err = l.ApplyFill(ctx, Fill{Symbol: "AAPL.US", Side: "SELL", Price: dec("100"), Quantity: 1})
	assert.Error(t, err)
}

func TestApplyFillValidation(t *testing.T) {
	ctx := context.Background()
	l, err := New(ctx, newFakeStore(), dec("10000"))
	require.NoError(t, err)

	cases := []Fill{
		{Symbol: "", Side: "BUY", Price: dec("100"), Quantity: 1},
		{Symbol: "AAPL.US", Side: "BUY", Price: dec("100"), Quantity: 0},
		{Symbol: "AAPL.US", Side: "BUY", Price: decimal.Zero, Quantity: 1},
		{Symbol: "AAPL.US", Side: "HOLD", Price: dec("100"), Quantity: 1},
	}
	for _, fill := range cases {
		_, err := l.ApplyFill(ctx, fill)
		assert.Error(t, err, "fill=%+v", fill)
	}
}

func TestApplyFillStoreFailureKeepsMemory(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	l, err := New(ctx, fs, dec("10000"))
	require.NoError(t, err)

	fs.applyErr = assert.AnError
	_, err = l.ApplyFill(ctx, Fill{Symbol: "AAPL.US", Side: "BUY", Price: dec("100"), Quantity: 10})
	require.Error(t, err)

	// 落库失败时内存状态不得提交
	assert.True(t, l.Cash().Equal(dec("10000")))
	assert.Zero(t, l.Position("AAPL.US").Quantity)
}

func TestApplyFillConcurrentNoLostUpdates(t *testing.T) {
	ctx := context.Background()
	l, err := New(ctx, newFakeStore(), dec("10000"))
	require.NoError(t, err)

	// 同标的与跨标的并发记账：最终数量等于成交量的有符号和，资金无丢失更新
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := l.ApplyFill(ctx, Fill{Symbol: "AAPL.US", Side: "BUY", Price: dec("10"), Quantity: 1})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := l.ApplyFill(ctx, Fill{Symbol: "MSFT.US", Side: "BUY", Price: dec("5"), Quantity: 2})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), l.Position("AAPL.US").Quantity)
	assert.Equal(t, int64(20), l.Position("MSFT.US").Quantity)
	assert.True(t, l.Position("AAPL.US").AvgCost.Equal(dec("10")))
	// 10000 - 10*10 - 10*10 = 9800
	assert.True(t, l.Cash().Equal(dec("9800")))
}

func TestEquityAndDailyLossRatio(t *testing.T) {
	ctx := context.Background()
	l, err := New(ctx, newFakeStore(), dec("10000"))
	require.NoError(t, err)
	_, err = l.ApplyFill(ctx, Fill{Symbol: "AAPL.US", Side: "BUY", Price: dec("100"), Quantity: 10})
	require.NoError(t, err)

	// 有行情价按行情估值：9000 + 10*110 = 10100
	marks := map[string]decimal.Decimal{"AAPL.US": dec("110")}
	assert.True(t, l.Equity(marks).Equal(dec("10100")))

	// 缺价退回摊薄成本：9000 + 10*100 = 10000
	assert.True(t, l.Equity(nil).Equal(dec("10000")))

	// 亏损卖出后比例 = -100 / 10000
	_, err = l.ApplyFill(ctx, Fill{Symbol: "AAPL.US", Side: "SELL", Price: dec("90"), Quantity: 10})
	require.NoError(t, err)
	assert.True(t, l.DailyLossRatio().Equal(dec("-0.01")))
}

func TestEnsureTradeDate(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	l, err := New(ctx, fs, dec("10000"))
	require.NoError(t, err)
	_, err = l.ApplyFill(ctx, Fill{Symbol: "AAPL.US", Side: "BUY", Price: dec("100"), Quantity: 10})
	require.NoError(t, err)
	_, err = l.ApplyFill(ctx, Fill{Symbol: "AAPL.US", Side: "SELL", Price: dec("90"), Quantity: 5})
	require.NoError(t, err)
	require.False(t, l.DailyRealizedPnL().IsZero())

	marks := map[string]decimal.Decimal{"AAPL.US": dec("95")}
	require.NoError(t, l.EnsureTradeDate(ctx, "2026-09-02", marks))

	assert.Equal(t, "2026-09-02", l.TradeDate())
	assert.True(t, l.DailyRealizedPnL().IsZero())
	// 新基准 = 现金 9450 + 5*95 = 9925
	assert.True(t, l.DayStartEquity().Equal(dec("9925")))

	// 同日重复调用幂等：即使落库会失败也不应触发写入
	fs.saveErr = assert.AnError
	assert.NoError(t, l.EnsureTradeDate(ctx, "2026-09-02", marks))

	// 日期变更但落库失败时内存不得切换
	assert.Error(t, l.EnsureTradeDate(ctx, "2026-09-03", marks))
	assert.Equal(t, "2026-09-02", l.TradeDate())

	assert.Error(t, l.EnsureTradeDate(ctx, "  ", marks))
}
