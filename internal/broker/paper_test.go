package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qq148376839/trading-system/internal/credential"
	"github.com/qq148376839/trading-system/internal/market"
)

var aapl = market.MustParseSymbol("AAPL.US")

type staticQuotes struct{ last float64 }

func (s staticQuotes) GetQuote(_ context.Context, sym market.Symbol) (market.Quote, error) {
	if s.last <= 0 {
		return market.Quote{}, errors.New("无行情")
	}
	return market.Quote{Symbol: sym, Last: s.last}, nil
}

func (s staticQuotes) GetHistory(context.Context, market.Symbol, market.Period, int) ([]market.Candle, error) {
	return nil, errors.New("不支持")
}

func marketOrder(corrID string, side Side, qty int64) OrderRequest {
	return OrderRequest{Symbol: aapl, Side: side, Type: OrderMarket, Quantity: qty, CorrelationID: corrID}
}

func TestPaperBuySellFlow(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(staticQuotes{last: 100}, 10000, "USD")

	res, err := p.SubmitOrder(ctx, marketOrder("c1", SideBuy, 50))
	require.NoError(t, err)
	assert.Equal(t, float64(100), res.FilledPrice)
	assert.Equal(t, int64(50), res.FilledQuantity)
	assert.NotEmpty(t, res.OrderID)

	bal, err := p.GetAccountBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(5000), bal.AvailableCash)

	positions, err := p.GetPositions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(50), positions[0].Quantity)
	assert.Equal(t, float64(100), positions[0].CostPrice)

	_, err = p.SubmitOrder(ctx, marketOrder("c2", SideSell, 50))
	require.NoError(t, err)
	positions, err = p.GetPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestPaperIdempotentByCorrelationID(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(staticQuotes{last: 100}, 10000, "USD")

	first, err := p.SubmitOrder(ctx, marketOrder("dup", SideBuy, 10))
	require.NoError(t, err)

	// 重复提交返回原回报，不产生第二笔成交
	second, err := p.SubmitOrder(ctx, marketOrder("dup", SideBuy, 10))
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, second.OrderID)

	bal, _ := p.GetAccountBalance(ctx)
	assert.Equal(t, float64(9000), bal.AvailableCash)
}

func TestPaperConcurrentDuplicateSubmits(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(staticQuotes{last: 100}, 10000, "USD")

	// 同一 correlation id 并发提交：撮合前二次查重，只允许一笔成交
	var wg sync.WaitGroup
	results := make([]OrderResult, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.SubmitOrder(ctx, marketOrder("dup", SideBuy, 10))
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0].OrderID, results[1].OrderID)

	bal, _ := p.GetAccountBalance(ctx)
	assert.Equal(t, float64(9000), bal.AvailableCash)
	positions, _ := p.GetPositions(ctx)
	require.Len(t, positions, 1)
	assert.Equal(t, int64(10), positions[0].Quantity)
}

func TestPaperRejectsInvalidOrders(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(staticQuotes{last: 100}, 1000, "USD")

	_, err := p.SubmitOrder(ctx, OrderRequest{Symbol: aapl, Side: SideBuy, Quantity: 10})
	assert.Error(t, err, "缺少 correlation id")

	_, err = p.SubmitOrder(ctx, marketOrder("c1", SideBuy, 0))
	assert.Error(t, err)

	// 资金不足
	_, err = p.SubmitOrder(ctx, marketOrder("c2", SideBuy, 100))
	assert.Error(t, err)

	// 持仓不足
	_, err = p.SubmitOrder(ctx, marketOrder("c3", SideSell, 1))
	assert.Error(t, err)
}

func TestPaperSubmitHookFailure(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(staticQuotes{last: 100}, 10000, "USD")
	p.SubmitHook = func(OrderRequest) error { return ErrRateLimited }

	_, err := p.SubmitOrder(ctx, marketOrder("c1", SideBuy, 10))
	assert.ErrorIs(t, err, ErrRateLimited)

	// 失败的提交不应登记为已成交
	status, err := p.GetOrderStatus(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, status)
}

func TestPaperOrderStatus(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(staticQuotes{last: 100}, 10000, "USD")

	_, err := p.SubmitOrder(ctx, marketOrder("c1", SideBuy, 10))
	require.NoError(t, err)

	status, err := p.GetOrderStatus(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, status)

	status, err = p.GetOrderStatus(ctx, "unknown")
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, status)
}

func TestPaperRefreshCredential(t *testing.T) {
	p := NewPaper(staticQuotes{last: 100}, 10000, "USD")
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	p.nowFn = func() time.Time { return now }

	fresh, err := p.RefreshCredential(context.Background(), credential.Credential{
		AccountType: credential.AccountSimulation,
		AppKey:      "key",
	})
	require.NoError(t, err)
	assert.Equal(t, "key", fresh.AppKey)
	assert.NotEmpty(t, fresh.AccessToken)
	assert.Equal(t, now, fresh.IssuedAt)
	assert.Equal(t, now.Add(credential.DefaultRefreshedTTL), fresh.ExpiresAt)
}
