package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qq148376839/trading-system/internal/credential"
	"github.com/qq148376839/trading-system/internal/logger"
	"github.com/qq148376839/trading-system/internal/market"
)

var log = logger.Scope("PAPER")

// Paper 是模拟盘网关：市价单按最新行情价即时成交，
// 订单按 correlation id 去重，资金与持仓在进程内记账。
type Paper struct {
	quotes market.QuoteProvider

	mu        sync.Mutex
	cash      float64
	currency  string
	positions map[market.Symbol]*Position
	orders    map[string]OrderResult // correlation id → 成交回报

	nowFn func() time.Time

	// SubmitHook 在真正撮合前调用，返回非 nil 错误则本单失败。仅测试使用。
	SubmitHook func(req OrderRequest) error
}

func NewPaper(quotes market.QuoteProvider, initialCash float64, currency string) *Paper {
	if currency == "" {
		currency = "USD"
	}
	return &Paper{
		quotes:    quotes,
		cash:      initialCash,
		currency:  currency,
		positions: make(map[market.Symbol]*Position),
		orders:    make(map[string]OrderResult),
		nowFn:     time.Now,
	}
}

func (p *Paper) SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if req.CorrelationID == "" {
		return OrderResult{}, fmt.Errorf("缺少 correlation id")
	}
	if req.Quantity <= 0 {
		return OrderResult{}, fmt.Errorf("数量必须为正: %d", req.Quantity)
	}

	p.mu.Lock()
	if prev, ok := p.orders[req.CorrelationID]; ok {
		// 重复提交直接返回首次成交结果，不产生第二笔订单。
		p.mu.Unlock()
		log.Warnf("重复提交 correlation_id=%s，返回原回报 order_id=%s", req.CorrelationID, prev.OrderID)
		return prev, nil
	}
	p.mu.Unlock()

	if p.SubmitHook != nil {
		if err := p.SubmitHook(req); err != nil {
			return OrderResult{}, err
		}
	}

	price := req.LimitPrice
	if req.Type == OrderMarket || price <= 0 {
		quote, err := p.quotes.GetQuote(ctx, req.Symbol)
		if err != nil {
			return OrderResult{}, fmt.Errorf("获取 %s 行情失败: %w", req.Symbol, err)
		}
		price = quote.Last
	}
	if price <= 0 {
		return OrderResult{}, fmt.Errorf("%s 无有效成交价", req.Symbol)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// 取价期间锁已释放，撮合前必须再查一次去重表，
	// 并发提交同一 correlation id 时只允许第一笔成交。
	if prev, ok := p.orders[req.CorrelationID]; ok {
		log.Warnf("重复提交 correlation_id=%s，返回原回报 order_id=%s", req.CorrelationID, prev.OrderID)
		return prev, nil
	}

	notional := price * float64(req.Quantity)
	pos := p.positions[req.Symbol]
	if pos == nil {
		pos = &Position{Symbol: req.Symbol}
		p.positions[req.Symbol] = pos
	}
	switch req.Side {
	case SideBuy:
		if notional > p.cash {
			return OrderResult{}, fmt.Errorf("模拟盘资金不足: 需要 %.2f, 可用 %.2f", notional, p.cash)
		}
		total := pos.CostPrice*float64(pos.Quantity) + notional
		pos.Quantity += req.Quantity
		pos.CostPrice = total / float64(pos.Quantity)
		p.cash -= notional
	case SideSell:
		if req.Quantity > pos.Quantity {
			return OrderResult{}, fmt.Errorf("模拟盘持仓不足: 卖出 %d, 持有 %d", req.Quantity, pos.Quantity)
		}
		pos.Quantity -= req.Quantity
		if pos.Quantity == 0 {
			pos.CostPrice = 0
		}
		p.cash += notional
	default:
		return OrderResult{}, fmt.Errorf("未知方向: %q", req.Side)
	}

	result := OrderResult{
		OrderID:        fmt.Sprintf("paper-%d", len(p.orders)+1),
		FilledPrice:    price,
		FilledQuantity: req.Quantity,
		SubmittedAt:    p.nowFn(),
	}
	p.orders[req.CorrelationID] = result
	log.Infof("模拟成交 %s %s %d @ %.4f correlation_id=%s", req.Symbol, req.Side, req.Quantity, price, req.CorrelationID)
	return result, nil
}

func (p *Paper) GetOrderStatus(_ context.Context, correlationID string) (OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.orders[correlationID]; ok {
		return StatusFilled, nil
	}
	return StatusNotFound, nil
}

func (p *Paper) GetPositions(context.Context) ([]Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Position, 0, len(p.positions))
	for _, pos := range p.positions {
		if pos.Quantity != 0 {
			out = append(out, *pos)
		}
	}
	return out, nil
}

func (p *Paper) GetAccountBalance(context.Context) (Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Balance{
		Currency:      p.currency,
		TotalCash:     p.cash,
		AvailableCash: p.cash,
		UpdatedAt:     p.nowFn(),
	}, nil
}

// RefreshCredential 在模拟盘直接签发一条 90 天有效的新凭证。
func (p *Paper) RefreshCredential(_ context.Context, current credential.Credential) (credential.Credential, error) {
	now := p.nowFn()
	fresh := current
	fresh.AccessToken = fmt.Sprintf("paper-token-%d", now.Unix())
	fresh.IssuedAt = now
	fresh.ExpiresAt = now.Add(credential.DefaultRefreshedTTL)
	return fresh, nil
}

var _ Gateway = (*Paper)(nil)
