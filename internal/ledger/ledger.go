// Package ledger 维护持仓与账户资金的权威内存视图。所有成交先算后落库，
// 落库成功才提交内存，保证崩溃后重放数据库即可恢复一致状态。
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/qq148376839/trading-system/internal/logger"
	"github.com/qq148376839/trading-system/internal/store"
)

var log = logger.Scope("LEDGER")

// Position 是单标的持仓快照。
type Position struct {
	Symbol    string
	Quantity  int64
	AvgCost   decimal.Decimal
	UpdatedAt time.Time
}

// Fill 是一笔已确认成交。Price 为成交均价，Quantity 恒为正，方向由 Side 表达。
type Fill struct {
	Symbol        string
	Side          string // BUY / SELL
	Price         decimal.Decimal
	Quantity      int64
	CorrelationID string
	Reason        string
	Details       json.RawMessage // 策略投票等附加上下文，随流水落库
	Time          time.Time
}

// Ledger 串行化账本变更：单锁覆盖持仓与资金，成交落库与内存提交在锁内完成。
type Ledger struct {
	mu        sync.RWMutex
	store     store.Store
	positions map[string]Position

	cash             decimal.Decimal
	dailyRealizedPnL decimal.Decimal
	dayStartEquity   decimal.Decimal
	tradeDate        string
}

// New 从数据库恢复账本；数据库为空时按初始资金建账并落库。
func New(ctx context.Context, st store.Store, initialCash decimal.Decimal) (*Ledger, error) {
	if st == nil {
		return nil, fmt.Errorf("ledger: store 不能为空")
	}
	l := &Ledger{
		store:     st,
		positions: make(map[string]Position),
	}
	rows, err := st.LoadPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("加载持仓失败: %w", err)
	}
	for _, r := range rows {
		if r.Quantity == 0 {
			continue
		}
		l.positions[r.Symbol] = Position{
			Symbol:    r.Symbol,
			Quantity:  r.Quantity,
			AvgCost:   r.AvgCost,
			UpdatedAt: r.UpdatedAt,
		}
	}
	acct, ok, err := st.LoadAccountState(ctx)
	if err != nil {
		return nil, fmt.Errorf("加载账户状态失败: %w", err)
	}
	if ok {
		l.cash = acct.Cash
		l.dailyRealizedPnL = acct.DailyRealizedPnL
		l.dayStartEquity = acct.DayStartEquity
		l.tradeDate = acct.TradeDate
	} else {
		if initialCash.Sign() <= 0 {
			return nil, fmt.Errorf("初始资金必须为正数，当前 %s", initialCash)
		}
		l.cash = initialCash
		l.dayStartEquity = initialCash
		if err := st.SaveAccountState(ctx, l.accountRowLocked()); err != nil {
			return nil, fmt.Errorf("初始化账户状态失败: %w", err)
		}
		log.Infof("账本初始化完成，初始资金 %s", initialCash)
	}
	return l, nil
}

func (l *Ledger) accountRowLocked() store.AccountStateRow {
	return store.AccountStateRow{
		Cash:             l.cash,
		DailyRealizedPnL: l.dailyRealizedPnL,
		DayStartEquity:   l.dayStartEquity,
		TradeDate:        l.tradeDate,
		UpdatedAt:        time.Now(),
	}
}

// ApplyFill 记账一笔成交：BUY 加权摊薄成本，SELL 结转已实现盈亏。
// 持仓、资金、流水三者在单事务内落库，任何一步失败内存状态不变。
func (l *Ledger) ApplyFill(ctx context.Context, fill Fill) (Position, error) {
	symbol := strings.ToUpper(strings.TrimSpace(fill.Symbol))
	if symbol == "" {
		return Position{}, fmt.Errorf("成交标的不能为空")
	}
	if fill.Quantity <= 0 {
		return Position{}, fmt.Errorf("成交数量必须为正数，当前 %d", fill.Quantity)
	}
	if fill.Price.Sign() <= 0 {
		return Position{}, fmt.Errorf("成交价格必须为正数，当前 %s", fill.Price)
	}
	if fill.Time.IsZero() {
		fill.Time = time.Now()
	}
	qty := decimal.NewFromInt(fill.Quantity)
	amount := fill.Price.Mul(qty)

	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.positions[symbol]
	var (
		newPos      Position
		newCash     decimal.Decimal
		realizedPnL decimal.Decimal
	)
	switch strings.ToUpper(fill.Side) {
	case "BUY":
		if l.cash.LessThan(amount) {
			return Position{}, fmt.Errorf("资金不足：可用 %s，需要 %s", l.cash, amount)
		}
		newQty := prev.Quantity + fill.Quantity
		// 加权平均成本 = (旧持仓成本 + 本次成交额) / 新持仓数量
		totalCost := prev.AvgCost.Mul(decimal.NewFromInt(prev.Quantity)).Add(amount)
		newPos = Position{
			Symbol:    symbol,
			Quantity:  newQty,
			AvgCost:   totalCost.Div(decimal.NewFromInt(newQty)),
			UpdatedAt: fill.Time,
		}
		newCash = l.cash.Sub(amount)
	case "SELL":
		if fill.Quantity > prev.Quantity {
			return Position{}, fmt.Errorf("持仓不足：%s 持有 %d，卖出 %d", symbol, prev.Quantity, fill.Quantity)
		}
		realizedPnL = fill.Price.Sub(prev.AvgCost).Mul(qty)
		newQty := prev.Quantity - fill.Quantity
		newPos = Position{Symbol: symbol, Quantity: newQty, UpdatedAt: fill.Time}
		if newQty > 0 {
			// 部分卖出不动摊薄成本，清仓后成本归零。
			newPos.AvgCost = prev.AvgCost
		}
		newCash = l.cash.Add(amount)
	default:
		return Position{}, fmt.Errorf("未知交易方向 %q", fill.Side)
	}

	mut := store.FillMutation{
		Trade: store.TradeRecord{
			Symbol:        symbol,
			Side:          strings.ToUpper(fill.Side),
			Price:         fill.Price,
			Quantity:      fill.Quantity,
			Amount:        amount,
			Status:        store.TradeCompleted,
			CorrelationID: fill.CorrelationID,
			Reason:        fill.Reason,
			Details:       fill.Details,
			CreatedAt:     fill.Time,
		},
		NewPosition: store.PositionRow{
			Symbol:    symbol,
			Quantity:  newPos.Quantity,
			AvgCost:   newPos.AvgCost,
			UpdatedAt: newPos.UpdatedAt,
		},
		NewAccount: store.AccountStateRow{
			Cash:             newCash,
			DailyRealizedPnL: l.dailyRealizedPnL.Add(realizedPnL),
			DayStartEquity:   l.dayStartEquity,
			TradeDate:        l.tradeDate,
			UpdatedAt:        fill.Time,
		},
	}
	if err := l.store.ApplyFill(ctx, mut); err != nil {
		return Position{}, fmt.Errorf("成交落库失败: %w", err)
	}

	l.cash = newCash
	l.dailyRealizedPnL = l.dailyRealizedPnL.Add(realizedPnL)
	if newPos.Quantity == 0 {
		delete(l.positions, symbol)
	} else {
		l.positions[symbol] = newPos
	}
	log.Infof("记账 %s %s %d@%s，现金 %s，当日已实现盈亏 %s",
		fill.Side, symbol, fill.Quantity, fill.Price, l.cash, l.dailyRealizedPnL)
	return newPos, nil
}

// Position 返回某标的当前持仓，未持有时 Quantity 为 0。
func (l *Ledger) Position(symbol string) Position {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	l.mu.RLock()
	defer l.mu.RUnlock()
	if p, ok := l.positions[symbol]; ok {
		return p
	}
	return Position{Symbol: symbol}
}

// Positions 返回全部持仓快照。
func (l *Ledger) Positions() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	return out
}

// Cash 返回当前可用资金。
func (l *Ledger) Cash() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash
}

// DailyRealizedPnL 返回当日已实现盈亏。
func (l *Ledger) DailyRealizedPnL() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dailyRealizedPnL
}

// DayStartEquity 返回当日开盘权益基准。
func (l *Ledger) DayStartEquity() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dayStartEquity
}

// TradeDate 返回账本当前的交易日（市场本地 YYYY-MM-DD）。
func (l *Ledger) TradeDate() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.tradeDate
}

// Equity 按给定行情价估算总权益：现金 + Σ(数量 × 最新价)。
// 缺价标的退回摊薄成本估值，宁可保守也不让权益凭空消失。
func (l *Ledger) Equity(marks map[string]decimal.Decimal) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.equityLocked(marks)
}

func (l *Ledger) equityLocked(marks map[string]decimal.Decimal) decimal.Decimal {
	total := l.cash
	for sym, p := range l.positions {
		price, ok := marks[sym]
		if !ok || price.Sign() <= 0 {
			price = p.AvgCost
		}
		total = total.Add(price.Mul(decimal.NewFromInt(p.Quantity)))
	}
	return total
}

// DailyLossRatio 返回当日已实现盈亏相对开盘权益的比例（亏损为负）。
func (l *Ledger) DailyLossRatio() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.dayStartEquity.Sign() <= 0 {
		return decimal.Zero
	}
	return l.dailyRealizedPnL.Div(l.dayStartEquity)
}

// EnsureTradeDate 检查交易日切换。日期变更时重置当日已实现盈亏并以当前
// 行情重估开盘权益基准，结果落库后才提交内存。幂等：同日重复调用无副作用。
func (l *Ledger) EnsureTradeDate(ctx context.Context, date string, marks map[string]decimal.Decimal) error {
	if strings.TrimSpace(date) == "" {
		return fmt.Errorf("交易日不能为空")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tradeDate == date {
		return nil
	}
	equity := l.equityLocked(marks)
	row := store.AccountStateRow{
		Cash:             l.cash,
		DailyRealizedPnL: decimal.Zero,
		DayStartEquity:   equity,
		TradeDate:        date,
		UpdatedAt:        time.Now(),
	}
	if err := l.store.SaveAccountState(ctx, row); err != nil {
		return fmt.Errorf("交易日切换落库失败: %w", err)
	}
	prev := l.tradeDate
	l.dailyRealizedPnL = decimal.Zero
	l.dayStartEquity = equity
	l.tradeDate = date
	log.Infof("交易日切换 %s -> %s，开盘权益基准 %s", prev, date, equity)
	return nil
}
