// Package engine 实现交易执行引擎：每个 tick 对股票池并发评估，
// 信号经风控闸门裁决后提交网关，成交结果记入账本。
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/qq148376839/trading-system/internal/broker"
	"github.com/qq148376839/trading-system/internal/config"
	"github.com/qq148376839/trading-system/internal/credential"
	"github.com/qq148376839/trading-system/internal/ledger"
	"github.com/qq148376839/trading-system/internal/logger"
	"github.com/qq148376839/trading-system/internal/market"
	"github.com/qq148376839/trading-system/internal/market/session"
	"github.com/qq148376839/trading-system/internal/notifier"
	"github.com/qq148376839/trading-system/internal/pkg/circuit"
	"github.com/qq148376839/trading-system/internal/pkg/ratelimit"
	"github.com/qq148376839/trading-system/internal/risk"
	"github.com/qq148376839/trading-system/internal/store"
	"github.com/qq148376839/trading-system/internal/store/auditlog"
	"github.com/qq148376839/trading-system/internal/strategy"
)

var log = logger.Scope("TRADE")

// historyBars 是策略评估拉取的日 K 数量，覆盖最慢指标（MACD 26+9）还有富余。
const historyBars = 120

// maxSubmitRetries 限定网关限流时的原地重试次数。
const maxSubmitRetries = 2

// Deps 聚合引擎的全部协作方，由 app 装配。
type Deps struct {
	Config   *config.Provider
	Clock    *session.Clock
	Quotes   market.QuoteProvider
	Gateway  broker.Gateway
	Rotator  *credential.Rotator
	Book     *ledger.Ledger
	Gate     *risk.Gate
	Strategy *strategy.Aggregator
	Store    store.Store
	Audit    *auditlog.AuditStore
	Notify   *notifier.Announcer
}

// Engine 是 tick 驱动的执行引擎。同一标的在单个 tick 内最多产生一笔在途订单。
type Engine struct {
	cfg      *config.Provider
	clock    *session.Clock
	quotes   market.QuoteProvider
	gateway  broker.Gateway
	rotator  *credential.Rotator
	book     *ledger.Ledger
	gate     *risk.Gate
	agg      *strategy.Aggregator
	st       store.Store
	audit    *auditlog.AuditStore
	notify   *notifier.Announcer
	throttle *Throttle
	limiter  *ratelimit.Limiter
	breaker  *circuit.CircuitBreaker
	nowFn    func() time.Time
}

func New(d Deps) *Engine {
	tc := d.Config.Snapshot().Trading
	return &Engine{
		cfg:      d.Config,
		clock:    d.Clock,
		quotes:   d.Quotes,
		gateway:  d.Gateway,
		rotator:  d.Rotator,
		book:     d.Book,
		gate:     d.Gate,
		agg:      d.Strategy,
		st:       d.Store,
		audit:    d.Audit,
		notify:   d.Notify,
		throttle: NewThrottle(tc.MaxDailyTrades, tc.MinTradeInterval()),
		// 网关请求限流：突发 5、稳态 10 qps，低于券商侧配额留安全余量。
		limiter: ratelimit.NewLimiter(5, 10),
		breaker: circuit.NewCircuitBreaker("gateway", 5, 30*time.Second),
		nowFn:   time.Now,
	}
}

// Breaker 暴露网关熔断器状态（供状态接口展示）。
func (e *Engine) Breaker() *circuit.CircuitBreaker { return e.breaker }

// Throttle 暴露节流状态（供状态接口展示）。
func (e *Engine) Throttle() *Throttle { return e.throttle }

// Restore 在启动时从数据库恢复节流状态，防止重启绕过频率限制。
func (e *Engine) Restore(ctx context.Context) error {
	now := e.nowFn()
	last, err := e.st.LastTradeTimes(ctx)
	if err != nil {
		return fmt.Errorf("恢复交易时间失败: %w", err)
	}
	count, err := e.st.CountTradesSince(ctx, e.clock.DayStart(market.MarketUS, now))
	if err != nil {
		return fmt.Errorf("恢复当日交易计数失败: %w", err)
	}
	date := e.clock.LocalDate(market.MarketUS, now)
	e.throttle.Seed(last, count, date)
	log.Infof("节流状态已恢复：%d 个标的有历史记录，今日已计 %d 笔", len(last), count)

	if diffs := e.verifyGateway(ctx); len(diffs) > 0 {
		e.notify.Notify(ctx, "⚠️ 启动对账发现差异，请人工核对\n"+strings.Join(diffs, "\n"))
	}
	return nil
}

// verifyGateway 启动时把本地账本与网关侧的持仓、资金做一次比对。
// 账本是进程内权威视图，差异不自动修正，逐条告警留待人工处理。
func (e *Engine) verifyGateway(ctx context.Context) []string {
	var diffs []string
	positions, err := e.gateway.GetPositions(ctx)
	if err != nil {
		log.Warnf("获取网关持仓失败，跳过持仓对账: %v", err)
	} else {
		remote := make(map[string]int64, len(positions))
		for _, p := range positions {
			remote[p.Symbol.String()] = p.Quantity
		}
		for _, p := range e.book.Positions() {
			if got := remote[p.Symbol]; got != p.Quantity {
				diffs = append(diffs, fmt.Sprintf("%s 本地持仓 %d，网关侧 %d", p.Symbol, p.Quantity, got))
			}
			delete(remote, p.Symbol)
		}
		for sym, qty := range remote {
			diffs = append(diffs, fmt.Sprintf("%s 网关侧持有 %d，本地无记录", sym, qty))
		}
	}
	bal, err := e.gateway.GetAccountBalance(ctx)
	if err != nil {
		log.Warnf("获取网关资金失败，跳过资金对账: %v", err)
	} else if avail := decimal.NewFromFloat(bal.AvailableCash); !avail.Equal(e.book.Cash()) {
		diffs = append(diffs, fmt.Sprintf("本地现金 %s，网关侧可用 %s", e.book.Cash(), avail))
	}
	for _, d := range diffs {
		log.Warnf("启动对账差异: %s", d)
	}
	return diffs
}

// Tick 执行一轮评估。各标的并发、互相隔离：单标的失败只记日志。
func (e *Engine) Tick(ctx context.Context) {
	cfg := e.cfg.Snapshot()
	now := e.nowFn()

	// 交易日切换：账户日内统计按美东日历日重置。
	date := e.clock.LocalDate(market.MarketUS, now)
	e.throttle.RollDate(date)
	if e.book.TradeDate() != date {
		if err := e.book.EnsureTradeDate(ctx, date, e.markHeldPositions(ctx)); err != nil {
			log.Errorf("交易日切换失败，跳过本轮: %v", err)
			return
		}
	}

	// 凭证检查：过期即停止下单，刷新失败但未过期仅告警。
	if err := e.rotator.EnsureValid(ctx); err != nil {
		if errors.Is(err, credential.ErrUnauthorized) {
			log.Errorf("凭证不可用，本轮暂停交易: %v", err)
			e.notify.Notify(ctx, "🔑 凭证已失效，交易暂停，请人工介入")
			return
		}
		log.Warnf("凭证刷新异常: %v", err)
	}

	symbols := cfg.Trading.Symbols()
	g, gctx := errgroup.WithContext(ctx)
	workers := cfg.Trading.MaxWorkers
	if workers <= 0 {
		workers = 4
	}
	g.SetLimit(workers)
	for _, raw := range symbols {
		sym, err := market.ParseSymbol(raw)
		if err != nil {
			log.Warnf("跳过非法标的 %q: %v", raw, err)
			continue
		}
		g.Go(func() error {
			e.evalSymbol(gctx, cfg, sym, now)
			return nil
		})
	}
	_ = g.Wait()
}

// markHeldPositions 取持仓标的的最新价，供权益重估。失败的标的缺价即可，
// 账本会退回成本估值。
func (e *Engine) markHeldPositions(ctx context.Context) map[string]decimal.Decimal {
	marks := make(map[string]decimal.Decimal)
	for _, pos := range e.book.Positions() {
		sym, err := market.ParseSymbol(pos.Symbol)
		if err != nil {
			continue
		}
		q, err := e.quotes.GetQuote(ctx, sym)
		if err != nil || q.Last <= 0 {
			continue
		}
		marks[pos.Symbol] = decimal.NewFromFloat(q.Last)
	}
	return marks
}

func (e *Engine) evalSymbol(ctx context.Context, cfg *config.Config, sym market.Symbol, now time.Time) {
	if !e.clock.IsOpen(sym, now) {
		if next, err := e.clock.NextOpen(sym, now); err == nil {
			log.Debugf("%s 休市中，下次开盘 %s", sym, next.Format(time.RFC3339))
		}
		return
	}
	quote, err := e.quotes.GetQuote(ctx, sym)
	if err != nil {
		log.Warnf("%s 获取行情失败: %v", sym, err)
		return
	}
	if quote.Last <= 0 {
		log.Warnf("%s 行情价格无效，跳过", sym)
		return
	}

	// 退出通道优先：止盈/止损直接清仓，不经过信号聚合，但仍受节流约束。
	if e.sweepExit(ctx, cfg, sym, quote, now) {
		return
	}

	candles, err := e.quotes.GetHistory(ctx, sym, market.PeriodDay, historyBars)
	if err != nil {
		log.Warnf("%s 获取历史 K 线失败: %v", sym, err)
		return
	}
	advice := e.agg.Decide(sym, candles)
	if advice.Direction == strategy.SignalHold {
		return
	}

	var (
		side broker.Side
		qty  int64
	)
	if advice.Direction == strategy.SignalBuy {
		side = broker.SideBuy
		qty = e.agg.SuggestQuantity(sym, quote.Last, e.book.Cash())
		if qty <= 0 {
			log.Infof("%s 买入信号成立但资金不足一股（一手），放弃", sym)
			return
		}
	} else {
		side = broker.SideSell
		qty = e.book.Position(sym.String()).Quantity
		if qty <= 0 {
			log.Debugf("%s 卖出信号成立但无持仓，忽略", sym)
			return
		}
	}
	e.recordTransition(ctx, sym, "", StateIdle, StateSignaled,
		fmt.Sprintf("direction=%d votes=%v", advice.Direction, advice.Votes))

	details, _ := json.Marshal(map[string]interface{}{
		"direction": advice.Direction,
		"votes":     advice.Votes,
		"last":      quote.Last,
	})
	e.tryTrade(ctx, cfg, sym, side, qty, quote, now, fmt.Sprintf("信号聚合 votes=%v", advice.Votes), details)
}

// sweepExit 检查持仓是否触发止盈/止损，触发则全量卖出。返回 true 表示
// 本轮该标的已被退出通道处理。
func (e *Engine) sweepExit(ctx context.Context, cfg *config.Config, sym market.Symbol, quote market.Quote, now time.Time) bool {
	pos := e.book.Position(sym.String())
	if pos.Quantity <= 0 || pos.AvgCost.Sign() <= 0 {
		return false
	}
	price := decimal.NewFromFloat(quote.Last)
	ratio, _ := price.Sub(pos.AvgCost).Div(pos.AvgCost).Float64()
	rc := cfg.Risk

	var reason string
	switch {
	case ratio >= rc.TakeProfit:
		reason = fmt.Sprintf("止盈 %+.2f%%（阈值 %.2f%%）", ratio*100, rc.TakeProfit*100)
	case ratio <= rc.StopLoss:
		reason = fmt.Sprintf("止损 %+.2f%%（阈值 %.2f%%）", ratio*100, rc.StopLoss*100)
	default:
		return false
	}
	log.Infof("%s 触发退出通道: %s", sym, reason)
	e.recordTransition(ctx, sym, "", StateIdle, StateSignaled, reason)
	details, _ := json.Marshal(map[string]interface{}{
		"ratio":    ratio,
		"avg_cost": pos.AvgCost.String(),
		"last":     quote.Last,
	})
	e.tryTrade(ctx, cfg, sym, broker.SideSell, pos.Quantity, quote, now, reason, details)
	return true
}

// tryTrade 走完风控 → 节流 → 提交的完整链路。
// 风控或节流拒绝都不消耗节流额度；预占成功后提交网关无论成败都已计数。
func (e *Engine) tryTrade(ctx context.Context, cfg *config.Config, sym market.Symbol, side broker.Side, qty int64, quote market.Quote, now time.Time, reason string, details json.RawMessage) {
	symbol := sym.String()
	decision := e.gate.Evaluate(ctx, risk.Proposal{
		Symbol:   sym,
		Side:     string(side),
		Quantity: qty,
		Quote:    quote,
	})
	if !decision.Admitted {
		e.recordTransition(ctx, sym, "", StateSignaled, StateRejected,
			fmt.Sprintf("rule=%s reason=%s", decision.Rule, decision.Reason))
		return
	}
	e.recordTransition(ctx, sym, "", StateSignaled, StateRiskChecked, "")
	if err := e.throttle.TryReserve(symbol, now); err != nil {
		log.Infof("%s 节流拦截: %v", symbol, err)
		e.recordTransition(ctx, sym, "", StateRiskChecked, StateRejected,
			fmt.Sprintf("throttled: %v", err))
		return
	}
	e.submit(ctx, cfg, sym, side, decision.Quantity, quote, reason, details)
}

func (e *Engine) submit(ctx context.Context, cfg *config.Config, sym market.Symbol, side broker.Side, qty int64, quote market.Quote, reason string, details json.RawMessage) {
	symbol := sym.String()
	corrID := uuid.NewString()
	e.recordTransition(ctx, sym, corrID, StateRiskChecked, StateSubmitting,
		fmt.Sprintf("%s %d@%.4f", side, qty, quote.Last))

	if !e.breaker.Allow() {
		e.failTrade(ctx, sym, side, qty, quote, corrID, "网关熔断器打开，跳过提交", details)
		return
	}
	req := broker.OrderRequest{
		Symbol:        sym,
		Side:          side,
		Type:          broker.OrderMarket,
		Quantity:      qty,
		CorrelationID: corrID,
		Remark:        reason,
	}

	var (
		res       broker.OrderResult
		submitErr error
	)
	for attempt := 0; ; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			submitErr = err
			break
		}
		sctx, cancel := context.WithTimeout(ctx, cfg.Trading.GatewayTimeout())
		res, submitErr = e.gateway.SubmitOrder(sctx, req)
		cancel()
		if submitErr == nil {
			break
		}
		if errors.Is(submitErr, broker.ErrRateLimited) && attempt < maxSubmitRetries {
			backoff := ratelimit.CalculateBackoff(attempt)
			log.Warnf("%s 网关限流，%s 后重试（第 %d 次）", symbol, backoff, attempt+1)
			select {
			case <-ctx.Done():
				submitErr = ctx.Err()
			case <-time.After(backoff):
				continue
			}
		}
		break
	}

	if submitErr != nil {
		// 超时属于结果未知：按 correlation id 对账，确认是否已成交。
		if errors.Is(submitErr, context.DeadlineExceeded) {
			if status := e.reconcile(ctx, cfg, corrID); status == broker.StatusFilled {
				log.Warnf("%s 提交超时但网关确认已成交（correlation=%s），按行情价记账", symbol, corrID)
				e.breaker.RecordSuccess()
				e.settle(ctx, sym, side, qty, quote.Last, corrID, reason+"（超时对账确认）", details)
				return
			}
		}
		e.breaker.RecordFailure()
		e.failTrade(ctx, sym, side, qty, quote, corrID, fmt.Sprintf("网关提交失败: %v", submitErr), details)
		return
	}

	e.breaker.RecordSuccess()
	price := res.FilledPrice
	if price <= 0 {
		price = quote.Last
	}
	filled := res.FilledQuantity
	if filled <= 0 {
		filled = qty
	}
	e.settle(ctx, sym, side, filled, price, corrID, reason, details)
}

// reconcile 在结果未知时查询网关订单状态。查询本身失败按未成交处理，
// 由于 correlation id 唯一，下一轮重复提交也不会造成双重成交。
func (e *Engine) reconcile(ctx context.Context, cfg *config.Config, corrID string) broker.OrderStatus {
	qctx, cancel := context.WithTimeout(ctx, cfg.Trading.GatewayTimeout())
	defer cancel()
	status, err := e.gateway.GetOrderStatus(qctx, corrID)
	if err != nil {
		if !errors.Is(err, broker.ErrOrderNotFound) {
			log.Warnf("订单对账失败（correlation=%s）: %v", corrID, err)
		}
		return broker.StatusNotFound
	}
	return status
}

// settle 将成交写入账本并对外通知。
func (e *Engine) settle(ctx context.Context, sym market.Symbol, side broker.Side, qty int64, price float64, corrID, reason string, details json.RawMessage) {
	symbol := sym.String()
	fill := ledger.Fill{
		Symbol:        symbol,
		Side:          string(side),
		Price:         decimal.NewFromFloat(price),
		Quantity:      qty,
		CorrelationID: corrID,
		Reason:        reason,
		Details:       details,
		Time:          e.nowFn(),
	}
	if _, err := e.book.ApplyFill(ctx, fill); err != nil {
		// 成交已发生但记账失败：高危状态，立即告警并停在 FAILED。
		log.Errorf("%s 成交记账失败（correlation=%s）: %v", symbol, corrID, err)
		e.recordTransition(ctx, sym, corrID, StateSubmitting, StateFailed, fmt.Sprintf("记账失败: %v", err))
		e.notify.Notify(ctx, fmt.Sprintf("🚨 成交记账失败，账本可能与网关不一致\n%s %s %d@%.4f\ncorrelation=%s",
			side, symbol, qty, price, corrID))
		return
	}
	e.recordTransition(ctx, sym, corrID, StateSubmitting, StateSettled, "")
	e.notify.Notify(ctx, notifier.TradeMessage(string(side), symbol, qty, fill.Price, reason).RenderMarkdown())
}

// failTrade 登记一笔失败尝试：只写审计流水，不动持仓与资金。
func (e *Engine) failTrade(ctx context.Context, sym market.Symbol, side broker.Side, qty int64, quote market.Quote, corrID, reason string, details json.RawMessage) {
	symbol := sym.String()
	log.Warnf("%s 交易失败: %s", symbol, reason)
	e.recordTransition(ctx, sym, corrID, StateSubmitting, StateFailed, reason)
	rec := store.TradeRecord{
		Symbol:        symbol,
		Side:          string(side),
		Price:         decimal.NewFromFloat(quote.Last),
		Quantity:      qty,
		Amount:        decimal.NewFromFloat(quote.Last).Mul(decimal.NewFromInt(qty)),
		Status:        store.TradeFailed,
		CorrelationID: corrID,
		Reason:        reason,
		Details:       details,
		CreatedAt:     e.nowFn(),
	}
	if err := e.st.InsertTradeRecord(ctx, rec); err != nil {
		log.Errorf("写入失败流水出错: %v", err)
	}
}

func (e *Engine) recordTransition(ctx context.Context, sym market.Symbol, corrID string, from, to State, note string) {
	if e.audit == nil {
		return
	}
	if _, err := e.audit.InsertEngineEvent(ctx, auditlog.EngineEvent{
		Symbol:        sym.String(),
		CorrelationID: corrID,
		FromState:     string(from),
		ToState:       string(to),
		Note:          note,
	}); err != nil {
		log.Warnf("写入引擎事件失败: %v", err)
	}
}
