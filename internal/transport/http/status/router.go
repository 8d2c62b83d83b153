package statushttp

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/qq148376839/trading-system/internal/config"
	"github.com/qq148376839/trading-system/internal/credential"
	"github.com/qq148376839/trading-system/internal/engine"
	"github.com/qq148376839/trading-system/internal/ledger"
	"github.com/qq148376839/trading-system/internal/market"
	"github.com/qq148376839/trading-system/internal/market/session"
	"github.com/qq148376839/trading-system/internal/store"
	"github.com/qq148376839/trading-system/internal/store/auditlog"
)

// Router 暴露交易系统的只读查询接口。
type Router struct {
	Config  *config.Provider
	Book    *ledger.Ledger
	Engine  *engine.Engine
	Rotator *credential.Rotator
	Store   store.Store
	Audit   *auditlog.AuditStore
	Clock   *session.Clock
}

// Register 将状态路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/status", r.handleStatus)
	group.GET("/positions", r.handlePositions)
	group.GET("/trades", r.handleTrades)
	group.GET("/risk-events", r.handleRiskEvents)
	group.GET("/engine-events", r.handleEngineEvents)
}

func (r *Router) handleStatus(c *gin.Context) {
	cfg := r.Config.Snapshot()
	now := time.Now()

	markets := gin.H{}
	for _, m := range []market.Market{market.MarketUS, market.MarketHK} {
		probe := market.Symbol{Code: "_", Market: m}
		entry := gin.H{"open": r.Clock.IsOpen(probe, now)}
		if next, err := r.Clock.NextOpen(probe, now); err == nil {
			entry["next_open"] = next.Format(time.RFC3339)
		}
		markets[string(m)] = entry
	}

	cred := gin.H{}
	if active, err := r.Rotator.Active(); err == nil {
		cred["expires_at"] = active.ExpiresAt.Format(time.RFC3339)
	} else {
		cred["error"] = err.Error()
	}
	if refreshErr := r.Rotator.LastRefreshError(); refreshErr != nil {
		cred["last_refresh_error"] = refreshErr.Error()
	}

	c.JSON(http.StatusOK, gin.H{
		"account_type":       cfg.Trading.AccountType,
		"currency":           cfg.Trading.Currency,
		"cash":               r.Book.Cash(),
		"daily_realized_pnl": r.Book.DailyRealizedPnL(),
		"day_start_equity":   r.Book.DayStartEquity(),
		"trade_date":         r.Book.TradeDate(),
		"trades_today":       r.Engine.Throttle().TradesToday(),
		"gateway_breaker":    r.Engine.Breaker().State().String(),
		"markets":            markets,
		"credential":         cred,
	})
}

func (r *Router) handlePositions(c *gin.Context) {
	positions := r.Book.Positions()
	out := make([]gin.H, 0, len(positions))
	for _, p := range positions {
		out = append(out, gin.H{
			"symbol":     p.Symbol,
			"quantity":   p.Quantity,
			"avg_cost":   p.AvgCost,
			"updated_at": p.UpdatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"positions": out})
}

func (r *Router) handleTrades(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	records, err := r.Store.ListTradeRecords(c.Request.Context(), c.Query("symbol"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(records))
	for _, rec := range records {
		out = append(out, gin.H{
			"id":             rec.ID,
			"symbol":         rec.Symbol,
			"side":           rec.Side,
			"price":          rec.Price,
			"quantity":       rec.Quantity,
			"amount":         rec.Amount,
			"status":         string(rec.Status),
			"correlation_id": rec.CorrelationID,
			"reason":         rec.Reason,
			"trade_time":     rec.CreatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"trades": out})
}

func (r *Router) handleRiskEvents(c *gin.Context) {
	if r.Audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "审计日志未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	events, err := r.Audit.ListRiskEvents(c.Request.Context(), auditlog.RiskEventQuery{
		Symbol:   c.Query("symbol"),
		Rule:     c.Query("rule"),
		Severity: auditlog.Severity(strings.ToUpper(c.Query("severity"))),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	out := make([]gin.H, 0, len(events))
	for _, ev := range events {
		entry := gin.H{
			"id":        ev.ID,
			"ts":        ev.Timestamp,
			"symbol":    ev.Symbol,
			"rule":      ev.Rule,
			"severity":  string(ev.Severity),
			"metric":    ev.Metric,
			"threshold": ev.Threshold,
			"admitted":  ev.Admitted,
			"reason":    ev.Reason,
		}
		// details 为任意 JSON，只摘取接口关心的字段，不整包透传。
		if len(ev.Details) > 0 {
			if side := gjson.GetBytes(ev.Details, "side"); side.Exists() {
				entry["side"] = side.String()
			}
			if last := gjson.GetBytes(ev.Details, "last"); last.Exists() {
				entry["last"] = last.Float()
			}
			if qty := gjson.GetBytes(ev.Details, "quantity"); qty.Exists() {
				entry["quantity"] = qty.Int()
			}
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

func (r *Router) handleEngineEvents(c *gin.Context) {
	if r.Audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "审计日志未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := r.Audit.ListEngineEvents(c.Request.Context(), c.Query("symbol"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
