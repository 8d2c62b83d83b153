// Package store 定义持久化协作方接口。账本的成交落库必须是
// 单个原子写：持仓、资金、成交记录要么同时生效要么都不生效。
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/qq148376839/trading-system/internal/credential"
)

type TradeStatus string

const (
	TradePending   TradeStatus = "PENDING"
	TradeCompleted TradeStatus = "COMPLETED"
	TradeFailed    TradeStatus = "FAILED"
)

// TradeRecord 是追加式成交流水。FAILED 记录仅作审计，绝不自动重放。
type TradeRecord struct {
	ID            int64
	Symbol        string
	Side          string
	Price         decimal.Decimal
	Quantity      int64
	Amount        decimal.Decimal
	Status        TradeStatus
	CorrelationID string
	Reason        string
	Details       json.RawMessage // 策略投票、失败上下文等附加信息
	CreatedAt     time.Time
}

// PositionRow 是持久化的持仓行。
type PositionRow struct {
	Symbol    string
	Quantity  int64
	AvgCost   decimal.Decimal
	UpdatedAt time.Time
}

// AccountStateRow 是单行账户状态。日内字段按市场本地日历日重置。
type AccountStateRow struct {
	Cash             decimal.Decimal
	DailyRealizedPnL decimal.Decimal
	DayStartEquity   decimal.Decimal
	TradeDate        string // YYYY-MM-DD，市场本地日期
	UpdatedAt        time.Time
}

// FillMutation 是账本算好的一次成交落库载荷，由 Store 在单事务内应用。
type FillMutation struct {
	Trade       TradeRecord
	NewPosition PositionRow
	NewAccount  AccountStateRow
}

// Store 是主库接口（gorm+sqlite 实现见 gormstore）。
type Store interface {
	credential.Store

	// ApplyFill 在单事务内写入成交记录、持仓与账户状态。
	ApplyFill(ctx context.Context, mut FillMutation) error

	// InsertTradeRecord 独立写入一条流水（用于 FAILED 审计，不动账）。
	InsertTradeRecord(ctx context.Context, rec TradeRecord) error
	ListTradeRecords(ctx context.Context, symbol string, limit int) ([]TradeRecord, error)
	// LastTradeTimes 返回每个标的最近一次交易尝试时间，供节流状态在重启后恢复。
	LastTradeTimes(ctx context.Context) (map[string]time.Time, error)
	// CountTradesSince 统计某时刻之后的交易尝试次数（PENDING/COMPLETED/FAILED 均计入）。
	CountTradesSince(ctx context.Context, since time.Time) (int, error)

	LoadPositions(ctx context.Context) ([]PositionRow, error)
	LoadAccountState(ctx context.Context) (AccountStateRow, bool, error)
	SaveAccountState(ctx context.Context, row AccountStateRow) error

	Close() error
}
