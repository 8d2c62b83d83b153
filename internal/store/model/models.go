// Package model 定义 gorm 数据模型。金额字段统一用 decimal 存为 NUMERIC，
// 避免浮点累计误差进入账本。
package model

import (
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type PositionModel struct {
	ID            int64           `gorm:"column:id;primaryKey"`
	Symbol        string          `gorm:"column:symbol;uniqueIndex"`
	Quantity      int64           `gorm:"column:quantity"`
	AvgCost       decimal.Decimal `gorm:"column:avg_cost;type:NUMERIC"`
	UpdatedAtUnix int64           `gorm:"column:updated_at"`
}

func (PositionModel) TableName() string { return "positions" }

type AccountStateModel struct {
	ID               int64           `gorm:"column:id;primaryKey"`
	Cash             decimal.Decimal `gorm:"column:cash;type:NUMERIC"`
	DailyRealizedPnL decimal.Decimal `gorm:"column:daily_realized_pnl;type:NUMERIC"`
	DayStartEquity   decimal.Decimal `gorm:"column:day_start_equity;type:NUMERIC"`
	TradeDate        string          `gorm:"column:trade_date"`
	UpdatedAtUnix    int64           `gorm:"column:updated_at"`
}

func (AccountStateModel) TableName() string { return "account_state" }

type TradeRecordModel struct {
	ID            int64           `gorm:"column:id;primaryKey"`
	Symbol        string          `gorm:"column:symbol;index"`
	Side          string          `gorm:"column:trade_type"`
	Price         decimal.Decimal `gorm:"column:price;type:NUMERIC"`
	Quantity      int64           `gorm:"column:quantity"`
	Amount        decimal.Decimal `gorm:"column:total_amount;type:NUMERIC"`
	Status        string          `gorm:"column:status"`
	CorrelationID string          `gorm:"column:correlation_id;index"`
	Reason        string          `gorm:"column:reason"`
	Details       datatypes.JSON  `gorm:"column:details"`
	CreatedAtUnix int64           `gorm:"column:trade_time;index"`
}

func (TradeRecordModel) TableName() string { return "trade_records" }

type CredentialModel struct {
	ID            int64  `gorm:"column:id;primaryKey"`
	AccountType   string `gorm:"column:account_type;uniqueIndex"`
	AppKey        string `gorm:"column:app_key"`
	AppSecret     string `gorm:"column:app_secret"`
	AccessToken   string `gorm:"column:access_token"`
	IssuedAtUnix  int64  `gorm:"column:issued_at"`
	ExpiresAtUnix int64  `gorm:"column:expire_time"`
	UpdatedAtUnix int64  `gorm:"column:updated_at"`
}

func (CredentialModel) TableName() string { return "api_config" }
