// Package broker 定义券商网关协作方的窄接口。
// 网关本体（行情/交易 API 的线协议）不在本仓库实现；
// 模拟盘使用 paper.go 中的进程内实现。
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/qq148376839/trading-system/internal/credential"
	"github.com/qq148376839/trading-system/internal/market"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// OrderStatus 是网关侧订单状态，用于超时后按 correlation id 对账。
type OrderStatus string

const (
	StatusFilled   OrderStatus = "FILLED"
	StatusPending  OrderStatus = "PENDING"
	StatusRejected OrderStatus = "REJECTED"
	StatusNotFound OrderStatus = "NOT_FOUND"
)

var (
	// ErrRateLimited 表示网关限流，引擎应退避并顺延到下一轮。
	ErrRateLimited = errors.New("网关限流")
	// ErrOrderNotFound 用于按 correlation id 查询不到订单。
	ErrOrderNotFound = errors.New("订单不存在")
)

// OrderRequest 是一次下单请求。CorrelationID 由引擎生成并保证唯一，
// 网关侧据此去重（同一决策周期绝不允许产生两笔在途订单）。
type OrderRequest struct {
	Symbol        market.Symbol
	Side          Side
	Type          OrderType
	Quantity      int64
	LimitPrice    float64 // 市价单为 0
	CorrelationID string
	Remark        string
}

// OrderResult 是网关确认的成交回报。
type OrderResult struct {
	OrderID        string
	FilledPrice    float64
	FilledQuantity int64
	SubmittedAt    time.Time
}

// Balance 是网关侧账户资金快照。
type Balance struct {
	Currency      string
	TotalCash     float64
	AvailableCash float64
	UpdatedAt     time.Time
}

// Position 是网关侧持仓（用于启动对账，账本为进程内权威视图）。
type Position struct {
	Symbol    market.Symbol
	Quantity  int64
	CostPrice float64
}

// Gateway 是交易网关协作方。所有调用都必须可被 ctx 超时/取消，
// 且不得在持有账本锁时发起。
type Gateway interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	GetOrderStatus(ctx context.Context, correlationID string) (OrderStatus, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetAccountBalance(ctx context.Context) (Balance, error)
	RefreshCredential(ctx context.Context, current credential.Credential) (credential.Credential, error)
}
