// Package credential 管理券商网关的访问凭证：持有当前生效凭证，
// 并在到期前主动刷新。
package credential

import (
	"context"
	"errors"
	"time"
)

// AccountType 区分模拟盘与实盘凭证，同一时刻每种类型只有一条生效。
type AccountType string

const (
	AccountSimulation AccountType = "SIMULATION"
	AccountReal       AccountType = "REAL"
)

func (t AccountType) Valid() bool {
	return t == AccountSimulation || t == AccountReal
}

// Credential 是一条完整的网关凭证。刷新会生成新的 Credential 并整体替换，
// 不做字段级修改。
type Credential struct {
	AccountType AccountType
	AppKey      string
	AppSecret   string
	AccessToken string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// Expired 判断凭证在 now 时刻是否已过期。
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// ExpiringWithin 判断凭证是否将在 d 时间内过期（含已过期）。
func (c Credential) ExpiringWithin(now time.Time, d time.Duration) bool {
	return c.ExpiresAt.Sub(now) < d
}

// ErrUnauthorized 表示当前没有可用凭证，网关调用方应立即失败而非重试。
var ErrUnauthorized = errors.New("凭证已过期且刷新失败，网关调用被拒绝")

// Refresher 是网关的凭证刷新操作（窄接口，避免 credential 反向依赖 broker）。
type Refresher interface {
	RefreshCredential(ctx context.Context, current Credential) (Credential, error)
}

// Store 持久化凭证行；刷新成功后先落库再切换内存指针。
type Store interface {
	SaveCredential(ctx context.Context, cred Credential) error
	LoadCredential(ctx context.Context, accountType AccountType) (Credential, bool, error)
}
