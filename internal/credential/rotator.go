package credential

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/qq148376839/trading-system/internal/logger"
)

var log = logger.Scope("TOKEN")

// DefaultRefreshThreshold 为提前刷新窗口：距过期不足 7 天即触发刷新。
const DefaultRefreshThreshold = 7 * 24 * time.Hour

// DefaultRefreshedTTL 是网关签发新凭证的有效期（与券商侧一致，90 天）。
const DefaultRefreshedTTL = 90 * 24 * time.Hour

// Rotator 持有当前生效凭证并按需轮换。Active 通过 atomic.Pointer 读取，
// 在途调用拿到的旧凭证仍可用完，新调用立即看到新凭证。
type Rotator struct {
	accountType AccountType
	refresher   Refresher
	store       Store
	threshold   time.Duration

	active atomic.Pointer[Credential]
	nowFn  func() time.Time

	// 最近一次刷新失败的原因，凭证过期后用于 fail-fast 报错。
	lastRefreshErr atomic.Pointer[error]
}

// NewRotator 从持久化存储加载初始凭证。找不到可用凭证视为启动失败。
func NewRotator(ctx context.Context, accountType AccountType, refresher Refresher, store Store, threshold time.Duration) (*Rotator, error) {
	if !accountType.Valid() {
		return nil, fmt.Errorf("非法账户类型: %q", accountType)
	}
	if threshold <= 0 {
		threshold = DefaultRefreshThreshold
	}
	r := &Rotator{
		accountType: accountType,
		refresher:   refresher,
		store:       store,
		threshold:   threshold,
		nowFn:       time.Now,
	}
	cred, ok, err := store.LoadCredential(ctx, accountType)
	if err != nil {
		return nil, fmt.Errorf("加载 %s 凭证失败: %w", accountType, err)
	}
	if !ok {
		return nil, fmt.Errorf("数据库中不存在 %s 的有效凭证", accountType)
	}
	if cred.Expired(r.nowFn()) {
		return nil, fmt.Errorf("%s 凭证已于 %s 过期，请先手动更新", accountType, cred.ExpiresAt.Format(time.RFC3339))
	}
	r.active.Store(&cred)
	log.Infof("已加载 %s 凭证，过期时间 %s", accountType, cred.ExpiresAt.Format(time.RFC3339))
	return r, nil
}

// Active 返回当前生效凭证。凭证已过期时返回 ErrUnauthorized。
func (r *Rotator) Active() (Credential, error) {
	cred := r.active.Load()
	if cred == nil {
		return Credential{}, ErrUnauthorized
	}
	if cred.Expired(r.nowFn()) {
		return Credential{}, ErrUnauthorized
	}
	return *cred, nil
}

// LastRefreshError 返回最近一次刷新失败的原因（无失败时为 nil），
// 供状态接口与告警展示。
func (r *Rotator) LastRefreshError() error {
	if p := r.lastRefreshErr.Load(); p != nil {
		return *p
	}
	return nil
}

// EnsureValid 检查并按需刷新凭证。刷新失败时：
//   - 当前凭证仍有效 → 仅记录告警，引擎继续运行；
//   - 当前凭证已过期 → 返回 ErrUnauthorized，调用方应停止下单。
func (r *Rotator) EnsureValid(ctx context.Context) error {
	cred := r.active.Load()
	if cred == nil {
		return ErrUnauthorized
	}
	now := r.nowFn()
	if !cred.ExpiringWithin(now, r.threshold) {
		return nil
	}
	log.Infof("%s 凭证将于 %s 过期，开始刷新", r.accountType, cred.ExpiresAt.Format(time.RFC3339))

	fresh, err := r.refresher.RefreshCredential(ctx, *cred)
	if err != nil {
		wrapped := fmt.Errorf("刷新 %s 凭证失败: %w", r.accountType, err)
		r.lastRefreshErr.Store(&wrapped)
		if cred.Expired(now) {
			log.Errorf("%v（凭证已过期）", wrapped)
			return ErrUnauthorized
		}
		log.Warnf("%v（当前凭证仍有效，继续使用）", wrapped)
		return nil
	}
	fresh.AccountType = r.accountType
	if fresh.IssuedAt.IsZero() {
		fresh.IssuedAt = now
	}
	if fresh.ExpiresAt.IsZero() {
		fresh.ExpiresAt = now.Add(DefaultRefreshedTTL)
	}
	if err := r.store.SaveCredential(ctx, fresh); err != nil {
		// 落库失败不切换内存凭证，下一轮重试刷新。
		return fmt.Errorf("保存新凭证失败: %w", err)
	}
	r.active.Store(&fresh)
	r.lastRefreshErr.Store(nil)
	log.Infof("成功刷新 %s 凭证，新过期时间 %s", r.accountType, fresh.ExpiresAt.Format(time.RFC3339))
	return nil
}
