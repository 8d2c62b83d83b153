package notifier

import (
	"context"

	"github.com/qq148376839/trading-system/internal/logger"
)

var log = logger.Scope("NOTIFY")

// Announcer 包装 TextNotifier：通知失败只记日志，绝不影响交易主流程。
type Announcer struct {
	sink TextNotifier
}

func NewAnnouncer(sink TextNotifier) *Announcer {
	if sink == nil {
		sink = Noop{}
	}
	return &Announcer{sink: sink}
}

// Notify 同步发送，失败降级为告警日志。
func (a *Announcer) Notify(ctx context.Context, text string) {
	if err := a.sink.SendText(ctx, text); err != nil {
		log.Warnf("通知发送失败: %v", err)
	}
}
