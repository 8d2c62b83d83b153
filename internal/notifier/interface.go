// Package notifier 在关键交易事件发生时对外推送文本通知。
package notifier

import "context"

// TextNotifier 是最小文本通知接口，组件依赖它而非具体实现。
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}

// Noop 丢弃所有通知，用于未配置通知渠道的场合。
type Noop struct{}

func (Noop) SendText(context.Context, string) error { return nil }
