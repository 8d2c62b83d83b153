package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const maxMessageLen = 3800

// MessageSection 表示通知中的一个段落。
type MessageSection struct {
	Title string
	Lines []string
}

// StructuredMessage 描述统一格式的推送。
type StructuredMessage struct {
	Icon      string
	Title     string
	Sections  []MessageSection
	Footer    string
	Timestamp time.Time
}

// RenderMarkdown 生成 Markdown 文本，自动裁剪长度。
func (m StructuredMessage) RenderMarkdown() string {
	var b strings.Builder
	header := strings.TrimSpace(m.Icon + " " + m.Title)
	if header != "" {
		b.WriteString(header + "\n\n")
	}
	if block := renderSections(m.Sections); block != "" {
		b.WriteString(block)
	}
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString(footer)
		b.WriteString("\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("时间：" + m.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}
	body := strings.TrimSpace(b.String())
	if len(body) > maxMessageLen {
		body = body[:maxMessageLen] + "..."
	}
	return body
}

func renderSections(secs []MessageSection) string {
	hasContent := false
	for _, sec := range secs {
		if len(cleanLines(sec.Lines)) > 0 {
			hasContent = true
			break
		}
	}
	if !hasContent {
		return ""
	}
	var b strings.Builder
	b.WriteString("```\n")
	for idx, sec := range secs {
		lines := cleanLines(sec.Lines)
		if len(lines) == 0 {
			continue
		}
		if title := strings.TrimSpace(sec.Title); title != "" {
			b.WriteString(title)
			b.WriteString("\n")
		}
		for _, line := range lines {
			b.WriteString("- ")
			b.WriteString(line)
			b.WriteString("\n")
		}
		if idx != len(secs)-1 {
			b.WriteString("\n")
		}
	}
	b.WriteString("```\n")
	return b.String()
}

func cleanLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// TradeMessage 构造成交通知。
func TradeMessage(side, symbol string, qty int64, price decimal.Decimal, reason string) StructuredMessage {
	icon := "🟢"
	if side == "SELL" {
		icon = "🔴"
	}
	return StructuredMessage{
		Icon:  icon,
		Title: fmt.Sprintf("%s %s", side, symbol),
		Sections: []MessageSection{{
			Lines: []string{
				fmt.Sprintf("数量：%d", qty),
				fmt.Sprintf("价格：%s", price),
				fmt.Sprintf("金额：%s", price.Mul(decimal.NewFromInt(qty))),
				fmt.Sprintf("理由：%s", reason),
			},
		}},
		Timestamp: time.Now(),
	}
}

// StartupMessage 构造启动摘要通知。
func StartupMessage(accountType string, symbols []string, cash decimal.Decimal) StructuredMessage {
	return StructuredMessage{
		Icon:  "🚀",
		Title: "交易系统启动",
		Sections: []MessageSection{{
			Lines: []string{
				fmt.Sprintf("账户类型：%s", accountType),
				fmt.Sprintf("股票池：%s", strings.Join(symbols, ", ")),
				fmt.Sprintf("可用资金：%s", cash),
			},
		}},
		Timestamp: time.Now(),
	}
}
