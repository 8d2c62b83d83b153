package market

import (
	"fmt"
	"strings"
)

// Market 表示交易市场（目前支持美股与港股）。
type Market string

const (
	MarketUS Market = "US"
	MarketHK Market = "HK"
)

func (m Market) Valid() bool {
	return m == MarketUS || m == MarketHK
}

// Symbol 是带市场后缀的标的标识，如 AAPL.US、0700.HK。
// 构造后不可变，可直接作为 map key。
type Symbol struct {
	Code   string
	Market Market
}

// ParseSymbol 解析 "CODE.MARKET" 形式的标的。
func ParseSymbol(raw string) (Symbol, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	idx := strings.LastIndex(raw, ".")
	if idx <= 0 || idx == len(raw)-1 {
		return Symbol{}, fmt.Errorf("标的格式不合法: %q (期望 CODE.MARKET)", raw)
	}
	sym := Symbol{Code: raw[:idx], Market: Market(raw[idx+1:])}
	if !sym.Market.Valid() {
		return Symbol{}, fmt.Errorf("不支持的市场: %q (标的 %q)", sym.Market, raw)
	}
	return sym, nil
}

// MustParseSymbol 仅用于测试与常量初始化。
func MustParseSymbol(raw string) Symbol {
	sym, err := ParseSymbol(raw)
	if err != nil {
		panic(err)
	}
	return sym
}

func (s Symbol) String() string {
	return s.Code + "." + string(s.Market)
}

func (s Symbol) IsZero() bool {
	return s.Code == "" && s.Market == ""
}
