package session

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/qq148376839/trading-system/internal/market"
)

// Calendar 描述各市场的休市日（YYYY-MM-DD，市场本地日期）。
type Calendar struct {
	Holidays map[market.Market][]string `yaml:"holidays"`
}

// LoadCalendar 从 YAML 文件读取休市日历。路径为空时返回空日历，
// 日期格式非法视为配置错误。
func LoadCalendar(path string) (*Calendar, error) {
	if path == "" {
		return &Calendar{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取休市日历失败: %w", err)
	}
	var cal Calendar
	if err := yaml.Unmarshal(raw, &cal); err != nil {
		return nil, fmt.Errorf("解析休市日历失败: %w", err)
	}
	for m, dates := range cal.Holidays {
		if !m.Valid() {
			return nil, fmt.Errorf("休市日历包含未知市场: %q", m)
		}
		for _, d := range dates {
			if _, err := time.Parse(time.DateOnly, d); err != nil {
				return nil, fmt.Errorf("休市日期格式非法 (%s): %q", m, d)
			}
		}
	}
	return &cal, nil
}
