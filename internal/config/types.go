package config

import (
	"sort"
	"strings"
	"time"
)

// Config 是交易系统的主配置载体。
type Config struct {
	App        AppConfig        `toml:"app"`
	Database   DatabaseConfig   `toml:"database"`
	Market     MarketConfig     `toml:"market"`
	Trading    TradingConfig    `toml:"trading"`
	Risk       RiskConfig       `toml:"risk"`
	Strategy   StrategyConfig   `toml:"strategy"`
	Credential CredentialConfig `toml:"credential"`
	Notify     NotifyConfig     `toml:"notify"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"` // 状态接口监听地址，空则不启动
}

type DatabaseConfig struct {
	Path      string `toml:"path"`       // gorm+sqlite 主库
	AuditPath string `toml:"audit_path"` // 风控/引擎事件审计库（raw sqlite）
}

type MarketConfig struct {
	HolidayCalendar string `toml:"holiday_calendar"` // YAML 休市日历，可为空
}

// TradingConfig 控制账户模式、股票池与节流参数。
type TradingConfig struct {
	AccountType             string              `toml:"account_type"` // SIMULATION | REAL
	InitialCash             float64             `toml:"initial_cash"` // 模拟盘起始资金
	Currency                string              `toml:"currency"`
	StockPools              map[string][]string `toml:"stock_pools"`
	TickIntervalSeconds     int                 `toml:"tick_interval_seconds"`
	MaxWorkers              int                 `toml:"max_workers"` // 每轮并发评估的标的数上限
	MaxDailyTrades          int                 `toml:"max_daily_trades"`
	MinTradeIntervalSeconds int                 `toml:"min_trade_interval_seconds"`
	GatewayTimeoutSeconds   int                 `toml:"gateway_timeout_seconds"`
}

// Symbols 展开股票池为去重后的标的列表（稳定排序）。
func (t TradingConfig) Symbols() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, pool := range t.StockPools {
		for _, s := range pool {
			s = strings.ToUpper(strings.TrimSpace(s))
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func (t TradingConfig) TickInterval() time.Duration {
	return time.Duration(t.TickIntervalSeconds) * time.Second
}

func (t TradingConfig) MinTradeInterval() time.Duration {
	return time.Duration(t.MinTradeIntervalSeconds) * time.Second
}

func (t TradingConfig) GatewayTimeout() time.Duration {
	return time.Duration(t.GatewayTimeoutSeconds) * time.Second
}

// RiskConfig 的各阈值在每次风控评估时从最新快照读取（支持热更新）。
type RiskConfig struct {
	StopLoss            float64 `toml:"stop_loss"`              // 负数，如 -0.10
	TakeProfit          float64 `toml:"take_profit"`            // 正数，如 0.15
	MaxDailyLoss        float64 `toml:"max_daily_loss"`         // 正数占比，如 0.05
	MaxPositionLoss     float64 `toml:"max_position_loss"`      // 负数，如 -0.15
	VolatilityThreshold float64 `toml:"volatility_threshold"`   // (high-low)/last 上限
	MaxPositionPerStock float64 `toml:"max_position_per_stock"` // 单标的市值占净值比例
}

// StrategyConfig 控制信号聚合与各策略参数。
type StrategyConfig struct {
	// unanimous: 全部非零方向一致才行动；first_wins: 首个启用策略说了算。
	ConflictPolicy string         `toml:"conflict_policy"`
	RSI            RSIParams      `toml:"rsi"`
	MACD           MACDParams     `toml:"macd"`
	MACross        MACrossParams  `toml:"ma_cross"`
	Sizing         SizingParams   `toml:"sizing"`
}

type RSIParams struct {
	Enabled    bool    `toml:"enabled"`
	Period     int     `toml:"period"`
	Overbought float64 `toml:"overbought"`
	Oversold   float64 `toml:"oversold"`
}

type MACDParams struct {
	Enabled      bool `toml:"enabled"`
	FastPeriod   int  `toml:"fast_period"`
	SlowPeriod   int  `toml:"slow_period"`
	SignalPeriod int  `toml:"signal_period"`
}

type MACrossParams struct {
	Enabled    bool `toml:"enabled"`
	FastWindow int  `toml:"fast_window"`
	SlowWindow int  `toml:"slow_window"`
}

// SizingParams 控制信号建议数量：按可用资金占比换算股数。
type SizingParams struct {
	CashFraction float64 `toml:"cash_fraction"` // 单笔占可用资金比例
	LotSize      int     `toml:"lot_size"`      // 最小交易单位（港股整手）
}

type CredentialConfig struct {
	RefreshThresholdDays int `toml:"refresh_threshold_days"`
}

func (c CredentialConfig) RefreshThreshold() time.Duration {
	return time.Duration(c.RefreshThresholdDays) * 24 * time.Hour
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}
