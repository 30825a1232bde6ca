package config

import (
	"os"
	"strings"
	"time"
)

// Config 是 tradeloop 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	LLM      LLMConfig      `toml:"llm"`
	Learning LearningConfig `toml:"learning"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Journal  JournalConfig  `toml:"journal"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	HTTPAddr  string `toml:"http_addr"`
	LogPath   string `toml:"log_path"`
	LLMLog    string `toml:"llm_log_path"`
	LLMDump   bool   `toml:"llm_dump_payload"`
}

// LLMConfig 描述推理服务提供方、配额与重试策略。
type LLMConfig struct {
	Primary          string           `toml:"primary"`
	UsageFile        string           `toml:"usage_file"`
	SafetyBuffer     float64          `toml:"safety_buffer"`
	PrimaryTolerance float64          `toml:"primary_tolerance"`
	DefaultBudget    QuotaConfig      `toml:"default_budget"`
	Providers        []ProviderConfig `toml:"providers"`
	Quotas           []QuotaConfig    `toml:"quotas"`
	Retry            RetryConfig      `toml:"retry"`
	Breaker          BreakerConfig    `toml:"breaker"`
}

type ProviderConfig struct {
	ID            string            `toml:"id"`
	Name          string            `toml:"name"`
	BaseURL       string            `toml:"base_url"`
	Model         string            `toml:"model"`
	APIKey        string            `toml:"api_key"`
	APIKeyEnv     string            `toml:"api_key_env"`
	RequiresAuth  bool              `toml:"requires_auth"`
	ResponseShape string            `toml:"response_shape"`
	Headers       map[string]string `toml:"headers"`
	Disabled      bool              `toml:"disabled"`
}

// ResolvedAPIKey 优先使用显式 api_key，其次读取 api_key_env 指向的环境变量。
func (p ProviderConfig) ResolvedAPIKey() string {
	if key := strings.TrimSpace(p.APIKey); key != "" {
		return key
	}
	if env := strings.TrimSpace(p.APIKeyEnv); env != "" {
		return strings.TrimSpace(os.Getenv(env))
	}
	return ""
}

// QuotaConfig 为 provider:model 的公开限额；0 表示该窗口不限。
type QuotaConfig struct {
	Provider  string `toml:"provider"`
	Model     string `toml:"model"`
	PerDay    int    `toml:"per_day"`
	PerHour   int    `toml:"per_hour"`
	PerMinute int    `toml:"per_minute"`
}

type RetryConfig struct {
	MaxRetriesPerProvider int `toml:"max_retries_per_provider"`
	BaseDelayMillis       int `toml:"base_delay_ms"`
	MaxDelayMillis        int `toml:"max_delay_ms"`
	TimeoutSeconds        int `toml:"timeout_seconds"`
}

func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMillis) * time.Millisecond
}

func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMillis) * time.Millisecond
}

func (r RetryConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

type BreakerConfig struct {
	Enabled          bool `toml:"enabled"`
	FailureThreshold int  `toml:"failure_threshold"`
	CooldownSeconds  int  `toml:"cooldown_seconds"`
}

// LearningConfig 控制反馈学习回路（历史容量、触发节奏、规则阈值与安全区间）。
type LearningConfig struct {
	StateFile       string         `toml:"state_file"`
	HistoryCap      int            `toml:"history_cap"`
	MinTrades       int            `toml:"min_trades"`
	RecentWindow    int            `toml:"recent_window"`
	PrecisionWindow int            `toml:"precision_window"`
	RerankInterval  int            `toml:"rerank_interval"`
	Rules           LearningRules  `toml:"rules"`
	Bounds          LearningBounds `toml:"bounds"`
}

// LearningRules 是经验阈值，全部可调。
type LearningRules struct {
	// 置信度门槛按近期胜率分档。
	WinRateSevere     float64 `toml:"win_rate_severe"`
	WinRateLow        float64 `toml:"win_rate_low"`
	WinRateHigh       float64 `toml:"win_rate_high"`
	WinRateExcellent  float64 `toml:"win_rate_excellent"`
	OvershootWeight   float64 `toml:"overshoot_weight"`
	FavorableWeight   float64 `toml:"favorable_weight"`
	EntryTierLow      float64 `toml:"entry_tier_low"`
	EntryTierHigh     float64 `toml:"entry_tier_high"`
	EntryRecoverBelow float64 `toml:"entry_recover_below"`
	EntryStep         float64 `toml:"entry_step"`
	EntryRecoverStep  float64 `toml:"entry_recover_step"`
	SLTierLow         float64 `toml:"sl_tier_low"`
	SLTierHigh        float64 `toml:"sl_tier_high"`
	SLStep            float64 `toml:"sl_step"`
	SLTightenBelow    float64 `toml:"sl_tighten_below"`
	SLTightenAccuracy float64 `toml:"sl_tighten_accuracy"`
	SLTightenStep     float64 `toml:"sl_tighten_step"`
	LossStreakTrigger int     `toml:"loss_streak_trigger"`
	LossStreakBump    float64 `toml:"loss_streak_bump"`
	// 置信度步长与上下限（按胜率档位）。
	ConfSevereStep     float64 `toml:"conf_severe_step"`
	ConfSevereCap      float64 `toml:"conf_severe_cap"`
	ConfLowStep        float64 `toml:"conf_low_step"`
	ConfLowCap         float64 `toml:"conf_low_cap"`
	ConfHighStep       float64 `toml:"conf_high_step"`
	ConfHighFloor      float64 `toml:"conf_high_floor"`
	ConfExcellentStep  float64 `toml:"conf_excellent_step"`
	ConfExcellentFloor float64 `toml:"conf_excellent_floor"`
	// 风险倍数：收益波动率分档及对应取值。
	RiskVolHigh     float64 `toml:"risk_vol_high"`
	RiskVolElevated float64 `toml:"risk_vol_elevated"`
	RiskVolCalm     float64 `toml:"risk_vol_calm"`
	RiskHigh        float64 `toml:"risk_high"`
	RiskElevated    float64 `toml:"risk_elevated"`
	RiskCalm        float64 `toml:"risk_calm"`
	RiskNeutral     float64 `toml:"risk_neutral"`
	// 止盈精度分档。
	TPPrecisionPoor  float64 `toml:"tp_precision_poor"`
	TPPrecisionLow   float64 `toml:"tp_precision_low"`
	TPPrecisionHigh  float64 `toml:"tp_precision_high"`
	TPPoorFloor      float64 `toml:"tp_poor_floor"`
	TPLowFloor       float64 `toml:"tp_low_floor"`
	TPStep           float64 `toml:"tp_step"`
	TPCeiling        float64 `toml:"tp_ceiling"`
	TPOvershootScale float64 `toml:"tp_overshoot_scale"`
	// 情绪/新闻/杠杆/日风险等限额按胜率微调。
	PoorWinRate      float64 `toml:"poor_win_rate"`
	ExcellentWinRate float64 `toml:"excellent_win_rate"`
	LimitNudge       float64 `toml:"limit_nudge"`
}

type Range struct {
	Min float64 `toml:"min"`
	Max float64 `toml:"max"`
}

func (r Range) unset() bool { return r.Min == 0 && r.Max == 0 }

type LearningBounds struct {
	ConfidenceThreshold Range `toml:"confidence_threshold"`
	EntryFactor         Range `toml:"entry_factor"`
	SLFactor            Range `toml:"sl_factor"`
	TPFactor            Range `toml:"tp_factor"`
	RiskMultiplier      Range `toml:"risk_multiplier"`
	SentimentReturn     Range `toml:"sentiment_return"`
	NewsImpact          Range `toml:"news_impact"`
	MaxNewsBonus        Range `toml:"max_news_bonus"`
	LeverageCap         Range `toml:"leverage_cap"`
	DailyRiskLimit      Range `toml:"daily_risk_limit"`
	SourceWeight        Range `toml:"source_weight"`
}

// MonitorConfig 描述挂单结果校验器（轮询价格窗口并回灌学习）。
type MonitorConfig struct {
	Enabled        bool          `toml:"enabled"`
	PollInterval   string        `toml:"poll_interval"`
	CeilingMinutes int           `toml:"ceiling_minutes"`
	KlineInterval  string        `toml:"kline_interval"`
	Binance        BinanceConfig `toml:"binance"`
}

func (m MonitorConfig) Ceiling() time.Duration {
	return time.Duration(m.CeilingMinutes) * time.Minute
}

type BinanceConfig struct {
	RESTBaseURL        string `toml:"rest_base_url"`
	HTTPTimeoutSeconds int    `toml:"http_timeout_seconds"`
	ProxyURL           string `toml:"proxy_url"`
}

type JournalConfig struct {
	Path string `toml:"path"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
