package config

import (
	"strings"
)

// 默认值常量
const (
	defaultAppEnv         = "dev"
	defaultAppLogLevel    = "info"
	defaultAppLogFormat   = "text"
	defaultAppHTTPAddr    = ":9992"
	defaultAppLogPath     = "data/logs/tradeloop.log"
	defaultAppLLMLogPath  = "data/logs/tradeloop-llm.log"
	defaultUsageFile      = "data/llm_usage.json"
	defaultSafetyBuffer   = 0.85
	defaultPrimaryTol     = 0.1
	defaultBudgetPerDay   = 1000
	defaultBudgetPerHour  = 100
	defaultBudgetPerMin   = 10
	defaultMaxRetries     = 2
	defaultBaseDelayMs    = 1000
	defaultMaxDelayMs     = 30000
	defaultTimeoutSeconds = 30
	defaultBreakerFails   = 5
	defaultBreakerCool    = 120
	defaultResponseShape  = "choices"
	defaultStateFile      = "data/learning_state.json"
	defaultHistoryCap     = 50
	defaultMinTrades      = 10
	defaultRecentWindow   = 20
	defaultPrecisionWin   = 10
	defaultRerankInterval = 20
	defaultPollInterval   = "1m"
	defaultCeilingMinutes = 120
	defaultKlineInterval  = "1m"
	defaultBinanceREST    = "https://fapi.binance.com"
	defaultBinanceTimeout = 15
	defaultJournalPath    = "data/journal.db"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.LLM.applyDefaults(keys)
	c.Learning.applyDefaults(keys)
	c.Monitor.applyDefaults(keys)
	applyFieldDefaults(keys,
		stringFieldDefault("journal.path", &c.Journal.Path, defaultJournalPath),
	)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.llm_log_path", &a.LLMLog, defaultAppLLMLogPath),
	)
}

func (l *LLMConfig) applyDefaults(keys keySet) {
	if l == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("llm.usage_file", &l.UsageFile, defaultUsageFile),
		floatFieldDefault("llm.safety_buffer", &l.SafetyBuffer, defaultSafetyBuffer),
		floatFieldDefault("llm.primary_tolerance", &l.PrimaryTolerance, defaultPrimaryTol),
		intFieldDefault("llm.default_budget.per_day", &l.DefaultBudget.PerDay, defaultBudgetPerDay),
		intFieldDefault("llm.default_budget.per_hour", &l.DefaultBudget.PerHour, defaultBudgetPerHour),
		intFieldDefault("llm.default_budget.per_minute", &l.DefaultBudget.PerMinute, defaultBudgetPerMin),
		intFieldDefault("llm.retry.max_retries_per_provider", &l.Retry.MaxRetriesPerProvider, defaultMaxRetries),
		intFieldDefault("llm.retry.base_delay_ms", &l.Retry.BaseDelayMillis, defaultBaseDelayMs),
		intFieldDefault("llm.retry.max_delay_ms", &l.Retry.MaxDelayMillis, defaultMaxDelayMs),
		intFieldDefault("llm.retry.timeout_seconds", &l.Retry.TimeoutSeconds, defaultTimeoutSeconds),
		boolFieldDefault("llm.breaker.enabled", &l.Breaker.Enabled, true),
		intFieldDefault("llm.breaker.failure_threshold", &l.Breaker.FailureThreshold, defaultBreakerFails),
		intFieldDefault("llm.breaker.cooldown_seconds", &l.Breaker.CooldownSeconds, defaultBreakerCool),
	)
	for i := range l.Providers {
		p := &l.Providers[i]
		p.ID = strings.TrimSpace(p.ID)
		if strings.TrimSpace(p.Name) == "" {
			p.Name = p.ID
		}
		if strings.TrimSpace(p.ResponseShape) == "" {
			p.ResponseShape = defaultResponseShape
		}
		p.ResponseShape = strings.ToLower(strings.TrimSpace(p.ResponseShape))
	}
}

func (l *LearningConfig) applyDefaults(keys keySet) {
	if l == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("learning.state_file", &l.StateFile, defaultStateFile),
		intFieldDefault("learning.history_cap", &l.HistoryCap, defaultHistoryCap),
		intFieldDefault("learning.min_trades", &l.MinTrades, defaultMinTrades),
		intFieldDefault("learning.recent_window", &l.RecentWindow, defaultRecentWindow),
		intFieldDefault("learning.precision_window", &l.PrecisionWindow, defaultPrecisionWin),
		intFieldDefault("learning.rerank_interval", &l.RerankInterval, defaultRerankInterval),
	)
	r := &l.Rules
	applyFieldDefaults(keys,
		floatFieldDefault("learning.rules.win_rate_severe", &r.WinRateSevere, 0.35),
		floatFieldDefault("learning.rules.win_rate_low", &r.WinRateLow, 0.45),
		floatFieldDefault("learning.rules.win_rate_high", &r.WinRateHigh, 0.55),
		floatFieldDefault("learning.rules.win_rate_excellent", &r.WinRateExcellent, 0.65),
		floatFieldDefault("learning.rules.overshoot_weight", &r.OvershootWeight, 0.3),
		floatFieldDefault("learning.rules.favorable_weight", &r.FavorableWeight, 0.2),
		floatFieldDefault("learning.rules.entry_tier_low", &r.EntryTierLow, 0.15),
		floatFieldDefault("learning.rules.entry_tier_high", &r.EntryTierHigh, 0.30),
		floatFieldDefault("learning.rules.entry_recover_below", &r.EntryRecoverBelow, 0.05),
		floatFieldDefault("learning.rules.entry_step", &r.EntryStep, 0.10),
		floatFieldDefault("learning.rules.entry_recover_step", &r.EntryRecoverStep, 0.02),
		floatFieldDefault("learning.rules.sl_tier_low", &r.SLTierLow, 0.15),
		floatFieldDefault("learning.rules.sl_tier_high", &r.SLTierHigh, 0.30),
		floatFieldDefault("learning.rules.sl_step", &r.SLStep, 0.10),
		floatFieldDefault("learning.rules.sl_tighten_below", &r.SLTightenBelow, 0.08),
		floatFieldDefault("learning.rules.sl_tighten_accuracy", &r.SLTightenAccuracy, 0.65),
		floatFieldDefault("learning.rules.sl_tighten_step", &r.SLTightenStep, 0.05),
		intFieldDefault("learning.rules.loss_streak_trigger", &r.LossStreakTrigger, 3),
		floatFieldDefault("learning.rules.loss_streak_bump", &r.LossStreakBump, 0.05),
		floatFieldDefault("learning.rules.conf_severe_step", &r.ConfSevereStep, 0.08),
		floatFieldDefault("learning.rules.conf_severe_cap", &r.ConfSevereCap, 0.6),
		floatFieldDefault("learning.rules.conf_low_step", &r.ConfLowStep, 0.05),
		floatFieldDefault("learning.rules.conf_low_cap", &r.ConfLowCap, 0.5),
		floatFieldDefault("learning.rules.conf_high_step", &r.ConfHighStep, 0.02),
		floatFieldDefault("learning.rules.conf_high_floor", &r.ConfHighFloor, 0.25),
		floatFieldDefault("learning.rules.conf_excellent_step", &r.ConfExcellentStep, 0.03),
		floatFieldDefault("learning.rules.conf_excellent_floor", &r.ConfExcellentFloor, 0.2),
		floatFieldDefault("learning.rules.risk_vol_high", &r.RiskVolHigh, 0.15),
		floatFieldDefault("learning.rules.risk_vol_elevated", &r.RiskVolElevated, 0.10),
		floatFieldDefault("learning.rules.risk_vol_calm", &r.RiskVolCalm, 0.05),
		floatFieldDefault("learning.rules.risk_high", &r.RiskHigh, 0.7),
		floatFieldDefault("learning.rules.risk_elevated", &r.RiskElevated, 0.8),
		floatFieldDefault("learning.rules.risk_calm", &r.RiskCalm, 1.1),
		floatFieldDefault("learning.rules.risk_neutral", &r.RiskNeutral, 1.0),
		floatFieldDefault("learning.rules.tp_precision_poor", &r.TPPrecisionPoor, 0.70),
		floatFieldDefault("learning.rules.tp_precision_low", &r.TPPrecisionLow, 0.85),
		floatFieldDefault("learning.rules.tp_precision_high", &r.TPPrecisionHigh, 1.2),
		floatFieldDefault("learning.rules.tp_poor_floor", &r.TPPoorFloor, 0.6),
		floatFieldDefault("learning.rules.tp_low_floor", &r.TPLowFloor, 0.75),
		floatFieldDefault("learning.rules.tp_step", &r.TPStep, 0.05),
		floatFieldDefault("learning.rules.tp_ceiling", &r.TPCeiling, 1.2),
		floatFieldDefault("learning.rules.tp_overshoot_scale", &r.TPOvershootScale, 0.8),
		floatFieldDefault("learning.rules.poor_win_rate", &r.PoorWinRate, 0.40),
		floatFieldDefault("learning.rules.excellent_win_rate", &r.ExcellentWinRate, 0.65),
		floatFieldDefault("learning.rules.limit_nudge", &r.LimitNudge, 0.05),
	)
	b := &l.Bounds
	rangeDefault(&b.ConfidenceThreshold, 0.2, 0.7)
	rangeDefault(&b.EntryFactor, 0.7, 1.2)
	rangeDefault(&b.SLFactor, 0.7, 1.6)
	rangeDefault(&b.TPFactor, 0.5, 2.0)
	rangeDefault(&b.RiskMultiplier, 0.5, 1.5)
	rangeDefault(&b.SentimentReturn, 0.015, 0.08)
	rangeDefault(&b.NewsImpact, 0.005, 0.03)
	rangeDefault(&b.MaxNewsBonus, 0.02, 0.10)
	rangeDefault(&b.LeverageCap, 3, 25)
	rangeDefault(&b.DailyRiskLimit, 0.03, 0.07)
	rangeDefault(&b.SourceWeight, 0.3, 1.5)
}

func (m *MonitorConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("monitor.enabled", &m.Enabled, true),
		stringFieldDefault("monitor.poll_interval", &m.PollInterval, defaultPollInterval),
		intFieldDefault("monitor.ceiling_minutes", &m.CeilingMinutes, defaultCeilingMinutes),
		stringFieldDefault("monitor.kline_interval", &m.KlineInterval, defaultKlineInterval),
		stringFieldDefault("monitor.binance.rest_base_url", &m.Binance.RESTBaseURL, defaultBinanceREST),
		intFieldDefault("monitor.binance.http_timeout_seconds", &m.Binance.HTTPTimeoutSeconds, defaultBinanceTimeout),
	)
}

func rangeDefault(r *Range, min, max float64) {
	if r.unset() {
		r.Min, r.Max = min, max
	}
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
