package config

import (
	"fmt"
	"strings"

	"tradeloop/internal/scheduler"
)

var knownResponseShapes = map[string]struct{}{
	"choices":  {},
	"response": {},
	"raw":      {},
}

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.LLM.validate(); err != nil {
		return err
	}
	if err := c.Learning.validate(); err != nil {
		return err
	}
	if err := c.Monitor.validate(); err != nil {
		return err
	}
	return nil
}

func (l *LLMConfig) validate() error {
	if len(l.Providers) == 0 {
		return fmt.Errorf("llm.providers requires at least one provider")
	}
	if l.SafetyBuffer <= 0 || l.SafetyBuffer > 1 {
		return fmt.Errorf("llm.safety_buffer must be in (0,1]")
	}
	if l.PrimaryTolerance < 0 || l.PrimaryTolerance >= 1 {
		return fmt.Errorf("llm.primary_tolerance must be in [0,1)")
	}
	seen := make(map[string]struct{}, len(l.Providers))
	for _, p := range l.Providers {
		if p.ID == "" {
			return fmt.Errorf("llm.providers contains entry without id")
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("llm.providers has duplicate id: %s", p.ID)
		}
		seen[p.ID] = struct{}{}
		if strings.TrimSpace(p.BaseURL) == "" {
			return fmt.Errorf("llm.providers.%s missing base_url", p.ID)
		}
		if strings.TrimSpace(p.Model) == "" {
			return fmt.Errorf("llm.providers.%s missing model", p.ID)
		}
		if _, ok := knownResponseShapes[p.ResponseShape]; !ok {
			return fmt.Errorf("llm.providers.%s response_shape=%s must be one of choices/response/raw", p.ID, p.ResponseShape)
		}
	}
	if primary := strings.TrimSpace(l.Primary); primary != "" {
		if _, ok := seen[primary]; !ok {
			return fmt.Errorf("llm.primary references unconfigured provider: %s", primary)
		}
	}
	for _, q := range l.Quotas {
		if _, ok := seen[strings.TrimSpace(q.Provider)]; !ok {
			return fmt.Errorf("llm.quotas references unconfigured provider: %s", q.Provider)
		}
		if q.PerDay < 0 || q.PerHour < 0 || q.PerMinute < 0 {
			return fmt.Errorf("llm.quotas.%s limits must be >= 0", q.Provider)
		}
	}
	if l.Retry.MaxDelayMillis < l.Retry.BaseDelayMillis {
		return fmt.Errorf("llm.retry.max_delay_ms must be >= base_delay_ms")
	}
	return nil
}

func (l *LearningConfig) validate() error {
	if l.MinTrades > l.HistoryCap {
		return fmt.Errorf("learning.min_trades (%d) cannot exceed history_cap (%d)", l.MinTrades, l.HistoryCap)
	}
	r := l.Rules
	if !(r.WinRateSevere <= r.WinRateLow && r.WinRateLow <= r.WinRateHigh && r.WinRateHigh <= r.WinRateExcellent) {
		return fmt.Errorf("learning.rules win_rate tiers must be ascending (severe <= low <= high <= excellent)")
	}
	if r.EntryTierLow > r.EntryTierHigh {
		return fmt.Errorf("learning.rules.entry_tier_low must be <= entry_tier_high")
	}
	if r.SLTierLow > r.SLTierHigh {
		return fmt.Errorf("learning.rules.sl_tier_low must be <= sl_tier_high")
	}
	if !(r.RiskVolCalm <= r.RiskVolElevated && r.RiskVolElevated <= r.RiskVolHigh) {
		return fmt.Errorf("learning.rules risk_vol tiers must be ascending (calm <= elevated <= high)")
	}
	if !(r.TPPrecisionPoor <= r.TPPrecisionLow && r.TPPrecisionLow <= r.TPPrecisionHigh) {
		return fmt.Errorf("learning.rules tp_precision tiers must be ascending (poor <= low <= high)")
	}
	if r.PoorWinRate >= r.ExcellentWinRate {
		return fmt.Errorf("learning.rules.poor_win_rate must be < excellent_win_rate")
	}
	for _, w := range []float64{r.OvershootWeight, r.FavorableWeight} {
		if w <= 0 || w > 1 {
			return fmt.Errorf("learning.rules smoothing weights must be in (0,1]")
		}
	}
	b := l.Bounds
	ranges := map[string]Range{
		"confidence_threshold": b.ConfidenceThreshold,
		"entry_factor":         b.EntryFactor,
		"sl_factor":            b.SLFactor,
		"tp_factor":            b.TPFactor,
		"risk_multiplier":      b.RiskMultiplier,
		"sentiment_return":     b.SentimentReturn,
		"news_impact":          b.NewsImpact,
		"max_news_bonus":       b.MaxNewsBonus,
		"leverage_cap":         b.LeverageCap,
		"daily_risk_limit":     b.DailyRiskLimit,
		"source_weight":        b.SourceWeight,
	}
	for name, rg := range ranges {
		if rg.Min > rg.Max {
			return fmt.Errorf("learning.bounds.%s min (%.4f) > max (%.4f)", name, rg.Min, rg.Max)
		}
	}
	return nil
}

func (m *MonitorConfig) validate() error {
	if !m.Enabled {
		return nil
	}
	if _, ok := scheduler.ParseIntervalDuration(m.PollInterval); !ok {
		return fmt.Errorf("monitor.poll_interval=%q is not a valid interval", m.PollInterval)
	}
	if _, ok := scheduler.ParseIntervalDuration(m.KlineInterval); !ok {
		return fmt.Errorf("monitor.kline_interval=%q is not a valid interval", m.KlineInterval)
	}
	return nil
}
