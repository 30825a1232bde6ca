package adjust

import (
	"math"

	"tradeloop/internal/learning/metrics"
	"tradeloop/internal/learning/outcome"
)

// Rules 汇总调参规则的阈值与步长。
type Rules struct {
	MinTrades       int
	RecentWindow    int
	PrecisionWindow int
	RerankInterval  int

	// 置信度门槛：胜率分档。
	WinRateSevere    float64
	WinRateLow       float64
	WinRateHigh      float64
	WinRateExcellent float64

	// 各胜率档位对应的步长，以及步长作用后的上限/下限。
	ConfSevereStep     float64
	ConfSevereCap      float64
	ConfLowStep        float64
	ConfLowCap         float64
	ConfHighStep       float64
	ConfHighFloor      float64
	ConfExcellentStep  float64
	ConfExcellentFloor float64

	LossStreakTrigger int
	LossStreakBump    float64

	// 风险倍数：近期收益标准差分档后直接取值。
	RiskVolHigh     float64
	RiskVolElevated float64
	RiskVolCalm     float64
	RiskHigh        float64
	RiskElevated    float64
	RiskCalm        float64
	RiskNeutral     float64

	// 止盈：平均止盈精度分档。
	TPPrecisionPoor  float64
	TPPrecisionLow   float64
	TPPrecisionHigh  float64
	TPPoorFloor      float64
	TPLowFloor       float64
	TPStep           float64
	TPCeiling        float64
	TPOvershootScale float64

	EntryTierLow      float64
	EntryTierHigh     float64
	EntryRecoverBelow float64
	EntryStep         float64
	EntryRecoverStep  float64

	SLTierLow         float64
	SLTierHigh        float64
	SLStep            float64
	SLTightenBelow    float64
	SLTightenAccuracy float64
	SLTightenStep     float64

	PoorWinRate      float64
	ExcellentWinRate float64
	LimitNudge       float64
}

func DefaultRules() Rules {
	return Rules{
		MinTrades:         10,
		RecentWindow:      20,
		PrecisionWindow:   10,
		RerankInterval:    20,
		WinRateSevere:     0.35,
		WinRateLow:        0.45,
		WinRateHigh:       0.55,
		WinRateExcellent:  0.65,
		ConfSevereStep:     0.08,
		ConfSevereCap:      0.6,
		ConfLowStep:        0.05,
		ConfLowCap:         0.5,
		ConfHighStep:       0.02,
		ConfHighFloor:      0.25,
		ConfExcellentStep:  0.03,
		ConfExcellentFloor: 0.2,
		LossStreakTrigger: 3,
		LossStreakBump:    0.05,
		RiskVolHigh:       0.15,
		RiskVolElevated:   0.10,
		RiskVolCalm:       0.05,
		RiskHigh:          0.7,
		RiskElevated:      0.8,
		RiskCalm:          1.1,
		RiskNeutral:       1.0,
		TPPrecisionPoor:   0.70,
		TPPrecisionLow:    0.85,
		TPPrecisionHigh:   1.2,
		TPPoorFloor:       0.6,
		TPLowFloor:        0.75,
		TPStep:            0.05,
		TPCeiling:         1.2,
		TPOvershootScale:  0.8,
		EntryTierLow:      0.15,
		EntryTierHigh:     0.30,
		EntryRecoverBelow: 0.05,
		EntryStep:         0.10,
		EntryRecoverStep:  0.02,
		SLTierLow:         0.15,
		SLTierHigh:        0.30,
		SLStep:            0.10,
		SLTightenBelow:    0.08,
		SLTightenAccuracy: 0.65,
		SLTightenStep:     0.05,
		PoorWinRate:       0.40,
		ExcellentWinRate:  0.65,
		LimitNudge:        0.05,
	}
}

type Adjuster struct {
	rules  Rules
	bounds Bounds
}

// NewAdjuster 对未设置（<=0）的规则项和未设置的区间回落到默认值。
func NewAdjuster(rules Rules, bounds Bounds) *Adjuster {
	return &Adjuster{rules: rules.withDefaults(), bounds: bounds.withDefaults()}
}

func (r Rules) withDefaults() Rules {
	def := DefaultRules()
	ints := []struct {
		v *int
		d int
	}{
		{&r.MinTrades, def.MinTrades},
		{&r.RecentWindow, def.RecentWindow},
		{&r.PrecisionWindow, def.PrecisionWindow},
		{&r.RerankInterval, def.RerankInterval},
		{&r.LossStreakTrigger, def.LossStreakTrigger},
	}
	for _, f := range ints {
		if *f.v <= 0 {
			*f.v = f.d
		}
	}
	floats := []struct {
		v *float64
		d float64
	}{
		{&r.WinRateSevere, def.WinRateSevere},
		{&r.WinRateLow, def.WinRateLow},
		{&r.WinRateHigh, def.WinRateHigh},
		{&r.WinRateExcellent, def.WinRateExcellent},
		{&r.ConfSevereStep, def.ConfSevereStep},
		{&r.ConfSevereCap, def.ConfSevereCap},
		{&r.ConfLowStep, def.ConfLowStep},
		{&r.ConfLowCap, def.ConfLowCap},
		{&r.ConfHighStep, def.ConfHighStep},
		{&r.ConfHighFloor, def.ConfHighFloor},
		{&r.ConfExcellentStep, def.ConfExcellentStep},
		{&r.ConfExcellentFloor, def.ConfExcellentFloor},
		{&r.LossStreakBump, def.LossStreakBump},
		{&r.RiskVolHigh, def.RiskVolHigh},
		{&r.RiskVolElevated, def.RiskVolElevated},
		{&r.RiskVolCalm, def.RiskVolCalm},
		{&r.RiskHigh, def.RiskHigh},
		{&r.RiskElevated, def.RiskElevated},
		{&r.RiskCalm, def.RiskCalm},
		{&r.RiskNeutral, def.RiskNeutral},
		{&r.TPPrecisionPoor, def.TPPrecisionPoor},
		{&r.TPPrecisionLow, def.TPPrecisionLow},
		{&r.TPPrecisionHigh, def.TPPrecisionHigh},
		{&r.TPPoorFloor, def.TPPoorFloor},
		{&r.TPLowFloor, def.TPLowFloor},
		{&r.TPStep, def.TPStep},
		{&r.TPCeiling, def.TPCeiling},
		{&r.TPOvershootScale, def.TPOvershootScale},
		{&r.EntryTierLow, def.EntryTierLow},
		{&r.EntryTierHigh, def.EntryTierHigh},
		{&r.EntryRecoverBelow, def.EntryRecoverBelow},
		{&r.EntryStep, def.EntryStep},
		{&r.EntryRecoverStep, def.EntryRecoverStep},
		{&r.SLTierLow, def.SLTierLow},
		{&r.SLTierHigh, def.SLTierHigh},
		{&r.SLStep, def.SLStep},
		{&r.SLTightenBelow, def.SLTightenBelow},
		{&r.SLTightenAccuracy, def.SLTightenAccuracy},
		{&r.SLTightenStep, def.SLTightenStep},
		{&r.PoorWinRate, def.PoorWinRate},
		{&r.ExcellentWinRate, def.ExcellentWinRate},
		{&r.LimitNudge, def.LimitNudge},
	}
	for _, f := range floats {
		if *f.v <= 0 {
			*f.v = f.d
		}
	}
	return r
}

func (a *Adjuster) Bounds() Bounds { return a.bounds }

// Ready 冷启动保护：历史不足 MinTrades 笔时不调参。
func (a *Adjuster) Ready(m *metrics.PrecisionMetrics) bool {
	return len(m.History) >= a.rules.MinTrades
}

// RerankDue 每累计 RerankInterval 笔结果触发一次信号源重排。
func (a *Adjuster) RerankDue(m *metrics.PrecisionMetrics) bool {
	return m.TotalTrades > 0 && m.TotalTrades%a.rules.RerankInterval == 0
}

// Recompute 基于当前统计对参数做相对微调，返回新值（不修改 current）。
// 冷启动期间只做区间收敛。
func (a *Adjuster) Recompute(m *metrics.PrecisionMetrics, current StrategyAdjustments) StrategyAdjustments {
	next := a.bounds.Clamp(current)
	if !a.Ready(m) {
		return next
	}
	r := a.rules
	winRate := m.WinRate(r.RecentWindow)

	next.ConfidenceThreshold = a.confidence(next.ConfidenceThreshold, winRate, m.Streaks.CurrentLoss)
	next.RiskMultiplier = a.risk(m, next.RiskMultiplier)
	next.TPFactor = a.takeProfit(m, next.TPFactor)
	next.EntryFactor = a.entry(m.CategoryRate(outcome.EntryNotReached, 0), next.EntryFactor)
	next.SLFactor = a.stopLoss(m.CategoryRate(outcome.SLHit, 0), m.DirectionAccuracy(r.RecentWindow), next.SLFactor)
	a.nudgeLimits(&next, winRate)

	return a.bounds.Clamp(next)
}

func (a *Adjuster) confidence(cur, winRate float64, lossStreak int) float64 {
	r := a.rules
	switch {
	case winRate < r.WinRateSevere:
		cur = math.Min(r.ConfSevereCap, cur+r.ConfSevereStep)
	case winRate < r.WinRateLow:
		cur = math.Min(r.ConfLowCap, cur+r.ConfLowStep)
	case winRate > r.WinRateExcellent:
		cur = math.Max(r.ConfExcellentFloor, cur-r.ConfExcellentStep)
	case winRate > r.WinRateHigh:
		cur = math.Max(r.ConfHighFloor, cur-r.ConfHighStep)
	}
	if lossStreak >= r.LossStreakTrigger {
		cur += r.LossStreakBump
	}
	return cur
}

// risk 按近期收益的波动率设定风险倍数（绝对值，非相对微调）。
func (a *Adjuster) risk(m *metrics.PrecisionMetrics, cur float64) float64 {
	r := a.rules
	vol, ok := m.ProfitStdDev(r.RecentWindow)
	if !ok {
		return cur
	}
	switch {
	case vol > r.RiskVolHigh:
		return r.RiskHigh
	case vol > r.RiskVolElevated:
		return r.RiskElevated
	case vol < r.RiskVolCalm && m.AvgProfit(r.RecentWindow) > 0:
		return r.RiskCalm
	default:
		return r.RiskNeutral
	}
}

func (a *Adjuster) takeProfit(m *metrics.PrecisionMetrics, cur float64) float64 {
	r := a.rules
	precision, ok := m.AvgTPPrecision(r.PrecisionWindow)
	if !ok {
		return cur
	}
	switch {
	case precision < r.TPPrecisionPoor:
		return math.Max(r.TPPoorFloor, 1.0-m.AvgTPOvershoot*r.TPOvershootScale)
	case precision < r.TPPrecisionLow:
		return math.Max(r.TPLowFloor, cur-r.TPStep)
	case precision > r.TPPrecisionHigh:
		return math.Min(r.TPCeiling, cur+r.TPStep)
	default:
		return cur
	}
}

// entry 未入场比例过高时收紧入场；比例很低时只向 1.0 回升，不超过 1.0。
func (a *Adjuster) entry(rate, cur float64) float64 {
	r := a.rules
	switch {
	case rate >= r.EntryTierHigh:
		return cur - r.EntryStep
	case rate > r.EntryTierLow:
		return cur - r.EntryStep/2
	case rate < r.EntryRecoverBelow && cur < 1.0:
		return math.Min(1.0, cur+r.EntryRecoverStep)
	default:
		return cur
	}
}

// stopLoss 止损触发过多时放宽；只有止损率很低且方向准确率高时才向 1.0 收回，不低于 1.0。
func (a *Adjuster) stopLoss(rate, directionAccuracy, cur float64) float64 {
	r := a.rules
	switch {
	case rate >= r.SLTierHigh:
		return cur + r.SLStep
	case rate > r.SLTierLow:
		return cur + r.SLStep/2
	case rate < r.SLTightenBelow && directionAccuracy > r.SLTightenAccuracy && cur > 1.0:
		return math.Max(1.0, cur-r.SLTightenStep)
	default:
		return cur
	}
}

// nudgeLimits 胜率差时按比例收缩新闻/杠杆/日风险限额，胜率优秀时放宽。
func (a *Adjuster) nudgeLimits(s *StrategyAdjustments, winRate float64) {
	r := a.rules
	var scale float64
	switch {
	case winRate < r.PoorWinRate:
		scale = 1 - r.LimitNudge
	case winRate >= r.ExcellentWinRate:
		scale = 1 + r.LimitNudge
	default:
		return
	}
	s.SentimentReturn *= scale
	s.NewsImpact *= scale
	s.MaxNewsBonus *= scale
	s.LeverageCap *= scale
	s.DailyRiskLimit *= scale
}

// Rerank 按准确率分档重新计算信号源权重，整体替换旧的权重表。
func (a *Adjuster) Rerank(m *metrics.PrecisionMetrics, current StrategyAdjustments) StrategyAdjustments {
	next := current.Clone()
	weights := make(map[string]float64, len(m.Sources))
	for name, tally := range m.Sources {
		weights[name] = TierWeight(tally.Accuracy())
	}
	next.SourceWeights = weights
	return a.bounds.Clamp(next)
}

// TierWeight 把准确率映射到权重倍数。
func TierWeight(accuracy float64) float64 {
	switch {
	case accuracy >= 0.65:
		return 1.5
	case accuracy >= 0.55:
		return 1.2
	case accuracy >= 0.45:
		return 1.0
	case accuracy >= 0.35:
		return 0.7
	default:
		return 0.3
	}
}
