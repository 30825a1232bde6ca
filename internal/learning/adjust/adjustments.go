package adjust

import (
	"math"
	"sort"
)

// StrategyAdjustments 是暴露给下游决策逻辑的全部可调参数。
type StrategyAdjustments struct {
	ConfidenceThreshold float64            `json:"confidence_threshold"`
	EntryFactor         float64            `json:"entry_adjustment_factor"`
	SLFactor            float64            `json:"sl_adjustment_factor"`
	TPFactor            float64            `json:"tp_adjustment_factor"`
	RiskMultiplier      float64            `json:"risk_multiplier"`
	SentimentReturn     float64            `json:"expected_return_per_sentiment"`
	NewsImpact          float64            `json:"news_impact_multiplier"`
	MaxNewsBonus        float64            `json:"max_news_bonus"`
	LeverageCap         float64            `json:"dynamic_max_leverage"`
	DailyRiskLimit      float64            `json:"daily_risk_limit"`
	SourceWeights       map[string]float64 `json:"source_weights"`
}

// NeutralWeight 是未排名信号源的权重。
const NeutralWeight = 1.0

// Neutral 返回冷启动时的中性参数。
func Neutral() StrategyAdjustments {
	return StrategyAdjustments{
		ConfidenceThreshold: 0.3,
		EntryFactor:         1.0,
		SLFactor:            1.0,
		TPFactor:            1.0,
		RiskMultiplier:      1.0,
		SentimentReturn:     0.05,
		NewsImpact:          0.018,
		MaxNewsBonus:        0.06,
		LeverageCap:         20,
		DailyRiskLimit:      0.05,
		SourceWeights:       map[string]float64{},
	}
}

// Clone 深拷贝权重表。
func (s StrategyAdjustments) Clone() StrategyAdjustments {
	out := s
	out.SourceWeights = make(map[string]float64, len(s.SourceWeights))
	for k, v := range s.SourceWeights {
		out.SourceWeights[k] = v
	}
	return out
}

// SourceWeight 返回信号源的权重倍数，未知来源为 1.0。
func (s StrategyAdjustments) SourceWeight(name string) float64 {
	if w, ok := s.SourceWeights[name]; ok {
		return w
	}
	return NeutralWeight
}

// Sources 返回已排名的信号源（字母序）。
func (s StrategyAdjustments) Sources() []string {
	out := make([]string, 0, len(s.SourceWeights))
	for k := range s.SourceWeights {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Clamp 把 v 限制在区间内；NaN/Inf 先替换为 neutral。
func (r Range) Clamp(v, neutral float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = neutral
	}
	return math.Min(r.Max, math.Max(r.Min, v))
}

func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Bounds 是每个参数的安全区间。
type Bounds struct {
	ConfidenceThreshold Range
	EntryFactor         Range
	SLFactor            Range
	TPFactor            Range
	RiskMultiplier      Range
	SentimentReturn     Range
	NewsImpact          Range
	MaxNewsBonus        Range
	LeverageCap         Range
	DailyRiskLimit      Range
	SourceWeight        Range
}

func DefaultBounds() Bounds {
	return Bounds{
		ConfidenceThreshold: Range{0.2, 0.7},
		EntryFactor:         Range{0.7, 1.2},
		SLFactor:            Range{0.7, 1.6},
		TPFactor:            Range{0.5, 2.0},
		RiskMultiplier:      Range{0.5, 1.5},
		SentimentReturn:     Range{0.015, 0.08},
		NewsImpact:          Range{0.005, 0.03},
		MaxNewsBonus:        Range{0.02, 0.10},
		LeverageCap:         Range{3, 25},
		DailyRiskLimit:      Range{0.03, 0.07},
		SourceWeight:        Range{0.3, 1.5},
	}
}

// Clamp 无条件地把所有字段收回安全区间，是防止参数漂移的最后一道防线。
// withDefaults 把未设置（Min、Max 均为 0）的区间换成默认区间。
func (b Bounds) withDefaults() Bounds {
	def := DefaultBounds()
	pairs := []struct{ v, d *Range }{
		{&b.ConfidenceThreshold, &def.ConfidenceThreshold},
		{&b.EntryFactor, &def.EntryFactor},
		{&b.SLFactor, &def.SLFactor},
		{&b.TPFactor, &def.TPFactor},
		{&b.RiskMultiplier, &def.RiskMultiplier},
		{&b.SentimentReturn, &def.SentimentReturn},
		{&b.NewsImpact, &def.NewsImpact},
		{&b.MaxNewsBonus, &def.MaxNewsBonus},
		{&b.LeverageCap, &def.LeverageCap},
		{&b.DailyRiskLimit, &def.DailyRiskLimit},
		{&b.SourceWeight, &def.SourceWeight},
	}
	for _, p := range pairs {
		if p.v.Min == 0 && p.v.Max == 0 {
			*p.v = *p.d
		}
	}
	return b
}

func (b Bounds) Clamp(s StrategyAdjustments) StrategyAdjustments {
	n := Neutral()
	out := s.Clone()
	out.ConfidenceThreshold = b.ConfidenceThreshold.Clamp(s.ConfidenceThreshold, n.ConfidenceThreshold)
	out.EntryFactor = b.EntryFactor.Clamp(s.EntryFactor, n.EntryFactor)
	out.SLFactor = b.SLFactor.Clamp(s.SLFactor, n.SLFactor)
	out.TPFactor = b.TPFactor.Clamp(s.TPFactor, n.TPFactor)
	out.RiskMultiplier = b.RiskMultiplier.Clamp(s.RiskMultiplier, n.RiskMultiplier)
	out.SentimentReturn = b.SentimentReturn.Clamp(s.SentimentReturn, n.SentimentReturn)
	out.NewsImpact = b.NewsImpact.Clamp(s.NewsImpact, n.NewsImpact)
	out.MaxNewsBonus = b.MaxNewsBonus.Clamp(s.MaxNewsBonus, n.MaxNewsBonus)
	out.LeverageCap = b.LeverageCap.Clamp(s.LeverageCap, n.LeverageCap)
	out.DailyRiskLimit = b.DailyRiskLimit.Clamp(s.DailyRiskLimit, n.DailyRiskLimit)
	for k, v := range out.SourceWeights {
		out.SourceWeights[k] = b.SourceWeight.Clamp(v, NeutralWeight)
	}
	return out
}

// Within 报告所有字段是否都在区间内。
func (b Bounds) Within(s StrategyAdjustments) bool {
	checks := []struct {
		r Range
		v float64
	}{
		{b.ConfidenceThreshold, s.ConfidenceThreshold},
		{b.EntryFactor, s.EntryFactor},
		{b.SLFactor, s.SLFactor},
		{b.TPFactor, s.TPFactor},
		{b.RiskMultiplier, s.RiskMultiplier},
		{b.SentimentReturn, s.SentimentReturn},
		{b.NewsImpact, s.NewsImpact},
		{b.MaxNewsBonus, s.MaxNewsBonus},
		{b.LeverageCap, s.LeverageCap},
		{b.DailyRiskLimit, s.DailyRiskLimit},
	}
	for _, c := range checks {
		if !c.r.Contains(c.v) {
			return false
		}
	}
	for _, w := range s.SourceWeights {
		if !b.SourceWeight.Contains(w) {
			return false
		}
	}
	return true
}
