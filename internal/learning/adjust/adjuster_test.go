package adjust

import (
	"fmt"
	"math"
	"testing"

	"tradeloop/internal/learning/metrics"
	"tradeloop/internal/learning/outcome"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trade struct {
	cat    outcome.Category
	profit float64
}

func build(trades ...trade) *metrics.PrecisionMetrics {
	agg := metrics.NewAggregator(metrics.DefaultConfig())
	m := metrics.New()
	for i, tr := range trades {
		agg.Ingest(&m, outcome.TradeOutcome{
			TradeID:           fmt.Sprint(i),
			Direction:         outcome.Long,
			Category:          tr.cat,
			EntryReached:      tr.cat != outcome.EntryNotReached,
			Profit:            tr.profit,
			BestFavorableMove: 0.02,
			TargetDistance:    0.02,
		})
	}
	return &m
}

func repeat(n int, tr trade) []trade {
	out := make([]trade, n)
	for i := range out {
		out[i] = tr
	}
	return out
}

func newTestAdjuster() *Adjuster {
	return NewAdjuster(DefaultRules(), DefaultBounds())
}

func TestRecompute_ColdStartOnlyClamps(t *testing.T) {
	a := newTestAdjuster()
	m := build(repeat(9, trade{outcome.SLHit, -0.02})...)
	cur := Neutral()
	cur.SLFactor = 9
	got := a.Recompute(m, cur)
	assert.Equal(t, 1.6, got.SLFactor)
	assert.Equal(t, cur.ConfidenceThreshold, got.ConfidenceThreshold)
}

func TestRecompute_SLHitTierWidensByExactStep(t *testing.T) {
	a := newTestAdjuster()
	trades := append(repeat(7, trade{outcome.TPHit, 0.01}), repeat(3, trade{outcome.SLHit, -0.01})...)
	m := build(trades...)
	require.InDelta(t, 0.30, m.CategoryRate(outcome.SLHit, 0), 1e-12)

	got := a.Recompute(m, Neutral())
	assert.InDelta(t, 1.10, got.SLFactor, 1e-12)

	cur := Neutral()
	cur.SLFactor = 1.55
	got = a.Recompute(m, cur)
	assert.Equal(t, 1.6, got.SLFactor, "clamped to max")
}

func TestRecompute_SLMidTierAndTighten(t *testing.T) {
	a := newTestAdjuster()
	trades := append(repeat(8, trade{outcome.TPHit, 0.01}), repeat(2, trade{outcome.SLHit, -0.01})...)
	got := a.Recompute(build(trades...), Neutral())
	assert.InDelta(t, 1.05, got.SLFactor, 1e-12)

	clean := build(repeat(12, trade{outcome.TPHit, 0.01})...)
	cur := Neutral()
	cur.SLFactor = 1.02
	got = a.Recompute(clean, cur)
	assert.Equal(t, 1.0, got.SLFactor, "tightening stops at neutral")
	got = a.Recompute(clean, got)
	assert.Equal(t, 1.0, got.SLFactor)
}

func TestRecompute_EntryFactor(t *testing.T) {
	a := newTestAdjuster()
	trades := append(repeat(7, trade{outcome.TPHit, 0.01}), repeat(3, trade{outcome.EntryNotReached, 0})...)
	got := a.Recompute(build(trades...), Neutral())
	assert.InDelta(t, 0.90, got.EntryFactor, 1e-12)

	trades = append(repeat(8, trade{outcome.TPHit, 0.01}), repeat(2, trade{outcome.EntryNotReached, 0})...)
	got = a.Recompute(build(trades...), Neutral())
	assert.InDelta(t, 0.95, got.EntryFactor, 1e-12)

	clean := build(repeat(20, trade{outcome.TPHit, 0.01})...)
	cur := Neutral()
	cur.EntryFactor = 0.99
	got = a.Recompute(clean, cur)
	assert.Equal(t, 1.0, got.EntryFactor, "recovery never exceeds neutral")
}

func TestRecompute_Confidence(t *testing.T) {
	a := newTestAdjuster()
	cases := []struct {
		name string
		wins int
		want float64
	}{
		{"severe losses", 2, 0.38},
		{"losing", 4, 0.35},
		{"neutral band", 5, 0.30},
		{"winning", 6, 0.28},
		{"excellent", 7, 0.27},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// 亏损在前，避免触发连亏加成
			trades := append(repeat(10-tc.wins, trade{outcome.SLHit, -0.01}), repeat(tc.wins, trade{outcome.TPHit, 0.01})...)
			got := a.Recompute(build(trades...), Neutral())
			assert.InDelta(t, tc.want, got.ConfidenceThreshold, 1e-12)
		})
	}
	t.Run("loss streak adds a bump", func(t *testing.T) {
		trades := append(repeat(7, trade{outcome.TPHit, 0.01}), repeat(3, trade{outcome.SLHit, -0.01})...)
		got := a.Recompute(build(trades...), Neutral())
		assert.InDelta(t, 0.30-0.03+0.05, got.ConfidenceThreshold, 1e-12)
	})
}

func TestRecompute_RiskMultiplier(t *testing.T) {
	a := newTestAdjuster()
	calm := build(repeat(10, trade{outcome.TPHit, 0.01})...)
	assert.Equal(t, 1.1, a.Recompute(calm, Neutral()).RiskMultiplier)

	var wild []trade
	for i := 0; i < 10; i++ {
		p := 0.3
		if i%2 == 0 {
			p = -0.3
		}
		wild = append(wild, trade{outcome.TPHit, p})
	}
	assert.Equal(t, 0.7, a.Recompute(build(wild...), Neutral()).RiskMultiplier)
}

func TestRecompute_TPFactor(t *testing.T) {
	a := newTestAdjuster()
	m := build(repeat(10, trade{outcome.TPNotReached, 0.005})...)
	m.TPPrecision = []float64{0.5, 0.5, 0.5}
	m.AvgTPOvershoot = 0.5
	assert.InDelta(t, 0.6, a.Recompute(m, Neutral()).TPFactor, 1e-12)

	m.TPPrecision = []float64{0.8}
	assert.InDelta(t, 0.95, a.Recompute(m, Neutral()).TPFactor, 1e-12)

	m.TPPrecision = []float64{1.5}
	assert.InDelta(t, 1.05, a.Recompute(m, Neutral()).TPFactor, 1e-12)

	m.TPPrecision = []float64{1.0}
	assert.Equal(t, 1.0, a.Recompute(m, Neutral()).TPFactor)
}

func TestRecompute_NudgesLimits(t *testing.T) {
	a := newTestAdjuster()
	poor := build(append(repeat(7, trade{outcome.SLHit, -0.01}), repeat(3, trade{outcome.TPHit, 0.01})...)...)
	got := a.Recompute(poor, Neutral())
	assert.InDelta(t, 19.0, got.LeverageCap, 1e-9)
	assert.InDelta(t, 0.0475, got.DailyRiskLimit, 1e-12)

	great := build(repeat(10, trade{outcome.TPHit, 0.01})...)
	got = a.Recompute(great, Neutral())
	assert.InDelta(t, 21.0, got.LeverageCap, 1e-9)
}

func TestRecompute_ConvergesWithinBounds(t *testing.T) {
	a := newTestAdjuster()
	fixtures := map[string]*metrics.PrecisionMetrics{
		"all losses": build(repeat(30, trade{outcome.SLHit, -0.2})...),
		"all wins":   build(repeat(30, trade{outcome.TPHit, 0.01})...),
		"missed":     build(repeat(30, trade{outcome.EntryNotReached, 0})...),
	}
	for name, m := range fixtures {
		t.Run(name, func(t *testing.T) {
			cur := Neutral()
			var prev StrategyAdjustments
			for i := 0; i < 200; i++ {
				prev = cur
				cur = a.Recompute(m, cur)
				require.True(t, a.Bounds().Within(cur), "iteration %d escaped bounds: %+v", i, cur)
			}
			assert.Equal(t, prev, cur, "repeated recompute reaches a fixed point")
		})
	}
}

func TestBoundsClamp_NonFinite(t *testing.T) {
	b := DefaultBounds()
	s := Neutral()
	s.ConfidenceThreshold = math.NaN()
	s.LeverageCap = math.Inf(1)
	s.RiskMultiplier = -3
	s.SourceWeights["rsi"] = math.NaN()
	s.SourceWeights["news"] = 9

	got := b.Clamp(s)
	assert.Equal(t, 0.3, got.ConfidenceThreshold)
	assert.Equal(t, 20.0, got.LeverageCap)
	assert.Equal(t, 0.5, got.RiskMultiplier)
	assert.Equal(t, 1.0, got.SourceWeights["rsi"])
	assert.Equal(t, 1.5, got.SourceWeights["news"])
	assert.True(t, b.Within(got))
	assert.True(t, math.IsNaN(s.SourceWeights["rsi"]), "input is not mutated")
}

func TestRerank_ReplacesWeightTable(t *testing.T) {
	a := newTestAdjuster()
	m := metrics.New()
	m.Sources = map[string]metrics.SourceTally{
		"rsi":  {Correct: 7, Total: 10},
		"macd": {Correct: 6, Total: 10},
		"ema":  {Correct: 5, Total: 10},
		"news": {Correct: 4, Total: 10},
		"obv":  {Correct: 1, Total: 10},
	}
	cur := Neutral()
	cur.SourceWeights["stale"] = 1.5

	got := a.Rerank(&m, cur)
	assert.Equal(t, map[string]float64{"rsi": 1.5, "macd": 1.2, "ema": 1.0, "news": 0.7, "obv": 0.3}, got.SourceWeights)
	assert.Equal(t, 1.0, got.SourceWeight("stale"))
	assert.Equal(t, 1.5, cur.SourceWeights["stale"], "current is not mutated")
}

func TestRerankDue(t *testing.T) {
	a := newTestAdjuster()
	m := metrics.New()
	assert.False(t, a.RerankDue(&m))
	m.TotalTrades = 20
	assert.True(t, a.RerankDue(&m))
	m.TotalTrades = 21
	assert.False(t, a.RerankDue(&m))
}

func TestRecompute_RuleOverrides(t *testing.T) {
	m := build(repeat(10, trade{outcome.SLHit, -0.02})...)

	base := newTestAdjuster().Recompute(m, Neutral())
	assert.InDelta(t, 0.43, base.ConfidenceThreshold, 1e-9)
	assert.InDelta(t, 1.0, base.RiskMultiplier, 1e-9)
	assert.InDelta(t, 1.0, base.TPFactor, 1e-9)

	rules := DefaultRules()
	rules.ConfSevereStep = 0.15
	rules.RiskNeutral = 0.9
	rules.TPPrecisionHigh = 0.95
	got := NewAdjuster(rules, DefaultBounds()).Recompute(m, Neutral())
	assert.InDelta(t, 0.50, got.ConfidenceThreshold, 1e-9)
	assert.InDelta(t, 0.9, got.RiskMultiplier, 1e-9)
	assert.InDelta(t, 1.05, got.TPFactor, 1e-9)
}

func TestNewAdjuster_ZeroConfigFallsBack(t *testing.T) {
	a := NewAdjuster(Rules{}, Bounds{})
	assert.Equal(t, DefaultBounds(), a.Bounds())

	got := a.Recompute(build(), Neutral())
	assert.Equal(t, 0.3, got.ConfidenceThreshold)
	assert.Equal(t, 20.0, got.LeverageCap)

	m := build(repeat(10, trade{outcome.SLHit, -0.02})...)
	withDefaults := newTestAdjuster().Recompute(m, Neutral())
	assert.Equal(t, withDefaults, a.Recompute(m, Neutral()))

	partial := Bounds{LeverageCap: Range{Min: 2, Max: 10}}
	b := NewAdjuster(DefaultRules(), partial).Bounds()
	assert.Equal(t, Range{Min: 2, Max: 10}, b.LeverageCap)
	assert.Equal(t, DefaultBounds().ConfidenceThreshold, b.ConfidenceThreshold)
}
