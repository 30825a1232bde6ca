package metrics

import (
	"math"

	"tradeloop/internal/learning/outcome"
)

type Config struct {
	HistoryCap      int
	OvershootWeight float64
	FavorableWeight float64
}

func DefaultConfig() Config {
	return Config{HistoryCap: 50, OvershootWeight: 0.3, FavorableWeight: 0.2}
}

// Aggregator 把已判定的交易结果折叠进 PrecisionMetrics。
// 不做去重，也不加锁：同一份 PrecisionMetrics 只能有一个写入者。
type Aggregator struct {
	cfg Config
}

func NewAggregator(cfg Config) *Aggregator {
	def := DefaultConfig()
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = def.HistoryCap
	}
	if cfg.OvershootWeight <= 0 || cfg.OvershootWeight > 1 {
		cfg.OvershootWeight = def.OvershootWeight
	}
	if cfg.FavorableWeight <= 0 || cfg.FavorableWeight > 1 {
		cfg.FavorableWeight = def.FavorableWeight
	}
	return &Aggregator{cfg: cfg}
}

func (a *Aggregator) Ingest(m *PrecisionMetrics, o outcome.TradeOutcome) {
	m.EnsureMaps()
	o = o.Normalize()
	profit := finite(o.Profit)

	m.History = capped(append(m.History, Entry{
		TradeID:      o.TradeID,
		Symbol:       o.Symbol,
		Category:     o.Category,
		Profit:       profit,
		EntryReached: o.EntryReached,
		ClosedAt:     o.ClosedAt,
	}), a.cfg.HistoryCap)
	m.TotalTrades++
	if o.Category != "" {
		m.Categories[o.Category]++
	}

	if o.EntryReached {
		hit := 0
		if profit > 0 {
			hit = 1
		}
		m.Direction = capped(append(m.Direction, hit), a.cfg.HistoryCap)
		a.trackPrecision(m, o)
	}

	a.trackSources(m, o, profit)
	a.trackStreaks(m, profit)
}

// trackPrecision 更新止盈精度：precision = 最大有利波动 / 止盈距离。
func (a *Aggregator) trackPrecision(m *PrecisionMetrics, o outcome.TradeOutcome) {
	move := math.Abs(finite(o.BestFavorableMove))
	dist := math.Abs(finite(o.TargetDistance))
	if dist == 0 {
		return
	}
	precision := move / dist
	overshoot := math.Max(0, 1-precision)
	first := len(m.TPPrecision) == 0
	m.TPPrecision = capped(append(m.TPPrecision, precision), a.cfg.HistoryCap)
	if first {
		m.AvgTPOvershoot = overshoot
		m.AvgFavorableMove = move
		return
	}
	m.AvgTPOvershoot = ema(m.AvgTPOvershoot, overshoot, a.cfg.OvershootWeight)
	m.AvgFavorableMove = ema(m.AvgFavorableMove, move, a.cfg.FavorableWeight)
}

// trackSources 信号为 0 视为正确；否则信号与交易方向一致且盈利、或相反且未盈利时正确。
func (a *Aggregator) trackSources(m *PrecisionMetrics, o outcome.TradeOutcome, profit float64) {
	win := profit > 0
	for name, signal := range o.Signals {
		tally := m.Sources[name]
		agrees := signal*o.DirectionSign() > 0
		if signal == 0 || agrees == win {
			tally.Correct++
		} else {
			tally.Wrong++
		}
		tally.Total++
		tally.CumulativeProfit += profit
		m.Sources[name] = tally
	}
}

func (a *Aggregator) trackStreaks(m *PrecisionMetrics, profit float64) {
	s := &m.Streaks
	switch {
	case profit > 0:
		s.CurrentWin++
		s.CurrentLoss = 0
		if s.CurrentWin > s.MaxWin {
			s.MaxWin = s.CurrentWin
		}
	case profit < 0:
		s.CurrentLoss++
		s.CurrentWin = 0
		if s.CurrentLoss > s.MaxLoss {
			s.MaxLoss = s.CurrentLoss
		}
	}
}

func ema(prev, next, weight float64) float64 {
	return (1-weight)*prev + weight*next
}

func capped[T any](s []T, limit int) []T {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	out := make([]T, limit)
	copy(out, s[len(s)-limit:])
	return out
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
