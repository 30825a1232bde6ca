package metrics

import (
	"math"
	"time"

	"tradeloop/internal/learning/outcome"
)

// Entry 是历史队列中保存的单笔结果摘要。
type Entry struct {
	TradeID      string           `json:"trade_id"`
	Symbol       string           `json:"symbol"`
	Category     outcome.Category `json:"category"`
	Profit       float64          `json:"profit"`
	EntryReached bool             `json:"entry_reached"`
	ClosedAt     time.Time        `json:"closed_at"`
}

// SourceTally 统计单个信号源的表现。
type SourceTally struct {
	Correct          int     `json:"correct"`
	Wrong            int     `json:"wrong"`
	Total            int     `json:"total"`
	CumulativeProfit float64 `json:"cumulative_profit"`
}

// Accuracy 在无样本时返回 0.5（中性）。
func (s SourceTally) Accuracy() float64 {
	if s.Total == 0 {
		return 0.5
	}
	return float64(s.Correct) / float64(s.Total)
}

func (s SourceTally) AvgProfit() float64 {
	if s.Total == 0 {
		return 0
	}
	return s.CumulativeProfit / float64(s.Total)
}

type Streaks struct {
	CurrentWin  int `json:"current_win"`
	MaxWin      int `json:"max_win"`
	CurrentLoss int `json:"current_loss"`
	MaxLoss     int `json:"max_loss"`
}

// PrecisionMetrics 是学习循环的全部统计状态，只由 Aggregator 写入。
type PrecisionMetrics struct {
	History     []Entry                  `json:"history"`
	TotalTrades int                      `json:"total_trades"`
	Categories  map[outcome.Category]int `json:"categories"`
	// Direction 为 1/0 序列，只记录已入场的交易。
	Direction        []int                  `json:"direction_accuracy"`
	TPPrecision      []float64              `json:"tp_precision"`
	AvgTPOvershoot   float64                `json:"avg_tp_overshoot"`
	AvgFavorableMove float64                `json:"avg_favorable_move"`
	Sources          map[string]SourceTally `json:"sources"`
	Streaks          Streaks                `json:"streaks"`
}

// New 返回空的统计状态。
func New() PrecisionMetrics {
	return PrecisionMetrics{
		History:     []Entry{},
		Categories:  map[outcome.Category]int{},
		Direction:   []int{},
		TPPrecision: []float64{},
		Sources:     map[string]SourceTally{},
	}
}

// EnsureMaps 补齐从旧状态文件加载后可能缺失的集合字段。
func (m *PrecisionMetrics) EnsureMaps() {
	if m.History == nil {
		m.History = []Entry{}
	}
	if m.Categories == nil {
		m.Categories = map[outcome.Category]int{}
	}
	if m.Direction == nil {
		m.Direction = []int{}
	}
	if m.TPPrecision == nil {
		m.TPPrecision = []float64{}
	}
	if m.Sources == nil {
		m.Sources = map[string]SourceTally{}
	}
}

func tail[T any](s []T, n int) []T {
	if n <= 0 || n >= len(s) {
		return s
	}
	return s[len(s)-n:]
}

// Recent 返回最近 n 笔（n<=0 表示全部历史）。
func (m *PrecisionMetrics) Recent(n int) []Entry {
	return tail(m.History, n)
}

func (m *PrecisionMetrics) WinRate(n int) float64 {
	recent := m.Recent(n)
	if len(recent) == 0 {
		return 0
	}
	wins := 0
	for _, e := range recent {
		if e.Profit > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(recent))
}

func (m *PrecisionMetrics) AvgProfit(n int) float64 {
	recent := m.Recent(n)
	if len(recent) == 0 {
		return 0
	}
	sum := 0.0
	for _, e := range recent {
		sum += e.Profit
	}
	return sum / float64(len(recent))
}

// ProfitStdDev 为样本标准差；少于 2 笔时 ok=false。
func (m *PrecisionMetrics) ProfitStdDev(n int) (float64, bool) {
	recent := m.Recent(n)
	if len(recent) < 2 {
		return 0, false
	}
	mean := m.AvgProfit(n)
	var ss float64
	for _, e := range recent {
		ss += (e.Profit - mean) * (e.Profit - mean)
	}
	return math.Sqrt(ss / float64(len(recent)-1)), true
}

// CategoryRate 计算最近 n 笔中某分类的占比。
func (m *PrecisionMetrics) CategoryRate(cat outcome.Category, n int) float64 {
	recent := m.Recent(n)
	if len(recent) == 0 {
		return 0
	}
	hits := 0
	for _, e := range recent {
		if e.Category == cat {
			hits++
		}
	}
	return float64(hits) / float64(len(recent))
}

// DirectionAccuracy 无样本时返回 0.5。
func (m *PrecisionMetrics) DirectionAccuracy(n int) float64 {
	series := tail(m.Direction, n)
	if len(series) == 0 {
		return 0.5
	}
	sum := 0
	for _, v := range series {
		sum += v
	}
	return float64(sum) / float64(len(series))
}

func (m *PrecisionMetrics) AvgTPPrecision(n int) (float64, bool) {
	series := tail(m.TPPrecision, n)
	if len(series) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, v := range series {
		sum += v
	}
	return sum / float64(len(series)), true
}
