package learning

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"tradeloop/internal/learning/adjust"
	"tradeloop/internal/learning/metrics"
	"tradeloop/internal/learning/outcome"
	"tradeloop/internal/learning/state"
	"tradeloop/internal/logger"
)

// Store 持久化学习状态；Load 必须总是返回可用状态。
type Store interface {
	Load() state.LearningState
	Save(state.LearningState) error
}

// Journal 记录每一笔被学习的结果，失败不影响学习。
type Journal interface {
	RecordOutcome(ctx context.Context, o outcome.TradeOutcome) error
}

// ErrInvalidOutcome 表示传入结果的分类或方向无法识别。
var ErrInvalidOutcome = errors.New("invalid trade outcome")

type Config struct {
	Metrics metrics.Config
	Rules   adjust.Rules
	Bounds  adjust.Bounds
}

// Learner 串起 聚合 -> 调参 -> 重排 -> 持久化 这一反馈循环。
// 聚合器和调参器本身是单写者设计，这里用互斥锁串行化 HTTP 与验证器两个入口。
type Learner struct {
	mu      sync.Mutex
	agg     *metrics.Aggregator
	adj     *adjust.Adjuster
	store   Store
	journal Journal
	st      state.LearningState
	now     func() time.Time
}

type Option func(*Learner)

func WithJournal(j Journal) Option {
	return func(l *Learner) { l.journal = j }
}

func WithClock(now func() time.Time) Option {
	return func(l *Learner) {
		if now != nil {
			l.now = now
		}
	}
}

func New(cfg Config, store Store, opts ...Option) (*Learner, error) {
	if store == nil {
		return nil, errors.New("learner requires a state store")
	}
	l := &Learner{
		agg:   metrics.NewAggregator(cfg.Metrics),
		adj:   adjust.NewAdjuster(cfg.Rules, cfg.Bounds),
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	l.st = store.Load()
	l.st.Adjustments = l.adj.Bounds().Clamp(l.st.Adjustments)
	logger.Infof("learning: loaded state with %d trades (history %d)", l.st.Metrics.TotalTrades, len(l.st.Metrics.History))
	return l, nil
}

// LearnFromTrade 消费一笔已判定的交易结果并返回更新后的参数。
// 持久化失败只记录日志，内存中的学习结果仍然生效。
func (l *Learner) LearnFromTrade(ctx context.Context, o outcome.TradeOutcome) (adjust.StrategyAdjustments, error) {
	o, err := o.Canonical()
	if err != nil {
		return adjust.StrategyAdjustments{}, fmt.Errorf("%w: %v", ErrInvalidOutcome, err)
	}
	if o.ClosedAt.IsZero() {
		o.ClosedAt = l.now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	m := &l.st.Metrics
	l.agg.Ingest(m, o)
	if l.adj.Ready(m) {
		l.st.Adjustments = l.adj.Recompute(m, l.st.Adjustments)
	}
	if l.adj.RerankDue(m) {
		l.st.Adjustments = l.adj.Rerank(m, l.st.Adjustments)
		now := l.now()
		l.st.LastOptimization = &now
		logger.Infof("learning: re-ranked %d signal sources after %d trades", len(l.st.Adjustments.SourceWeights), m.TotalTrades)
	}

	if l.journal != nil {
		if err := l.journal.RecordOutcome(ctx, o); err != nil {
			logger.Warnf("learning: journal record %s failed: %v", o.TradeID, err)
		}
	}
	if err := l.store.Save(l.st); err != nil {
		logger.Warnf("learning: persist state failed, continuing in memory: %v", err)
	}
	adj := l.st.Adjustments
	logger.Infof("learning: %s %s profit=%.4f win_rate=%.2f conf=%.2f sl=%.2f tp=%.2f entry=%.2f risk=%.2f",
		o.TradeID, o.Category, o.Profit, m.WinRate(0), adj.ConfidenceThreshold, adj.SLFactor, adj.TPFactor, adj.EntryFactor, adj.RiskMultiplier)
	return adj.Clone(), nil
}

// AdjustedParameters 返回当前参数的副本。
func (l *Learner) AdjustedParameters() adjust.StrategyAdjustments {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.st.Adjustments.Clone()
}

func (l *Learner) SourceWeight(name string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.st.Adjustments.SourceWeight(name)
}

type SourceRank struct {
	Name      string  `json:"name"`
	Accuracy  float64 `json:"accuracy"`
	Trades    int     `json:"trades"`
	AvgProfit float64 `json:"avg_profit"`
	Weight    float64 `json:"weight"`
}

// PerformanceSummary 汇总近期表现与当前参数。
type PerformanceSummary struct {
	TotalTrades       int                          `json:"total_trades"`
	HistoryTrades     int                          `json:"history_trades"`
	RecentTrades      int                          `json:"recent_trades"`
	WinRate           float64                      `json:"win_rate"`
	AvgProfit         float64                      `json:"avg_profit"`
	DirectionAccuracy float64                      `json:"direction_accuracy"`
	TPPrecision       *float64                     `json:"tp_precision,omitempty"`
	AvgTPOvershoot    float64                      `json:"avg_tp_overshoot"`
	AvgFavorableMove  float64                      `json:"avg_favorable_move"`
	CategoryRates     map[outcome.Category]float64 `json:"category_rates"`
	Streaks           metrics.Streaks              `json:"streaks"`
	BestSources       []SourceRank                 `json:"best_sources"`
	Adjustments       adjust.StrategyAdjustments   `json:"adjustments"`
	LastOptimization  *time.Time                   `json:"last_optimization,omitempty"`
}

const recentWindow = 20

func (l *Learner) Summary() PerformanceSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := &l.st.Metrics
	sum := PerformanceSummary{
		TotalTrades:       m.TotalTrades,
		HistoryTrades:     len(m.History),
		RecentTrades:      len(m.Recent(recentWindow)),
		WinRate:           m.WinRate(recentWindow),
		AvgProfit:         m.AvgProfit(recentWindow),
		DirectionAccuracy: m.DirectionAccuracy(recentWindow),
		AvgTPOvershoot:    m.AvgTPOvershoot,
		AvgFavorableMove:  m.AvgFavorableMove,
		CategoryRates:     make(map[outcome.Category]float64, len(outcome.Categories)),
		Streaks:           m.Streaks,
		Adjustments:       l.st.Adjustments.Clone(),
		LastOptimization:  l.st.LastOptimization,
	}
	if p, ok := m.AvgTPPrecision(recentWindow); ok {
		sum.TPPrecision = &p
	}
	for _, cat := range outcome.Categories {
		sum.CategoryRates[cat] = m.CategoryRate(cat, 0)
	}
	for name, tally := range m.Sources {
		sum.BestSources = append(sum.BestSources, SourceRank{
			Name:      name,
			Accuracy:  tally.Accuracy(),
			Trades:    tally.Total,
			AvgProfit: tally.AvgProfit(),
			Weight:    l.st.Adjustments.SourceWeight(name),
		})
	}
	sort.Slice(sum.BestSources, func(i, j int) bool {
		a, b := sum.BestSources[i], sum.BestSources[j]
		if a.Accuracy != b.Accuracy {
			return a.Accuracy > b.Accuracy
		}
		return a.Name < b.Name
	})
	if len(sum.BestSources) > 5 {
		sum.BestSources = sum.BestSources[:5]
	}
	return sum
}
