package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tradeloop/internal/learning/adjust"
	"tradeloop/internal/learning/outcome"
	"tradeloop/internal/logger"
	"tradeloop/internal/scheduler"
)

// PriceSource 提供交易开仓以来的已收盘 K 线。
type PriceSource interface {
	PricePath(ctx context.Context, symbol string, from, to time.Time) (outcome.PricePath, error)
}

// PendingQueue 是交易日志中与校验相关的部分。
type PendingQueue interface {
	ListPending(ctx context.Context, limit int) ([]outcome.Trade, error)
	ClosePending(ctx context.Context, tradeID string, category outcome.Category) error
}

type Learner interface {
	LearnFromTrade(ctx context.Context, o outcome.TradeOutcome) (adjust.StrategyAdjustments, error)
}

type Config struct {
	PollInterval time.Duration
	// Offset 让轮询落在 K 线收盘之后，默认 5s。
	Offset    time.Duration
	BatchSize int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
	if c.Offset <= 0 || c.Offset >= c.PollInterval {
		c.Offset = 5 * time.Second
		if c.Offset >= c.PollInterval {
			c.Offset = 0
		}
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	return c
}

// PassResult 汇总一轮校验。
type PassResult struct {
	Checked  int `json:"checked"`
	Closed   int `json:"closed"`
	Deferred int `json:"deferred"`
	Failed   int `json:"failed"`
}

type Stats struct {
	Passes     int        `json:"passes"`
	Closed     int        `json:"closed"`
	Failed     int        `json:"failed"`
	LastPass   PassResult `json:"last_pass"`
	LastPassAt time.Time  `json:"last_pass_at"`
	LastError  string     `json:"last_error,omitempty"`
}

// Verifier 轮询待验证交易，判定结果后回灌学习器。
// 同一时刻只有一轮在执行，保证结果按顺序进入聚合器。
type Verifier struct {
	cfg     Config
	prices  PriceSource
	queue   PendingQueue
	learner Learner
	now     func() time.Time

	passMu sync.Mutex
	// learned 记录已学习但尚未成功出队的交易，避免重复学习。
	learned map[string]outcome.Category

	statsMu sync.Mutex
	stats   Stats
}

func NewVerifier(cfg Config, prices PriceSource, queue PendingQueue, learner Learner) (*Verifier, error) {
	if prices == nil || queue == nil || learner == nil {
		return nil, errors.New("verifier requires price source, queue and learner")
	}
	return &Verifier{
		cfg:     cfg.withDefaults(),
		prices:  prices,
		queue:   queue,
		learner: learner,
		now:     time.Now,
		learned: make(map[string]outcome.Category),
	}, nil
}

// Run 阻塞直到 ctx 结束。
func (v *Verifier) Run(ctx context.Context) error {
	sched := scheduler.NewAlignedScheduler("verifier", v.cfg.PollInterval, v.cfg.Offset)
	sched.RunImmediately = true
	err := sched.Run(ctx, func(ctx context.Context) { v.RunOnce(ctx) })
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RunOnce 执行一轮校验，单笔失败只记日志，留到下一轮重试。
func (v *Verifier) RunOnce(ctx context.Context) PassResult {
	v.passMu.Lock()
	defer v.passMu.Unlock()

	var res PassResult
	trades, err := v.queue.ListPending(ctx, v.cfg.BatchSize)
	if err != nil {
		logger.Warnf("verifier: list pending failed: %v", err)
		v.recordPass(res, err)
		return res
	}
	var lastErr error
	for _, t := range trades {
		if ctx.Err() != nil {
			break
		}
		res.Checked++
		closed, err := v.verify(ctx, t)
		switch {
		case err != nil:
			res.Failed++
			lastErr = err
			logger.Warnf("verifier: %s %s: %v", t.ID, t.Symbol, err)
		case closed:
			res.Closed++
		default:
			res.Deferred++
		}
	}
	if res.Checked > 0 {
		logger.Debugf("verifier: pass checked=%d closed=%d deferred=%d failed=%d",
			res.Checked, res.Closed, res.Deferred, res.Failed)
	}
	v.recordPass(res, lastErr)
	return res
}

func (v *Verifier) verify(ctx context.Context, t outcome.Trade) (bool, error) {
	if cat, ok := v.learned[t.ID]; ok {
		return true, v.dequeue(ctx, t.ID, cat)
	}
	if err := t.Validate(); err != nil {
		logger.Warnf("verifier: drop invalid trade %s: %v", t.ID, err)
		return true, v.dequeue(ctx, t.ID, outcome.Pending)
	}
	now := v.now().UTC()
	to := now
	if deadline := t.Deadline(); deadline.Before(to) {
		to = deadline
	}
	if !to.After(t.OpenedAt) {
		return false, nil
	}
	path, err := v.prices.PricePath(ctx, t.Symbol, t.OpenedAt, to)
	if err != nil {
		return false, fmt.Errorf("fetch price path: %w", err)
	}
	cat := outcome.Classify(t, path, now)
	if !cat.Closed() {
		return false, nil
	}
	o, err := outcome.BuildOutcome(t, path, cat, now)
	if err != nil {
		return false, err
	}
	if _, err := v.learner.LearnFromTrade(ctx, o); err != nil {
		return false, fmt.Errorf("learn: %w", err)
	}
	v.learned[t.ID] = cat
	logger.Infof("verifier: %s %s %s closed as %s profit=%.4f", t.ID, t.Symbol, t.Direction, cat, o.Profit)
	return true, v.dequeue(ctx, t.ID, cat)
}

func (v *Verifier) dequeue(ctx context.Context, id string, cat outcome.Category) error {
	if err := v.queue.ClosePending(ctx, id, cat); err != nil {
		return fmt.Errorf("close pending: %w", err)
	}
	delete(v.learned, id)
	return nil
}

func (v *Verifier) recordPass(res PassResult, err error) {
	v.statsMu.Lock()
	defer v.statsMu.Unlock()
	v.stats.Passes++
	v.stats.Closed += res.Closed
	v.stats.Failed += res.Failed
	v.stats.LastPass = res
	v.stats.LastPassAt = v.now().UTC()
	if err != nil {
		v.stats.LastError = err.Error()
	}
}

func (v *Verifier) Stats() Stats {
	v.statsMu.Lock()
	defer v.statsMu.Unlock()
	return v.stats
}
