package store

import (
	"context"
	"errors"

	"tradeloop/internal/learning/outcome"
)

var (
	// ErrDuplicateTrade 表示同一 trade_id 已登记过。
	ErrDuplicateTrade = errors.New("trade already registered")
	ErrTradeNotFound  = errors.New("trade not found")
)

// TradeJournal 持久化待验证交易与已判定结果。
type TradeJournal interface {
	// RegisterTrade queues a trade for verification.
	RegisterTrade(ctx context.Context, trade outcome.Trade) error
	// ListPending returns queued trades, oldest first.
	ListPending(ctx context.Context, limit int) ([]outcome.Trade, error)
	// ClosePending removes a trade from the queue with its final category.
	ClosePending(ctx context.Context, tradeID string, category outcome.Category) error
	// RecordOutcome stores a classified outcome; re-recording the same trade is a no-op.
	RecordOutcome(ctx context.Context, o outcome.TradeOutcome) error
	// RecentOutcomes returns the newest outcomes first.
	RecentOutcomes(ctx context.Context, limit int) ([]outcome.TradeOutcome, error)
	// Close 关闭存储连接。
	Close() error
}
