package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tradeloop/internal/learning/outcome"
	"tradeloop/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := NewGormStore(filepath.Join(t.TempDir(), "data", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func longTrade(id string, opened time.Time) outcome.Trade {
	return outcome.Trade{
		ID:        id,
		Symbol:    "btcusdt",
		Direction: outcome.Long,
		Entry:     decimal.RequireFromString("100.25"),
		Stop:      decimal.RequireFromString("98"),
		Target:    decimal.RequireFromString("104.5"),
		OpenedAt:  opened,
		Ceiling:   90 * time.Minute,
		Signals:   map[string]int{"ema": 1, "news": -1},
	}
}

func TestNewGormStore_RequiresPath(t *testing.T) {
	_, err := NewGormStore("  ")
	assert.Error(t, err)
}

func TestGormStore_PendingLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	opened := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, s.RegisterTrade(ctx, longTrade("t-2", opened.Add(time.Minute))))
	require.NoError(t, s.RegisterTrade(ctx, longTrade("t-1", opened)))

	err := s.RegisterTrade(ctx, longTrade("t-1", opened))
	assert.ErrorIs(t, err, store.ErrDuplicateTrade)

	bad := longTrade("t-3", opened)
	bad.Stop = decimal.RequireFromString("101")
	assert.Error(t, s.RegisterTrade(ctx, bad))

	pending, err := s.ListPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	got := pending[0]
	assert.Equal(t, "t-1", got.ID)
	assert.Equal(t, "BTCUSDT", got.Symbol)
	assert.Equal(t, outcome.Long, got.Direction)
	assert.True(t, got.Entry.Equal(decimal.RequireFromString("100.25")))
	assert.True(t, got.Target.Equal(decimal.RequireFromString("104.5")))
	assert.Equal(t, opened, got.OpenedAt)
	assert.Equal(t, 90*time.Minute, got.Ceiling)
	assert.Equal(t, map[string]int{"ema": 1, "news": -1}, got.Signals)

	n, err := s.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.ClosePending(ctx, "t-1", outcome.TPHit))
	assert.ErrorIs(t, s.ClosePending(ctx, "missing", outcome.TPHit), store.ErrTradeNotFound)

	pending, err = s.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "t-2", pending[0].ID)
}

func TestGormStore_Outcomes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	closed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first := outcome.TradeOutcome{
		TradeID:      "t-1",
		Symbol:       "ETHUSDT",
		Direction:    outcome.Short,
		EntryPrice:   decimal.NewFromInt(2000),
		StopPrice:    decimal.NewFromInt(2050),
		TargetPrice:  decimal.NewFromInt(1900),
		EntryReached: true,
		HighPrice:    decimal.NewFromInt(2010),
		LowPrice:     decimal.NewFromInt(1890),
		ExitPrice:    decimal.NewFromInt(1900),
		Profit:       0.05,
		Category:     outcome.TPHit,
		Signals:      map[string]int{"rsi": -1},
		ClosedAt:     closed,
	}
	second := first
	second.TradeID = "t-2"
	second.Category = outcome.SLHit
	second.Profit = -0.025
	second.ClosedAt = closed.Add(time.Hour)
	second.Signals = nil

	require.NoError(t, s.RecordOutcome(ctx, first))
	require.NoError(t, s.RecordOutcome(ctx, second))
	// 重复记录同一笔交易不报错也不覆盖
	dup := first
	dup.Profit = 9
	require.NoError(t, s.RecordOutcome(ctx, dup))
	assert.Error(t, s.RecordOutcome(ctx, outcome.TradeOutcome{}))

	got, err := s.RecentOutcomes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t-2", got[0].TradeID)
	assert.Nil(t, got[0].Signals)
	assert.Equal(t, outcome.SLHit, got[0].Category)

	assert.Equal(t, "t-1", got[1].TradeID)
	assert.InDelta(t, 0.05, got[1].Profit, 1e-12)
	assert.True(t, got[1].ExitPrice.Equal(decimal.NewFromInt(1900)))
	assert.Equal(t, closed, got[1].ClosedAt)
	assert.Equal(t, map[string]int{"rsi": -1}, got[1].Signals)
}
