package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradeloop/internal/learning/adjust"
	"tradeloop/internal/learning/outcome"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPrices struct{ mock.Mock }

func (m *MockPrices) PricePath(ctx context.Context, symbol string, from, to time.Time) (outcome.PricePath, error) {
	args := m.Called(ctx, symbol, from, to)
	path, _ := args.Get(0).(outcome.PricePath)
	return path, args.Error(1)
}

type MockQueue struct{ mock.Mock }

func (m *MockQueue) ListPending(ctx context.Context, limit int) ([]outcome.Trade, error) {
	args := m.Called(ctx, limit)
	trades, _ := args.Get(0).([]outcome.Trade)
	return trades, args.Error(1)
}

func (m *MockQueue) ClosePending(ctx context.Context, tradeID string, category outcome.Category) error {
	return m.Called(ctx, tradeID, category).Error(0)
}

type MockLearner struct{ mock.Mock }

func (m *MockLearner) LearnFromTrade(ctx context.Context, o outcome.TradeOutcome) (adjust.StrategyAdjustments, error) {
	args := m.Called(ctx, o)
	return adjust.Neutral(), args.Error(0)
}

var opened = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func trade(id string) outcome.Trade {
	return outcome.Trade{
		ID:        id,
		Symbol:    "BTCUSDT",
		Direction: outcome.Long,
		Entry:     d("100"),
		Stop:      d("98"),
		Target:    d("104"),
		OpenedAt:  opened,
		Signals:   map[string]int{"ema": 1},
	}
}

func candle(min int, high, low, close string) outcome.PricePoint {
	return outcome.PricePoint{Time: opened.Add(time.Duration(min) * time.Minute), High: d(high), Low: d(low), Close: d(close)}
}

func newTestVerifier(t *testing.T, now time.Time) (*Verifier, *MockPrices, *MockQueue, *MockLearner) {
	t.Helper()
	prices, queue, learner := &MockPrices{}, &MockQueue{}, &MockLearner{}
	v, err := NewVerifier(Config{}, prices, queue, learner)
	require.NoError(t, err)
	v.now = func() time.Time { return now }
	return v, prices, queue, learner
}

func TestVerifier_RunOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("tp hit closes and learns", func(t *testing.T) {
		now := opened.Add(10 * time.Minute)
		v, prices, queue, learner := newTestVerifier(t, now)
		queue.On("ListPending", ctx, 200).Return([]outcome.Trade{trade("a")}, nil)
		prices.On("PricePath", ctx, "BTCUSDT", opened, now).Return(outcome.PricePath{
			candle(0, "100.5", "99.5", "100.2"),
			candle(1, "104.2", "100.1", "104"),
		}, nil)
		learner.On("LearnFromTrade", ctx, mock.MatchedBy(func(o outcome.TradeOutcome) bool {
			return o.TradeID == "a" && o.Category == outcome.TPHit && o.EntryReached && o.Profit > 0.039
		})).Return(nil).Once()
		queue.On("ClosePending", ctx, "a", outcome.TPHit).Return(nil).Once()

		res := v.RunOnce(ctx)
		assert.Equal(t, PassResult{Checked: 1, Closed: 1}, res)
		assert.Equal(t, 1, v.Stats().Closed)
		mock.AssertExpectationsForObjects(t, prices, queue, learner)
	})

	t.Run("pending trade stays queued", func(t *testing.T) {
		now := opened.Add(10 * time.Minute)
		v, prices, queue, learner := newTestVerifier(t, now)
		queue.On("ListPending", ctx, 200).Return([]outcome.Trade{trade("b")}, nil)
		prices.On("PricePath", ctx, "BTCUSDT", opened, now).Return(outcome.PricePath{
			candle(0, "100.5", "99.5", "101"),
		}, nil)

		res := v.RunOnce(ctx)
		assert.Equal(t, PassResult{Checked: 1, Deferred: 1}, res)
		learner.AssertNotCalled(t, "LearnFromTrade", mock.Anything, mock.Anything)
		queue.AssertNotCalled(t, "ClosePending", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("path is capped at the deadline", func(t *testing.T) {
		now := opened.Add(3 * time.Hour)
		v, prices, queue, learner := newTestVerifier(t, now)
		queue.On("ListPending", ctx, 200).Return([]outcome.Trade{trade("c")}, nil)
		prices.On("PricePath", ctx, "BTCUSDT", opened, opened.Add(outcome.DefaultCeiling)).Return(outcome.PricePath{
			candle(0, "101", "100.5", "101"),
		}, nil)
		learner.On("LearnFromTrade", ctx, mock.MatchedBy(func(o outcome.TradeOutcome) bool {
			return o.Category == outcome.EntryNotReached && o.Profit == 0
		})).Return(nil)
		queue.On("ClosePending", ctx, "c", outcome.EntryNotReached).Return(nil)

		res := v.RunOnce(ctx)
		assert.Equal(t, 1, res.Closed)
		mock.AssertExpectationsForObjects(t, prices, queue, learner)
	})

	t.Run("price failure is retried next pass", func(t *testing.T) {
		now := opened.Add(10 * time.Minute)
		v, prices, queue, learner := newTestVerifier(t, now)
		queue.On("ListPending", ctx, 200).Return([]outcome.Trade{trade("d"), trade("e")}, nil)
		prices.On("PricePath", ctx, "BTCUSDT", opened, now).Return(nil, errors.New("binance down"))

		res := v.RunOnce(ctx)
		assert.Equal(t, PassResult{Checked: 2, Failed: 2}, res)
		assert.Contains(t, v.Stats().LastError, "binance down")
		learner.AssertNotCalled(t, "LearnFromTrade", mock.Anything, mock.Anything)
	})

	t.Run("dequeue failure does not learn twice", func(t *testing.T) {
		now := opened.Add(10 * time.Minute)
		v, prices, queue, learner := newTestVerifier(t, now)
		queue.On("ListPending", ctx, 200).Return([]outcome.Trade{trade("f")}, nil)
		prices.On("PricePath", ctx, "BTCUSDT", opened, now).Return(outcome.PricePath{
			candle(0, "100.5", "97", "97.5"),
		}, nil)
		learner.On("LearnFromTrade", ctx, mock.Anything).Return(nil).Once()
		queue.On("ClosePending", ctx, "f", outcome.SLHit).Return(errors.New("database is locked")).Once()
		queue.On("ClosePending", ctx, "f", outcome.SLHit).Return(nil).Once()

		first := v.RunOnce(ctx)
		assert.Equal(t, 1, first.Failed)
		second := v.RunOnce(ctx)
		assert.Equal(t, 1, second.Closed)
		learner.AssertNumberOfCalls(t, "LearnFromTrade", 1)
		prices.AssertNumberOfCalls(t, "PricePath", 1)
	})

	t.Run("invalid trade is dropped", func(t *testing.T) {
		v, _, queue, learner := newTestVerifier(t, opened.Add(time.Minute))
		bad := trade("g")
		bad.Target = d("90")
		queue.On("ListPending", ctx, 200).Return([]outcome.Trade{bad}, nil)
		queue.On("ClosePending", ctx, "g", outcome.Pending).Return(nil)

		res := v.RunOnce(ctx)
		assert.Equal(t, 1, res.Closed)
		learner.AssertNotCalled(t, "LearnFromTrade", mock.Anything, mock.Anything)
	})

	t.Run("list failure", func(t *testing.T) {
		v, _, queue, _ := newTestVerifier(t, opened)
		queue.On("ListPending", ctx, 200).Return(nil, errors.New("no such table"))

		res := v.RunOnce(ctx)
		assert.Equal(t, PassResult{}, res)
		assert.Equal(t, 1, v.Stats().Passes)
	})
}

func TestVerifier_RunStopsOnCancel(t *testing.T) {
	v, _, queue, _ := newTestVerifier(t, opened)
	queue.On("ListPending", mock.Anything, 200).Return(nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.Run(ctx) }()
	require.Eventually(t, func() bool { return v.Stats().Passes >= 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("verifier did not stop")
	}
}

func TestNewVerifier_RequiresCollaborators(t *testing.T) {
	_, err := NewVerifier(Config{}, nil, &MockQueue{}, &MockLearner{})
	assert.Error(t, err)
}
