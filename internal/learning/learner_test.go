package learning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"tradeloop/internal/learning/adjust"
	"tradeloop/internal/learning/outcome"
	"tradeloop/internal/learning/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	initial state.LearningState
	saved   []state.LearningState
	err     error
}

func (s *memStore) Load() state.LearningState { return s.initial }

func (s *memStore) Save(st state.LearningState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, st)
	return s.err
}

type MockJournal struct {
	mock.Mock
}

func (m *MockJournal) RecordOutcome(ctx context.Context, o outcome.TradeOutcome) error {
	return m.Called(ctx, o.TradeID).Error(0)
}

func config() Config {
	return Config{Rules: adjust.DefaultRules(), Bounds: adjust.DefaultBounds()}
}

func slHit(id string) outcome.TradeOutcome {
	return outcome.TradeOutcome{TradeID: id, Direction: outcome.Long, Category: outcome.SLHit, EntryReached: true,
		Profit: -0.01, BestFavorableMove: 0.005, TargetDistance: 0.02, Signals: map[string]int{"rsi": 1}}
}

func tpHit(id string) outcome.TradeOutcome {
	return outcome.TradeOutcome{TradeID: id, Direction: outcome.Long, Category: outcome.TPHit, EntryReached: true,
		Profit: 0.02, BestFavorableMove: 0.02, TargetDistance: 0.02, Signals: map[string]int{"rsi": 1, "news": -1}}
}

func TestLearner_ColdStartThenAdjusts(t *testing.T) {
	store := &memStore{initial: state.Fresh()}
	l, err := New(config(), store)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		_, err := l.LearnFromTrade(ctx, tpHit(fmt.Sprint("w", i)))
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		_, err := l.LearnFromTrade(ctx, slHit(fmt.Sprint("l", i)))
		require.NoError(t, err)
	}
	assert.Equal(t, 1.0, l.AdjustedParameters().SLFactor, "no adjustment before 10 trades")

	adj, err := l.LearnFromTrade(ctx, slHit("l2"))
	require.NoError(t, err)
	assert.InDelta(t, 1.10, adj.SLFactor, 1e-12)
	assert.Len(t, store.saved, 10, "state flushed after every trade")
	assert.InDelta(t, 1.10, store.saved[9].Adjustments.SLFactor, 1e-12)
}

func TestLearner_RerankEveryInterval(t *testing.T) {
	fixed := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	store := &memStore{initial: state.Fresh()}
	l, err := New(config(), store, WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	for i := 0; i < 19; i++ {
		_, err := l.LearnFromTrade(context.Background(), tpHit(fmt.Sprint(i)))
		require.NoError(t, err)
	}
	assert.Equal(t, 1.0, l.SourceWeight("rsi"))

	_, err = l.LearnFromTrade(context.Background(), tpHit("19"))
	require.NoError(t, err)
	assert.Equal(t, 1.5, l.SourceWeight("rsi"))
	assert.Equal(t, 0.3, l.SourceWeight("news"))
	sum := l.Summary()
	require.NotNil(t, sum.LastOptimization)
	assert.Equal(t, fixed, *sum.LastOptimization)
	assert.Equal(t, "rsi", sum.BestSources[0].Name)
}

func TestLearner_JournalAndPersistFailuresDegrade(t *testing.T) {
	store := &memStore{initial: state.Fresh(), err: errors.New("disk full")}
	journal := new(MockJournal)
	journal.On("RecordOutcome", mock.Anything, "x").Return(errors.New("db locked")).Once()

	l, err := New(config(), store, WithJournal(journal))
	require.NoError(t, err)
	_, err = l.LearnFromTrade(context.Background(), tpHit("x"))
	require.NoError(t, err)
	journal.AssertExpectations(t)
	assert.Equal(t, 1, l.Summary().TotalTrades)
}

func TestLearner_RejectsPending(t *testing.T) {
	l, err := New(config(), &memStore{initial: state.Fresh()})
	require.NoError(t, err)
	_, err = l.LearnFromTrade(context.Background(), outcome.TradeOutcome{TradeID: "p", Category: outcome.Pending})
	assert.Error(t, err)
	_, err = l.LearnFromTrade(context.Background(), outcome.TradeOutcome{TradeID: "e"})
	assert.Error(t, err)
}

func TestLearner_ValidatesOutcome(t *testing.T) {
	t.Run("unknown category rejected", func(t *testing.T) {
		store := &memStore{initial: state.Fresh()}
		l, err := New(config(), store)
		require.NoError(t, err)
		_, err = l.LearnFromTrade(context.Background(), outcome.TradeOutcome{
			TradeID: "b", Direction: "short", Category: "BOGUS", EntryReached: true, Profit: 0.02,
			Signals: map[string]int{"bearish_src": -1},
		})
		require.ErrorIs(t, err, ErrInvalidOutcome)
		assert.Empty(t, l.st.Metrics.Categories)
		assert.Zero(t, l.st.Metrics.TotalTrades)
		assert.Empty(t, store.saved)
	})

	t.Run("unknown direction rejected", func(t *testing.T) {
		l, err := New(config(), &memStore{initial: state.Fresh()})
		require.NoError(t, err)
		o := tpHit("d")
		o.Direction = "sideways"
		_, err = l.LearnFromTrade(context.Background(), o)
		assert.ErrorIs(t, err, ErrInvalidOutcome)
	})

	t.Run("lower-case spellings are normalised", func(t *testing.T) {
		l, err := New(config(), &memStore{initial: state.Fresh()})
		require.NoError(t, err)
		_, err = l.LearnFromTrade(context.Background(), outcome.TradeOutcome{
			TradeID: "s", Direction: "sell", Category: "tp_hit", EntryReached: true, Profit: 0.02,
			BestFavorableMove: 0.02, TargetDistance: 0.02, Signals: map[string]int{"bearish_src": -1},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, l.st.Metrics.Categories[outcome.TPHit])
		src := l.st.Metrics.Sources["bearish_src"]
		assert.Equal(t, 1, src.Correct)
		assert.Equal(t, 0, src.Wrong)
	})
}

func TestLearner_ClampsLoadedState(t *testing.T) {
	st := state.Fresh()
	st.Adjustments.LeverageCap = 100
	st.Adjustments.SourceWeights["rsi"] = 7
	l, err := New(config(), &memStore{initial: st})
	require.NoError(t, err)
	assert.Equal(t, 25.0, l.AdjustedParameters().LeverageCap)
	assert.Equal(t, 1.5, l.SourceWeight("rsi"))
}

func TestLearner_ConcurrentCallersSerialize(t *testing.T) {
	store := &memStore{initial: state.Fresh()}
	l, err := New(config(), store)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o := tpHit(fmt.Sprint(i))
			if i%3 == 0 {
				o = slHit(fmt.Sprint(i))
			}
			_, _ = l.LearnFromTrade(context.Background(), o)
			_ = l.AdjustedParameters()
		}(i)
	}
	wg.Wait()
	sum := l.Summary()
	assert.Equal(t, 40, sum.TotalTrades)
	assert.True(t, adjust.DefaultBounds().Within(sum.Adjustments))
}

func TestLearner_RequiresStore(t *testing.T) {
	_, err := New(config(), nil)
	assert.Error(t, err)
}
