package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseIntervalDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"1m":  time.Minute,
		"4h":  4 * time.Hour,
		"1d":  24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
	}
	for in, want := range cases {
		got, ok := ParseIntervalDuration(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "m", "0m", "-1h", "5x", "abc"} {
		_, ok := ParseIntervalDuration(bad)
		assert.False(t, ok, bad)
	}
}

func TestAlignedScheduler_NextTimes(t *testing.T) {
	s := NewAlignedScheduler("t", time.Minute, 5*time.Second)
	now := time.Date(2025, 1, 1, 10, 0, 2, 0, time.UTC)

	boundary, wakeAt, wait := s.nextTimes(now)
	assert.Equal(t, time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC), boundary)
	assert.Equal(t, time.Date(2025, 1, 1, 10, 0, 5, 0, time.UTC), wakeAt)
	assert.Equal(t, 3*time.Second, wait)

	_, wakeAt, wait = s.nextTimes(now.Add(10 * time.Second))
	assert.Equal(t, time.Date(2025, 1, 1, 10, 1, 5, 0, time.UTC), wakeAt)
	assert.Equal(t, 53*time.Second, wait)
}

func TestAlignedScheduler_RunImmediatelyStopsOnCancel(t *testing.T) {
	s := NewAlignedScheduler("t", time.Hour, 0)
	s.RunImmediately = true
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context) {
			atomic.AddInt32(&calls, 1)
			cancel()
		})
	}()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not exit")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
