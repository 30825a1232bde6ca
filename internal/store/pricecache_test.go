package store

import (
	"testing"
	"time"

	"tradeloop/internal/learning/outcome"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)

func pt(min int, close int64) outcome.PricePoint {
	c := decimal.NewFromInt(close)
	return outcome.PricePoint{Time: base.Add(time.Duration(min) * time.Minute), High: c, Low: c, Close: c}
}

func TestPriceCache_PutMergesAndTrims(t *testing.T) {
	c := NewPriceCache(3)
	require.NoError(t, c.Put("BTCUSDT", "1m", outcome.PricePath{pt(0, 1), pt(1, 2)}))
	require.NoError(t, c.Put("BTCUSDT", "1m", outcome.PricePath{pt(1, 20), pt(2, 3), pt(3, 4)}))

	got := c.Get("BTCUSDT", "1m")
	require.Len(t, got, 3)
	assert.Equal(t, base.Add(time.Minute), got[0].Time)
	assert.True(t, got[0].Close.Equal(decimal.NewFromInt(20)), "same open time is overwritten")
	assert.Empty(t, c.Get("ETHUSDT", "1m"))

	assert.Error(t, c.Put("", "1m", outcome.PricePath{pt(0, 1)}))
}

func TestPriceCache_Range(t *testing.T) {
	c := NewPriceCache(0)
	require.NoError(t, c.Put("ETHUSDT", "1m", outcome.PricePath{pt(0, 1), pt(1, 2), pt(2, 3), pt(3, 4)}))

	got := c.Range("ETHUSDT", "1m", base.Add(time.Minute), base.Add(3*time.Minute))
	require.Len(t, got, 2)
	assert.Equal(t, base.Add(2*time.Minute), got[1].Time)
	assert.Nil(t, c.Range("ETHUSDT", "1m", base.Add(time.Hour), base.Add(2*time.Hour)))

	got[0].Close = decimal.NewFromInt(99)
	assert.True(t, c.Get("ETHUSDT", "1m")[1].Close.Equal(decimal.NewFromInt(2)), "returned slices are copies")
}
