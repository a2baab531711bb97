package trading

import (
	"testing"
	"time"

	"papertrader/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

func bar(i int, close float64) models.Candle {
	return models.Candle{
		Time:   t0.Add(time.Duration(i) * time.Minute),
		Open:   close,
		High:   close,
		Low:    close,
		Close:  close,
		Volume: 1,
		Closed: true,
	}
}

func TestHistoryEvictsOldestFirst(t *testing.T) {
	h := NewHistory(3)
	for i := 1; i <= 5; i++ {
		h.Push(bar(i, float64(i)))
	}

	require.Equal(t, 3, h.Len())
	assert.Equal(t, 3, h.Cap())
	closes := []float64{}
	for _, c := range h.Candles() {
		closes = append(closes, c.Close)
	}
	assert.Equal(t, []float64{3, 4, 5}, closes)

	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, 5.0, last.Close)
}

func TestHistoryReplacesInProgressBar(t *testing.T) {
	h := NewHistory(10)
	h.Push(bar(1, 100))
	h.Push(bar(2, 101))
	h.Push(bar(2, 102))

	assert.Equal(t, 2, h.Len())
	last, _ := h.Last()
	assert.Equal(t, 102.0, last.Close)
}

func TestHistoryReset(t *testing.T) {
	h := NewHistory(2)
	_, ok := h.Last()
	assert.False(t, ok)

	h.Push(bar(1, 1))
	h.Reset()
	assert.Zero(t, h.Len())
	assert.Empty(t, h.Candles())
}
