package indicators

import (
	"math"
	"testing"
	"time"

	"papertrader/src/models"

	"github.com/stretchr/testify/assert"
)

func candles(closes ...float64) []models.Candle {
	out := make([]models.Candle, len(closes))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		out[i] = models.Candle{
			Time:   start.Add(time.Duration(i) * time.Minute),
			Open:   c,
			High:   c * 1.001,
			Low:    c * 0.999,
			Close:  c,
			Volume: 10,
			Closed: true,
		}
	}
	return out
}

func ramp(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// curve accelerates so the MACD histogram keeps the sign of accel.
func curve(n int, start, accel float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + accel*float64(i*i)
	}
	return out
}

func TestComputeNeutralOnShortHistory(t *testing.T) {
	calc := NewCalculator(DefaultPeriods())

	for _, n := range []int{0, 1, 5, 14} {
		ind := calc.Compute(candles(ramp(n, 100, 0.1)...))
		assert.Equal(t, 50.0, ind.RSI, "n=%d", n)
		assert.Equal(t, 0.0, ind.MACD, "n=%d", n)
		assert.Equal(t, 0.5, ind.BollingerPosition, "n=%d", n)
		assert.Equal(t, 0.0, ind.ATR, "n=%d", n)
	}
}

func TestComputeRisingSeries(t *testing.T) {
	calc := NewCalculator(DefaultPeriods())
	closes := curve(100, 100, 0.01)
	ind := calc.Compute(candles(closes...))

	assert.Greater(t, ind.RSI, 70.0)
	assert.LessOrEqual(t, ind.RSI, 100.0)
	assert.Greater(t, ind.MACD, 0.0)
	assert.Greater(t, ind.ATR, 0.0)
	assert.GreaterOrEqual(t, ind.BollingerPosition, 0.5)
	assert.LessOrEqual(t, ind.BollingerPosition, 1.0)
	assert.Greater(t, ind.EMAFast, ind.EMASlow)
	assert.Equal(t, models.TrendBullish, TrendDirection(closes[len(closes)-1], ind))
}

func TestComputeFallingSeriesIsOversold(t *testing.T) {
	calc := NewCalculator(DefaultPeriods())
	closes := curve(60, 200, -0.02)
	ind := calc.Compute(candles(closes...))

	assert.Less(t, ind.RSI, 30.0)
	assert.Less(t, ind.MACD, 0.0)
	assert.Equal(t, models.TrendBearish, TrendDirection(closes[len(closes)-1], ind))
}

func TestComputeValuesAreFinite(t *testing.T) {
	calc := NewCalculator(DefaultPeriods())
	flat := make([]float64, 50)
	for i := range flat {
		flat[i] = 100
	}
	ind := calc.Compute(candles(flat...))

	for _, v := range []float64{ind.RSI, ind.MACD, ind.BollingerPosition, ind.ATR, ind.VolumeRatio} {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
	}
	assert.Equal(t, 0.5, ind.BollingerPosition)
	assert.InDelta(t, 1.0, ind.VolumeRatio, 1e-9)
}
