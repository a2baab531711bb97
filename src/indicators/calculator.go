package indicators

import (
	"math"

	"papertrader/src/models"

	"github.com/markcheno/go-talib"
)

// Periods configures the lookbacks used by Calculator.
type Periods struct {
	RSI        int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	Bollinger  int
	BollingerK float64
	ATR        int
	EMAFast    int
	EMASlow    int
	Volume     int
}

// DefaultPeriods are the classic settings: RSI 14, MACD 12/26/9, BB 20x2, ATR 14.
func DefaultPeriods() Periods {
	return Periods{
		RSI:        14,
		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,
		Bollinger:  20,
		BollingerK: 2,
		ATR:        14,
		EMAFast:    8,
		EMASlow:    30,
		Volume:     20,
	}
}

// Calculator derives indicators from a candle history. It is stateless and safe
// for concurrent use.
type Calculator struct {
	periods Periods
}

// NewCalculator creates a new indicator calculator
func NewCalculator(periods Periods) *Calculator {
	return &Calculator{periods: periods}
}

// Compute returns the indicators for the last candle of history. Each indicator whose
// lookback is not yet satisfied keeps its neutral value. Compute never panics.
func (c *Calculator) Compute(history []models.Candle) (ind models.Indicators) {
	ind = models.NeutralIndicators()
	n := len(history)
	if n == 0 {
		return ind
	}
	last := history[n-1].Close
	ind.EMAFast, ind.EMASlow = last, last

	defer func() {
		if r := recover(); r != nil {
			ind = models.NeutralIndicators()
			ind.EMAFast, ind.EMASlow = last, last
		}
	}()

	closes, highs, lows, volumes := Series(history)
	p := c.periods

	if n > p.RSI {
		ind.RSI = lastOr(talib.Rsi(closes, p.RSI), 50)
	}
	if n >= p.MACDSlow+p.MACDSignal-1 {
		macd, signal, hist := talib.Macd(closes, p.MACDFast, p.MACDSlow, p.MACDSignal)
		ind.MACD = lastOr(macd, 0)
		ind.MACDSignal = lastOr(signal, 0)
		ind.MACDHistogram = lastOr(hist, 0)
	}
	if n >= p.Bollinger {
		upper, _, lower := talib.BBands(closes, p.Bollinger, p.BollingerK, p.BollingerK, talib.SMA)
		ind.BollingerPosition = bandPosition(last, lastOr(upper, 0), lastOr(lower, 0))
	}
	if n > p.ATR {
		ind.ATR = math.Max(0, lastOr(talib.Atr(highs, lows, closes, p.ATR), 0))
	}
	if n >= p.EMAFast {
		ind.EMAFast = lastOr(talib.Ema(closes, p.EMAFast), last)
	}
	if n >= p.EMASlow {
		ind.EMASlow = lastOr(talib.Ema(closes, p.EMASlow), last)
	}
	if n > p.Volume {
		ind.VolumeRatio = volumeRatio(volumes, p.Volume)
	}
	return ind
}

// Series splits a history into close/high/low/volume slices.
func Series(history []models.Candle) (closes, highs, lows, volumes []float64) {
	closes = make([]float64, len(history))
	highs = make([]float64, len(history))
	lows = make([]float64, len(history))
	volumes = make([]float64, len(history))
	for i, k := range history {
		closes[i] = k.Close
		highs[i] = k.High
		lows[i] = k.Low
		volumes[i] = k.Volume
	}
	return closes, highs, lows, volumes
}

// TrendDirection classifies the market from the fast/slow EMA stack and MACD histogram.
func TrendDirection(price float64, ind models.Indicators) models.TrendDirection {
	switch {
	case ind.EMAFast > ind.EMASlow && price > ind.EMAFast && ind.MACDHistogram > 0:
		return models.TrendBullish
	case ind.EMAFast < ind.EMASlow && price < ind.EMAFast && ind.MACDHistogram < 0:
		return models.TrendBearish
	default:
		return models.TrendNeutral
	}
}

// lastOr returns the final element of a talib output, or def when it is missing or not finite.
func lastOr(out []float64, def float64) float64 {
	if len(out) == 0 {
		return def
	}
	v := out[len(out)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return v
}

func bandPosition(price, upper, lower float64) float64 {
	width := upper - lower
	if width <= 0 {
		return 0.5
	}
	pos := (price - lower) / width
	return math.Max(0, math.Min(1, pos))
}

func volumeRatio(volumes []float64, period int) float64 {
	n := len(volumes)
	var sum float64
	for _, v := range volumes[n-1-period : n-1] {
		sum += v
	}
	avg := sum / float64(period)
	if avg <= 0 {
		return 1
	}
	return volumes[n-1] / avg
}
