package models

import (
	"time"
)

// Candle is one OHLCV bar. Values are never mutated after construction.
type Candle struct {
	Time   time.Time // open time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	Closed bool // false while the bar is still forming on a live stream
}

// Tick pairs a candle with the market it belongs to.
type Tick struct {
	Pair   string
	Candle Candle
}

// Indicators holds the values derived from a pair's candle history.
// Fields fall back to neutral values when the history is too short.
type Indicators struct {
	RSI               float64 // 0..100, neutral 50
	MACD              float64 // MACD line, neutral 0
	MACDSignal        float64
	MACDHistogram     float64
	BollingerPosition float64 // 0 at lower band, 1 at upper band, neutral 0.5
	ATR               float64 // absolute, neutral 0
	EMAFast           float64
	EMASlow           float64
	VolumeRatio       float64 // last volume / average volume, neutral 1
}

// NeutralIndicators returns the defaults used before enough history exists.
func NeutralIndicators() Indicators {
	return Indicators{
		RSI:               50,
		BollingerPosition: 0.5,
		VolumeRatio:       1,
	}
}

// ATRPercent expresses ATR relative to price.
func (i Indicators) ATRPercent(price float64) float64 {
	if price <= 0 || i.ATR <= 0 {
		return 0
	}
	return i.ATR / price * 100
}

// TrendDirection represents the market trend direction
type TrendDirection int

const (
	TrendNeutral TrendDirection = iota
	TrendBullish
	TrendBearish
)

func (t TrendDirection) String() string {
	switch t {
	case TrendBullish:
		return "bullish"
	case TrendBearish:
		return "bearish"
	default:
		return "neutral"
	}
}
