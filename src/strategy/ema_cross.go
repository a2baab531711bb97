package strategy

import (
	"math"

	"papertrader/src/indicators"
	"papertrader/src/models"
	"papertrader/src/numeric"

	"github.com/markcheno/go-talib"
)

// EMACross trades a fast/slow EMA crossover confirmed by a MACD crossover on the same bar.
type EMACross struct {
	Fast, Slow                   int
	MACDFast, MACDSlow, MACDSign int
}

func NewEMACross() *EMACross {
	return &EMACross{Fast: 8, Slow: 30, MACDFast: 12, MACDSlow: 26, MACDSign: 9}
}

func (s *EMACross) Name() string { return "emacross" }

func (s *EMACross) GenerateSignal(pair string, history []models.Candle, ind models.Indicators) models.Signal {
	sig := models.Signal{Action: models.ActionHold, RSI: ind.RSI, MACD: ind.MACD, Source: s.Name()}
	minBars := s.MACDSlow + s.MACDSign
	if s.Slow+1 > minBars {
		minBars = s.Slow + 1
	}
	if len(history) <= minBars {
		return sig
	}

	closes, _, _, _ := indicators.Series(history)
	fast := talib.Ema(closes, s.Fast)
	slow := talib.Ema(closes, s.Slow)
	macd, signal, _ := talib.Macd(closes, s.MACDFast, s.MACDSlow, s.MACDSign)
	n := len(closes)
	price := closes[n-1]

	emaUp := fast[n-1] > slow[n-1] && fast[n-2] <= slow[n-2]
	emaDown := fast[n-1] < slow[n-1] && fast[n-2] >= slow[n-2]
	macdUp := macd[n-1] > signal[n-1] && macd[n-2] <= signal[n-2]
	macdDown := macd[n-1] < signal[n-1] && macd[n-2] >= signal[n-2]

	switch {
	case emaUp && (macdUp || macd[n-1] > signal[n-1]) && price > fast[n-1] && ind.RSI > 50:
		sig.Action = models.ActionBuy
		sig.Reason = "ema cross up"
	case emaDown && (macdDown || macd[n-1] < signal[n-1]) && price < fast[n-1] && ind.RSI < 50:
		sig.Action = models.ActionSell
		sig.Reason = "ema cross down"
	default:
		return sig
	}
	// stronger when both crossed on this bar, weaker the further RSI has already run
	conf := 0.7
	if macdUp || macdDown {
		conf += 0.15
	}
	conf -= math.Max(0, math.Abs(ind.RSI-50)-20) / 100
	sig.Confidence = numeric.Clamp(conf, 0, 1)
	return sig
}
