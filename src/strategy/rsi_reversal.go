package strategy

import (
	"math"

	"papertrader/src/models"
)

// RSIReversal buys oversold bounces: RSI below the oversold line on a green candle.
// It sells when RSI is overbought on a red candle.
type RSIReversal struct {
	Oversold   float64
	Overbought float64
}

func NewRSIReversal() *RSIReversal {
	return &RSIReversal{Oversold: 30, Overbought: 70}
}

func (s *RSIReversal) Name() string { return "rsi" }

func (s *RSIReversal) GenerateSignal(pair string, history []models.Candle, ind models.Indicators) models.Signal {
	if len(history) == 0 {
		return models.Hold(s.Name())
	}
	last := history[len(history)-1]
	sig := models.Signal{Action: models.ActionHold, RSI: ind.RSI, MACD: ind.MACD, Source: s.Name()}

	switch {
	case ind.RSI < s.Oversold && last.Close > last.Open:
		sig.Action = models.ActionBuy
		sig.Confidence = math.Min(0.7+((s.Oversold-ind.RSI)/s.Oversold)*0.3, 1)
		sig.Reason = "oversold bounce"
	case ind.RSI > s.Overbought && last.Close < last.Open:
		sig.Action = models.ActionSell
		sig.Confidence = math.Min(0.7+((ind.RSI-s.Overbought)/(100-s.Overbought))*0.3, 1)
		sig.Reason = "overbought rejection"
	}
	return sig
}
