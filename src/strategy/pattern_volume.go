package strategy

import (
	"math"

	"papertrader/src/models"
)

// PatternVolume looks for a candle pattern on the latest bar and confirms it with a volume
// spike, candle delta and the slow EMA trend. Delta is estimated per bar as
// volume*(close-open)/(high-low) since the feed carries no order flow.
type PatternVolume struct {
	HammerRatio      float64 // lower/upper shadow vs body (default 2.0)
	BreakoutLookback int     // bars scanned for the breakout range (default 5)
	MomentumRatio    float64 // body vs range for a momentum candle (default 0.7)

	VolumeLookback int     // default 20
	VolumeMult     float64 // default 1.25

	DeltaLookback int     // default 40
	DeltaDynMult  float64 // default 0.8

	UseTrendFilter bool
}

func NewPatternVolume() *PatternVolume {
	return &PatternVolume{
		HammerRatio:      2.0,
		BreakoutLookback: 5,
		MomentumRatio:    0.7,
		VolumeLookback:   20,
		VolumeMult:       1.25,
		DeltaLookback:    40,
		DeltaDynMult:     0.8,
		UseTrendFilter:   true,
	}
}

func (s *PatternVolume) Name() string { return "pattern" }

var noPattern = models.Pattern{Action: models.ActionHold, Name: "None"}

func (s *PatternVolume) GenerateSignal(pair string, history []models.Candle, ind models.Indicators) models.Signal {
	hold := models.Signal{Action: models.ActionHold, RSI: ind.RSI, MACD: ind.MACD, Source: s.Name()}
	if len(history) < 2 {
		return hold
	}
	current, previous := history[len(history)-1], history[len(history)-2]

	pattern := s.detect(history, current, previous)
	if pattern.Action == models.ActionHold {
		hold.Reason = "no pattern"
		return hold
	}
	if !s.volumeSpike(history) {
		hold.Reason = pattern.Name + ": volume filter"
		return hold
	}
	if !s.deltaConfirms(history, pattern.Action) {
		hold.Reason = pattern.Name + ": delta filter"
		return hold
	}
	if s.UseTrendFilter && !trendConfirms(current.Close, ind.EMASlow, pattern.Action) {
		hold.Reason = pattern.Name + ": trend filter"
		return hold
	}

	return models.Signal{
		Action:     pattern.Action,
		Confidence: pattern.Confidence,
		RSI:        ind.RSI,
		MACD:       ind.MACD,
		Source:     s.Name(),
		Reason:     pattern.Name,
		Diagnostics: map[string]float64{
			"volumeRatio": ind.VolumeRatio,
			"delta":       candleDelta(current),
		},
	}
}

// detect tries patterns in order of preference.
func (s *PatternVolume) detect(history []models.Candle, current, previous models.Candle) models.Pattern {
	for _, p := range []models.Pattern{
		s.engulfing(current, previous),
		s.hammer(current),
		s.breakout(history, current),
		s.momentumCandle(current),
	} {
		if p.Action != models.ActionHold {
			return p
		}
	}
	return noPattern
}

func (s *PatternVolume) engulfing(current, previous models.Candle) models.Pattern {
	currentBody := math.Abs(current.Close - current.Open)
	previousBody := math.Abs(previous.Close - previous.Open)

	if current.Close > current.Open && previous.Close < previous.Open &&
		current.Open < previous.Close && current.Close > previous.Open && currentBody > previousBody {
		return models.Pattern{Action: models.ActionBuy, Confidence: 0.8, Name: "Bullish Engulfing"}
	}
	if current.Close < current.Open && previous.Close > previous.Open &&
		current.Open > previous.Close && current.Close < previous.Open && currentBody > previousBody {
		return models.Pattern{Action: models.ActionSell, Confidence: 0.8, Name: "Bearish Engulfing"}
	}
	return noPattern
}

func (s *PatternVolume) hammer(c models.Candle) models.Pattern {
	body := math.Abs(c.Close - c.Open)
	upper := c.High - math.Max(c.Open, c.Close)
	lower := math.Min(c.Open, c.Close) - c.Low
	rng := c.High - c.Low
	if rng <= 0 || body >= rng*0.3 {
		return noPattern
	}
	upperHalf := c.Close > (c.High+c.Low)/2
	switch {
	case lower >= body*s.HammerRatio && upperHalf:
		return models.Pattern{Action: models.ActionBuy, Confidence: 0.7, Name: "Hammer"}
	case upper >= body*s.HammerRatio && !upperHalf:
		return models.Pattern{Action: models.ActionSell, Confidence: 0.7, Name: "Shooting Star"}
	}
	return noPattern
}

func (s *PatternVolume) breakout(history []models.Candle, current models.Candle) models.Pattern {
	n := len(history)
	if n < s.BreakoutLookback+1 {
		return noPattern
	}
	high, low := math.Inf(-1), math.Inf(1)
	for _, k := range history[n-1-s.BreakoutLookback : n-1] {
		high = math.Max(high, k.High)
		low = math.Min(low, k.Low)
	}
	switch {
	case current.Close > high && current.Volume > 0:
		return models.Pattern{Action: models.ActionBuy, Confidence: 0.75, Name: "Breakout"}
	case current.Close < low && current.Volume > 0:
		return models.Pattern{Action: models.ActionSell, Confidence: 0.75, Name: "Breakdown"}
	}
	return noPattern
}

func (s *PatternVolume) momentumCandle(c models.Candle) models.Pattern {
	body := math.Abs(c.Close - c.Open)
	rng := c.High - c.Low
	if rng <= 0 || body < rng*s.MomentumRatio || c.Volume <= 0 {
		return noPattern
	}
	if c.Close > c.Open {
		return models.Pattern{Action: models.ActionBuy, Confidence: 0.7, Name: "Momentum Candle"}
	}
	return models.Pattern{Action: models.ActionSell, Confidence: 0.7, Name: "Momentum Candle"}
}

// volumeSpike compares the last bar's volume with the average of the bars before it.
func (s *PatternVolume) volumeSpike(history []models.Candle) bool {
	n := len(history)
	lookback := s.VolumeLookback
	if n-1 < lookback {
		lookback = n - 1
	}
	if lookback < 1 {
		return false
	}
	var sum float64
	for _, k := range history[n-1-lookback : n-1] {
		sum += k.Volume
	}
	avg := sum / float64(lookback)
	return history[n-1].Volume >= avg*s.VolumeMult
}

func (s *PatternVolume) deltaConfirms(history []models.Candle, action models.Action) bool {
	n := len(history)
	start := n - s.DeltaLookback
	if start < 0 {
		start = 0
	}
	window := history[start:n]
	if len(window) < 10 {
		return false
	}
	var sumAbs float64
	for _, k := range window {
		sumAbs += math.Abs(candleDelta(k))
	}
	threshold := sumAbs / float64(len(window)) * s.DeltaDynMult
	delta := candleDelta(history[n-1])
	if action == models.ActionBuy {
		return delta >= threshold
	}
	return delta <= -threshold
}

func candleDelta(c models.Candle) float64 {
	rng := c.High - c.Low
	if rng <= 0 {
		return 0
	}
	return c.Volume * (c.Close - c.Open) / rng
}

func trendConfirms(price, emaSlow float64, action models.Action) bool {
	if emaSlow <= 0 {
		return false
	}
	if action == models.ActionBuy {
		return price > emaSlow
	}
	return price < emaSlow
}
