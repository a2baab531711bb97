package strategy

import (
	"math"
	"math/rand"
	"sync"

	"papertrader/src/indicators"
	"papertrader/src/models"
	"papertrader/src/numeric"
)

// Ensemble blends several heuristic views into one directional score:
// momentum over the recent closes, a technical vote, the EMA regime and volatility.
// A small seeded perturbation stands in for model disagreement.
type Ensemble struct {
	MomentumLookback int
	MinVolatilityPct float64
	MaxVolatilityPct float64
	NoiseAmplitude   float64
	EntryScore       float64 // |score| needed before a direction is taken

	mu  sync.Mutex
	rng *rand.Rand
}

func NewEnsemble(rng *rand.Rand) *Ensemble {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Ensemble{
		MomentumLookback: 10,
		MinVolatilityPct: 0.05,
		MaxVolatilityPct: 3,
		NoiseAmplitude:   0.05,
		EntryScore:       0.15,
		rng:              rng,
	}
}

func (e *Ensemble) Name() string { return "ensemble" }

func (e *Ensemble) GenerateSignal(pair string, history []models.Candle, ind models.Indicators) models.Signal {
	sig := models.Signal{Action: models.ActionHold, RSI: ind.RSI, MACD: ind.MACD, Source: e.Name()}
	if len(history) <= e.MomentumLookback {
		return sig
	}
	price := history[len(history)-1].Close

	momentum := e.momentum(history)
	technical, techConf := technicalVote(ind)

	regimeBoost := 0.8
	switch indicators.TrendDirection(price, ind) {
	case models.TrendBullish:
		regimeBoost = 1.1
	case models.TrendBearish:
		regimeBoost = 0.9
	}

	volBoost := 1.0
	if atrPct := ind.ATRPercent(price); atrPct < e.MinVolatilityPct || atrPct > e.MaxVolatilityPct {
		volBoost = 0.5
	}

	e.mu.Lock()
	noise := (e.rng.Float64()*2 - 1) * e.NoiseAmplitude
	e.mu.Unlock()

	score := 0.6*momentum + 0.4*technical + noise
	agreement := 0.5
	if sameSign(momentum, technical) {
		agreement = 1
	}

	conf := math.Abs(score)*0.35 + agreement*0.25 + techConf*0.2 + regimeBoost*0.1 + (volBoost-0.6)*0.1
	sig.Confidence = numeric.Clamp(conf, 0, 1)
	sig.Diagnostics = map[string]float64{
		"momentum":   momentum,
		"technical":  technical,
		"score":      score,
		"regime":     regimeBoost,
		"volatility": volBoost,
	}

	switch {
	case score >= e.EntryScore:
		sig.Action = models.ActionBuy
	case score <= -e.EntryScore:
		sig.Action = models.ActionSell
	default:
		sig.Confidence = 0
	}
	return sig
}

// momentum maps the return over the lookback window into [-1, 1]; a 2% move saturates.
func (e *Ensemble) momentum(history []models.Candle) float64 {
	n := len(history)
	base := history[n-1-e.MomentumLookback].Close
	if base <= 0 {
		return 0
	}
	ret := (history[n-1].Close - base) / base * 100
	return numeric.Clamp(ret/2, -1, 1)
}

// technicalVote scores RSI, MACD histogram and Bollinger position, each in [-1,1].
// Confidence rises with how many of them agree.
func technicalVote(ind models.Indicators) (score, confidence float64) {
	votes := []float64{
		numeric.Clamp((50-ind.RSI)/20, -1, 1),
		math.Copysign(math.Min(1, math.Abs(ind.MACDHistogram)*10), ind.MACDHistogram),
		numeric.Clamp((0.5-ind.BollingerPosition)*2, -1, 1),
	}
	var sum float64
	var pos, neg int
	for _, v := range votes {
		sum += v
		if v > 0 {
			pos++
		} else if v < 0 {
			neg++
		}
	}
	score = sum / float64(len(votes))
	if ind.VolumeRatio > 1.5 {
		score *= 1.2
	}
	agree := math.Max(float64(pos), float64(neg)) / float64(len(votes))
	return numeric.Clamp(score, -1, 1), agree
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
