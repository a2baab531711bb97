package sizing

import (
	"fmt"
	"math"

	"papertrader/src/numeric"
	"papertrader/src/portfolio"
)

// Request carries what a sizing policy may look at.
type Request struct {
	Cash       float64
	Price      float64
	Confidence float64
	Stats      portfolio.Stats
}

// Sizer turns a signal into a base-asset quantity. Zero means "skip this trade".
type Sizer interface {
	Size(req Request) float64
	Name() string
}

// Limits are shared by every policy.
type Limits struct {
	MaxFractionPerTrade float64 // cap on cost as a fraction of cash
	MinTradeValue       float64 // smaller trades are skipped
}

// FixedFraction spends a confidence-scaled slice of cash.
type FixedFraction struct {
	BaseFraction float64
	Limits
}

func (f FixedFraction) Name() string { return "fixed" }

// Size returns cash*base*(0.5+1.5*confidence)/price, capped and floored to 8 decimals.
func (f FixedFraction) Size(req Request) float64 {
	if !validRequest(req) {
		return 0
	}
	conf := numeric.Clamp(req.Confidence, 0, 1)
	value := req.Cash * f.BaseFraction * (0.5 + conf*1.5)
	return f.Limits.quantity(value, req)
}

// Kelly sizes by the Kelly criterion over recent closed trades, shrunk during drawdowns.
type Kelly struct {
	MaxKelly  float64
	MinTrades int // below this many closed trades the cold-start assumptions apply
	Limits
}

const (
	coldStartWinRate = 0.6
	coldStartAvgWin  = 10.0
	coldStartAvgLoss = 5.0
	minDrawdownScale = 0.1
)

func (k Kelly) Name() string { return "kelly" }

// Fraction returns the share of cash the policy would commit, before the per-trade cap.
func (k Kelly) Fraction(stats portfolio.Stats) float64 {
	winRate, avgWin, avgLoss := stats.WinRate, stats.AvgWin, stats.AvgLoss
	if stats.ClosedTrades < k.MinTrades {
		winRate, avgWin, avgLoss = coldStartWinRate, coldStartAvgWin, coldStartAvgLoss
	}
	if avgWin <= 0 {
		return 0
	}
	kelly := (winRate*avgWin - (1-winRate)*avgLoss) / avgWin
	kelly = numeric.Clamp(kelly, 0, k.MaxKelly)
	scale := math.Max(minDrawdownScale, 1-2*stats.CurrentDrawdown)
	return kelly * scale
}

func (k Kelly) Size(req Request) float64 {
	if !validRequest(req) {
		return 0
	}
	return k.Limits.quantity(req.Cash*k.Fraction(req.Stats), req)
}

func (l Limits) quantity(value float64, req Request) float64 {
	if l.MaxFractionPerTrade > 0 {
		value = math.Min(value, req.Cash*l.MaxFractionPerTrade)
	}
	if !(value > 0) || value < l.MinTradeValue {
		return 0
	}
	return numeric.FloorQuantity(value / req.Price)
}

func validRequest(req Request) bool {
	return req.Cash > 0 && req.Price > 0 && !math.IsNaN(req.Confidence)
}

// Config selects and parameterizes a policy.
type Config struct {
	Policy              string
	BaseFraction        float64
	MaxFractionPerTrade float64
	MinTradeValue       float64
	MaxKelly            float64
	KellyMinTrades      int
}

// New builds the policy named by cfg.Policy ("fixed" or "kelly").
func New(cfg Config) (Sizer, error) {
	limits := Limits{MaxFractionPerTrade: cfg.MaxFractionPerTrade, MinTradeValue: cfg.MinTradeValue}
	switch cfg.Policy {
	case "", "fixed":
		return FixedFraction{BaseFraction: cfg.BaseFraction, Limits: limits}, nil
	case "kelly":
		return Kelly{MaxKelly: cfg.MaxKelly, MinTrades: cfg.KellyMinTrades, Limits: limits}, nil
	default:
		return nil, fmt.Errorf("unknown sizing policy %q", cfg.Policy)
	}
}
