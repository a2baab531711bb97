package portfolio

import (
	"time"

	"papertrader/src/numeric"
)

// RecentTradeLimit is how many trades a snapshot carries.
const RecentTradeLimit = 20

// Snapshot is the read-only state pushed to dashboards. Money is rounded for display;
// the ledger itself never rounds.
type Snapshot struct {
	Status          string         `json:"status"`
	Timestamp       time.Time      `json:"timestamp"`
	StartTime       time.Time      `json:"startTime"`
	UptimeSeconds   float64        `json:"uptimeSeconds"`
	InitialCapital  float64        `json:"initialCapital"`
	Cash            float64        `json:"cash"`
	Equity          float64        `json:"equity"`
	TotalProfit     float64        `json:"totalProfit"`
	ROI             float64        `json:"roi"`
	WinRate         float64        `json:"winRate"`
	WinCount        int            `json:"winCount"`
	LossCount       int            `json:"lossCount"`
	TotalTrades     int            `json:"totalTrades"`
	PeakEquity      float64        `json:"peakEquity"`
	MaxDrawdown     float64        `json:"maxDrawdown"`
	CurrentDrawdown float64        `json:"currentDrawdown"`
	OpenPositions   []OpenPosition `json:"openPositions"`
	RecentTrades    []TradeRecord  `json:"recentTrades"`
	Pairs           PairInfo       `json:"pairs"`
}

// OpenPosition is a position enriched with its mark-to-market result.
type OpenPosition struct {
	Pair              string    `json:"pair"`
	Quantity          float64   `json:"quantity"`
	EntryPrice        float64   `json:"entryPrice"`
	CurrentPrice      float64   `json:"currentPrice"`
	PositionValue     float64   `json:"positionValue"`
	UnrealizedPnL     float64   `json:"unrealizedPnl"`
	UnrealizedPct     float64   `json:"unrealizedPct"`
	CapitalPercentage float64   `json:"capitalPercentage"`
	BarsHeld          int       `json:"barsHeld"`
	OpenedAt          time.Time `json:"openedAt"`
}

// PairInfo describes the markets a session is trading.
type PairInfo struct {
	Total     int      `json:"total"`
	Connected int      `json:"connected"`
	List      []string `json:"list"`
}

// Snapshot captures the ledger for publishing. Status and pair info are filled by the session.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := l.statsLocked()
	snap := Snapshot{
		Timestamp:       l.now(),
		InitialCapital:  l.initialCapital,
		Cash:            numeric.RoundCash(stats.Cash),
		Equity:          numeric.RoundCash(stats.Equity),
		TotalProfit:     numeric.RoundCash(stats.TotalProfit),
		WinRate:         numeric.Round(stats.WinRate*100, 2),
		WinCount:        stats.WinCount,
		LossCount:       stats.LossCount,
		TotalTrades:     stats.ClosedTrades,
		PeakEquity:      numeric.RoundCash(stats.PeakEquity),
		MaxDrawdown:     numeric.Round(stats.MaxDrawdown*100, 4),
		CurrentDrawdown: numeric.Round(stats.CurrentDrawdown*100, 4),
		RecentTrades:    l.tradesLocked(RecentTradeLimit),
		OpenPositions:   []OpenPosition{},
	}
	if l.initialCapital > 0 {
		snap.ROI = numeric.Round((stats.Equity-l.initialCapital)/l.initialCapital*100, 4)
	}

	for _, pos := range l.positionsLocked() {
		price, ok := l.lastPrices[pos.Pair]
		if !ok {
			price = pos.EntryPrice
		}
		value := pos.Quantity * price
		pnl := (price - pos.EntryPrice) * pos.Quantity
		op := OpenPosition{
			Pair:          pos.Pair,
			Quantity:      pos.Quantity,
			EntryPrice:    pos.EntryPrice,
			CurrentPrice:  price,
			PositionValue: numeric.RoundCash(value),
			UnrealizedPnL: numeric.RoundCash(pnl),
			BarsHeld:      pos.Exit.BarsHeld,
			OpenedAt:      pos.OpenedAt,
		}
		if pos.EntryPrice > 0 {
			op.UnrealizedPct = numeric.Round((price-pos.EntryPrice)/pos.EntryPrice*100, 4)
		}
		if stats.Equity > 0 {
			op.CapitalPercentage = numeric.Round(value/stats.Equity*100, 2)
		}
		snap.OpenPositions = append(snap.OpenPositions, op)
	}
	return snap
}
