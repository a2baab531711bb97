package portfolio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Report is the end-of-session summary written to disk.
type Report struct {
	StartTime      time.Time     `json:"startTime"`
	EndTime        time.Time     `json:"endTime"`
	DurationHours  float64       `json:"durationHours"`
	InitialCapital float64       `json:"initialCapital"`
	FinalValue     float64       `json:"finalValue"`
	TotalProfit    float64       `json:"totalProfit"`
	ROI            float64       `json:"roi"`
	TotalTrades    int           `json:"totalTrades"`
	WinTrades      int           `json:"winTrades"`
	LossTrades     int           `json:"lossTrades"`
	WinRate        float64       `json:"winRate"`
	MaxDrawdown    float64       `json:"maxDrawdown"`
	OpenPositions  int           `json:"openPositions"`
	Trades         []TradeRecord `json:"trades"`
}

// Report summarizes the session between start and end. Percentages are 0..100.
func (l *Ledger) Report(start, end time.Time) Report {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := l.statsLocked()
	r := Report{
		StartTime:      start,
		EndTime:        end,
		DurationHours:  end.Sub(start).Hours(),
		InitialCapital: l.initialCapital,
		FinalValue:     stats.Equity,
		TotalProfit:    stats.TotalProfit,
		TotalTrades:    stats.ClosedTrades,
		WinTrades:      stats.WinCount,
		LossTrades:     stats.LossCount,
		WinRate:        stats.WinRate * 100,
		MaxDrawdown:    stats.MaxDrawdown * 100,
		OpenPositions:  stats.OpenPositions,
		Trades:         l.tradesLocked(0),
	}
	if l.initialCapital > 0 {
		r.ROI = (stats.Equity - l.initialCapital) / l.initialCapital * 100
	}
	return r
}

// WriteReport stores r as indented JSON under dir and returns the file path.
func WriteReport(dir string, r Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	name := fmt.Sprintf("paper-trading-report-%d.json", r.EndTime.UnixMilli())
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
