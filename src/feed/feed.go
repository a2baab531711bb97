// Package feed delivers candles to a trading session, either from the Binance kline
// stream or from a seeded random walk.
package feed

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"papertrader/src/models"
)

// Source streams ticks for pairs until ctx is done. The returned channel is closed when
// the source gives up or ctx ends.
type Source interface {
	Stream(ctx context.Context, pairs []string, interval string) (<-chan models.Tick, error)
}

// Historian returns up to limit of the most recent candles for pair, oldest first.
type Historian interface {
	History(ctx context.Context, pair, interval string, limit int) ([]models.Candle, error)
}

// IntervalDuration parses kline intervals such as "1m", "4h", "1d" and "1w".
func IntervalDuration(interval string) (time.Duration, error) {
	interval = strings.TrimSpace(interval)
	if len(interval) < 2 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	unit := interval[len(interval)-1]
	switch unit {
	case 'd', 'w':
		n, err := strconv.Atoi(interval[:len(interval)-1])
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid interval %q", interval)
		}
		day := 24 * time.Hour
		if unit == 'w' {
			day *= 7
		}
		return time.Duration(n) * day, nil
	case 'M':
		return 0, fmt.Errorf("monthly interval %q not supported", interval)
	}
	d, err := time.ParseDuration(interval)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	return d, nil
}

func parseFloat(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return v
}
