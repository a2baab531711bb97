package feed

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"papertrader/src/models"
)

// RandomWalk generates synthetic candles from a seeded geometric random walk. The same
// seed always produces the same sequence. History advances the same walk that Stream
// continues from.
type RandomWalk struct {
	StartPrice float64
	Volatility float64       // per-candle standard deviation of returns
	Step       time.Duration // wall-clock pause between rounds; 0 runs as fast as the consumer reads
	Candles    int           // rounds to emit before closing the stream; 0 is unbounded

	mu    sync.Mutex
	rng   *rand.Rand
	start time.Time
	walks map[string]*walk
}

type walk struct {
	price float64
	n     int
}

func NewRandomWalk(seed int64, startPrice, volatility float64, step time.Duration, candles int) *RandomWalk {
	if startPrice <= 0 {
		startPrice = 100
	}
	if volatility <= 0 {
		volatility = 0.004
	}
	return &RandomWalk{
		StartPrice: startPrice,
		Volatility: volatility,
		Step:       step,
		Candles:    candles,
		rng:        rand.New(rand.NewSource(seed)),
		start:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		walks:      make(map[string]*walk),
	}
}

func (r *RandomWalk) next(pair string, interval time.Duration) models.Candle {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.walks[pair]
	if !ok {
		// spread the pairs apart so they do not look identical
		w = &walk{price: r.StartPrice * (0.5 + r.rng.Float64())}
		r.walks[pair] = w
	}
	open := w.price
	ret := r.rng.NormFloat64() * r.Volatility
	closePrice := math.Max(open*(1+ret), 1e-8)
	wick := math.Abs(r.rng.NormFloat64()) * r.Volatility / 2
	c := models.Candle{
		Time:   r.start.Add(time.Duration(w.n) * interval),
		Open:   open,
		High:   math.Max(open, closePrice) * (1 + wick),
		Low:    math.Min(open, closePrice) * (1 - wick),
		Close:  closePrice,
		Volume: 100 + r.rng.Float64()*900,
		Closed: true,
	}
	w.price = closePrice
	w.n++
	return c
}

func (r *RandomWalk) History(_ context.Context, pair, interval string, limit int) ([]models.Candle, error) {
	d, err := IntervalDuration(interval)
	if err != nil {
		return nil, err
	}
	out := make([]models.Candle, 0, limit)
	for i := 0; i < limit; i++ {
		out = append(out, r.next(pair, d))
	}
	return out, nil
}

// Stream emits one candle per pair per round, pairs in the given order.
func (r *RandomWalk) Stream(ctx context.Context, pairs []string, interval string) (<-chan models.Tick, error) {
	d, err := IntervalDuration(interval)
	if err != nil {
		return nil, err
	}
	out := make(chan models.Tick, len(pairs))
	go func() {
		defer close(out)
		var ticker *time.Ticker
		if r.Step > 0 {
			ticker = time.NewTicker(r.Step)
			defer ticker.Stop()
		}
		for round := 0; r.Candles == 0 || round < r.Candles; round++ {
			for _, p := range pairs {
				select {
				case out <- models.Tick{Pair: p, Candle: r.next(p, d)}:
				case <-ctx.Done():
					return
				}
			}
			if ticker != nil {
				select {
				case <-ticker.C:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
