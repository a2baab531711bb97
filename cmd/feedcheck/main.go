// Command feedcheck probes the Binance REST and stream endpoints for the configured pairs.
//
//	go run ./cmd/feedcheck [ticks]
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"papertrader/src/config"
	"papertrader/src/feed"
	"papertrader/src/indicators"
	"papertrader/src/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	want := 10
	if len(os.Args) > 1 {
		if n, err := strconv.Atoi(os.Args[1]); err == nil && n > 0 {
			want = n
		}
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	log.Infof("=== REST klines (%s, %d candles) ===", cfg.Session.Interval, cfg.Feed.WarmupCandles)
	hist := feed.NewBinanceHistory("", 0)
	calc := indicators.NewCalculator(indicators.DefaultPeriods())
	failed := false
	for _, pair := range cfg.Session.Pairs {
		candles, err := hist.History(ctx, pair, cfg.Session.Interval, cfg.Feed.WarmupCandles)
		if err != nil {
			log.Error(pair+" history failed", err)
			failed = true
			continue
		}
		if len(candles) == 0 {
			log.Warnf("%s returned no candles", pair)
			continue
		}
		last := candles[len(candles)-1]
		ind := calc.Compute(candles)
		log.Infof("%s: %d candles, last close %.6f at %s | RSI %.1f MACD %.6f BB %.2f ATR %.6f",
			pair, len(candles), last.Close, last.Time.Format(time.RFC3339), ind.RSI, ind.MACD, ind.BollingerPosition, ind.ATR)
	}

	log.Infof("=== stream (%d ticks) ===", want)
	stream := feed.NewBinanceStream(cfg.Feed.StreamURL, cfg.Feed.ReconnectDelay, false, log)
	ticks, err := stream.Stream(ctx, cfg.Session.Pairs, cfg.Session.Interval)
	if err != nil {
		log.Error("stream failed", err)
		os.Exit(1)
	}
	got := 0
	for tick := range ticks {
		got++
		c := tick.Candle
		log.Infof("[%d] %s o=%.6f h=%.6f l=%.6f c=%.6f v=%.4f closed=%v",
			got, tick.Pair, c.Open, c.High, c.Low, c.Close, c.Volume, c.Closed)
		if got >= want {
			cancel()
			break
		}
	}
	if got < want || failed {
		log.Warnf("feed check incomplete: %d/%d ticks", got, want)
		os.Exit(1)
	}
	log.Infof("feed check passed")
}
