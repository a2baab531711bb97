// Command simulate runs a complete session against the seeded random-walk feed.
//
//	go run ./cmd/simulate [candles] [seed]
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"papertrader/src/app"
	"papertrader/src/config"
	"papertrader/src/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cfg.Feed.Source = "random"
	cfg.Feed.RandomStep = 0
	cfg.Dashboard.Enabled = false
	cfg.TUI.Enabled = false
	if cfg.Feed.RandomCandles == 0 {
		cfg.Feed.RandomCandles = 1000
	}
	if len(os.Args) > 1 {
		n, err := strconv.Atoi(os.Args[1])
		if err != nil || n <= 0 {
			fmt.Fprintf(os.Stderr, "candles must be a positive integer, got %q\n", os.Args[1])
			os.Exit(2)
		}
		cfg.Feed.RandomCandles = n
	}
	if len(os.Args) > 2 {
		seed, err := strconv.ParseInt(os.Args[2], 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed must be an integer, got %q\n", os.Args[2])
			os.Exit(2)
		}
		cfg.Strategy.Seed = seed
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Infof("simulating %d candles per pair for %v (profile %s, seed %d)",
		cfg.Feed.RandomCandles, cfg.Session.Pairs, cfg.Profile, cfg.Strategy.Seed)

	a, err := app.New(cfg, log, app.Options{})
	if err != nil {
		log.Error("building session failed", err)
		os.Exit(1)
	}
	if err := a.Run(context.Background()); err != nil {
		log.Error("simulation failed", err)
		os.Exit(1)
	}

	s := a.Stats()
	fmt.Printf("\nequity %.2f | profit %.4f | trades %d | win rate %.1f%% | max drawdown %.2f%%\n",
		s.Equity, s.TotalProfit, s.ClosedTrades, s.WinRate*100, s.MaxDrawdown*100)
	fmt.Printf("report written to %s\n", cfg.Session.ReportDir)
}
