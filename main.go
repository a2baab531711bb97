package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"papertrader/src/app"
	"papertrader/src/config"
	"papertrader/src/logger"
	"papertrader/src/portfolio"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, closeLog := buildLogger(cfg)
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("shutdown signal received, closing session...")
		cancel()
	}()

	a, err := app.New(cfg, log, app.Options{})
	if err != nil {
		log.Error("building session failed", err)
		closeLog()
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil {
		log.Error("session ended with error", err)
	}

	printPerformance(a.Stats())
	log.Infof("paper trader stopped")
}

// buildLogger writes to stdout, or to a file while the terminal view owns the screen.
func buildLogger(cfg *config.Config) (*logger.Logger, func()) {
	if !cfg.TUI.Enabled {
		return logger.New(cfg.Log.Level, cfg.Log.Format), func() {}
	}
	f, err := os.OpenFile("papertrader.log", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open log file: %v\n", err)
		return logger.New(cfg.Log.Level, "json"), func() {}
	}
	return logger.NewWithWriter(f, cfg.Log.Level, "json"), func() { f.Close() }
}

func printPerformance(s portfolio.Stats) {
	roi := 0.0
	if s.InitialCapital > 0 {
		roi = (s.Equity - s.InitialCapital) / s.InitialCapital * 100
	}
	fmt.Println("\n=== Paper trading performance ===")
	fmt.Printf("Initial capital: %.2f\n", s.InitialCapital)
	fmt.Printf("Final equity:    %.2f\n", s.Equity)
	fmt.Printf("Total profit:    %.4f (ROI %.2f%%)\n", s.TotalProfit, roi)
	fmt.Printf("Closed trades:   %d (win %d / loss %d)\n", s.ClosedTrades, s.WinCount, s.LossCount)
	fmt.Printf("Win rate:        %.2f%%\n", s.WinRate*100)
	fmt.Printf("Average win:     %.4f\n", s.AvgWin)
	fmt.Printf("Average loss:    %.4f\n", s.AvgLoss)
	fmt.Printf("Max drawdown:    %.2f%%\n", s.MaxDrawdown*100)
	fmt.Printf("Open positions:  %d\n", s.OpenPositions)
}
