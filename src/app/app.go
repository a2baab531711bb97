// Package app wires configuration into a running paper-trading session.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"papertrader/src/config"
	"papertrader/src/dashboard"
	"papertrader/src/exits"
	"papertrader/src/feed"
	"papertrader/src/indicators"
	"papertrader/src/logger"
	"papertrader/src/notify"
	"papertrader/src/portfolio"
	"papertrader/src/sizing"
	"papertrader/src/strategy"
	"papertrader/src/trading"
	"papertrader/src/tui"

	"golang.org/x/sync/errgroup"
)

// Options override parts of the wiring, mostly for tests and offline runs.
type Options struct {
	Feed       feed.Source
	History    feed.Historian
	Publishers []trading.Publisher
}

// App owns every component of one paper-trading process.
type App struct {
	cfg *config.Config
	log *logger.Logger

	ledger  *portfolio.Ledger
	exec    *trading.Executor
	session *trading.Session
	feed    feed.Source
	history feed.Historian

	dashboard *dashboard.Server
	tui       *tui.Publisher
	notifier  *notify.TelegramNotifier

	startCh chan struct{}

	mu            sync.Mutex
	stoppedByUser bool
}

func New(cfg *config.Config, log *logger.Logger, opts Options) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}
	a := &App{cfg: cfg, log: log.Component("app"), startCh: make(chan struct{}, 1)}

	a.ledger = portfolio.NewLedger(portfolio.Options{
		InitialCapital: cfg.Session.InitialCapital,
		CommissionRate: cfg.Trading.CommissionRate,
	})

	src, err := strategy.New(cfg.Strategy.Name, cfg.Strategy.Seed)
	if err != nil {
		return nil, err
	}
	sizer, err := sizing.New(sizing.Config{
		Policy:              cfg.Sizing.Policy,
		BaseFraction:        cfg.Sizing.BaseFraction,
		MaxFractionPerTrade: cfg.Sizing.MaxFractionPerTrade,
		MinTradeValue:       cfg.Sizing.MinTradeValue,
		MaxKelly:            cfg.Sizing.MaxKelly,
		KellyMinTrades:      cfg.Sizing.KellyMinTrades,
	})
	if err != nil {
		return nil, err
	}
	monitor := exits.NewMonitor(ExitConfig(cfg.Exit), a.ledger, log)

	pubs := append([]trading.Publisher(nil), opts.Publishers...)
	if cfg.Dashboard.Enabled {
		a.dashboard = dashboard.NewServer(cfg.Dashboard.Addr, a, log)
		pubs = append(pubs, a.dashboard.Hub())
	}
	if cfg.TUI.Enabled {
		a.tui = tui.NewPublisher()
		pubs = append(pubs, a.tui)
	}

	a.exec = trading.NewExecutor(trading.Config{
		HistorySize:         cfg.Session.HistorySize,
		ConfidenceThreshold: cfg.Trading.ConfidenceThreshold,
		AdaptiveThreshold:   cfg.Trading.AdaptiveThreshold,
		AdaptiveMinTrades:   cfg.Trading.AdaptiveMinTrades,
		MaxOpenPositions:    cfg.Trading.MaxOpenPositions,
		Strict:              cfg.Strict(),
	}, a.ledger, indicators.NewCalculator(indicators.DefaultPeriods()), src, sizer, monitor, nil, log)

	a.session = trading.NewSession(trading.SessionConfig{
		Pairs:            cfg.Session.Pairs,
		QueueSize:        cfg.Session.QueueSize,
		ForceCloseOnStop: cfg.Session.ForceCloseOnStop,
		ReportDir:        cfg.Session.ReportDir,
		StatusInterval:   cfg.Session.StatusInterval,
	}, a.exec, a.ledger, trading.Fanout(log, pubs...), log)

	a.feed, a.history = opts.Feed, opts.History
	if a.feed == nil {
		a.feed, a.history = buildFeed(cfg.Feed, cfg.Strategy.Seed, log)
	}

	a.notifier, err = notify.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID, a, log)
	if err != nil {
		// notifications are optional
		a.log.Warnf("telegram disabled: %v", err)
	}
	if a.notifier != nil {
		a.ledger.Subscribe(a.notifier)
	}

	a.log.Infof("profile %s | strategy %s | sizing %s | exits %s | pairs %v",
		cfg.Profile, src.Name(), sizer.Name(), cfg.Exit.Mode, cfg.Session.Pairs)
	return a, nil
}

func buildFeed(cfg config.FeedConfig, seed int64, log *logger.Logger) (feed.Source, feed.Historian) {
	if cfg.Source == "random" {
		rw := feed.NewRandomWalk(seed, cfg.RandomStartPrice, cfg.RandomVolatility, cfg.RandomStep, cfg.RandomCandles)
		return rw, rw
	}
	return feed.NewBinanceStream(cfg.StreamURL, cfg.ReconnectDelay, cfg.ClosedOnly, log),
		feed.NewBinanceHistory("", 0)
}

// ExitConfig maps configuration onto the exit monitor.
func ExitConfig(c config.ExitConfig) exits.Config {
	out := exits.Config{
		Mode:          c.Mode,
		StopLossPct:   c.StopLossPct,
		TakeProfitPct: c.TakeProfitPct,
		ATR: exits.ATRBands{
			StopMultiplier: c.ATRStopMultiplier,
			MinStopPct:     c.MinStopLossPct,
			MaxStopPct:     c.MaxStopLossPct,
			TakeMultiplier: c.ATRTakeProfitMultiplier,
			MinTakePct:     c.MinTakeProfitPct,
			MaxTakePct:     c.MaxTakeProfitPct,
		},
		Trailing: exits.Trailing{
			Enabled:       c.TrailingEnabled,
			ActivationPct: c.TrailingActivationPct,
			GivebackPct:   c.TrailingGivebackPct,
		},
		MaxHoldBars: c.MaxHoldBars,
	}
	if c.PartialEnabled {
		for _, l := range c.PartialLevels {
			out.Partials = append(out.Partials, exits.PartialLevel{LevelPct: l.Level, Fraction: l.Fraction})
		}
	}
	return out
}

// Run trades until ctx ends or a finite feed is exhausted. The dashboard, terminal view
// and chat bot run alongside and stop with it.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	if a.dashboard != nil {
		g.Go(func() error { return a.dashboard.Run(runCtx) })
	}
	if a.notifier != nil {
		g.Go(func() error { return a.notifier.Run(runCtx) })
	}
	if a.tui != nil {
		g.Go(func() error { return a.tui.Run(runCtx, cancel) })
	}
	g.Go(func() error {
		defer cancel()
		return a.trade(runCtx)
	})
	return g.Wait()
}

func (a *App) trade(ctx context.Context) error {
	pairs, interval := a.cfg.Session.Pairs, a.cfg.Session.Interval
	for {
		a.warmup(ctx)

		streamCtx, stopStream := context.WithCancel(ctx)
		ticks, err := a.feed.Stream(streamCtx, pairs, interval)
		if err != nil {
			stopStream()
			return fmt.Errorf("open feed: %w", err)
		}
		err = a.session.Run(ctx, ticks)
		stopStream()
		if err != nil {
			if a.notifier != nil {
				a.notifier.SendErrorNotification("session aborted", err.Error())
			}
			return err
		}
		if ctx.Err() != nil || !a.wasStoppedByUser() {
			return nil
		}

		a.log.Infof("session stopped; waiting for a start command")
		select {
		case <-ctx.Done():
			return nil
		case <-a.startCh:
			a.setStoppedByUser(false)
		}
	}
}

// warmup seeds empty histories from the feed's REST side so indicators are ready on the
// first live candle.
func (a *App) warmup(ctx context.Context) {
	n := a.cfg.Feed.WarmupCandles
	if a.history == nil || n <= 0 {
		return
	}
	for _, pair := range a.cfg.Session.Pairs {
		if a.exec.HistoryLen(pair) > 0 {
			continue
		}
		candles, err := a.history.History(ctx, pair, a.cfg.Session.Interval, n)
		if err != nil {
			a.log.Warnf("%s warmup failed: %v", pair, err)
			continue
		}
		a.exec.Warm(pair, candles)
		a.log.Infof("%s warmed up with %d candles", pair, len(candles))
	}
}

func (a *App) setStoppedByUser(v bool) {
	a.mu.Lock()
	a.stoppedByUser = v
	a.mu.Unlock()
}

func (a *App) wasStoppedByUser() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stoppedByUser
}

// Snapshot implements dashboard.Controls and notify.Controls.
func (a *App) Snapshot() portfolio.Snapshot { return a.session.Snapshot() }

// ErrNotStopped is returned by Start when no user stop is pending, e.g. while the first
// session is still warming up.
var ErrNotStopped = errors.New("session was not stopped by a user")

// Start asks a session stopped by Stop to resume trading.
func (a *App) Start() error {
	if a.session.Status() == trading.StatusRunning {
		return trading.ErrRunning
	}
	if !a.wasStoppedByUser() {
		return ErrNotStopped
	}
	select {
	case a.startCh <- struct{}{}:
	default:
	}
	return nil
}

// Stop ends the running session; the process keeps serving until Start or shutdown.
func (a *App) Stop() error {
	a.setStoppedByUser(true)
	if _, err := a.session.Stop(); err != nil {
		if errors.Is(err, trading.ErrNotRunning) {
			a.setStoppedByUser(false)
		}
		return err
	}
	return nil
}

// Reset clears the ledger and histories. The session must be stopped.
func (a *App) Reset() error { return a.session.Reset() }

// Stats summarizes the ledger.
func (a *App) Stats() portfolio.Stats { return a.ledger.Stats() }
