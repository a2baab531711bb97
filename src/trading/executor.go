package trading

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"papertrader/src/exits"
	"papertrader/src/indicators"
	"papertrader/src/logger"
	"papertrader/src/models"
	"papertrader/src/portfolio"
	"papertrader/src/sizing"
	"papertrader/src/strategy"
)

// Config holds executor policy.
type Config struct {
	HistorySize         int
	ConfidenceThreshold float64
	AdaptiveThreshold   bool
	AdaptiveMinTrades   int
	MaxOpenPositions    int  // 0 means unlimited
	Strict              bool // ledger invariant violations are returned instead of logged
}

// Executor runs the per-tick pipeline: history, indicators, exits, signal, sizing, entry.
// OnTick for one pair must be called serially; different pairs may run concurrently.
type Executor struct {
	cfg       Config
	ledger    *portfolio.Ledger
	calc      *indicators.Calculator
	source    strategy.Source
	sizer     sizing.Sizer
	exits     *exits.Monitor
	publisher Publisher
	log       *logger.Logger

	mu    sync.Mutex
	pairs map[string]*pairState
}

type pairState struct {
	history *History
}

// NewExecutor wires the pipeline. The signal source is wrapped with strategy.Safe.
func NewExecutor(cfg Config, ledger *portfolio.Ledger, calc *indicators.Calculator, source strategy.Source,
	sizer sizing.Sizer, monitor *exits.Monitor, publisher Publisher, log *logger.Logger) *Executor {
	if log == nil {
		log = logger.Nop()
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	return &Executor{
		cfg:       cfg,
		ledger:    ledger,
		calc:      calc,
		source:    strategy.Safe(source, log),
		sizer:     sizer,
		exits:     monitor,
		publisher: publisher,
		log:       log.Component("executor"),
		pairs:     make(map[string]*pairState),
	}
}

func (e *Executor) state(pair string) *pairState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.pairs[pair]
	if !ok {
		st = &pairState{history: NewHistory(e.cfg.HistorySize)}
		e.pairs[pair] = st
	}
	return st
}

// Warm seeds a pair's history without trading.
func (e *Executor) Warm(pair string, candles []models.Candle) {
	st := e.state(pair)
	for _, c := range candles {
		st.history.Push(c)
	}
	if last, ok := st.history.Last(); ok {
		e.ledger.Mark(pair, last.Close)
	}
}

// ResetHistory forgets every pair's candles.
func (e *Executor) ResetHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pairs = make(map[string]*pairState)
}

// HistoryLen reports how many candles are buffered for pair.
func (e *Executor) HistoryLen(pair string) int {
	return e.state(pair).history.Len()
}

// OnTick processes one candle for pair. Panics and per-pair failures are logged and
// swallowed; in strict mode an oversell or missing position during an exit is returned.
func (e *Executor) OnTick(pair string, candle models.Candle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorf("%s tick recovered from panic: %v", pair, r)
			err = nil
		}
		e.publisher.Publish(e.ledger.Snapshot())
	}()

	if !(candle.Close > 0) || math.IsInf(candle.Close, 0) {
		e.log.Warnf("%s dropping candle with bad close %v", pair, candle.Close)
		return nil
	}

	st := e.state(pair)
	st.history.Push(candle)
	e.ledger.Mark(pair, candle.Close)

	history := st.history.Candles()
	ind := e.calc.Compute(history)

	res, err := e.exits.Check(pair, candle.Time, candle.Close, ind)
	if err != nil {
		e.log.Error(pair+" exit check failed", err)
		if e.cfg.Strict && isInvariantViolation(err) {
			return err
		}
		return nil
	}
	if res.Modified {
		return nil
	}

	return e.evaluateEntry(pair, candle, history, ind)
}

func (e *Executor) evaluateEntry(pair string, candle models.Candle, history []models.Candle, ind models.Indicators) error {
	sig := e.source.GenerateSignal(pair, history, ind)
	if sig.Action == models.ActionHold {
		return nil
	}
	threshold := e.Threshold()
	if sig.Confidence < threshold {
		e.log.Debugf("%s %s ignored: confidence %.2f < %.2f", pair, sig.Action, sig.Confidence, threshold)
		return nil
	}

	pos, open := e.ledger.Position(pair)
	price := candle.Close

	switch sig.Action {
	case models.ActionBuy:
		if open {
			return nil
		}
		if e.cfg.MaxOpenPositions > 0 && e.ledger.OpenPositionCount() >= e.cfg.MaxOpenPositions {
			e.log.Debugf("%s BUY skipped: %d positions open", pair, e.cfg.MaxOpenPositions)
			return nil
		}
		stats := e.ledger.Stats()
		qty := e.sizer.Size(sizing.Request{Cash: stats.Cash, Price: price, Confidence: sig.Confidence, Stats: stats})
		if qty <= 0 {
			e.log.Debugf("%s BUY skipped: size is zero (cash %.2f)", pair, stats.Cash)
			return nil
		}
		rec, err := e.ledger.RecordEntryCapped(pair, price, qty, sig.Confidence, e.cfg.MaxOpenPositions)
		switch {
		case errors.Is(err, portfolio.ErrPositionLimit):
			e.log.Debugf("%s BUY skipped: %v", pair, err)
			return nil
		case errors.Is(err, portfolio.ErrInsufficientFunds):
			e.log.Warnf("%s BUY skipped: %v", pair, err)
			return nil
		case err != nil:
			e.log.Error(pair+" BUY failed", err)
			return nil
		}
		// the entry bar does not count towards the hold time
		e.ledger.UpdateExitState(pair, func(s *portfolio.ExitState) { s.LastBar = candle.Time })
		e.log.Infof("BUY %s %.8f @ %.6f | confidence %.0f%% | %s", pair, rec.Quantity, price, sig.Confidence*100, sig.Reason)

	case models.ActionSell:
		if !open {
			return nil
		}
		rec, err := e.ledger.RecordExit(pair, price, pos.Quantity, portfolio.ReasonSignal)
		if err != nil {
			e.log.Error(pair+" SELL failed", err)
			if e.cfg.Strict && isInvariantViolation(err) {
				return fmt.Errorf("signal exit %s: %w", pair, err)
			}
			return nil
		}
		e.log.Infof("SELL %s %.8f @ %.6f | profit %.4f (%.2f%%)", pair, rec.Quantity, price, rec.Profit, rec.ReturnPct)
	}
	return nil
}

// Threshold is the confidence a signal needs. With adaptive thresholds it rises while the
// win rate is below 60% and falls while it is above 70%.
func (e *Executor) Threshold() float64 {
	base := e.cfg.ConfidenceThreshold
	if !e.cfg.AdaptiveThreshold {
		return base
	}
	stats := e.ledger.Stats()
	if stats.ClosedTrades < e.cfg.AdaptiveMinTrades {
		return base
	}
	wr := stats.WinRate
	switch {
	case wr < 0.6:
		return math.Min(0.85, base+(0.6-wr)*2)
	case wr > 0.7:
		return math.Max(0.65, base-(wr-0.7)*1.5)
	default:
		return base
	}
}

// CloseAll exits every open position at its last mark.
func (e *Executor) CloseAll(reason portfolio.ExitReason) []portfolio.TradeRecord {
	var out []portfolio.TradeRecord
	for _, pos := range e.ledger.Positions() {
		price, ok := e.ledger.LastPrice(pos.Pair)
		if !ok {
			price = pos.EntryPrice
		}
		rec, err := e.ledger.RecordExit(pos.Pair, price, pos.Quantity, reason)
		if err != nil {
			e.log.Error(pos.Pair+" close failed", err)
			continue
		}
		e.log.Infof("%s %s %.8f @ %.6f | profit %.4f", reason, pos.Pair, rec.Quantity, price, rec.Profit)
		out = append(out, rec)
	}
	return out
}

func isInvariantViolation(err error) bool {
	return errors.Is(err, portfolio.ErrOverSell) || errors.Is(err, portfolio.ErrNoOpenPosition)
}
