package exits

import (
	"fmt"
	"time"

	"papertrader/src/logger"
	"papertrader/src/models"
	"papertrader/src/numeric"
	"papertrader/src/portfolio"

	"github.com/shopspring/decimal"
)

// Ledger is the slice of the portfolio the monitor needs.
type Ledger interface {
	Position(pair string) (portfolio.Position, bool)
	UpdateExitState(pair string, fn func(*portfolio.ExitState)) bool
	RecordExit(pair string, price, quantity float64, reason portfolio.ExitReason) (portfolio.TradeRecord, error)
}

const (
	ModeStatic = "static"
	ModeATR    = "atr"
)

// ATRBands derive percentage thresholds from volatility.
type ATRBands struct {
	StopMultiplier float64
	MinStopPct     float64
	MaxStopPct     float64
	TakeMultiplier float64
	MinTakePct     float64
	MaxTakePct     float64
}

// Trailing activates once the gain exceeds ActivationPct and closes after the gain
// gives back GivebackPct from its best.
type Trailing struct {
	Enabled       bool
	ActivationPct float64
	GivebackPct   float64
}

// PartialLevel closes Fraction of what is left once the gain reaches LevelPct.
type PartialLevel struct {
	LevelPct float64
	Fraction float64
}

type Config struct {
	Mode          string
	StopLossPct   float64
	TakeProfitPct float64
	ATR           ATRBands
	Trailing      Trailing
	Partials      []PartialLevel // empty disables the ladder
	MaxHoldBars   int            // 0 disables the time stop
}

// Result tells the executor what happened on this tick.
type Result struct {
	Modified      bool // any exit fired; entries are skipped for the tick
	Closed        bool // the position is gone
	Reason        portfolio.ExitReason
	Records       []portfolio.TradeRecord
	PercentChange float64
	StopLossPct   float64
	TakeProfitPct float64
}

// Monitor evaluates exit rules for open positions, one pair at a time.
type Monitor struct {
	cfg    Config
	ledger Ledger
	log    *logger.Logger
}

func NewMonitor(cfg Config, ledger Ledger, log *logger.Logger) *Monitor {
	if log == nil {
		log = logger.Nop()
	}
	return &Monitor{cfg: cfg, ledger: ledger, log: log.Component("exits")}
}

// Thresholds returns the stop-loss and take-profit percentages in force at price.
func (m *Monitor) Thresholds(price float64, ind models.Indicators) (stopLoss, takeProfit float64) {
	if m.cfg.Mode == ModeATR {
		if atrPct := ind.ATRPercent(price); atrPct > 0 {
			b := m.cfg.ATR
			return numeric.Clamp(atrPct*b.StopMultiplier, b.MinStopPct, b.MaxStopPct),
				numeric.Clamp(atrPct*b.TakeMultiplier, b.MinTakePct, b.MaxTakePct)
		}
	}
	return m.cfg.StopLossPct, m.cfg.TakeProfitPct
}

// Check runs the rules for pair at price on the bar opened at bar. Order: stop-loss,
// take-profit, trailing stop, partial ladder, time stop. The first rule that fires ends
// the check. BarsHeld advances once per new bar, however many updates that bar gets.
func (m *Monitor) Check(pair string, bar time.Time, price float64, ind models.Indicators) (Result, error) {
	pos, ok := m.ledger.Position(pair)
	if !ok || !(price > 0) {
		return Result{}, nil
	}

	pc := numeric.PercentChange(pos.EntryPrice, price)
	pcf := numeric.Float(pc)
	trailing := m.cfg.Trailing

	var state portfolio.ExitState
	m.ledger.UpdateExitState(pair, func(s *portfolio.ExitState) {
		if bar.After(s.LastBar) {
			s.BarsHeld++
			s.LastBar = bar
		}
		if trailing.Enabled && numeric.GT(pc, trailing.ActivationPct) {
			s.TrailingActive = true
		}
		if s.TrailingActive && pcf > s.MaxFavorableExcursion {
			s.MaxFavorableExcursion = pcf
		}
		state = *s
	})

	sl, tp := m.Thresholds(price, ind)
	res := Result{PercentChange: pcf, StopLossPct: sl, TakeProfitPct: tp}

	switch {
	case numeric.LTE(pc, -sl):
		return m.closeAll(res, pos, price, portfolio.ReasonStopLoss)
	case numeric.GTE(pc, tp):
		return m.closeAll(res, pos, price, portfolio.ReasonTakeProfit)
	case trailing.Enabled && state.TrailingActive && givenBack(state.MaxFavorableExcursion, pc, trailing.GivebackPct):
		return m.closeAll(res, pos, price, portfolio.ReasonTrailingStop)
	}

	if len(m.cfg.Partials) > 0 {
		fired, err := m.partials(&res, pair, price, pc, state)
		if err != nil || fired {
			return res, err
		}
	}

	if m.cfg.MaxHoldBars > 0 && state.BarsHeld > m.cfg.MaxHoldBars {
		return m.closeAll(res, pos, price, portfolio.ReasonTimeStop)
	}
	return res, nil
}

// givenBack reports pc < mfe - giveback.
func givenBack(mfe float64, pc decimal.Decimal, giveback float64) bool {
	return numeric.GT(numeric.Dec(mfe).Sub(pc), giveback)
}

func (m *Monitor) closeAll(res Result, pos portfolio.Position, price float64, reason portfolio.ExitReason) (Result, error) {
	rec, err := m.ledger.RecordExit(pos.Pair, price, pos.Quantity, reason)
	if err != nil {
		return res, fmt.Errorf("%s exit %s: %w", reason, pos.Pair, err)
	}
	res.Modified, res.Closed, res.Reason = true, true, reason
	res.Records = append(res.Records, rec)
	m.log.Infof("%s %s closed %.8f @ %.6f (%.2f%%) profit %.4f",
		pos.Pair, reason, rec.Quantity, price, res.PercentChange, rec.Profit)
	return res, nil
}

// partials fires every ladder level reached and not yet used by this position.
func (m *Monitor) partials(res *Result, pair string, price float64, pc decimal.Decimal, state portfolio.ExitState) (bool, error) {
	fired := false
	for i, lvl := range m.cfg.Partials {
		if state.LevelsTriggered[i] || !numeric.GTE(pc, lvl.LevelPct) {
			continue
		}
		level := i
		m.ledger.UpdateExitState(pair, func(s *portfolio.ExitState) { s.LevelsTriggered[level] = true })

		pos, ok := m.ledger.Position(pair)
		if !ok {
			break
		}
		qty := numeric.FloorQuantity(pos.Quantity * lvl.Fraction)
		if qty >= pos.Quantity {
			qty = pos.Quantity
		}
		if qty <= 0 {
			continue
		}
		rec, err := m.ledger.RecordExit(pair, price, qty, portfolio.ReasonPartialTakeProfit)
		if err != nil {
			return fired, fmt.Errorf("partial exit %s level %.2f%%: %w", pair, lvl.LevelPct, err)
		}
		fired = true
		res.Modified = true
		res.Reason = portfolio.ReasonPartialTakeProfit
		res.Records = append(res.Records, rec)
		m.log.Infof("%s partial take-profit at +%.2f%%: sold %.8f, profit %.4f",
			pair, lvl.LevelPct, qty, rec.Profit)
		if !rec.Partial {
			res.Closed = true
			break
		}
	}
	return fired, nil
}
