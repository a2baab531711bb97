package exits

import (
	"testing"
	"time"

	"papertrader/src/models"
	"papertrader/src/portfolio"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pair = "BTCUSDT"

func setup(t *testing.T, cfg Config, qty float64) (*Monitor, *portfolio.Ledger) {
	t.Helper()
	ledger := portfolio.NewLedger(portfolio.Options{InitialCapital: 100000})
	_, err := ledger.RecordEntry(pair, 100, qty, 0.8)
	require.NoError(t, err)
	return NewMonitor(cfg, ledger, nil), ledger
}

func staticConfig(sl, tp float64) Config {
	return Config{Mode: ModeStatic, StopLossPct: sl, TakeProfitPct: tp}
}

var barClock = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

// check evaluates price on a fresh bar.
func check(t *testing.T, m *Monitor, price float64) Result {
	t.Helper()
	barClock = barClock.Add(time.Minute)
	return checkAt(t, m, barClock, price)
}

func checkAt(t *testing.T, m *Monitor, bar time.Time, price float64) Result {
	t.Helper()
	res, err := m.Check(pair, bar, price, models.NeutralIndicators())
	require.NoError(t, err)
	return res
}

func TestStopLossBoundary(t *testing.T) {
	m, ledger := setup(t, staticConfig(0.8, 3), 1)

	res := check(t, m, 99.21)
	assert.False(t, res.Modified)
	_, open := ledger.Position(pair)
	assert.True(t, open)

	res = check(t, m, 99.2)
	assert.True(t, res.Closed)
	assert.Equal(t, portfolio.ReasonStopLoss, res.Reason)
	_, open = ledger.Position(pair)
	assert.False(t, open)
}

func TestTakeProfit(t *testing.T) {
	m, _ := setup(t, staticConfig(1.5, 3), 1)
	res := check(t, m, 103)
	assert.True(t, res.Closed)
	assert.Equal(t, portfolio.ReasonTakeProfit, res.Reason)
	require.Len(t, res.Records, 1)
	assert.InDelta(t, 3, res.Records[0].Profit, 1e-9)
}

func TestStopLossWinsOverTakeProfit(t *testing.T) {
	// misconfigured so both rules match at +0.7%
	m, ledger := setup(t, staticConfig(-1, 0.5), 1)
	res := check(t, m, 100.7)

	assert.Equal(t, portfolio.ReasonStopLoss, res.Reason)
	require.Len(t, res.Records, 1)
	assert.Len(t, ledger.Trades(), 2)
}

func TestTrailingStopAfterGiveback(t *testing.T) {
	cfg := staticConfig(5, 10)
	cfg.Trailing = Trailing{Enabled: true, ActivationPct: 1.0, GivebackPct: 0.5}
	m, ledger := setup(t, cfg, 1)

	assert.False(t, check(t, m, 100.5).Modified)
	assert.False(t, check(t, m, 101.2).Modified)

	pos, _ := ledger.Position(pair)
	assert.True(t, pos.Exit.TrailingActive)
	assert.Equal(t, 1.2, pos.Exit.MaxFavorableExcursion)

	res := check(t, m, 100.6)
	assert.True(t, res.Closed)
	assert.Equal(t, portfolio.ReasonTrailingStop, res.Reason)
}

func TestTrailingGivebackIsStrict(t *testing.T) {
	cfg := staticConfig(5, 10)
	cfg.Trailing = Trailing{Enabled: true, ActivationPct: 1.0, GivebackPct: 0.5}
	m, ledger := setup(t, cfg, 1)

	assert.False(t, check(t, m, 101.2).Modified)
	// exactly MFE - giveback keeps the position
	assert.False(t, check(t, m, 100.7).Modified)
	_, open := ledger.Position(pair)
	assert.True(t, open)

	res := check(t, m, 100.69)
	assert.Equal(t, portfolio.ReasonTrailingStop, res.Reason)
}

func TestTrailingStaysArmedBelowActivation(t *testing.T) {
	cfg := staticConfig(5, 10)
	cfg.Trailing = Trailing{Enabled: true, ActivationPct: 1.0, GivebackPct: 0.5}
	m, _ := setup(t, cfg, 1)

	assert.False(t, check(t, m, 101.1).Modified)
	// gave back 0.2, then 0.6
	assert.False(t, check(t, m, 100.9).Modified)
	res := check(t, m, 100.5)
	assert.Equal(t, portfolio.ReasonTrailingStop, res.Reason)
}

func TestTrailingIgnoredBeforeActivation(t *testing.T) {
	cfg := staticConfig(5, 10)
	cfg.Trailing = Trailing{Enabled: true, ActivationPct: 1.0, GivebackPct: 0.5}
	m, _ := setup(t, cfg, 1)

	assert.False(t, check(t, m, 100.9).Modified)
	assert.False(t, check(t, m, 100.1).Modified)
}

func ladder() []PartialLevel {
	return []PartialLevel{{LevelPct: 0.5, Fraction: 0.3}, {LevelPct: 1.0, Fraction: 0.3}, {LevelPct: 2.0, Fraction: 0.4}}
}

func TestPartialLevelsFireOnce(t *testing.T) {
	cfg := staticConfig(5, 10)
	cfg.Partials = ladder()
	m, ledger := setup(t, cfg, 10)

	res := check(t, m, 100.5)
	assert.True(t, res.Modified)
	assert.False(t, res.Closed)
	assert.Equal(t, portfolio.ReasonPartialTakeProfit, res.Reason)

	for _, price := range []float64{100.2, 100.6, 100.5, 100.7} {
		assert.False(t, check(t, m, price).Modified, "price %v", price)
	}
	pos, _ := ledger.Position(pair)
	assert.InDelta(t, 7, pos.Quantity, 1e-9)

	assert.True(t, check(t, m, 101).Modified)
	pos, _ = ledger.Position(pair)
	assert.InDelta(t, 4.9, pos.Quantity, 1e-9)
	assert.False(t, check(t, m, 101.5).Modified)

	assert.True(t, check(t, m, 102).Modified)
	pos, _ = ledger.Position(pair)
	assert.InDelta(t, 2.94, pos.Quantity, 1e-9)

	partials := 0
	for _, tr := range ledger.Trades() {
		if tr.Reason == portfolio.ReasonPartialTakeProfit {
			partials++
		}
	}
	assert.Equal(t, 3, partials)
}

func TestPartialLevelsCanFireTogether(t *testing.T) {
	cfg := staticConfig(5, 10)
	cfg.Partials = ladder()
	m, ledger := setup(t, cfg, 10)

	res := check(t, m, 101)
	require.Len(t, res.Records, 2)
	assert.InDelta(t, 3, res.Records[0].Quantity, 1e-9)
	assert.InDelta(t, 2.1, res.Records[1].Quantity, 1e-9)
	pos, _ := ledger.Position(pair)
	assert.InDelta(t, 4.9, pos.Quantity, 1e-9)
}

func TestTimeStop(t *testing.T) {
	cfg := staticConfig(5, 10)
	cfg.MaxHoldBars = 3
	m, _ := setup(t, cfg, 1)

	for i := 0; i < 3; i++ {
		assert.False(t, check(t, m, 100).Modified)
	}
	res := check(t, m, 100)
	assert.True(t, res.Closed)
	assert.Equal(t, portfolio.ReasonTimeStop, res.Reason)
}

func TestTimeStopCountsBarsNotUpdates(t *testing.T) {
	cfg := staticConfig(5, 10)
	cfg.MaxHoldBars = 3
	m, ledger := setup(t, cfg, 1)

	entryBar := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	ledger.UpdateExitState(pair, func(s *portfolio.ExitState) { s.LastBar = entryBar })

	// in-progress updates of the entry bar and the next one
	for i := 0; i < 3; i++ {
		assert.False(t, checkAt(t, m, entryBar, 100).Modified)
	}
	next := entryBar.Add(time.Minute)
	for i := 0; i < 5; i++ {
		assert.False(t, checkAt(t, m, next, 100).Modified)
	}
	pos, _ := ledger.Position(pair)
	assert.Equal(t, 1, pos.Exit.BarsHeld)

	assert.False(t, checkAt(t, m, next.Add(time.Minute), 100).Modified)
	assert.False(t, checkAt(t, m, next.Add(2*time.Minute), 100).Modified)
	res := checkAt(t, m, next.Add(3*time.Minute), 100)
	assert.Equal(t, portfolio.ReasonTimeStop, res.Reason)
}

func TestATRThresholds(t *testing.T) {
	cfg := Config{
		Mode:          ModeATR,
		StopLossPct:   1.5,
		TakeProfitPct: 3,
		ATR: ATRBands{
			StopMultiplier: 2, MinStopPct: 0.5, MaxStopPct: 3,
			TakeMultiplier: 3, MinTakePct: 1, MaxTakePct: 10,
		},
	}
	m := NewMonitor(cfg, nil, nil)

	sl, tp := m.Thresholds(100, models.Indicators{ATR: 1.5})
	assert.InDelta(t, 3, sl, 1e-12)
	assert.InDelta(t, 4.5, tp, 1e-12)

	sl, tp = m.Thresholds(100, models.Indicators{ATR: 0.1})
	assert.InDelta(t, 0.5, sl, 1e-12)
	assert.InDelta(t, 1, tp, 1e-12)

	sl, tp = m.Thresholds(100, models.NeutralIndicators())
	assert.Equal(t, 1.5, sl)
	assert.Equal(t, 3.0, tp)
}

func TestNoPositionIsNoop(t *testing.T) {
	ledger := portfolio.NewLedger(portfolio.Options{InitialCapital: 1000})
	m := NewMonitor(staticConfig(1, 2), ledger, nil)
	res, err := m.Check(pair, barClock, 50, models.NeutralIndicators())
	require.NoError(t, err)
	assert.False(t, res.Modified)
}
