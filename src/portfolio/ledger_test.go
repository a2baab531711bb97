package portfolio

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	t := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("T%03d", n)
	}
}

func newTestLedger(capital, rate float64) *Ledger {
	return NewLedger(Options{
		InitialCapital: capital,
		CommissionRate: rate,
		Now:            fixedClock(),
		NewID:          seqIDs(),
	})
}

func TestRoundTripCashAndProfit(t *testing.T) {
	l := newTestLedger(10000, 0.001)

	entry, err := l.RecordEntry("BTCUSDT", 100, 1, 0.8)
	require.NoError(t, err)
	assert.InDelta(t, 9899.9, l.Cash(), 1e-9)
	assert.InDelta(t, 0.1, entry.Commission, 1e-12)
	assert.True(t, entry.StillOpen)

	exit, err := l.RecordExit("BTCUSDT", 103, 1, ReasonTakeProfit)
	require.NoError(t, err)
	assert.InDelta(t, 0.103, exit.CloseCommission, 1e-12)
	assert.InDelta(t, 102.897, exit.Proceeds, 1e-9)
	assert.InDelta(t, 2.797, exit.Profit, 1e-9)
	assert.InDelta(t, 10002.797, l.Cash(), 1e-9)
	assert.False(t, exit.Partial)

	stats := l.Stats()
	assert.Equal(t, 1, stats.WinCount)
	assert.Equal(t, 0, stats.LossCount)
	assert.Equal(t, 0, stats.OpenPositions)

	trades := l.Trades()
	require.Len(t, trades, 2)
	require.NotNil(t, trades[0].ClosedAt)
	assert.False(t, trades[0].StillOpen)
	assert.Equal(t, []LotClose{{EntryID: entry.ID, Quantity: 1}}, trades[1].Lots)
}

func TestInsufficientFundsLeavesLedgerUntouched(t *testing.T) {
	l := newTestLedger(100, 0.001)

	_, err := l.RecordEntry("ETHUSDT", 100, 1, 0.9)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	assert.Equal(t, 100.0, l.Cash())
	assert.Empty(t, l.Trades())
	_, ok := l.Position("ETHUSDT")
	assert.False(t, ok)
}

func TestExitErrors(t *testing.T) {
	l := newTestLedger(1000, 0.001)

	_, err := l.RecordExit("BTCUSDT", 100, 1, ReasonSignal)
	assert.ErrorIs(t, err, ErrNoOpenPosition)

	_, err = l.RecordEntry("BTCUSDT", 100, 1, 0.8)
	require.NoError(t, err)
	cash := l.Cash()

	_, err = l.RecordExit("BTCUSDT", 100, 1.5, ReasonSignal)
	assert.ErrorIs(t, err, ErrOverSell)
	assert.Equal(t, cash, l.Cash())

	_, err = l.RecordExit("BTCUSDT", 0, 1, ReasonSignal)
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestPartialExitsReduceSameEntry(t *testing.T) {
	l := newTestLedger(10000, 0.001)
	entry, err := l.RecordEntry("SOLUSDT", 50, 10, 0.7)
	require.NoError(t, err)

	first, err := l.RecordExit("SOLUSDT", 51, 3, ReasonPartialTakeProfit)
	require.NoError(t, err)
	assert.True(t, first.Partial)

	pos, ok := l.Position("SOLUSDT")
	require.True(t, ok)
	assert.InDelta(t, 7, pos.Quantity, 1e-12)

	trades := l.Trades()
	assert.InDelta(t, 7, trades[0].Remaining, 1e-12)
	assert.True(t, trades[0].StillOpen)

	_, err = l.RecordExit("SOLUSDT", 52, 7, ReasonTakeProfit)
	require.NoError(t, err)

	trades = l.Trades()
	require.NotNil(t, trades[0].ClosedAt)
	var sold float64
	for _, tr := range trades {
		for _, lc := range tr.Lots {
			if lc.EntryID == entry.ID {
				sold += lc.Quantity
			}
		}
	}
	assert.InDelta(t, entry.Quantity, sold, 1e-12)
	// opening commission is split pro rata across both exits
	assert.InDelta(t, entry.Commission*0.3, trades[1].OpenCommission, 1e-12)
	assert.InDelta(t, entry.Commission*0.7, trades[2].OpenCommission, 1e-12)
}

func TestAugmentedPositionConsumesLotsFIFO(t *testing.T) {
	l := newTestLedger(10000, 0)
	a, err := l.RecordEntry("BTCUSDT", 100, 1, 0.8)
	require.NoError(t, err)
	b, err := l.RecordEntry("BTCUSDT", 110, 1, 0.8)
	require.NoError(t, err)

	pos, _ := l.Position("BTCUSDT")
	assert.InDelta(t, 105, pos.EntryPrice, 1e-12)

	exit, err := l.RecordExit("BTCUSDT", 120, 1.5, ReasonSignal)
	require.NoError(t, err)
	assert.Equal(t, []LotClose{{EntryID: a.ID, Quantity: 1}, {EntryID: b.ID, Quantity: 0.5}}, exit.Lots)
	assert.InDelta(t, 20+5, exit.Profit, 1e-9)

	pos, _ = l.Position("BTCUSDT")
	assert.InDelta(t, 0.5, pos.Quantity, 1e-12)
	assert.InDelta(t, 110, pos.EntryPrice, 1e-12)
}

func TestLossCountsAndDrawdown(t *testing.T) {
	l := newTestLedger(1000, 0)
	_, err := l.RecordEntry("BTCUSDT", 100, 5, 0.8)
	require.NoError(t, err)

	_, err = l.RecordExit("BTCUSDT", 90, 5, ReasonStopLoss)
	require.NoError(t, err)

	stats := l.Stats()
	assert.Equal(t, 1, stats.LossCount)
	assert.InDelta(t, 50, stats.AvgLoss, 1e-9)
	assert.InDelta(t, 0.05, stats.MaxDrawdown, 1e-12)
	assert.InDelta(t, 0.05, stats.CurrentDrawdown, 1e-12)
}

func TestRandomSequenceConservesCashAndDrawdownIsMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	l := newTestLedger(10000, 0.001)
	pairs := []string{"BTCUSDT", "ETHUSDT", "BNBUSDT"}
	prices := map[string]float64{"BTCUSDT": 100, "ETHUSDT": 50, "BNBUSDT": 20}

	var lastPeak, lastMax float64
	for i := 0; i < 500; i++ {
		pair := pairs[rng.Intn(len(pairs))]
		prices[pair] *= 1 + (rng.Float64()-0.5)*0.04
		price := prices[pair]
		l.Mark(pair, price)

		if pos, ok := l.Position(pair); ok && rng.Intn(2) == 0 {
			qty := pos.Quantity
			if rng.Intn(2) == 0 {
				qty = pos.Quantity / 2
			}
			_, err := l.RecordExit(pair, price, qty, ReasonSignal)
			require.NoError(t, err)
		} else {
			_, err := l.RecordEntry(pair, price, rng.Float64()*20, 0.8)
			if err != nil {
				require.ErrorIs(t, err, ErrInsufficientFunds)
			}
		}

		stats := l.Stats()
		require.GreaterOrEqual(t, stats.Cash, 0.0)
		require.GreaterOrEqual(t, stats.PeakEquity, lastPeak)
		require.GreaterOrEqual(t, stats.MaxDrawdown, lastMax)
		lastPeak, lastMax = stats.PeakEquity, stats.MaxDrawdown

		// initial + realized = cash + open cost basis including unexpired commission
		var held float64
		for _, pos := range l.Positions() {
			for _, lot := range pos.Lots {
				held += lot.Price*lot.Remaining + lot.Commission*lot.Remaining/lot.Quantity
			}
		}
		require.InDelta(t, 10000+stats.TotalProfit, stats.Cash+held, 1e-6)
	}
}

func TestConcurrentEntriesNeverOverdraw(t *testing.T) {
	l := newTestLedger(1000, 0.001)
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := l.RecordEntry(fmt.Sprintf("P%02dUSDT", i), 100, 0.5, 0.8); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 19, accepted)
	assert.GreaterOrEqual(t, l.Cash(), 0.0)
	assert.InDelta(t, 1000-19*50.05, l.Cash(), 1e-9)
}

func TestEntryCapHoldsUnderConcurrency(t *testing.T) {
	l := newTestLedger(100000, 0.001)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.RecordEntryCapped(fmt.Sprintf("P%02dUSDT", i), 100, 1, 0.8, 3)
			if err != nil {
				assert.ErrorIs(t, err, ErrPositionLimit)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 3, l.OpenPositionCount())
	assert.InDelta(t, 100000-3*100.1, l.Cash(), 1e-9)

	// adding to a held pair is not a new position
	held := l.Positions()[0].Pair
	_, err := l.RecordEntryCapped(held, 100, 1, 0.8, 3)
	require.NoError(t, err)
	_, err = l.RecordEntryCapped("NEWUSDT", 100, 1, 0.8, 3)
	assert.ErrorIs(t, err, ErrPositionLimit)
}

func TestListenersReceiveFills(t *testing.T) {
	l := newTestLedger(1000, 0.001)
	var got []TradeAction
	l.Subscribe(ListenerFunc(func(r TradeRecord) { got = append(got, r.Action) }))

	_, err := l.RecordEntry("BTCUSDT", 100, 1, 0.8)
	require.NoError(t, err)
	_, err = l.RecordExit("BTCUSDT", 101, 1, ReasonSignal)
	require.NoError(t, err)
	_, _ = l.RecordExit("BTCUSDT", 101, 1, ReasonSignal)

	assert.Equal(t, []TradeAction{ActionBuy, ActionSell}, got)
}

func TestSnapshotEnrichesOpenPositions(t *testing.T) {
	l := newTestLedger(10000, 0.001)
	_, err := l.RecordEntry("BTCUSDT", 100, 10, 0.8)
	require.NoError(t, err)
	l.Mark("BTCUSDT", 110)

	snap := l.Snapshot()
	require.Len(t, snap.OpenPositions, 1)
	op := snap.OpenPositions[0]
	assert.Equal(t, 110.0, op.CurrentPrice)
	assert.Equal(t, 100.0, op.UnrealizedPnL)
	assert.Equal(t, 10.0, op.UnrealizedPct)
	assert.Equal(t, 1100.0, op.PositionValue)
	assert.Equal(t, 10099.0, snap.Equity)
	assert.Len(t, snap.RecentTrades, 1)
}

func TestEmptySnapshotEncodesArrays(t *testing.T) {
	raw, err := json.Marshal(newTestLedger(1000, 0).Snapshot())
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"openPositions":[]`)
	assert.Contains(t, string(raw), `"recentTrades":[]`)
}

func TestSnapshotKeepsLastTwentyTrades(t *testing.T) {
	l := newTestLedger(100000, 0)
	for i := 0; i < 15; i++ {
		_, err := l.RecordEntry("BTCUSDT", 100, 1, 0.8)
		require.NoError(t, err)
		_, err = l.RecordExit("BTCUSDT", 101, 1, ReasonSignal)
		require.NoError(t, err)
	}
	snap := l.Snapshot()
	require.Len(t, snap.RecentTrades, RecentTradeLimit)
	assert.Equal(t, "T030", snap.RecentTrades[RecentTradeLimit-1].ID)
}

func TestWriteReportMarksOpenEntries(t *testing.T) {
	l := newTestLedger(10000, 0.001)
	_, err := l.RecordEntry("BTCUSDT", 100, 1, 0.8)
	require.NoError(t, err)
	_, err = l.RecordEntry("ETHUSDT", 50, 2, 0.8)
	require.NoError(t, err)
	_, err = l.RecordExit("BTCUSDT", 103, 1, ReasonTakeProfit)
	require.NoError(t, err)

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	report := l.Report(start, start.Add(2*time.Hour))
	path, err := WriteReport(t.TempDir(), report)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	for _, key := range []string{"startTime", "endTime", "initialCapital", "finalValue", "totalProfit",
		"roi", "totalTrades", "winTrades", "lossTrades", "winRate", "maxDrawdown", "trades"} {
		assert.Contains(t, decoded, key)
	}
	assert.Equal(t, 2.0, decoded["durationHours"])
	assert.Equal(t, 1.0, decoded["totalTrades"])

	trades := decoded["trades"].([]interface{})
	eth := trades[1].(map[string]interface{})
	assert.Equal(t, "ETHUSDT", eth["pair"])
	assert.Nil(t, eth["closedAt"])
	assert.Equal(t, true, eth["stillOpen"])
}

func TestResetRestoresCapital(t *testing.T) {
	l := newTestLedger(500, 0.001)
	_, err := l.RecordEntry("BTCUSDT", 100, 1, 0.8)
	require.NoError(t, err)
	l.Reset()
	assert.Equal(t, 500.0, l.Cash())
	assert.Empty(t, l.Trades())
	assert.Zero(t, l.OpenPositionCount())
}
