package portfolio

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// quantityEpsilon absorbs float drift on quantities that were quantized to 8 decimals.
const quantityEpsilon = 1e-9

// profitWindow bounds how many closed results feed the average win/loss figures.
const profitWindow = 100

// Listener is told about every fill after the ledger lock is released.
type Listener interface {
	OnTrade(TradeRecord)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(TradeRecord)

func (f ListenerFunc) OnTrade(r TradeRecord) { f(r) }

// Options configures a Ledger.
type Options struct {
	InitialCapital float64
	CommissionRate float64
	Now            func() time.Time
	NewID          func() string
}

// Ledger is the simulated account: cash, open positions and the trade log.
// All methods are safe for concurrent use; every mutation holds the same mutex.
type Ledger struct {
	mu sync.Mutex

	initialCapital float64
	commissionRate float64
	now            func() time.Time
	newID          func() string

	cash       float64
	positions  map[string]*Position
	trades     []*TradeRecord
	lastPrices map[string]float64

	totalProfit   float64
	winCount      int
	lossCount     int
	closedTrades  int
	recentProfits []float64

	peakEquity      float64
	maxDrawdown     float64
	currentDrawdown float64

	listeners []Listener
}

// NewLedger creates a ledger funded with opts.InitialCapital.
func NewLedger(opts Options) *Ledger {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	l := &Ledger{
		initialCapital: opts.InitialCapital,
		commissionRate: opts.CommissionRate,
		now:            opts.Now,
		newID:          opts.NewID,
	}
	l.resetLocked()
	return l
}

// Subscribe registers a listener for fills.
func (l *Ledger) Subscribe(listener Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, listener)
}

// Reset returns the ledger to its initial funded state. Listeners are kept.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetLocked()
}

func (l *Ledger) resetLocked() {
	l.cash = l.initialCapital
	l.positions = make(map[string]*Position)
	l.trades = nil
	l.lastPrices = make(map[string]float64)
	l.totalProfit = 0
	l.winCount, l.lossCount, l.closedTrades = 0, 0, 0
	l.recentProfits = nil
	l.peakEquity = l.initialCapital
	l.maxDrawdown, l.currentDrawdown = 0, 0
}

// CommissionRate is the fee fraction charged on each fill's notional.
func (l *Ledger) CommissionRate() float64 {
	return l.commissionRate
}

// InitialCapital is the funding the ledger started with.
func (l *Ledger) InitialCapital() float64 {
	return l.initialCapital
}

// RecordEntry buys quantity at price. It fails with ErrInsufficientFunds, leaving the
// ledger untouched, when cost plus commission exceeds cash.
func (l *Ledger) RecordEntry(pair string, price, quantity, confidence float64) (TradeRecord, error) {
	return l.RecordEntryCapped(pair, price, quantity, confidence, 0)
}

// RecordEntryCapped is RecordEntry that also fails with ErrPositionLimit when pair is not
// held and maxOpen positions are already open. The count and the debit happen under one
// lock, so concurrent pair workers cannot overshoot the cap. maxOpen <= 0 means no cap.
func (l *Ledger) RecordEntryCapped(pair string, price, quantity, confidence float64, maxOpen int) (TradeRecord, error) {
	rec, err := l.recordEntry(pair, price, quantity, confidence, maxOpen)
	if err != nil {
		return TradeRecord{}, err
	}
	l.notify(rec)
	return rec, nil
}

func (l *Ledger) recordEntry(pair string, price, quantity, confidence float64, maxOpen int) (TradeRecord, error) {
	if !(price > 0) || !(quantity > 0) {
		return TradeRecord{}, fmt.Errorf("%w: %s entry price=%v qty=%v", ErrInvalidOrder, pair, price, quantity)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.positions[pair]; !held && maxOpen > 0 && len(l.positions) >= maxOpen {
		return TradeRecord{}, fmt.Errorf("%w: %s, %d open", ErrPositionLimit, pair, len(l.positions))
	}

	cost := quantity * price
	commission := cost * l.commissionRate
	if cost+commission > l.cash {
		return TradeRecord{}, fmt.Errorf("%w: %s needs %.4f, cash %.4f", ErrInsufficientFunds, pair, cost+commission, l.cash)
	}

	ts := l.now()
	rec := &TradeRecord{
		ID:         l.newID(),
		Pair:       pair,
		Action:     ActionBuy,
		Price:      price,
		Quantity:   quantity,
		Commission: commission,
		Timestamp:  ts,
		Cost:       cost,
		Confidence: confidence,
		Remaining:  quantity,
	}
	l.cash -= cost + commission

	pos, ok := l.positions[pair]
	if !ok {
		pos = &Position{
			Pair:     pair,
			OpenedAt: ts,
			Exit:     ExitState{LevelsTriggered: make(map[int]bool)},
		}
		l.positions[pair] = pos
	}
	pos.Lots = append(pos.Lots, Lot{
		EntryID:    rec.ID,
		Price:      price,
		Quantity:   quantity,
		Remaining:  quantity,
		Commission: commission,
	})
	pos.reprice()

	l.trades = append(l.trades, rec)
	l.lastPrices[pair] = price
	return l.export(rec), nil
}

// RecordExit sells quantity of pair at price, consuming lots oldest first.
func (l *Ledger) RecordExit(pair string, price, quantity float64, reason ExitReason) (TradeRecord, error) {
	rec, err := l.recordExit(pair, price, quantity, reason)
	if err != nil {
		return TradeRecord{}, err
	}
	l.notify(rec)
	return rec, nil
}

func (l *Ledger) recordExit(pair string, price, quantity float64, reason ExitReason) (TradeRecord, error) {
	if !(price > 0) || !(quantity > 0) {
		return TradeRecord{}, fmt.Errorf("%w: %s exit price=%v qty=%v", ErrInvalidOrder, pair, price, quantity)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[pair]
	if !ok {
		return TradeRecord{}, fmt.Errorf("%w: %s", ErrNoOpenPosition, pair)
	}
	if quantity > pos.Quantity {
		if quantity-pos.Quantity > quantityEpsilon {
			return TradeRecord{}, fmt.Errorf("%w: %s sell %v, holding %v", ErrOverSell, pair, quantity, pos.Quantity)
		}
		quantity = pos.Quantity
	}

	ts := l.now()
	var (
		left      = quantity
		gross     float64
		openComm  float64
		costBasis float64
		consumed  []LotClose
		kept      = pos.Lots[:0]
	)
	for _, lot := range pos.Lots {
		if left <= 0 {
			kept = append(kept, lot)
			continue
		}
		take := math.Min(lot.Remaining, left)
		left -= take
		if left < quantityEpsilon {
			left = 0
		}
		gross += (price - lot.Price) * take
		openComm += lot.Commission * take / lot.Quantity
		costBasis += lot.Price * take
		consumed = append(consumed, LotClose{EntryID: lot.EntryID, Quantity: take})

		lot.Remaining -= take
		entry := l.findEntry(lot.EntryID)
		if lot.Remaining <= quantityEpsilon {
			lot.Remaining = 0
			if entry != nil {
				closedAt := ts
				entry.ClosedAt = &closedAt
				entry.Remaining = 0
			}
			continue
		}
		if entry != nil {
			entry.Remaining = lot.Remaining
		}
		kept = append(kept, lot)
	}
	pos.Lots = kept

	closeComm := price * quantity * l.commissionRate
	proceeds := price*quantity - closeComm
	profit := gross - openComm - closeComm
	l.cash += proceeds

	pos.reprice()
	partial := len(pos.Lots) > 0 && pos.Quantity > quantityEpsilon
	if !partial {
		delete(l.positions, pair)
	}

	l.closedTrades++
	if profit > 0 {
		l.winCount++
	} else {
		l.lossCount++
	}
	l.totalProfit += profit
	l.recentProfits = append(l.recentProfits, profit)
	if len(l.recentProfits) > profitWindow {
		l.recentProfits = l.recentProfits[len(l.recentProfits)-profitWindow:]
	}

	closedAt := ts
	rec := &TradeRecord{
		ID:              l.newID(),
		Pair:            pair,
		Action:          ActionSell,
		Price:           price,
		Quantity:        quantity,
		Commission:      closeComm,
		Timestamp:       ts,
		ClosedAt:        &closedAt,
		EntryPrice:      costBasis / quantity,
		Proceeds:        proceeds,
		OpenCommission:  openComm,
		CloseCommission: closeComm,
		Profit:          profit,
		Reason:          reason,
		Partial:         partial,
		Lots:            consumed,
	}
	if costBasis > 0 {
		rec.ReturnPct = profit / costBasis * 100
	}
	l.trades = append(l.trades, rec)
	l.lastPrices[pair] = price
	l.updateDrawdownLocked()
	return l.export(rec), nil
}

// Mark records the latest traded price for pair and refreshes drawdown.
func (l *Ledger) Mark(pair string, price float64) {
	if !(price > 0) {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastPrices[pair] = price
	l.updateDrawdownLocked()
}

// LastPrice returns the most recent mark for pair.
func (l *Ledger) LastPrice(pair string) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.lastPrices[pair]
	return p, ok
}

// Position returns a copy of the open position for pair.
func (l *Ledger) Position(pair string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[pair]
	if !ok {
		return Position{}, false
	}
	return pos.clone(), true
}

// Positions returns copies of all open positions ordered by pair.
func (l *Ledger) Positions() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.positionsLocked()
}

func (l *Ledger) positionsLocked() []Position {
	out := make([]Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, pos.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pair < out[j].Pair })
	return out
}

// OpenPositionCount is the number of pairs currently held.
func (l *Ledger) OpenPositionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.positions)
}

// UpdateExitState mutates the exit bookkeeping of pair's position under the ledger lock.
// It reports false when no position is open.
func (l *Ledger) UpdateExitState(pair string, fn func(*ExitState)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[pair]
	if !ok {
		return false
	}
	if pos.Exit.LevelsTriggered == nil {
		pos.Exit.LevelsTriggered = make(map[int]bool)
	}
	fn(&pos.Exit)
	return true
}

// Cash is the uninvested balance.
func (l *Ledger) Cash() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash
}

// Equity is cash plus open positions valued at their last mark.
func (l *Ledger) Equity() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.equityLocked()
}

func (l *Ledger) equityLocked() float64 {
	equity := l.cash
	for pair, pos := range l.positions {
		price, ok := l.lastPrices[pair]
		if !ok {
			price = pos.EntryPrice
		}
		equity += pos.Quantity * price
	}
	return equity
}

func (l *Ledger) updateDrawdownLocked() {
	equity := l.equityLocked()
	if equity > l.peakEquity {
		l.peakEquity = equity
	}
	if l.peakEquity <= 0 {
		return
	}
	l.currentDrawdown = math.Max(0, (l.peakEquity-equity)/l.peakEquity)
	if l.currentDrawdown > l.maxDrawdown {
		l.maxDrawdown = l.currentDrawdown
	}
}

// Stats returns the current aggregates.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statsLocked()
}

func (l *Ledger) statsLocked() Stats {
	s := Stats{
		InitialCapital:  l.initialCapital,
		Cash:            l.cash,
		Equity:          l.equityLocked(),
		TotalProfit:     l.totalProfit,
		WinCount:        l.winCount,
		LossCount:       l.lossCount,
		ClosedTrades:    l.closedTrades,
		PeakEquity:      l.peakEquity,
		MaxDrawdown:     l.maxDrawdown,
		CurrentDrawdown: l.currentDrawdown,
		OpenPositions:   len(l.positions),
	}
	if l.closedTrades > 0 {
		s.WinRate = float64(l.winCount) / float64(l.closedTrades)
	}
	var wins, losses int
	var winSum, lossSum float64
	for _, p := range l.recentProfits {
		if p > 0 {
			wins++
			winSum += p
		} else if p < 0 {
			losses++
			lossSum -= p
		}
	}
	if wins > 0 {
		s.AvgWin = winSum / float64(wins)
	}
	if losses > 0 {
		s.AvgLoss = lossSum / float64(losses)
	}
	return s
}

// Trades returns a copy of the full trade log in fill order.
func (l *Ledger) Trades() []TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tradesLocked(0)
}

// tradesLocked copies the last n records, or all of them when n <= 0.
func (l *Ledger) tradesLocked(n int) []TradeRecord {
	src := l.trades
	if n > 0 && len(src) > n {
		src = src[len(src)-n:]
	}
	out := make([]TradeRecord, len(src))
	for i, rec := range src {
		out[i] = l.export(rec)
	}
	return out
}

func (l *Ledger) findEntry(id string) *TradeRecord {
	for i := len(l.trades) - 1; i >= 0; i-- {
		if l.trades[i].ID == id {
			return l.trades[i]
		}
	}
	return nil
}

// export copies a record so callers never alias ledger state.
func (l *Ledger) export(rec *TradeRecord) TradeRecord {
	out := *rec
	if rec.ClosedAt != nil {
		t := *rec.ClosedAt
		out.ClosedAt = &t
	}
	out.Lots = append([]LotClose(nil), rec.Lots...)
	out.StillOpen = rec.Action == ActionBuy && rec.ClosedAt == nil && rec.Remaining > 0
	return out
}

func (l *Ledger) notify(rec TradeRecord) {
	l.mu.Lock()
	listeners := append([]Listener(nil), l.listeners...)
	l.mu.Unlock()
	for _, ln := range listeners {
		ln.OnTrade(rec)
	}
}
