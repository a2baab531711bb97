package portfolio

import (
	"time"
)

// TradeAction marks which side of a round trip a record describes.
type TradeAction string

const (
	ActionBuy  TradeAction = "BUY"
	ActionSell TradeAction = "SELL"
)

// ExitReason explains why a position (or part of it) was closed.
type ExitReason string

const (
	ReasonStopLoss          ExitReason = "StopLoss"
	ReasonTakeProfit        ExitReason = "TakeProfit"
	ReasonTrailingStop      ExitReason = "TrailingStop"
	ReasonPartialTakeProfit ExitReason = "PartialTakeProfit"
	ReasonTimeStop          ExitReason = "TimeStop"
	ReasonSignal            ExitReason = "Signal"
	ReasonSessionEnd        ExitReason = "SessionEnd"
)

// TradeRecord is one fill in the append-only trade log.
//
// Entry records (BUY) keep ClosedAt nil and Remaining > 0 while any of their quantity
// is still held. Exit records (SELL) carry the realized result and the lots they consumed.
type TradeRecord struct {
	ID         string      `json:"id"`
	Pair       string      `json:"pair"`
	Action     TradeAction `json:"action"`
	Price      float64     `json:"price"`
	Quantity   float64     `json:"quantity"`
	Commission float64     `json:"commission"`
	Timestamp  time.Time   `json:"timestamp"`
	ClosedAt   *time.Time  `json:"closedAt"`

	// entry side
	Cost       float64 `json:"cost,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Remaining  float64 `json:"remaining,omitempty"`
	StillOpen  bool    `json:"stillOpen,omitempty"`

	// exit side
	EntryPrice      float64    `json:"entryPrice,omitempty"`
	Proceeds        float64    `json:"proceeds,omitempty"`
	OpenCommission  float64    `json:"openCommission,omitempty"`
	CloseCommission float64    `json:"closeCommission,omitempty"`
	Profit          float64    `json:"profit"`
	ReturnPct       float64    `json:"returnPct"`
	Reason          ExitReason `json:"reason,omitempty"`
	Partial         bool       `json:"partial,omitempty"`
	Lots            []LotClose `json:"lots,omitempty"`
}

// LotClose is the slice of an entry consumed by an exit.
type LotClose struct {
	EntryID  string  `json:"entryId"`
	Quantity float64 `json:"quantity"`
}

// Lot is the still-held remainder of one entry fill.
type Lot struct {
	EntryID    string
	Price      float64
	Quantity   float64 // original fill
	Remaining  float64
	Commission float64 // commission paid on the full original fill
}

// ExitState is the per-position bookkeeping the exit monitor maintains.
type ExitState struct {
	BarsHeld              int
	LastBar               time.Time // open time of the newest bar counted in BarsHeld
	MaxFavorableExcursion float64
	TrailingActive        bool
	LevelsTriggered       map[int]bool
}

func (s ExitState) clone() ExitState {
	out := s
	out.LevelsTriggered = make(map[int]bool, len(s.LevelsTriggered))
	for k, v := range s.LevelsTriggered {
		out.LevelsTriggered[k] = v
	}
	return out
}

// Position is the open holding for one pair. EntryPrice is the quantity-weighted
// price of the remaining lots.
type Position struct {
	Pair       string
	Quantity   float64
	EntryPrice float64
	OpenedAt   time.Time
	Lots       []Lot
	Exit       ExitState
}

func (p *Position) clone() Position {
	out := *p
	out.Lots = append([]Lot(nil), p.Lots...)
	out.Exit = p.Exit.clone()
	return out
}

func (p *Position) reprice() {
	var qty, notional float64
	for _, lot := range p.Lots {
		qty += lot.Remaining
		notional += lot.Remaining * lot.Price
	}
	p.Quantity = qty
	if qty > 0 {
		p.EntryPrice = notional / qty
	}
}

// Stats is a point-in-time view of ledger aggregates.
type Stats struct {
	InitialCapital  float64
	Cash            float64
	Equity          float64
	TotalProfit     float64
	WinCount        int
	LossCount       int
	ClosedTrades    int
	WinRate         float64 // 0..1
	AvgWin          float64
	AvgLoss         float64 // positive magnitude
	PeakEquity      float64
	MaxDrawdown     float64 // 0..1
	CurrentDrawdown float64 // 0..1
	OpenPositions   int
}
