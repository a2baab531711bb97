package trading

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"papertrader/src/logger"
	"papertrader/src/models"
	"papertrader/src/numeric"
	"papertrader/src/portfolio"

	"golang.org/x/sync/errgroup"
)

// Status is the session lifecycle state shown on dashboards.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

var (
	ErrNotRunning  = errors.New("session is not running")
	ErrRunning     = errors.New("session is running")
	ErrUnknownPair = errors.New("pair not traded by this session")
)

// SessionConfig controls the per-pair workers and the shutdown sequence.
type SessionConfig struct {
	Pairs            []string
	QueueSize        int
	ForceCloseOnStop bool // close open positions at their last mark when stopping
	ReportDir        string
	StatusInterval   time.Duration
}

// Session owns one ordered queue and worker per pair. Pairs run concurrently; ticks for
// the same pair are processed strictly in arrival order.
type Session struct {
	cfg        SessionConfig
	exec       *Executor
	ledger     *portfolio.Ledger
	downstream Publisher
	log        *logger.Logger
	now        func() time.Time

	mu        sync.RWMutex
	status    Status
	accepting bool
	queues    map[string]chan models.Candle
	startTime time.Time
	endTime   time.Time
	ctx       context.Context
	group     *errgroup.Group
	stopCh    chan struct{}
	stopOnce  *sync.Once
	inflight  sync.WaitGroup // Submit calls between the accepting check and the send
	report    string
	stopErr   error

	seenMu sync.Mutex
	seen   map[string]bool
}

// NewSession builds a session around exec. Snapshots from exec are stamped with the
// session status and forwarded to downstream.
func NewSession(cfg SessionConfig, exec *Executor, ledger *portfolio.Ledger, downstream Publisher, log *logger.Logger) *Session {
	if log == nil {
		log = logger.Nop()
	}
	if downstream == nil {
		downstream = nopPublisher{}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	s := &Session{
		cfg:        cfg,
		exec:       exec,
		ledger:     ledger,
		downstream: downstream,
		log:        log.Component("session"),
		now:        time.Now,
		status:     StatusWaiting,
		seen:       make(map[string]bool),
	}
	exec.publisher = s
	return s
}

// Start launches the pair workers and the periodic status log.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status == StatusRunning {
		s.mu.Unlock()
		return ErrRunning
	}
	g, gctx := errgroup.WithContext(ctx)
	s.group, s.ctx = g, gctx
	stop := make(chan struct{})
	s.stopCh = stop
	s.stopOnce = &sync.Once{}
	s.queues = make(map[string]chan models.Candle, len(s.cfg.Pairs))
	s.clearSeen()
	s.startTime = s.now()
	s.endTime = time.Time{}
	s.report, s.stopErr = "", nil
	s.status = StatusRunning
	s.accepting = true
	for _, pair := range s.cfg.Pairs {
		pair := pair
		q := make(chan models.Candle, s.cfg.QueueSize)
		s.queues[pair] = q
		g.Go(func() error { return s.worker(gctx, pair, q) })
	}
	s.mu.Unlock()

	if s.cfg.StatusInterval > 0 {
		g.Go(func() error { s.statusLoop(gctx, stop); return nil })
	}
	s.log.Infof("session started: %d pairs, capital %.2f", len(s.cfg.Pairs), s.ledger.InitialCapital())
	s.Publish(s.ledger.Snapshot())
	return nil
}

// worker processes q in order until it is closed by stop or ctx ends.
func (s *Session) worker(ctx context.Context, pair string, q <-chan models.Candle) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-q:
			if !ok {
				return nil
			}
			if err := s.exec.OnTick(pair, c); err != nil {
				return fmt.Errorf("%s: %w", pair, err)
			}
		}
	}
}

// Submit queues a tick for its pair's worker. It blocks while that queue is full. A tick
// accepted with a nil error is always processed, even when Stop races with the call.
func (s *Session) Submit(tick models.Tick) error {
	s.mu.RLock()
	if !s.accepting {
		s.mu.RUnlock()
		return ErrNotRunning
	}
	q, ok := s.queues[tick.Pair]
	if !ok {
		s.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrUnknownPair, tick.Pair)
	}
	ctx := s.ctx
	s.inflight.Add(1)
	s.mu.RUnlock()
	defer s.inflight.Done()

	select {
	case q <- tick.Candle:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.seenMu.Lock()
	s.seen[tick.Pair] = true
	s.seenMu.Unlock()
	return nil
}

func (s *Session) clearSeen() {
	s.seenMu.Lock()
	s.seen = make(map[string]bool)
	s.seenMu.Unlock()
}

// Run starts the session, feeds it from ticks until the channel closes, ctx is done or
// Stop is called, then stops it. A strict-mode failure in any pair aborts the whole session.
func (s *Session) Run(ctx context.Context, ticks <-chan models.Tick) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	s.mu.RLock()
	runCtx, stopped := s.ctx, s.stopCh
	s.mu.RUnlock()

	var runErr error
loop:
	for {
		select {
		case <-runCtx.Done():
			break loop
		case <-stopped:
			break loop
		case t, ok := <-ticks:
			if !ok {
				break loop
			}
			err := s.Submit(t)
			switch {
			case err == nil:
			case errors.Is(err, ErrUnknownPair):
				s.log.Warnf("ignoring tick: %v", err)
			case errors.Is(err, ErrNotRunning), errors.Is(err, context.Canceled):
				break loop
			default:
				runErr = err
				break loop
			}
		}
	}
	_, stopErr := s.Stop()
	if runErr != nil {
		return runErr
	}
	return stopErr
}

// Stop stops accepting ticks, lets the workers drain, optionally force-closes open
// positions, publishes the final snapshot and writes the report. It returns the report
// path (empty when no report directory is configured). Only the first call does the work.
func (s *Session) Stop() (string, error) {
	s.mu.RLock()
	once := s.stopOnce
	s.mu.RUnlock()
	if once == nil {
		return "", ErrNotRunning
	}
	once.Do(s.stop)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report, s.stopErr
}

func (s *Session) stop() {
	s.mu.Lock()
	s.accepting = false
	close(s.stopCh)
	s.mu.Unlock()

	// no Submit can start now; once the pending ones land, the workers drain and exit
	s.inflight.Wait()
	for _, q := range s.queues {
		close(q)
	}
	workerErr := s.group.Wait()
	if workerErr != nil {
		s.log.Error("session aborted", workerErr)
	}

	if s.cfg.ForceCloseOnStop {
		closed := s.exec.CloseAll(portfolio.ReasonSessionEnd)
		if len(closed) > 0 {
			s.log.Infof("force-closed %d positions at last price", len(closed))
		}
	}

	s.mu.Lock()
	s.status = StatusStopped
	s.endTime = s.now()
	start, end := s.startTime, s.endTime
	s.mu.Unlock()

	s.Publish(s.ledger.Snapshot())

	var path string
	var err error
	if s.cfg.ReportDir != "" {
		path, err = portfolio.WriteReport(s.cfg.ReportDir, s.ledger.Report(start, end))
		if err != nil {
			s.log.Error("writing report failed", err)
		} else {
			s.log.Infof("report written to %s", path)
		}
	}
	s.logStatus()

	s.mu.Lock()
	s.report = path
	s.stopErr = errors.Join(workerErr, err)
	s.mu.Unlock()
}

// Reset clears the ledger and histories. Only allowed while not running.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusRunning {
		return ErrRunning
	}
	s.ledger.Reset()
	s.exec.ResetHistory()
	s.status = StatusWaiting
	s.clearSeen()
	return nil
}

// Status reports the lifecycle state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Publish implements Publisher: it stamps the snapshot with session state and forwards it.
func (s *Session) Publish(snap portfolio.Snapshot) {
	s.downstream.Publish(s.stamp(snap))
}

// Snapshot is the current ledger snapshot with session state.
func (s *Session) Snapshot() portfolio.Snapshot {
	return s.stamp(s.ledger.Snapshot())
}

func (s *Session) stamp(snap portfolio.Snapshot) portfolio.Snapshot {
	s.mu.RLock()
	snap.Status = string(s.status)
	snap.StartTime = s.startTime
	end := s.endTime
	if end.IsZero() {
		end = snap.Timestamp
	}
	s.mu.RUnlock()

	if !snap.StartTime.IsZero() {
		snap.UptimeSeconds = end.Sub(snap.StartTime).Seconds()
	}
	list := append([]string(nil), s.cfg.Pairs...)
	sort.Strings(list)
	s.seenMu.Lock()
	connected := 0
	for _, p := range list {
		if s.seen[p] {
			connected++
		}
	}
	s.seenMu.Unlock()
	snap.Pairs = portfolio.PairInfo{Total: len(list), Connected: connected, List: list}
	return snap
}

func (s *Session) statusLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.logStatus()
		}
	}
}

func (s *Session) logStatus() {
	st := s.ledger.Stats()
	roi := 0.0
	if st.InitialCapital > 0 {
		roi = (st.Equity - st.InitialCapital) / st.InitialCapital * 100
	}
	s.log.Zerolog().Info().
		Str("status", string(s.Status())).
		Float64("equity", numeric.RoundCash(st.Equity)).
		Float64("cash", numeric.RoundCash(st.Cash)).
		Float64("profit", numeric.RoundCash(st.TotalProfit)).
		Float64("roi_pct", numeric.Round(roi, 2)).
		Int("trades", st.ClosedTrades).
		Float64("win_rate_pct", numeric.Round(st.WinRate*100, 1)).
		Int("open", st.OpenPositions).
		Float64("max_drawdown_pct", numeric.Round(st.MaxDrawdown*100, 2)).
		Msg("session status")
}
