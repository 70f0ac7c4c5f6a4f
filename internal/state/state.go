// Package state holds the single authoritative in-memory model of the
// agent: symbol metadata, balances, last price, position, status, and
// cumulative counters. It is exclusively owned by the Trader and the Time
// Watcher; every other component only ever sees a Snapshot.
package state

import (
	"fmt"
	"math"
	"sync"
)

// Status is the position-lifecycle state, per spec.md §4.6.
type Status string

const (
	StatusInitial          Status = "INITIAL"
	StatusReady            Status = "READY"
	StatusEnteringPosition Status = "ENTERING_POSITION"
	StatusInPosition       Status = "IN_POSITION"
	StatusClosingPosition  Status = "CLOSING_POSITION"
	StatusSleeping         Status = "SLEEPING"
)

// hasPosition reports whether a Position struct must exist for this status,
// enforcing invariant 1 from spec.md §8.
func (s Status) hasPosition() bool {
	switch s {
	case StatusEnteringPosition, StatusInPosition, StatusClosingPosition:
		return true
	default:
		return false
	}
}

// SymbolMeta is the once-set-per-run symbol metadata from exchangeInfo.
type SymbolMeta struct {
	BaseAsset   string
	QuoteAsset  string
	MinQty      float64
	MinNotional float64
	Trading     bool
}

// Balance is one asset's free/locked amounts.
type Balance struct {
	Free   float64
	Locked float64
}

// Position is the single open (or opening/closing) position. Per invariant
// 1, a non-nil Position on the State coincides exactly with status in
// {ENTERING_POSITION, IN_POSITION, CLOSING_POSITION}.
type Position struct {
	EntryPrice float64
	EntryTime  int64 // ms epoch
	Amount     float64
	StopLoss   float64
	TakeProfit float64
}

// Counters accumulate across closed trades for the life of the process.
type Counters struct {
	TPTrades int
	SLTrades int
	TotalPnL float64
}

// Snapshot is an immutable point-in-time copy of State, safe to read
// without the State's lock (for the Status Server and Metrics Publisher).
type Snapshot struct {
	RunID         string
	Symbol        string
	Status        Status
	StreamReady   bool
	BalanceReady  bool
	SymbolsReady  bool
	LastPrice     float64
	Symbols       SymbolMeta
	Balances      map[string]Balance
	Position      *Position
	SleepingAt    int64
	Counters      Counters
}

// State is the composite model described in spec.md §3. All mutation goes
// through its methods, which hold mu for the duration of the read-modify-
// write — Go goroutines are preemptible, so the single-threaded-cooperative
// reasoning in spec.md §5 does not hold without an explicit lock.
type State struct {
	mu sync.Mutex

	runID  string
	symbol string

	status Status

	streamReady  bool
	balanceReady bool
	symbolsReady bool

	lastPrice float64

	symbols  SymbolMeta
	balances map[string]Balance

	position   *Position
	sleepingAt int64

	counters Counters
}

// New creates an empty State in INITIAL status for the given symbol.
func New(symbol, runID string) *State {
	return &State{
		runID:    runID,
		symbol:   symbol,
		status:   StatusInitial,
		balances: make(map[string]Balance),
	}
}

// Status returns the current lifecycle status.
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastPrice returns the last observed trade price.
func (s *State) LastPrice() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPrice
}

// UpdateLastPrice records a new trade price and re-evaluates the
// INITIAL→READY transition.
func (s *State) UpdateLastPrice(price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPrice = price
	s.maybeReady()
}

// SetStreamReady marks the user-data stream connected and re-evaluates
// readiness.
func (s *State) SetStreamReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamReady = true
	s.maybeReady()
}

// SetBalanceReady marks the account snapshot applied and re-evaluates
// readiness.
func (s *State) SetBalanceReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balanceReady = true
	s.maybeReady()
}

// SetSymbolMeta applies the exchangeInfo result once. Per invariant 2, a
// second call is a no-op: symbol metadata never changes mid-run.
func (s *State) SetSymbolMeta(meta SymbolMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.symbolsReady {
		return
	}
	s.symbols = meta
	s.symbolsReady = true
	s.maybeReady()
}

// SymbolMeta returns the symbol metadata and whether it has been set.
func (s *State) SymbolMeta() (SymbolMeta, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.symbols, s.symbolsReady
}

// maybeReady implements spec.md §4.6's INITIAL→READY transition. Caller
// must hold mu.
func (s *State) maybeReady() {
	if s.status != StatusInitial {
		return
	}
	if s.streamReady && s.balanceReady && s.symbolsReady && s.lastPrice > 0 {
		s.status = StatusReady
	}
}

// ApplyBalanceSnapshot replaces the full balance mapping from an
// account.status response and marks balances ready.
func (s *State) ApplyBalanceSnapshot(balances map[string]Balance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances = make(map[string]Balance, len(balances))
	for asset, bal := range balances {
		s.balances[asset] = bal
	}
	s.balanceReady = true
	s.maybeReady()
}

// ApplyBalanceDelta applies an outboundAccountPosition update: each entry
// replaces that asset's free/locked amounts outright (the exchange sends
// absolute values in "B", not deltas, despite the event's name).
func (s *State) ApplyBalanceDelta(asset string, free, locked float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[asset] = Balance{Free: free, Locked: locked}
}

// FreeBalance returns the free amount of asset, 0 if unknown.
func (s *State) FreeBalance(asset string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[asset].Free
}

// EnterIntent performs the READY→ENTERING_POSITION transition, returning
// false if status was not READY (the guard that makes the watcher/event-loop
// double-trigger of create_new_position harmless, per spec.md §9).
func (s *State) EnterIntent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusReady {
		return false
	}
	s.status = StatusEnteringPosition
	return true
}

// ConfirmEntry performs the ENTERING_POSITION→IN_POSITION transition on a
// FILLED buy report, deriving both SL and TP from the same configured
// percentage (spec.md §4.6's documented asymmetry: POSITION_TP_PERCENT is
// accepted but unused). Returns false if status was not
// ENTERING_POSITION (an unrelated or duplicate report).
func (s *State) ConfirmEntry(price float64, entryTimeMs int64, amount float64, slPercent float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusEnteringPosition {
		return false
	}
	s.position = &Position{
		EntryPrice: price,
		EntryTime:  entryTimeMs,
		Amount:     amount,
		StopLoss:   price - price*slPercent/100,
		TakeProfit: price + price*slPercent/100,
	}
	s.status = StatusInPosition
	return true
}

// CheckPriceTrigger performs the IN_POSITION→CLOSING_POSITION transition
// when price crosses the TP (≥) or SL (≤) threshold. Returns the position
// amount to sell and true if triggered.
func (s *State) CheckPriceTrigger(price float64) (amount float64, triggered bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusInPosition || s.position == nil {
		return 0, false
	}
	if price >= s.position.TakeProfit || price <= s.position.StopLoss {
		s.status = StatusClosingPosition
		return s.position.Amount, true
	}
	return 0, false
}

// CheckHoldExpiry performs the IN_POSITION→CLOSING_POSITION transition
// when the position has been held past HOLD_TIME. Returns the position
// amount to sell and true if triggered.
func (s *State) CheckHoldExpiry(nowMs int64, holdSeconds int) (amount float64, triggered bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusInPosition || s.position == nil {
		return 0, false
	}
	if nowMs >= s.position.EntryTime+int64(holdSeconds)*1000 {
		s.status = StatusClosingPosition
		return s.position.Amount, true
	}
	return 0, false
}

// ConfirmClose performs the CLOSING_POSITION→SLEEPING transition on a
// FILLED sell report. It computes realized PnL per spec.md §4.6, updates
// the cumulative counters, destroys the Position, and arms the cool-down
// deadline. Returns the realized PnL and false if status was not
// CLOSING_POSITION.
func (s *State) ConfirmClose(lastExecutedPrice, quantityRequested, commission float64, commissionAsset string, fillTimeMs int64, sleepSeconds int) (pnl float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusClosingPosition || s.position == nil {
		return 0, false
	}

	pos := s.position
	commissionValue := commission
	if commissionAsset == s.symbols.BaseAsset {
		commissionValue = commission * lastExecutedPrice
	}
	pnl = lastExecutedPrice*quantityRequested - pos.EntryPrice*pos.Amount - commissionValue
	pnl = math.Round(pnl*1e6) / 1e6

	if pnl > 0 {
		s.counters.TPTrades++
	} else {
		s.counters.SLTrades++
	}
	s.counters.TotalPnL += pnl

	s.position = nil
	s.status = StatusSleeping
	s.sleepingAt = fillTimeMs + int64(sleepSeconds)*1000

	return pnl, true
}

// CheckSleepExpiry performs the SLEEPING→READY transition once the
// cool-down deadline has passed.
func (s *State) CheckSleepExpiry(nowMs int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusSleeping {
		return false
	}
	if nowMs >= s.sleepingAt {
		s.status = StatusReady
		s.sleepingAt = 0
		return true
	}
	return false
}

// Counters returns a copy of the cumulative trade counters.
func (s *State) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// Position returns a copy of the current position, or nil if none exists.
func (s *State) Position() *Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.position == nil {
		return nil
	}
	p := *s.position
	return &p
}

// Snapshot returns a consistent, immutable copy of the whole State.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	balances := make(map[string]Balance, len(s.balances))
	for k, v := range s.balances {
		balances[k] = v
	}

	var pos *Position
	if s.position != nil {
		p := *s.position
		pos = &p
	}

	return Snapshot{
		RunID:        s.runID,
		Symbol:       s.symbol,
		Status:       s.status,
		StreamReady:  s.streamReady,
		BalanceReady: s.balanceReady,
		SymbolsReady: s.symbolsReady,
		LastPrice:    s.lastPrice,
		Symbols:      s.symbols,
		Balances:     balances,
		Position:     pos,
		SleepingAt:   s.sleepingAt,
		Counters:     s.counters,
	}
}

// ValidateSymbolMeta checks the symbol-metadata acceptance rules from
// spec.md §4.6. A non-nil error means the condition is fatal: the caller
// must log it and self-terminate.
func ValidateSymbolMeta(meta SymbolMeta, positionQuantity float64) error {
	if !meta.Trading {
		return fmt.Errorf("symbol %s is not trading (status != TRADING)", meta.BaseAsset+meta.QuoteAsset)
	}
	if meta.MinQty <= 0 {
		return fmt.Errorf("symbol min_qty is unknown")
	}
	if positionQuantity < meta.MinQty {
		return fmt.Errorf("configured POSITION_QUANTITY %v is below min_qty %v", positionQuantity, meta.MinQty)
	}
	return nil
}

// ValidateEntryPreconditions checks the entry preconditions from spec.md
// §4.6. A non-nil error means the condition is fatal.
func ValidateEntryPreconditions(freeQuote, positionQuantity, lastPrice, minNotional float64) error {
	notional := positionQuantity * lastPrice
	if freeQuote < notional {
		return fmt.Errorf("insufficient free quote balance: have %v, need %v", freeQuote, notional)
	}
	if notional < minNotional {
		return fmt.Errorf("order notional %v is below min_notional %v", notional, minNotional)
	}
	return nil
}
