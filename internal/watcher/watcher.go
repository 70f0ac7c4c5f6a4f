// Package watcher runs the periodic checks that the event-driven Trader
// cannot perform on its own: hold-time expiry and sleep/cool-down expiry
// both depend on wall-clock time elapsing with no new market event, so a
// trade tick or execution report alone cannot drive them.
package watcher

import (
	"context"
	"time"

	"binance-trading-bot/internal/codec"
	"binance-trading-bot/internal/fatal"
	"binance-trading-bot/internal/logging"
	"binance-trading-bot/internal/state"
)

// Clock abstracts wall-clock time so tests can drive the watcher without
// real sleeps, per spec.md §9's time-source-injection note.
type Clock interface {
	NowMillis() int64
}

// systemClock is the production Clock.
type systemClock struct{}

func (systemClock) NowMillis() int64 { return time.Now().UnixMilli() }

// activePollInterval is used while a position is open or the cool-down is
// running, when a missed tick of latency matters. idlePollInterval is used
// otherwise, since there is nothing time-sensitive to check.
const (
	activePollInterval = 100 * time.Millisecond
	idlePollInterval   = time.Second
)

// Closer places the market-close order the watcher triggers. It is the
// same narrow surface the Trader uses, so both can share one
// implementation without the watcher depending on the full trader package.
type Closer interface {
	PlaceOrder(side, formattedQty string) error
}

// EntryAttempter retries the Trader's READY→ENTERING_POSITION attempt on
// the watcher's own cadence, per spec.md §4.7 ("If status=READY → request
// entry attempt... ensures the bot does not stall waiting for a new trade
// tick after cool-down").
type EntryAttempter interface {
	AttemptEntry()
}

// Watcher polls State on a fixed cadence and forces the hold-time and
// sleep-expiry transitions that spec.md §4.7 requires to run independent
// of market events.
type Watcher struct {
	state   *state.State
	orders  Closer
	log     *logging.Logger
	clock   Clock
	holdSec int
	lotStep float64
	entry   EntryAttempter
}

// New builds a Watcher. clock may be nil to use the system clock.
func New(st *state.State, orders Closer, log *logging.Logger, holdSeconds int, clock Clock) *Watcher {
	if clock == nil {
		clock = systemClock{}
	}
	return &Watcher{state: st, orders: orders, log: log.WithComponent("watcher"), clock: clock, holdSec: holdSeconds}
}

// SetLotStep lets the Trader share the symbol's lot-size step once known,
// so the watcher's forced-close quantity is formatted identically to the
// Trader's own orders.
func (w *Watcher) SetLotStep(step float64) {
	w.lotStep = step
}

// SetEntryAttempter registers the component the watcher asks to retry
// entry while status sits at READY.
func (w *Watcher) SetEntryAttempter(a EntryAttempter) {
	w.entry = a
}

// Run polls until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) {
	interval := idlePollInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			next := w.tick()
			if next != interval {
				interval = next
			}
			timer.Reset(interval)
		}
	}
}

// tick runs one poll cycle and returns the interval the next cycle should
// use: shorter while a position or cool-down is active, longer otherwise.
func (w *Watcher) tick() time.Duration {
	now := w.clock.NowMillis()

	switch w.state.Status() {
	case state.StatusInPosition:
		if qty, triggered := w.state.CheckHoldExpiry(now, w.holdSec); triggered {
			formatted := w.formatQty(qty)
			if err := w.orders.PlaceOrder(codec.SideSell, formatted); err != nil {
				w.log.WithError(err).Error("hold-time close failed, terminating")
				fatal.Terminate()
			}
		}
		return activePollInterval
	case state.StatusSleeping:
		w.state.CheckSleepExpiry(now)
		return activePollInterval
	case state.StatusReady:
		if w.entry != nil {
			w.entry.AttemptEntry()
		}
		return idlePollInterval
	default:
		return idlePollInterval
	}
}

func (w *Watcher) formatQty(qty float64) string {
	if w.lotStep > 0 {
		return codec.FormatQuantityStep(qty, w.lotStep)
	}
	return codec.FormatQuantity(qty)
}
