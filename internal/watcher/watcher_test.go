package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"binance-trading-bot/internal/logging"
	"binance-trading-bot/internal/state"
)

type fakeClock struct {
	mu  sync.Mutex
	now int64
}

func (c *fakeClock) NowMillis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) set(ms int64) {
	c.mu.Lock()
	c.now = ms
	c.mu.Unlock()
}

type fakeOrders struct {
	mu    sync.Mutex
	sides []string
	qtys  []string
}

func (f *fakeOrders) PlaceOrder(side, qty string) error {
	f.mu.Lock()
	f.sides = append(f.sides, side)
	f.qtys = append(f.qtys, qty)
	f.mu.Unlock()
	return nil
}

func (f *fakeOrders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sides)
}

func (f *fakeOrders) lastQty() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.qtys) == 0 {
		return ""
	}
	return f.qtys[len(f.qtys)-1]
}

func readyState(t *testing.T) *state.State {
	t.Helper()
	s := state.New("BTCUSDT", "run-1")
	s.SetSymbolMeta(state.SymbolMeta{BaseAsset: "BTC", QuoteAsset: "USDT", MinQty: 0.0001, MinNotional: 10, Trading: true})
	s.SetStreamReady()
	s.SetBalanceReady()
	s.UpdateLastPrice(100)
	return s
}

func TestTickForcesHoldExpiry(t *testing.T) {
	s := readyState(t)
	s.EnterIntent()
	s.ConfirmEntry(100, 0, 1, 2)

	clock := &fakeClock{now: 61_000}
	orders := &fakeOrders{}
	w := New(s, orders, logging.Default(), 60, clock)

	w.tick()

	if orders.count() != 1 {
		t.Fatalf("PlaceOrder called %d times, want 1", orders.count())
	}
	if got := s.Status(); got != state.StatusClosingPosition {
		t.Fatalf("Status() = %v, want CLOSING_POSITION", got)
	}
}

func TestTickDoesNotCloseBeforeHoldExpiry(t *testing.T) {
	s := readyState(t)
	s.EnterIntent()
	s.ConfirmEntry(100, 0, 1, 2)

	clock := &fakeClock{now: 30_000}
	orders := &fakeOrders{}
	w := New(s, orders, logging.Default(), 60, clock)

	w.tick()

	if orders.count() != 0 {
		t.Fatalf("PlaceOrder called %d times before hold expiry, want 0", orders.count())
	}
}

func TestTickForcesSleepExpiry(t *testing.T) {
	s := readyState(t)
	s.EnterIntent()
	s.ConfirmEntry(100, 0, 1, 2)
	s.CheckPriceTrigger(102)
	s.ConfirmClose(102, 1, 0, "USDT", 10_000, 30)

	clock := &fakeClock{now: 10_000 + 30_000}
	w := New(s, &fakeOrders{}, logging.Default(), 60, clock)

	w.tick()

	if got := s.Status(); got != state.StatusReady {
		t.Fatalf("Status() = %v, want READY after sleep expiry", got)
	}
}

func TestSetLotStepAffectsFormatting(t *testing.T) {
	s := readyState(t)
	s.EnterIntent()
	s.ConfirmEntry(100, 0, 1.23456789, 2)

	clock := &fakeClock{now: 61_000}
	orders := &fakeOrders{}
	w := New(s, orders, logging.Default(), 60, clock)
	w.SetLotStep(0.001)

	w.tick()

	if orders.count() != 1 {
		t.Fatalf("PlaceOrder called %d times, want 1", orders.count())
	}
	if got, want := orders.lastQty(), "1.234"; got != want {
		t.Fatalf("lastQty() = %q, want %q (truncated to the 0.001 lot step)", got, want)
	}
}

type fakeEntryAttempter struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeEntryAttempter) AttemptEntry() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeEntryAttempter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestTickAttemptsEntryWhenReady(t *testing.T) {
	s := readyState(t)
	if got := s.Status(); got != state.StatusReady {
		t.Fatalf("Status() = %v, want READY", got)
	}

	clock := &fakeClock{now: 0}
	w := New(s, &fakeOrders{}, logging.Default(), 60, clock)
	entry := &fakeEntryAttempter{}
	w.SetEntryAttempter(entry)

	w.tick()

	if entry.count() != 1 {
		t.Fatalf("AttemptEntry called %d times, want 1", entry.count())
	}
}

func TestTickDoesNotAttemptEntryOutsideReady(t *testing.T) {
	s := readyState(t)
	s.EnterIntent()
	s.ConfirmEntry(100, 0, 1, 2)

	clock := &fakeClock{now: 0}
	w := New(s, &fakeOrders{}, logging.Default(), 60, clock)
	entry := &fakeEntryAttempter{}
	w.SetEntryAttempter(entry)

	w.tick()

	if entry.count() != 0 {
		t.Fatalf("AttemptEntry called %d times while IN_POSITION, want 0", entry.count())
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	s := readyState(t)
	clock := &fakeClock{now: 0}
	w := New(s, &fakeOrders{}, logging.Default(), 60, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}
