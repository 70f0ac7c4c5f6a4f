package metrics

import (
	"context"
	"testing"
	"time"

	"binance-trading-bot/internal/logging"
	"binance-trading-bot/internal/state"
)

func TestNewReturnsNilWithoutAddr(t *testing.T) {
	st := state.New("BTCUSDT", "run-1")
	if p := New("", "key", st, logging.Default()); p != nil {
		t.Fatalf("New(\"\") = %v, want nil", p)
	}
}

func TestPublishOnceSwallowsRedisErrors(t *testing.T) {
	st := state.New("BTCUSDT", "run-1")
	// Nothing listens on this port: every publish attempt should fail and
	// be logged, never panic or propagate.
	p := New("127.0.0.1:1", "trading-agent:test:status", st, logging.Default())
	if p == nil {
		t.Fatal("New() = nil, want a Publisher")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.publishOnce(ctx)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	st := state.New("BTCUSDT", "run-1")
	p := New("127.0.0.1:1", "trading-agent:test:status", st, logging.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}
