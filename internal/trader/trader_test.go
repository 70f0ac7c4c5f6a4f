package trader

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"binance-trading-bot/internal/bus"
	"binance-trading-bot/internal/codec"
	"binance-trading-bot/internal/logging"
	"binance-trading-bot/internal/state"
	"binance-trading-bot/internal/stream"
)

type fakeOrders struct {
	mu    sync.Mutex
	sides []string
}

func (f *fakeOrders) PlaceOrder(side, qty string) error {
	f.mu.Lock()
	f.sides = append(f.sides, side)
	f.mu.Unlock()
	return nil
}

func (f *fakeOrders) StartUserDataStream(ctx context.Context, listenKey string) *stream.UserDataConnector {
	return nil
}

func (f *fakeOrders) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sides)
}

func frameFromResult(channel string, result interface{}) codec.Frame {
	payload, _ := json.Marshal(struct {
		Channel string      `json:"channel"`
		Result  interface{} `json:"result"`
	}{Channel: channel, Result: result})
	return codec.Frame{Channel: channel, Raw: payload}
}

func frameFromEvent(v interface{}) codec.Frame {
	raw, _ := json.Marshal(v)
	frame, _ := codec.Decode(raw)
	return *frame
}

func newTestTrader(orders *fakeOrders) (*Trader, *bus.Bus, *state.State) {
	b := bus.New()
	st := state.New("BTCUSDT", "run-1")
	tr := New(b, st, orders, logging.Default(), Config{
		Symbol:           "BTCUSDT",
		PositionQuantity: 1,
		SLPercent:        2,
		HoldTimeSeconds:  60,
		SleepTimeSeconds: 30,
	})
	return tr, b, st
}

func TestBootstrapSequenceReachesReady(t *testing.T) {
	orders := &fakeOrders{}
	tr, b, st := newTestTrader(orders)

	b.Push(frameFromResult("private_exchangeinfo", codec.ExchangeInfoResult{
		Symbols: []codec.SymbolInfo{{
			Symbol: "BTCUSDT", Status: "TRADING", BaseAsset: "BTC", QuoteAsset: "USDT",
			Filters: []codec.SymbolFilter{
				{FilterType: "LOT_SIZE", MinQty: "0.0001"},
				{FilterType: "NOTIONAL", MinNotional: "10"},
			},
		}},
	}))
	b.Push(frameFromResult("private_account_status", codec.AccountStatusResult{
		Balances: []codec.BalanceEntry{{Asset: "USDT", Free: 1000}},
	}))
	b.Push(codec.Frame{Channel: "user_stream", EventType: "connected"})
	b.Push(frameFromEvent(struct {
		EventType string  `json:"e"`
		Symbol    string  `json:"s"`
		Price     string  `json:"p"`
		TradeTime int64   `json:"T"`
	}{EventType: "trade", Symbol: "BTCUSDT", Price: "100.0", TradeTime: 1}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	// The trade tick that completes READY also triggers the entry attempt in
	// the same dispatch, so the observable end state is ENTERING_POSITION.
	deadline := time.After(2 * time.Second)
	for {
		if st.Status() == state.StatusEnteringPosition {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("Status() = %v, want ENTERING_POSITION after bootstrap reaches READY and enters", st.Status())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestExecutionReportConfirmsEntryAndClose(t *testing.T) {
	orders := &fakeOrders{}
	tr, b, st := newTestTrader(orders)
	_ = b

	st.SetSymbolMeta(state.SymbolMeta{BaseAsset: "BTC", QuoteAsset: "USDT", MinQty: 0.0001, MinNotional: 10, Trading: true})
	st.SetStreamReady()
	st.SetBalanceReady()
	st.ApplyBalanceSnapshot(map[string]state.Balance{"USDT": {Free: 1000}})
	st.UpdateLastPrice(100)
	st.EnterIntent()

	commissionAsset := "USDT"
	buyReport := codec.OrderReport{
		EventType: "executionReport", Symbol: "BTCUSDT", Side: codec.SideBuy,
		Status: codec.OrderStatusFilled, LastExecutedPrice: 100, LastExecutedQty: 1,
		CommissionAsset: &commissionAsset, TransactionTime: 1000,
	}
	tr.dispatch(frameFromEvent(buyReport))

	if got := st.Status(); got != state.StatusInPosition {
		t.Fatalf("Status() = %v, want IN_POSITION after filled buy", got)
	}

	// A trade at the take-profit price (102) moves IN_POSITION to
	// CLOSING_POSITION; only then does a filled sell close the position.
	tr.dispatch(frameFromEvent(codec.Trade{EventType: "trade", Symbol: "BTCUSDT", Price: 102, TradeTime: 1500}))

	sellReport := codec.OrderReport{
		EventType: "executionReport", Symbol: "BTCUSDT", Side: codec.SideSell,
		Status: codec.OrderStatusFilled, LastExecutedPrice: 102, LastExecutedQty: 1,
		CommissionAsset: &commissionAsset, TransactionTime: 2000,
	}
	tr.dispatch(frameFromEvent(sellReport))

	if got := st.Status(); got != state.StatusSleeping {
		t.Fatalf("Status() = %v, want SLEEPING after filled sell", got)
	}
}

func TestAccountStatusAloneDoesNotMarkStreamReady(t *testing.T) {
	orders := &fakeOrders{}
	tr, _, st := newTestTrader(orders)

	tr.dispatch(frameFromResult("private_exchangeinfo", codec.ExchangeInfoResult{
		Symbols: []codec.SymbolInfo{{
			Symbol: "BTCUSDT", Status: "TRADING", BaseAsset: "BTC", QuoteAsset: "USDT",
			Filters: []codec.SymbolFilter{
				{FilterType: "LOT_SIZE", MinQty: "0.0001"},
				{FilterType: "NOTIONAL", MinNotional: "10"},
			},
		}},
	}))
	tr.dispatch(frameFromResult("private_account_status", codec.AccountStatusResult{
		Balances: []codec.BalanceEntry{{Asset: "USDT", Free: 1000}},
	}))
	tr.dispatch(frameFromEvent(codec.Trade{EventType: "trade", Symbol: "BTCUSDT", Price: 100, TradeTime: 1}))

	if got := st.Status(); got == state.StatusReady {
		t.Fatal("Status() = READY after account.status + trade, want still INITIAL (user_stream connected never arrived)")
	}
	if got := st.Snapshot().StreamReady; got {
		t.Fatal("StreamReady = true after account.status alone, want false until user_stream/connected arrives")
	}
}

func TestUserStreamConnectedMarksStreamReady(t *testing.T) {
	orders := &fakeOrders{}
	tr, _, st := newTestTrader(orders)

	tr.dispatch(codec.Frame{Channel: "user_stream", EventType: "connected"})

	if got := st.Snapshot().StreamReady; !got {
		t.Fatal("StreamReady = false after user_stream/connected, want true")
	}
}

func TestTradeTickTriggersEntry(t *testing.T) {
	orders := &fakeOrders{}
	tr, _, st := newTestTrader(orders)

	st.SetSymbolMeta(state.SymbolMeta{BaseAsset: "BTC", QuoteAsset: "USDT", MinQty: 0.0001, MinNotional: 10, Trading: true})
	st.SetStreamReady()
	st.SetBalanceReady()
	st.ApplyBalanceSnapshot(map[string]state.Balance{"USDT": {Free: 1000}})
	st.UpdateLastPrice(100) // reaches READY

	trade := codec.Trade{EventType: "trade", Symbol: "BTCUSDT", Price: 100, TradeTime: 2}
	tr.dispatch(frameFromEvent(trade))

	if orders.count() != 1 {
		t.Fatalf("PlaceOrder called %d times, want 1", orders.count())
	}
	if got := st.Status(); got != state.StatusEnteringPosition {
		t.Fatalf("Status() = %v, want ENTERING_POSITION", got)
	}
}

func TestIgnoredFrameDoesNotPanic(t *testing.T) {
	orders := &fakeOrders{}
	tr, _, _ := newTestTrader(orders)
	tr.dispatch(frameFromResult("session.logon", nil))
}

type fakeLotStepListener struct {
	mu   sync.Mutex
	step float64
}

func (f *fakeLotStepListener) SetLotStep(step float64) {
	f.mu.Lock()
	f.step = step
	f.mu.Unlock()
}

func TestExchangeInfoNotifiesLotStepListener(t *testing.T) {
	orders := &fakeOrders{}
	tr, _, _ := newTestTrader(orders)
	listener := &fakeLotStepListener{}
	tr.SetLotStepListener(listener)

	tr.dispatch(frameFromResult("private_exchangeinfo", codec.ExchangeInfoResult{
		Symbols: []codec.SymbolInfo{{
			Symbol: "BTCUSDT", Status: "TRADING", BaseAsset: "BTC", QuoteAsset: "USDT",
			Filters: []codec.SymbolFilter{
				{FilterType: "LOT_SIZE", MinQty: "0.0001"},
				{FilterType: "NOTIONAL", MinNotional: "10"},
			},
		}},
	}))

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if listener.step != 0.0001 {
		t.Fatalf("listener.step = %v, want 0.0001", listener.step)
	}
}
