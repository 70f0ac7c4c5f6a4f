// Package trader is the single-writer consumer of the event bus. It
// classifies every inbound frame, updates internal/state accordingly, and
// is the only component that decides when to place an order.
package trader

import (
	"context"

	"binance-trading-bot/internal/bus"
	"binance-trading-bot/internal/codec"
	"binance-trading-bot/internal/fatal"
	"binance-trading-bot/internal/logging"
	"binance-trading-bot/internal/state"
	"binance-trading-bot/internal/stream"
)

// OrderPlacer is the narrow interface the Trader needs from the private
// session, so tests can substitute a fake without spinning up a socket.
type OrderPlacer interface {
	PlaceOrder(side, formattedQty string) error
	StartUserDataStream(ctx context.Context, listenKey string) *stream.UserDataConnector
}

// Config carries the per-run trading parameters from the agent's config.
type Config struct {
	Symbol           string
	PositionQuantity float64
	SLPercent        float64
	HoldTimeSeconds  int
	SleepTimeSeconds int
}

// LotStepListener receives the symbol's lot-size step once exchangeInfo
// resolves it, so another component formatting order quantities (the Time
// Watcher's forced close) rounds them the same way the Trader does.
type LotStepListener interface {
	SetLotStep(step float64)
}

// Trader owns the single bus-consuming goroutine.
type Trader struct {
	bus    *bus.Bus
	state  *state.State
	orders OrderPlacer
	log    *logging.Logger
	cfg    Config

	lotStep     float64
	lotListener LotStepListener
	runCtx      context.Context
}

// New builds a Trader wired to b, st, and orders.
func New(b *bus.Bus, st *state.State, orders OrderPlacer, log *logging.Logger, cfg Config) *Trader {
	return &Trader{bus: b, state: st, orders: orders, log: log.WithComponent("trader"), cfg: cfg}
}

// SetLotStepListener registers a component to be notified of the symbol's
// lot-size step once exchangeInfo resolves it.
func (t *Trader) SetLotStepListener(l LotStepListener) {
	t.lotListener = l
}

// Run consumes the bus until it is closed or ctx is canceled.
func (t *Trader) Run(ctx context.Context) {
	t.runCtx = ctx
	for {
		msg, ok := t.bus.Receive()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			return
		}
		t.dispatch(msg)
	}
}

// dispatch implements the classification table from spec.md §4.5.
func (t *Trader) dispatch(msg interface{}) {
	frame, ok := msg.(codec.Frame)
	if !ok {
		return
	}

	// Channel names below mirror the RPC method that produced the response:
	// trades.recent -> private_trades_recent, exchangeInfo ->
	// private_exchangeinfo, account.status -> private_account_status,
	// order.place -> private_order, userDataStream.start ->
	// private_user_data_stream_start.
	switch {
	case frame.EventType == "trade":
		t.handleTrade(frame)
	case frame.EventType == "executionReport":
		t.handleExecutionReport(frame)
	case frame.EventType == "outboundAccountPosition":
		t.handleAccountPosition(frame)
	case frame.Channel == "user_stream" && frame.EventType == "connected":
		t.state.SetStreamReady()
	case frame.Channel == "private_trades_recent":
		t.handleRecentTrades(frame)
	case frame.Channel == "private_exchangeinfo":
		t.handleExchangeInfo(frame)
	case frame.Channel == "private_account_status":
		t.handleAccountStatus(frame)
	case frame.Channel == "private_order":
		t.handleExecutionReport(frame)
	case frame.Channel == "private_user_data_stream_start":
		t.handleListenKey(frame)
	default:
		// ignore: unrecognized frames are logged at debug, not warned,
		// since the RPC channel carries several acks the Trader does
		// not act on (session.logon, userDataStream.ping).
		t.log.WithField("event_type", frame.EventType).WithField("channel", frame.Channel).Debug("ignored frame")
	}
}

func (t *Trader) handleTrade(frame codec.Frame) {
	var trade codec.Trade
	if err := frame.Unmarshal(&trade); err != nil {
		t.log.WithError(err).Warn("failed to decode trade tick")
		return
	}
	t.state.UpdateLastPrice(trade.Price)
	t.evaluatePosition(trade.Price)
}

// evaluatePosition checks the price-trigger transition and, on first
// reaching READY, attempts to enter a position.
func (t *Trader) evaluatePosition(price float64) {
	switch t.state.Status() {
	case state.StatusReady:
		t.tryEnter(price)
	case state.StatusInPosition:
		if qty, triggered := t.state.CheckPriceTrigger(price); triggered {
			t.closePosition(qty)
		}
	}
}

// tryEnter validates the entry preconditions from spec.md §4.6 and, if
// they hold, claims the READY→ENTERING_POSITION transition and places the
// buy order. A precondition failure is fatal: it means the agent's model
// of its own balance or the symbol's limits has drifted from reality.
func (t *Trader) tryEnter(price float64) {
	meta, ok := t.state.SymbolMeta()
	if !ok {
		return
	}
	free := t.state.FreeBalance(meta.QuoteAsset)
	if err := state.ValidateEntryPreconditions(free, t.cfg.PositionQuantity, price, meta.MinNotional); err != nil {
		t.log.WithError(err).Error("entry preconditions failed, terminating")
		fatal.Terminate()
		return
	}
	if !t.state.EnterIntent() {
		return // lost the race to a concurrent trigger; spec.md §9 double-trigger guard
	}
	qty := t.formatQty(t.cfg.PositionQuantity)
	if err := t.orders.PlaceOrder(codec.SideBuy, qty); err != nil {
		t.log.WithError(err).Error("failed to place entry order, terminating")
		fatal.Terminate()
	}
}

// AttemptEntry retries the READY→ENTERING_POSITION transition using the
// last observed price. It is the Time Watcher's hook for spec.md §4.7's
// "if status=READY, request entry attempt" tick behavior, so a cool-down
// expiry does not stall waiting for the next trade tick to arrive.
// Concurrent with a tick-driven tryEnter, it is harmless: EnterIntent only
// succeeds once per READY period (spec.md §9's double-trigger guard).
func (t *Trader) AttemptEntry() {
	price := t.state.LastPrice()
	if price <= 0 {
		return
	}
	t.tryEnter(price)
}

func (t *Trader) closePosition(qty float64) {
	formatted := t.formatQty(qty)
	if err := t.orders.PlaceOrder(codec.SideSell, formatted); err != nil {
		t.log.WithError(err).Error("failed to place close order, terminating")
		fatal.Terminate()
	}
}

func (t *Trader) formatQty(qty float64) string {
	if t.lotStep > 0 {
		return codec.FormatQuantityStep(qty, t.lotStep)
	}
	return codec.FormatQuantity(qty)
}

func (t *Trader) handleExecutionReport(frame codec.Frame) {
	var report codec.OrderReport
	if err := frame.Unmarshal(&report); err != nil {
		t.log.WithError(err).Warn("failed to decode execution report")
		return
	}
	if !report.IsFilled() {
		return
	}

	commissionAsset := ""
	if report.CommissionAsset != nil {
		commissionAsset = *report.CommissionAsset
	}

	switch report.Side {
	case codec.SideBuy:
		if t.state.ConfirmEntry(report.LastExecutedPrice, report.TransactionTime, report.LastExecutedQty, t.cfg.SLPercent) {
			t.log.WithField("price", report.LastExecutedPrice).Info("position opened")
		}
	case codec.SideSell:
		if pnl, ok := t.state.ConfirmClose(report.LastExecutedPrice, report.LastExecutedQty, report.Commission, commissionAsset, report.TransactionTime, t.cfg.SleepTimeSeconds); ok {
			t.log.WithField("pnl", pnl).Info("position closed")
		}
	}
}

func (t *Trader) handleAccountPosition(frame codec.Frame) {
	var event codec.AccountPositionEvent
	if err := frame.Unmarshal(&event); err != nil {
		t.log.WithError(err).Warn("failed to decode outboundAccountPosition")
		return
	}
	for _, b := range event.Balances {
		t.state.ApplyBalanceDelta(b.Asset, b.Free, b.Locked)
	}
}

func (t *Trader) handleRecentTrades(frame codec.Frame) {
	var result []codec.RecentTradesResult
	if err := frame.Result(&result); err != nil {
		t.log.WithError(err).Warn("failed to decode trades.recent result")
		return
	}
	if len(result) == 0 {
		return
	}
	t.state.UpdateLastPrice(result[len(result)-1].Price)
}

func (t *Trader) handleExchangeInfo(frame codec.Frame) {
	var result codec.ExchangeInfoResult
	if err := frame.Result(&result); err != nil {
		t.log.WithError(err).Warn("failed to decode exchangeInfo result")
		return
	}
	var info *codec.SymbolInfo
	for i := range result.Symbols {
		if result.Symbols[i].Symbol == t.cfg.Symbol {
			info = &result.Symbols[i]
			break
		}
	}
	if info == nil {
		t.log.WithField("symbol", t.cfg.Symbol).Error("symbol not present in exchangeInfo, terminating")
		fatal.Terminate()
		return
	}

	minQty, _ := info.MinQty()
	minNotional, _ := info.MinNotional()
	meta := state.SymbolMeta{
		BaseAsset:   info.BaseAsset,
		QuoteAsset:  info.QuoteAsset,
		MinQty:      minQty,
		MinNotional: minNotional,
		Trading:     info.Status == "TRADING",
	}
	if err := state.ValidateSymbolMeta(meta, t.cfg.PositionQuantity); err != nil {
		t.log.WithError(err).Error("symbol metadata rejected, terminating")
		fatal.Terminate()
		return
	}
	t.lotStep = minQty
	if t.lotListener != nil {
		t.lotListener.SetLotStep(minQty)
	}
	t.state.SetSymbolMeta(meta)
}

func (t *Trader) handleAccountStatus(frame codec.Frame) {
	var result codec.AccountStatusResult
	if err := frame.Result(&result); err != nil {
		t.log.WithError(err).Warn("failed to decode account.status result")
		return
	}
	balances := make(map[string]state.Balance, len(result.Balances))
	for _, b := range result.Balances {
		balances[b.Asset] = state.Balance{Free: b.Free, Locked: b.Locked}
	}
	t.state.ApplyBalanceSnapshot(balances)
	t.state.SetBalanceReady()
}

func (t *Trader) handleListenKey(frame codec.Frame) {
	var result codec.UserDataStreamStartResult
	if err := frame.Result(&result); err != nil {
		t.log.WithError(err).Warn("failed to decode userDataStream.start result")
		return
	}
	if result.ListenKey == "" {
		return
	}
	t.orders.StartUserDataStream(t.runCtx, result.ListenKey)
}
