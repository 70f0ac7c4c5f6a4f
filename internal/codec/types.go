// Package codec translates between exchange wire JSON and the typed
// records the rest of the agent operates on, and signs outbound private
// requests with Ed25519.
package codec

// Order sides and statuses as used on the wire (field S and X).
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderStatusNew             = "NEW"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCanceled        = "CANCELED"
	OrderStatusRejected        = "REJECTED"
	OrderStatusExpired         = "EXPIRED"
)

// Trade is a public market trade tick (wire event type "trade").
type Trade struct {
	EventType string  `json:"e"`
	EventTime int64   `json:"E"`
	Symbol    string  `json:"s"`
	Price     float64 `json:"p,string"`
	TradeTime int64   `json:"T"`
}

// OrderReport is an execution report (wire event type "executionReport"),
// also used to decode the synchronous response to order.place.
type OrderReport struct {
	EventType        string  `json:"e"`
	EventTime        int64   `json:"E"`
	Symbol           string  `json:"s"`
	Side             string  `json:"S"`
	OrderType        string  `json:"o"`
	Quantity         float64 `json:"q,string"`
	Price            float64 `json:"p,string"`
	Status           string  `json:"X"`
	LastExecutedQty  float64 `json:"l,string"`
	LastExecutedPrice float64 `json:"L,string"`
	Commission       float64 `json:"n,string"`
	CommissionAsset  *string `json:"N"`
	TransactionTime  int64   `json:"T"`
}

// IsFilled reports whether the report reflects a completed fill.
func (o OrderReport) IsFilled() bool {
	return o.Status == OrderStatusFilled
}

// BalanceEntry is one element of an outboundAccountPosition's "B" array,
// or one element of an account.status snapshot's balances list.
type BalanceEntry struct {
	Asset  string  `json:"a"`
	Free   float64 `json:"f,string"`
	Locked float64 `json:"l,string"`
}

// AccountPositionEvent is an incremental balance delta (wire event type
// "outboundAccountPosition").
type AccountPositionEvent struct {
	EventType string         `json:"e"`
	EventTime int64          `json:"E"`
	Balances  []BalanceEntry `json:"B"`
}

// SymbolFilter is one entry of an exchangeInfo symbol's filter list.
type SymbolFilter struct {
	FilterType  string `json:"filterType"`
	MinQty      string `json:"minQty,omitempty"`
	MinNotional string `json:"minNotional,omitempty"`
}

// SymbolInfo is one symbol entry of an exchangeInfo response.
type SymbolInfo struct {
	Symbol     string         `json:"symbol"`
	Status     string         `json:"status"`
	BaseAsset  string         `json:"baseAsset"`
	QuoteAsset string         `json:"quoteAsset"`
	Filters    []SymbolFilter `json:"filters"`
}

// MinQty returns the LOT_SIZE filter's minQty, if present.
func (s SymbolInfo) MinQty() (float64, bool) {
	return filterFloat(s.Filters, "LOT_SIZE", "minQty")
}

// MinNotional returns the NOTIONAL filter's minNotional, if present.
func (s SymbolInfo) MinNotional() (float64, bool) {
	return filterFloat(s.Filters, "NOTIONAL", "minNotional")
}

func filterFloat(filters []SymbolFilter, filterType, field string) (float64, bool) {
	for _, f := range filters {
		if f.FilterType != filterType {
			continue
		}
		raw := f.MinQty
		if field == "minNotional" {
			raw = f.MinNotional
		}
		if raw == "" {
			return 0, false
		}
		v, err := parseFloat(raw)
		if err != nil {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

// ExchangeInfoResult is the "result" payload of a private_exchangeinfo
// response.
type ExchangeInfoResult struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// RecentTradesResult is one element of the "result" list of a
// private_trades_recent response: a {price: "..."} trade. The list is
// ordered most recent last per the exchange's convention.
type RecentTradesResult struct {
	Price float64 `json:"price,string"`
}

// AccountStatusResult is the "result" payload of a private_account_status
// response.
type AccountStatusResult struct {
	Balances []BalanceEntry `json:"balances"`
}

// UserDataStreamStartResult is the "result" payload of a
// userDataStream.start response.
type UserDataStreamStartResult struct {
	ListenKey string `json:"listenKey"`
}
