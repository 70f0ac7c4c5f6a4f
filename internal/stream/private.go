package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"binance-trading-bot/internal/bus"
	"binance-trading-bot/internal/codec"
	"binance-trading-bot/internal/logging"
)

// listenKeyPingInterval matches the exchange's listen-key expiry margin:
// keys expire after 60 minutes, so a 30-minute ping gives one full retry
// window before expiry.
const listenKeyPingInterval = 30 * time.Minute

// channelForMethod maps an outbound RPC method to the channel name the
// Trader's dispatch table expects on the matching response, per spec.md
// §4.5. Methods with no entry (session.logon, userDataStream.ping) produce
// responses the Trader does not act on; they are delivered with an empty
// Channel and fall through dispatch's default, ignored-frame case.
var channelForMethod = map[string]string{
	"trades.recent":        "private_trades_recent",
	"exchangeInfo":         "private_exchangeinfo",
	"account.status":       "private_account_status",
	"order.place":          "private_order",
	"userDataStream.start": "private_user_data_stream_start",
}

// signedMethods is the set of RPC methods whose params carry a signature,
// per spec.md §4.3 ("For signed methods (session.logon, account.status)...").
var signedMethods = map[string]bool{
	"session.logon":  true,
	"account.status": true,
}

// PrivateSession owns the authenticated RPC connection: it logs on,
// fetches bootstrap data, starts the user-data stream, and is the only
// component allowed to place orders.
type PrivateSession struct {
	conn   *Connector
	signer *codec.Signer
	apiKey string
	symbol string
	b      *bus.Bus
	log    *logging.Logger
	userWS string

	mu      sync.Mutex
	wsConn  *websocket.Conn
	pending map[string]string // request id -> method, for response correlation
	started bool

	writeMu sync.Mutex // serializes every write to the socket
}

// NewPrivateSession builds the private session connector for symbol against
// rpcURL (the signed WebSocket API endpoint) and userWS (the base URL the
// user-data stream connects to once a listen key is issued).
func NewPrivateSession(rpcURL, userWS, apiKey, symbol string, signer *codec.Signer, b *bus.Bus, log *logging.Logger) *PrivateSession {
	p := &PrivateSession{
		signer:  signer,
		apiKey:  apiKey,
		symbol:  symbol,
		b:       b,
		log:     log,
		userWS:  userWS,
		pending: make(map[string]string),
	}
	p.conn = &Connector{
		Name: "private",
		URL:  rpcURL,
		Log:  log,
		AfterConnect: func(conn *websocket.Conn) error {
			p.mu.Lock()
			p.wsConn = conn
			p.mu.Unlock()
			return p.bootstrap(conn)
		},
		OnMessage:    p.handleMessage,
		OnDisconnect: func() {
			p.mu.Lock()
			p.wsConn = nil
			p.mu.Unlock()
		},
	}
	return p
}

// handleMessage classifies an inbound private-channel frame. Push events
// (trade/executionReport/outboundAccountPosition) carry their own "e" field
// and decode directly. RPC responses carry only {id, status, result} — no
// "e", no "channel" — so the channel has to be recovered from the id this
// session itself minted when it sent the matching request, the same
// correlation the original binance_wss.py's process_message performs by
// splitting the response id.
func (p *PrivateSession) handleMessage(raw []byte) {
	var head struct {
		EventType string `json:"e"`
		ID        string `json:"id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		p.log.WithComponent("stream").WithError(err).Warn("malformed private frame")
		return
	}

	if head.EventType != "" {
		frame, err := codec.Decode(raw)
		if err != nil {
			p.log.WithComponent("stream").WithError(err).Warn("malformed private frame")
			return
		}
		p.b.Push(*frame)
		return
	}

	if head.ID == "" {
		p.log.WithComponent("stream").Warn("private frame carries neither e nor id")
		return
	}
	channel, ok := p.resolveChannel(head.ID)
	if !ok {
		p.log.WithComponent("stream").WithField("id", head.ID).Warn("response id does not match a pending request")
		return
	}
	p.b.Push(codec.Frame{Channel: channel, ID: head.ID, Raw: raw})
}

// trackPending records that id was just sent for method, so the matching
// response can be classified once it arrives.
func (p *PrivateSession) trackPending(id, method string) {
	p.mu.Lock()
	p.pending[id] = method
	p.mu.Unlock()
}

// resolveChannel looks up and clears the method tracked for id, returning
// the channel name the Trader's dispatch table expects for it.
func (p *PrivateSession) resolveChannel(id string) (string, bool) {
	p.mu.Lock()
	method, ok := p.pending[id]
	if ok {
		delete(p.pending, id)
	}
	p.mu.Unlock()
	if !ok {
		return "", false
	}
	return channelForMethod[method], true
}

// requestID mints the request fingerprint from spec.md §3: the method name,
// lowercased with dots replaced by underscores, followed by the millisecond
// timestamp.
func requestID(method string) string {
	sanitized := strings.ReplaceAll(strings.ToLower(method), ".", "_")
	return fmt.Sprintf("%s_%d", sanitized, nowMillis())
}

// Run blocks until ctx is canceled, reconnecting and rebootstrapping the
// session as needed.
func (p *PrivateSession) Run(ctx context.Context) {
	p.conn.Run(ctx)
}

// bootstrap runs the one-time handshake sequence described in spec.md
// §4.3: logon, then recent trades, exchange info, and account status, then
// start the user-data stream. The five requests are written one after
// another without waiting for any response.
func (p *PrivateSession) bootstrap(conn *websocket.Conn) error {
	if err := p.send(conn, "session.logon", codec.NewParams().
		Set("apiKey", p.apiKey).
		Set("timestamp", nowMillis())); err != nil {
		return fmt.Errorf("session.logon: %w", err)
	}

	if err := p.send(conn, "trades.recent", codec.NewParams().
		Set("symbol", p.symbol).
		Set("limit", 1)); err != nil {
		return fmt.Errorf("trades.recent: %w", err)
	}
	if err := p.send(conn, "exchangeInfo", codec.NewParams().
		Set("symbols", []string{p.symbol})); err != nil {
		return fmt.Errorf("exchangeInfo: %w", err)
	}
	if err := p.send(conn, "account.status", codec.NewParams().
		Set("apiKey", p.apiKey).
		Set("timestamp", nowMillis())); err != nil {
		return fmt.Errorf("account.status: %w", err)
	}
	if err := p.send(conn, "userDataStream.start", codec.NewParams().
		Set("apiKey", p.apiKey)); err != nil {
		return fmt.Errorf("userDataStream.start: %w", err)
	}
	return nil
}

// send signs params (only for the methods spec.md §4.3 requires a
// signature on, when a signer is configured) and writes the request
// envelope. Responses arrive asynchronously on the read loop and are
// correlated back to method via the id this call mints.
func (p *PrivateSession) send(conn *websocket.Conn, method string, params *codec.Params) error {
	id := requestID(method)
	p.trackPending(id, method)

	if signedMethods[method] && p.signer != nil {
		sig, err := p.signer.Sign(params)
		if err != nil {
			return fmt.Errorf("sign %s: %w", method, err)
		}
		params.Set("signature", sig)
	}

	envelope := struct {
		ID     string        `json:"id"`
		Method string        `json:"method"`
		Params *codec.Params `json:"params"`
	}{ID: id, Method: method, Params: params}

	payload, err := codec.Encode(envelope)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// PlaceOrder submits an order.place request over the active connection.
// order.place is not one of the signed methods: the session is already
// authenticated by session.logon. formattedQty must already be
// lot-size-aligned (see internal/codec.FormatQuantityStep); PlaceOrder
// does not reformat it.
func (p *PrivateSession) PlaceOrder(side, formattedQty string) error {
	p.mu.Lock()
	conn := p.wsConn
	p.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("private session not connected")
	}

	params := codec.NewParams().
		Set("symbol", p.symbol).
		Set("side", side).
		Set("type", "MARKET").
		Set("quantity", formattedQty).
		Set("timestamp", nowMillis())

	return p.send(conn, "order.place", params)
}

// StartUserDataStream spawns the user-data connector against listenKey and
// a keepalive worker. It returns once both goroutines are launched; the
// caller's context governs their lifetime.
func (p *PrivateSession) StartUserDataStream(ctx context.Context, listenKey string) *UserDataConnector {
	udc := NewUserDataConnector(p.userWS, listenKey, p.b, p.log)
	go udc.Run(ctx)
	go p.pingLoop(ctx, listenKey)
	return udc
}

func (p *PrivateSession) pingLoop(ctx context.Context, listenKey string) {
	ticker := time.NewTicker(listenKeyPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			conn := p.wsConn
			p.mu.Unlock()
			if conn == nil {
				continue
			}
			if err := p.send(conn, "userDataStream.ping", codec.NewParams().
				Set("apiKey", p.apiKey).
				Set("listenKey", listenKey)); err != nil {
				p.log.WithComponent("stream").WithError(err).Warn("listen key ping failed")
			}
		}
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
