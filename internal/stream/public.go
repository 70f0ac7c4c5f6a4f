package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"binance-trading-bot/internal/bus"
	"binance-trading-bot/internal/codec"
	"binance-trading-bot/internal/logging"
)

// PublicConnector subscribes to the symbol's public trade stream and
// pushes decoded frames onto the bus for the Trader to classify, the same
// as the private and user-data connectors. It carries no session state of
// its own: every reconnect resubscribes fresh.
type PublicConnector struct {
	conn *Connector
}

// NewPublicConnector builds the public trade-stream connector, dialing
// baseURL directly and subscribing to <symbol>@trade on connect, per
// spec.md §4.2/§6.
func NewPublicConnector(baseURL, symbol string, b *bus.Bus, log *logging.Logger) *PublicConnector {
	sym := lower(symbol)
	c := &Connector{
		Name: "public",
		URL:  baseURL,
		Log:  log,
		AfterConnect: func(conn *websocket.Conn) error {
			return subscribeTrade(conn, sym)
		},
		OnMessage: func(raw []byte) {
			frame, err := codec.Decode(raw)
			if err != nil {
				log.WithComponent("stream").WithError(err).Warn("malformed public frame")
				return
			}
			b.Push(*frame)
		},
	}
	return &PublicConnector{conn: c}
}

// subscribeTrade sends the SUBSCRIBE handshake: {id, method:"SUBSCRIBE",
// params:["<symbol>@trade"]}, grounded on the original create_ws_message's
// "subscribe_<symbol>_<timestamp>" id scheme.
func subscribeTrade(conn *websocket.Conn, symbol string) error {
	envelope := struct {
		ID     string   `json:"id"`
		Method string   `json:"method"`
		Params []string `json:"params"`
	}{
		ID:     fmt.Sprintf("subscribe_%s_%d", symbol, time.Now().UnixMilli()),
		Method: "SUBSCRIBE",
		Params: []string{symbol + "@trade"},
	}
	payload, err := codec.Encode(envelope)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// Run blocks until ctx is canceled, reconnecting as needed.
func (p *PublicConnector) Run(ctx context.Context) {
	p.conn.Run(ctx)
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
