package stream

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"

	"binance-trading-bot/internal/bus"
	"binance-trading-bot/internal/codec"
	"binance-trading-bot/internal/logging"
)

// UserDataConnector streams the listen-key channel: account balance
// deltas and execution reports. It carries no handshake of its own — per
// spec.md §4.3, the moment the socket opens it pushes a synthetic
// {"channel":"user_stream","event":"connected"} frame, which the Trader
// uses to mark the user-data stream ready.
type UserDataConnector struct {
	conn *Connector
}

// NewUserDataConnector dials baseURL + "/<listenKey>".
func NewUserDataConnector(baseURL, listenKey string, b *bus.Bus, log *logging.Logger) *UserDataConnector {
	url := fmt.Sprintf("%s/%s", baseURL, listenKey)
	c := &Connector{
		Name: "user_stream",
		URL:  url,
		Log:  log,
		AfterConnect: func(conn *websocket.Conn) error {
			b.Push(synthConnectedFrame())
			return nil
		},
		OnMessage: func(raw []byte) {
			frame, err := codec.Decode(raw)
			if err != nil {
				log.WithComponent("stream").WithError(err).Warn("malformed user-data frame")
				return
			}
			b.Push(*frame)
		},
	}
	return &UserDataConnector{conn: c}
}

// Run blocks until ctx is canceled.
func (u *UserDataConnector) Run(ctx context.Context) {
	u.conn.Run(ctx)
}

func synthConnectedFrame() codec.Frame {
	return codec.Frame{Channel: "user_stream", EventType: "connected", Raw: []byte(`{"channel":"user_stream","event":"connected"}`)}
}
