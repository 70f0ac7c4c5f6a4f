package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"binance-trading-bot/internal/bus"
	"binance-trading-bot/internal/logging"
)

// newSubscribeCapturingServer starts a WebSocket server that records the
// first client message it receives (the expected SUBSCRIBE envelope) and
// otherwise sends nothing.
func newSubscribeCapturingServer(t *testing.T) (*httptest.Server, <-chan []byte) {
	t.Helper()
	got := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case got <- msg:
		default:
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestPublicConnectorSendsSubscribeOnConnect(t *testing.T) {
	srv, got := newSubscribeCapturingServer(t)

	b := bus.New()
	pc := NewPublicConnector(wsURL(srv.URL), "BTCUSDT", b, logging.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pc.Run(ctx)

	select {
	case msg := <-got:
		var envelope struct {
			ID     string   `json:"id"`
			Method string   `json:"method"`
			Params []string `json:"params"`
		}
		if err := json.Unmarshal(msg, &envelope); err != nil {
			t.Fatalf("unmarshal subscribe envelope: %v", err)
		}
		if envelope.Method != "SUBSCRIBE" {
			t.Errorf("Method = %q, want SUBSCRIBE", envelope.Method)
		}
		if len(envelope.Params) != 1 || envelope.Params[0] != "btcusdt@trade" {
			t.Errorf("Params = %v, want [btcusdt@trade]", envelope.Params)
		}
		if envelope.ID == "" {
			t.Error("ID is empty, want a non-empty request fingerprint")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the SUBSCRIBE message")
	}
}

func TestSubscribeTradeWritesWellFormedEnvelope(t *testing.T) {
	srv, got := newSubscribeCapturingServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := subscribeTrade(conn, "ethusdt"); err != nil {
		t.Fatalf("subscribeTrade() error = %v", err)
	}

	select {
	case msg := <-got:
		s := string(msg)
		if !strings.Contains(s, `"method":"SUBSCRIBE"`) || !strings.Contains(s, `"params":["ethusdt@trade"]`) {
			t.Errorf("message = %s, missing expected fields", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the captured message")
	}
}
