// Package stream implements the generic reconnecting WebSocket connector
// plus the three connectors the agent builds on top of it: the public
// market-data stream, the private RPC session, and the user-data stream.
package stream

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"binance-trading-bot/internal/logging"
)

// connState is the connector's lifecycle state, per spec.md §4.2.
type connState int

const (
	stateDisconnected connState = iota
	stateOpening
	stateOpen
	stateActive
	stateClosed
)

// reconnectDelay is the pause between a closed connection and the next
// dial attempt.
const reconnectDelay = 250 * time.Millisecond

// Connector drives one WebSocket connection through
// DISCONNECTED → OPENING → OPEN → ACTIVE → CLOSED → (sleep) → DISCONNECTED
// until its context is canceled. AfterConnect runs once the handshake
// completes and before the read loop starts; a non-nil return aborts this
// connection attempt and the loop sleeps and retries. OnMessage is invoked
// for every inbound frame. AfterCancel runs once, after the context is
// canceled and the connection (if any) is closed.
type Connector struct {
	Name         string
	URL          string
	Log          *logging.Logger
	AfterConnect func(conn *websocket.Conn) error
	OnMessage    func(raw []byte)
	OnDisconnect func()
	AfterCancel  func()

	state connState
}

// Run blocks, dialing and redialing URL until ctx is canceled.
func (c *Connector) Run(ctx context.Context) {
	log := c.Log.WithComponent("stream").WithField("connector", c.Name)
	c.state = stateDisconnected

	for {
		if ctx.Err() != nil {
			c.state = stateClosed
			if c.AfterCancel != nil {
				c.AfterCancel()
			}
			return
		}

		c.state = stateOpening
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.URL, nil)
		if err != nil {
			log.WithError(err).Warn("connect failed, retrying")
			c.state = stateDisconnected
			if sleepOrDone(ctx, reconnectDelay) {
				continue
			}
			if c.AfterCancel != nil {
				c.AfterCancel()
			}
			return
		}
		c.state = stateOpen
		log.Info("connected")

		if c.AfterConnect != nil {
			if err := c.AfterConnect(conn); err != nil {
				log.WithError(err).Warn("after-connect hook failed, reconnecting")
				conn.Close()
				if c.OnDisconnect != nil {
					c.OnDisconnect()
				}
				c.state = stateDisconnected
				if sleepOrDone(ctx, reconnectDelay) {
					continue
				}
				if c.AfterCancel != nil {
					c.AfterCancel()
				}
				return
			}
		}

		c.state = stateActive
		c.readLoop(ctx, conn, log)
		conn.Close()
		if c.OnDisconnect != nil {
			c.OnDisconnect()
		}

		if ctx.Err() != nil {
			c.state = stateClosed
			if c.AfterCancel != nil {
				c.AfterCancel()
			}
			return
		}

		c.state = stateDisconnected
		log.Warn("connection lost, reconnecting")
		if sleepOrDone(ctx, reconnectDelay) {
			continue
		}
		if c.AfterCancel != nil {
			c.AfterCancel()
		}
		return
	}
}

// readLoop reads frames until the connection errs or ctx is canceled.
func (c *Connector) readLoop(ctx context.Context, conn *websocket.Conn, log *logging.Logger) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.WithError(err).Debug("read error")
			}
			return
		}
		if c.OnMessage != nil {
			c.OnMessage(message)
		}
	}
}

// sleepOrDone waits for d or ctx cancellation, returning true if the
// sleep completed normally (caller should retry) and false if ctx was
// canceled first (caller should exit).
func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
