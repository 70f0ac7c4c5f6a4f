// Package metrics publishes a best-effort snapshot of the agent's
// cumulative counters to Redis for external dashboards. It is not a
// persistence layer: a Redis outage degrades to a logged warning, and
// nothing here is read back to reconstruct position state across a
// restart.
package metrics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"binance-trading-bot/internal/logging"
	"binance-trading-bot/internal/state"
)

// publishInterval is how often the current snapshot is pushed to Redis.
const publishInterval = 5 * time.Second

// ttl bounds how long a stale snapshot survives if the agent crashes
// without deregistering, so a dashboard does not show a dead process as
// healthy indefinitely.
const ttl = 30 * time.Second

// Publisher periodically writes a JSON snapshot to one Redis key.
type Publisher struct {
	client *redis.Client
	key    string
	state  *state.State
	log    *logging.Logger
}

// New builds a Publisher against addr, or returns nil if addr is empty —
// the Metrics Publisher is entirely optional.
func New(addr, key string, st *state.State, log *logging.Logger) *Publisher {
	if addr == "" {
		return nil
	}
	return &Publisher{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		key:    key,
		state:  st,
		log:    log.WithComponent("metrics"),
	}
}

type snapshotDoc struct {
	RunID     string  `json:"run_id"`
	Symbol    string  `json:"symbol"`
	Status    string  `json:"status"`
	LastPrice float64 `json:"last_price"`
	TPTrades  int     `json:"tp_trades"`
	SLTrades  int     `json:"sl_trades"`
	TotalPnL  float64 `json:"total_pnl"`
	UpdatedAt int64   `json:"updated_at"`
}

// Run publishes on a fixed interval until ctx is canceled. It never
// returns an error: every publish failure is logged and skipped so a
// Redis outage cannot affect trading.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(publishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishOnce(ctx)
		}
	}
}

func (p *Publisher) publishOnce(ctx context.Context) {
	snap := p.state.Snapshot()
	doc := snapshotDoc{
		RunID:     snap.RunID,
		Symbol:    snap.Symbol,
		Status:    string(snap.Status),
		LastPrice: snap.LastPrice,
		TPTrades:  snap.Counters.TPTrades,
		SLTrades:  snap.Counters.SLTrades,
		TotalPnL:  snap.Counters.TotalPnL,
		UpdatedAt: time.Now().UnixMilli(),
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		p.log.WithError(err).Warn("failed to marshal metrics snapshot")
		return
	}

	publishCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.client.Set(publishCtx, p.key, payload, ttl).Err(); err != nil {
		p.log.WithError(err).Warn("failed to publish metrics to redis")
	}
}
