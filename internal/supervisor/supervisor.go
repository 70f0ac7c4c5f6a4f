// Package supervisor wires every component together and owns the
// process's one shutdown path: an operator SIGINT/SIGTERM and a fatal
// precondition violation both land here and drive the same graceful
// shutdown sequence.
package supervisor

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"binance-trading-bot/config"
	"binance-trading-bot/internal/bus"
	"binance-trading-bot/internal/codec"
	"binance-trading-bot/internal/fatal"
	"binance-trading-bot/internal/logging"
	"binance-trading-bot/internal/metrics"
	"binance-trading-bot/internal/secrets"
	"binance-trading-bot/internal/state"
	"binance-trading-bot/internal/status"
	"binance-trading-bot/internal/stream"
	"binance-trading-bot/internal/trader"
	"binance-trading-bot/internal/watcher"
)

// shutdownGracePeriod bounds how long component goroutines get to exit
// after the root context is canceled, mirroring the teacher's 30-second
// web-server shutdown timeout.
const shutdownGracePeriod = 30 * time.Second

// Run builds every component from cfg and blocks until an operator signal
// or a fatal condition triggers shutdown. It returns the process exit
// code: 0 for an operator-requested stop, 1 if shutdown was triggered by
// fatal.Terminate.
func Run(cfg *config.Config) int {
	runID := uuid.New().String()
	log := logging.NewForRun(&logging.Config{
		Level:      cfg.Logging.Level,
		Output:     cfg.Logging.Output,
		Component:  "app",
		JSONFormat: cfg.Logging.JSONFormat,
	}, runID)
	logging.SetDefault(log)

	log.WithField("symbol", cfg.Binance.Symbol).Info("starting agent")

	secretsProvider, err := secrets.New(cfg.Vault)
	if err != nil {
		log.WithError(err).Error("failed to initialize secrets provider")
		return 1
	}
	creds, err := secretsProvider.Resolve(context.Background(), secrets.Credentials{
		APIKey:           cfg.Binance.APIKey,
		PrivateKeyBase64: cfg.Binance.PrivateKeyBase64,
	})
	if err != nil {
		log.WithError(err).Error("failed to resolve exchange credentials")
		return 1
	}

	signer, err := codec.LoadPrivateKey(creds.PrivateKeyBase64)
	if err != nil {
		log.WithError(err).Error("failed to load private key")
		return 1
	}

	b := bus.New()
	st := state.New(cfg.Binance.Symbol, runID)

	privateSession := stream.NewPrivateSession(
		cfg.Binance.PrivateBaseURL,
		cfg.Binance.UserDataBaseURL,
		creds.APIKey,
		cfg.Binance.Symbol,
		signer,
		b,
		log,
	)
	publicConn := stream.NewPublicConnector(cfg.Binance.PublicBaseURL, cfg.Binance.Symbol, b, log)

	tr := trader.New(b, st, privateSession, log, trader.Config{
		Symbol:           cfg.Binance.Symbol,
		PositionQuantity: cfg.Trading.PositionQuantity,
		SLPercent:        cfg.Trading.StopLossPercent,
		HoldTimeSeconds:  cfg.Trading.HoldTimeSeconds,
		SleepTimeSeconds: cfg.Trading.SleepTimeSeconds,
	})
	w := watcher.New(st, privateSession, log, cfg.Trading.HoldTimeSeconds, nil)
	tr.SetLotStepListener(w)
	w.SetEntryAttempter(tr)

	var statusServer *status.Server
	if cfg.Status.Enabled {
		statusServer = status.New(cfg.Status.Addr, st, cfg.Status.AuthToken, log)
	}
	metricsPublisher := metrics.New(cfg.Redis.Addr, cfg.Redis.MetricsKey, st, log)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	runTask := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
			log.WithField("task", name).Debug("task exited")
		}()
	}

	runTask("public", publicConn.Run)
	runTask("private", privateSession.Run)
	runTask("trader", tr.Run)
	runTask("watcher", w.Run)
	if statusServer != nil {
		runTask("status", func(ctx context.Context) {
			if err := statusServer.Run(ctx); err != nil {
				log.WithError(err).Error("status server exited with error")
			}
		})
	}
	if metricsPublisher != nil {
		runTask("metrics", metricsPublisher.Run)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	cancel()
	b.Close()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGracePeriod):
		log.Warn("shutdown grace period elapsed with goroutines still running")
	}

	if fatal.WasFatal() {
		return 1
	}
	return 0
}
