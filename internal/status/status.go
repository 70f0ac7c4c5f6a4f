// Package status runs a read-only HTTP status endpoint for the agent. It
// is not a control surface and not a UI: the only route is a JSON
// snapshot of the current state, gated behind a bearer token.
package status

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"binance-trading-bot/internal/logging"
	"binance-trading-bot/internal/state"
)

// Server serves GET /status.
type Server struct {
	httpServer *http.Server
	log        *logging.Logger
}

// New builds a Server bound to addr, reading snapshots from st. authToken
// is used both as the HMAC secret bearer tokens must be signed with and
// as the bare shared secret accepted directly (so an operator can curl
// the endpoint with the raw STATUS_AUTH_TOKEN value without minting a
// JWT first).
func New(addr string, st *state.State, authToken string, log *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogMiddleware(log))
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Authorization"},
	}))

	router.GET("/status", authMiddleware(authToken), func(c *gin.Context) {
		c.JSON(http.StatusOK, snapshotPayload(st.Snapshot()))
	})

	return &Server{
		httpServer: &http.Server{Addr: addr, Handler: router},
		log:        log.WithComponent("status"),
	}
}

// Run starts serving and blocks until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.WithError(err).Warn("status server did not shut down cleanly")
		}
		return nil
	}
}

// requestLogMiddleware mirrors internal/logging's HTTPMiddleware in a
// gin-native form, since gin handlers take *gin.Context rather than
// http.Handler.
func requestLogMiddleware(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"remote_addr": c.Request.RemoteAddr,
			"status_code": c.Writer.Status(),
		}).WithDuration(time.Since(start)).Info("request completed")
	}
}

func authMiddleware(authToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		token := parts[1]
		if token == authToken {
			c.Next()
			return
		}

		if validateJWT(token, authToken) {
			c.Next()
			return
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
	}
}

func validateJWT(tokenString, secret string) bool {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	return err == nil && parsed.Valid
}

type statusPayload struct {
	RunID     string  `json:"run_id"`
	Symbol    string  `json:"symbol"`
	Status    string  `json:"status"`
	LastPrice float64 `json:"last_price"`
	Position  *struct {
		EntryPrice float64 `json:"entry_price"`
		Amount     float64 `json:"amount"`
		StopLoss   float64 `json:"stop_loss"`
		TakeProfit float64 `json:"take_profit"`
	} `json:"position,omitempty"`
	TPTrades int     `json:"tp_trades"`
	SLTrades int     `json:"sl_trades"`
	TotalPnL float64 `json:"total_pnl"`
}

func snapshotPayload(snap state.Snapshot) statusPayload {
	p := statusPayload{
		RunID:     snap.RunID,
		Symbol:    snap.Symbol,
		Status:    string(snap.Status),
		LastPrice: snap.LastPrice,
		TPTrades:  snap.Counters.TPTrades,
		SLTrades:  snap.Counters.SLTrades,
		TotalPnL:  snap.Counters.TotalPnL,
	}
	if snap.Position != nil {
		p.Position = &struct {
			EntryPrice float64 `json:"entry_price"`
			Amount     float64 `json:"amount"`
			StopLoss   float64 `json:"stop_loss"`
			TakeProfit float64 `json:"take_profit"`
		}{
			EntryPrice: snap.Position.EntryPrice,
			Amount:     snap.Position.Amount,
			StopLoss:   snap.Position.StopLoss,
			TakeProfit: snap.Position.TakeProfit,
		}
	}
	return p
}
