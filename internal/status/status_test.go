package status

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"binance-trading-bot/internal/logging"
	"binance-trading-bot/internal/state"
)

func TestStatusRequiresAuth(t *testing.T) {
	st := state.New("BTCUSDT", "run-1")
	srv := New("127.0.0.1:18081", st, "secret-token", logging.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	defer func() {
		cancel()
		<-done
	}()

	resp, err := http.Get("http://127.0.0.1:18081/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d without Authorization header, want 401", resp.StatusCode)
	}
}

func TestStatusAcceptsBareToken(t *testing.T) {
	st := state.New("BTCUSDT", "run-1")
	srv := New("127.0.0.1:18082", st, "secret-token", logging.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	defer func() {
		cancel()
		<-done
	}()

	req, _ := http.NewRequest(http.MethodGet, "http://127.0.0.1:18082/status", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d with matching bearer token, want 200", resp.StatusCode)
	}
}

func TestStatusAcceptsSignedJWT(t *testing.T) {
	st := state.New("BTCUSDT", "run-1")
	srv := New("127.0.0.1:18083", st, "secret-token", logging.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	defer func() {
		cancel()
		<-done
	}()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "operator"})
	signed, err := token.SignedString([]byte("secret-token"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, "http://127.0.0.1:18083/status", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d with valid signed JWT, want 200", resp.StatusCode)
	}
}
