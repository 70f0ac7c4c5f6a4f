package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_KEY", "test-api-key")
	t.Setenv("PRIVATE_KEY_BASE64", "dGVzdA==")
	t.Setenv("DOTENV_PATH", "nonexistent.env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Binance.Symbol != "BTCUSDT" {
		t.Errorf("Symbol = %q, want BTCUSDT", cfg.Binance.Symbol)
	}
	if cfg.Trading.PositionQuantity != 0.001 {
		t.Errorf("PositionQuantity = %v, want 0.001", cfg.Trading.PositionQuantity)
	}
	if cfg.Trading.HoldTimeSeconds != 60 {
		t.Errorf("HoldTimeSeconds = %v, want 60", cfg.Trading.HoldTimeSeconds)
	}
	if cfg.Trading.SleepTimeSeconds != 30 {
		t.Errorf("SleepTimeSeconds = %v, want 30", cfg.Trading.SleepTimeSeconds)
	}
	if cfg.Redis.MetricsKey != "trading-agent:BTCUSDT:status" {
		t.Errorf("MetricsKey = %q, want trading-agent:BTCUSDT:status", cfg.Redis.MetricsKey)
	}
}

func TestLoadMissingCredentialsFails(t *testing.T) {
	t.Setenv("API_KEY", "")
	t.Setenv("PRIVATE_KEY_BASE64", "")
	t.Setenv("VAULT_ADDR", "")
	t.Setenv("DOTENV_PATH", "nonexistent.env")

	if _, err := Load(); err == nil {
		t.Fatal("Load() expected error for missing credentials, got nil")
	}
}

func TestLoadStatusRequiresAuthToken(t *testing.T) {
	t.Setenv("API_KEY", "test-api-key")
	t.Setenv("PRIVATE_KEY_BASE64", "dGVzdA==")
	t.Setenv("STATUS_ADDR", ":8090")
	t.Setenv("STATUS_AUTH_TOKEN", "")
	t.Setenv("DOTENV_PATH", "nonexistent.env")

	if _, err := Load(); err == nil {
		t.Fatal("Load() expected error when STATUS_ADDR is set without STATUS_AUTH_TOKEN")
	}
}

func TestLoadVaultEnabledSkipsCredentialCheck(t *testing.T) {
	t.Setenv("API_KEY", "")
	t.Setenv("PRIVATE_KEY_BASE64", "")
	t.Setenv("VAULT_ADDR", "https://vault.internal:8200")
	t.Setenv("DOTENV_PATH", "nonexistent.env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if !cfg.Vault.Enabled {
		t.Error("Vault.Enabled = false, want true")
	}
}
