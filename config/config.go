package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the full runtime configuration for the trading agent, built
// entirely from environment variables. There is no config.json for this
// agent — it runs single-tenant against one symbol.
type Config struct {
	Version     string `json:"version"`
	Environment string `json:"environment"`

	Binance BinanceConfig `json:"binance"`
	Trading TradingConfig `json:"trading"`
	Logging LoggingConfig `json:"logging"`
	Vault   VaultConfig   `json:"vault"`
	Redis   RedisConfig   `json:"redis"`
	Status  StatusConfig  `json:"status"`
}

// BinanceConfig holds exchange connection and credential settings.
type BinanceConfig struct {
	Symbol           string `json:"symbol"`
	APIKey           string `json:"api_key"`
	PrivateKeyBase64 string `json:"private_key_base64"`
	PublicBaseURL    string `json:"public_base_url"`
	PrivateBaseURL   string `json:"private_base_url"`
	UserDataBaseURL  string `json:"user_data_base_url"`
}

// TradingConfig holds the fixed policy parameters described in spec.md §6.
type TradingConfig struct {
	PositionQuantity  float64 `json:"position_quantity"`
	TakeProfitPercent float64 `json:"tp_percent"` // accepted, unused — see DESIGN.md
	StopLossPercent   float64 `json:"sl_percent"`
	HoldTimeSeconds   int     `json:"hold_time_seconds"`
	SleepTimeSeconds  int     `json:"sleep_time_seconds"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level      string `json:"level"`
	Output     string `json:"output"` // "stdout", "stderr", or a file path
	JSONFormat bool   `json:"json_format"`
}

// VaultConfig enables the optional Secrets Provider (internal/secrets).
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	SecretPath string `json:"secret_path"`
	Token      string `json:"token"`
	RoleID     string `json:"role_id"`
	SecretID   string `json:"secret_id"`
}

// RedisConfig enables the optional Metrics Publisher (internal/metrics).
type RedisConfig struct {
	Enabled    bool   `json:"enabled"`
	Addr       string `json:"addr"`
	MetricsKey string `json:"metrics_key"`
}

// StatusConfig enables the optional read-only Status Server (internal/status).
type StatusConfig struct {
	Enabled   bool   `json:"enabled"`
	Addr      string `json:"addr"`
	AuthToken string `json:"auth_token"`
}

// Load builds a Config from the environment, optionally seeding it first
// from a dotenv file (local-dev convenience; real env vars always win).
// It fails closed on missing credentials: the agent never starts without
// something that can place orders.
func Load() (*Config, error) {
	loadDotenv(getEnvOrDefault("DOTENV_PATH", ".env"))

	symbol := getEnvOrDefault("SYMBOL", "BTCUSDT")

	cfg := &Config{
		Version:     getEnvOrDefault("VERSION", "0.0.1"),
		Environment: getEnvOrDefault("ENVIRONMENT", "development"),
		Binance: BinanceConfig{
			Symbol:           symbol,
			APIKey:           os.Getenv("API_KEY"),
			PrivateKeyBase64: os.Getenv("PRIVATE_KEY_BASE64"),
			PublicBaseURL:    getEnvOrDefault("PUBLIC_WS_BASE_URL", "wss://testnet.binance.vision/ws"),
			PrivateBaseURL:   getEnvOrDefault("PRIVATE_WS_BASE_URL", "wss://testnet.binance.vision/ws-api/v3"),
			UserDataBaseURL:  getEnvOrDefault("USER_DATA_WS_BASE_URL", "wss://testnet.binance.vision/ws"),
		},
		Trading: TradingConfig{
			PositionQuantity:  getEnvFloatOrDefault("POSITION_QUANTITY", 0.001),
			TakeProfitPercent: getEnvFloatOrDefault("POSITION_TP_PERCENT", 0.25),
			StopLossPercent:   getEnvFloatOrDefault("POSITION_SL_PERCENT", 0.25),
			HoldTimeSeconds:   getEnvIntOrDefault("POSITION_HOLD_TIME", 60),
			SleepTimeSeconds:  getEnvIntOrDefault("POSITION_SLEEP_TIME", 30),
		},
		Logging: LoggingConfig{
			Level:      getEnvOrDefault("LOGLEVEL", "INFO"),
			Output:     getEnvOrDefault("LOG_OUTPUT", "stdout"),
			JSONFormat: getEnvOrDefault("LOG_JSON", "false") == "true",
		},
		Vault: VaultConfig{
			Enabled:    os.Getenv("VAULT_ADDR") != "",
			Address:    os.Getenv("VAULT_ADDR"),
			SecretPath: os.Getenv("VAULT_SECRET_PATH"),
			Token:      os.Getenv("VAULT_TOKEN"),
			RoleID:     os.Getenv("VAULT_ROLE_ID"),
			SecretID:   os.Getenv("VAULT_SECRET_ID"),
		},
		Redis: RedisConfig{
			Enabled:    os.Getenv("REDIS_ADDR") != "",
			Addr:       os.Getenv("REDIS_ADDR"),
			MetricsKey: getEnvOrDefault("REDIS_METRICS_KEY", "trading-agent:"+symbol+":status"),
		},
		Status: StatusConfig{
			Enabled:   os.Getenv("STATUS_ADDR") != "",
			Addr:      os.Getenv("STATUS_ADDR"),
			AuthToken: os.Getenv("STATUS_AUTH_TOKEN"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Binance.Symbol == "" {
		return fmt.Errorf("config: SYMBOL must not be empty")
	}
	if c.Trading.PositionQuantity <= 0 {
		return fmt.Errorf("config: POSITION_QUANTITY must be positive")
	}
	if !c.Vault.Enabled {
		if c.Binance.APIKey == "" {
			return fmt.Errorf("config: API_KEY is required (or configure VAULT_ADDR)")
		}
		if c.Binance.PrivateKeyBase64 == "" {
			return fmt.Errorf("config: PRIVATE_KEY_BASE64 is required (or configure VAULT_ADDR)")
		}
	}
	if c.Status.Enabled && c.Status.AuthToken == "" {
		return fmt.Errorf("config: STATUS_AUTH_TOKEN is required when STATUS_ADDR is set")
	}
	return nil
}

// loadDotenv applies KEY=VALUE lines from path to the environment without
// overriding anything already set. Missing file is not an error.
func loadDotenv(path string) {
	_ = godotenv.Load(path)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
