// Package secrets resolves the exchange API key and Ed25519 private key
// from HashiCorp Vault when configured, falling back to the plain
// environment values the config loader already read.
package secrets

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"

	"binance-trading-bot/config"
)

// Credentials is the pair the Codec & Signer component needs to start.
type Credentials struct {
	APIKey           string
	PrivateKeyBase64 string
}

// Provider resolves Credentials, either from Vault or by passing through
// the values already present in config.BinanceConfig.
type Provider struct {
	cfg    config.VaultConfig
	client *api.Client
}

// New builds a Provider. If cfg.Enabled is false, Resolve always returns
// the fallback credentials unchanged.
func New(cfg config.VaultConfig) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{cfg: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address
	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("secrets: create vault client: %w", err)
	}

	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	} else if cfg.RoleID != "" && cfg.SecretID != "" {
		if err := approleLogin(client, cfg.RoleID, cfg.SecretID); err != nil {
			return nil, fmt.Errorf("secrets: approle login: %w", err)
		}
	} else {
		return nil, fmt.Errorf("secrets: VAULT_ADDR is set but neither VAULT_TOKEN nor VAULT_ROLE_ID/VAULT_SECRET_ID is")
	}

	return &Provider{cfg: cfg, client: client}, nil
}

func approleLogin(client *api.Client, roleID, secretID string) error {
	secret, err := client.Logical().Write("auth/approle/login", map[string]interface{}{
		"role_id":   roleID,
		"secret_id": secretID,
	})
	if err != nil {
		return err
	}
	if secret == nil || secret.Auth == nil {
		return fmt.Errorf("approle login returned no auth block")
	}
	client.SetToken(secret.Auth.ClientToken)
	return nil
}

// Resolve returns the credentials to use. When Vault is disabled, fallback
// is returned as-is. When Vault is enabled, it reads api_key and
// private_key_base64 from cfg.SecretPath. A read failure falls back to
// fallback when it is usable (both fields non-empty), and is returned as
// an error only when fallback is not usable either, since there is then
// nothing the agent could sign requests with.
func (p *Provider) Resolve(ctx context.Context, fallback Credentials) (Credentials, error) {
	if !p.cfg.Enabled {
		return fallback, nil
	}

	creds, err := p.readFromVault(ctx)
	if err == nil {
		return creds, nil
	}
	if fallback.APIKey != "" && fallback.PrivateKeyBase64 != "" {
		return fallback, nil
	}
	return Credentials{}, err
}

func (p *Provider) readFromVault(ctx context.Context) (Credentials, error) {
	secret, err := p.client.Logical().ReadWithContext(ctx, p.cfg.SecretPath)
	if err != nil {
		return Credentials{}, fmt.Errorf("secrets: read %s: %w", p.cfg.SecretPath, err)
	}
	if secret == nil || secret.Data == nil {
		return Credentials{}, fmt.Errorf("secrets: no data at %s", p.cfg.SecretPath)
	}

	data := secret.Data
	if nested, ok := secret.Data["data"].(map[string]interface{}); ok {
		data = nested // KV v2 wraps the payload one level deeper
	}

	creds := Credentials{
		APIKey:           getString(data, "api_key"),
		PrivateKeyBase64: getString(data, "private_key_base64"),
	}
	if creds.APIKey == "" || creds.PrivateKeyBase64 == "" {
		return Credentials{}, fmt.Errorf("secrets: %s is missing api_key or private_key_base64", p.cfg.SecretPath)
	}
	return creds, nil
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
