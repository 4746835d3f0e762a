// Package vault retrieves broker credentials from HashiCorp Vault so they
// never have to live in the config file on disk.
package vault

import (
	"context"
	"fmt"
	"sync"

	"binary-options-bot/config"

	"github.com/hashicorp/vault/api"
)

// BrokerCredentials is the credential set stored in Vault for the
// binary-options broker session.
type BrokerCredentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	SSID     string `json:"ssid"`
	Demo     bool   `json:"demo"`
}

// Client wraps the HashiCorp Vault client
type Client struct {
	client *api.Client
	config config.VaultConfig
	mu     sync.RWMutex
	cached *BrokerCredentials
}

// NewClient creates a new Vault client. When Vault is disabled in the
// configuration the client operates in passthrough mode and only serves
// credentials previously stored in memory.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(cfg.Token)

	return &Client{
		client: client,
		config: cfg,
	}, nil
}

// Enabled reports whether the client talks to a real Vault server.
func (c *Client) Enabled() bool {
	return c.config.Enabled
}

// StoreBrokerCredentials writes the credential set to Vault (KV v2).
func (c *Client) StoreBrokerCredentials(ctx context.Context, creds BrokerCredentials) error {
	if !c.config.Enabled {
		c.mu.Lock()
		c.cached = &creds
		c.mu.Unlock()
		return nil
	}

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"email":    creds.Email,
			"password": creds.Password,
			"ssid":     creds.SSID,
			"demo":     creds.Demo,
		},
	}

	_, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(), secretData)
	if err != nil {
		return fmt.Errorf("failed to store broker credentials in vault: %w", err)
	}

	c.mu.Lock()
	c.cached = &creds
	c.mu.Unlock()
	return nil
}

// GetBrokerCredentials reads the credential set from Vault, falling back to
// the in-memory copy when one exists.
func (c *Client) GetBrokerCredentials(ctx context.Context) (*BrokerCredentials, error) {
	c.mu.RLock()
	cached := c.cached
	c.mu.RUnlock()

	if !c.config.Enabled {
		if cached != nil {
			out := *cached
			return &out, nil
		}
		return nil, fmt.Errorf("vault disabled and no credentials stored")
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath())
	if err != nil {
		if cached != nil {
			out := *cached
			return &out, nil
		}
		return nil, fmt.Errorf("failed to read broker credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no broker credentials found at %s", c.secretPath())
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected secret format at %s", c.secretPath())
	}

	creds := &BrokerCredentials{}
	if v, ok := data["email"].(string); ok {
		creds.Email = v
	}
	if v, ok := data["password"].(string); ok {
		creds.Password = v
	}
	if v, ok := data["ssid"].(string); ok {
		creds.SSID = v
	}
	if v, ok := data["demo"].(bool); ok {
		creds.Demo = v
	}

	c.mu.Lock()
	c.cached = creds
	c.mu.Unlock()

	out := *creds
	return &out, nil
}

// DeleteBrokerCredentials removes the credential set from Vault.
func (c *Client) DeleteBrokerCredentials(ctx context.Context) error {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}

	_, err := c.client.Logical().DeleteWithContext(ctx, c.secretPath())
	if err != nil {
		return fmt.Errorf("failed to delete broker credentials from vault: %w", err)
	}
	return nil
}

// HealthCheck verifies Vault connectivity.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if !health.Initialized || health.Sealed {
		return fmt.Errorf("vault not ready (initialized=%v, sealed=%v)", health.Initialized, health.Sealed)
	}
	return nil
}

func (c *Client) secretPath() string {
	mount := c.config.MountPath
	if mount == "" {
		mount = "secret"
	}
	path := c.config.SecretPath
	if path == "" {
		path = "broker/credentials"
	}
	return fmt.Sprintf("%s/data/%s", mount, path)
}
