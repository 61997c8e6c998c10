// Package vault stores the purchase-code authority credentials in
// HashiCorp Vault, with a local cache fallback when Vault is disabled.
package vault

import (
	"context"
	"fmt"
	"sync"

	"license-server/config"

	"github.com/hashicorp/vault/api"
)

// AuthorityCredentials holds the outbound authority API credentials
type AuthorityCredentials struct {
	Token   string `json:"token"`
	BaseURL string `json:"base_url"`
}

// Client wraps the HashiCorp Vault client
type Client struct {
	client *api.Client
	config config.VaultConfig
	mu     sync.RWMutex
	cache  map[string]*AuthorityCredentials
}

// NewClient creates a new Vault client. With Vault disabled the client
// operates on its local cache only.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{
			config: cfg,
			cache:  make(map[string]*AuthorityCredentials),
		}, nil
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
		cache:  make(map[string]*AuthorityCredentials),
	}, nil
}

// StoreAuthorityCredentials stores authority credentials under a name
// (one per marketplace).
func (c *Client) StoreAuthorityCredentials(ctx context.Context, name string, creds AuthorityCredentials) error {
	if !c.config.Enabled {
		// Local cache only (development/testing)
		c.mu.Lock()
		c.cache[name] = &creds
		c.mu.Unlock()
		return nil
	}

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"token":    creds.Token,
			"base_url": creds.BaseURL,
		},
	}

	if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(name), secretData); err != nil {
		return fmt.Errorf("failed to store authority credentials in vault: %w", err)
	}

	c.mu.Lock()
	c.cache[name] = &creds
	c.mu.Unlock()
	return nil
}

// GetAuthorityCredentials retrieves authority credentials by name
func (c *Client) GetAuthorityCredentials(ctx context.Context, name string) (*AuthorityCredentials, error) {
	c.mu.RLock()
	if cached, ok := c.cache[name]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return nil, fmt.Errorf("authority credentials not found and vault is disabled")
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read authority credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("authority credentials not found")
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}

	creds := &AuthorityCredentials{
		Token:   getString(data, "token"),
		BaseURL: getString(data, "base_url"),
	}

	c.mu.Lock()
	c.cache[name] = creds
	c.mu.Unlock()
	return creds, nil
}

// DeleteAuthorityCredentials removes stored credentials
func (c *Client) DeleteAuthorityCredentials(ctx context.Context, name string) error {
	c.mu.Lock()
	delete(c.cache, name)
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}

	if _, err := c.client.Logical().DeleteWithContext(ctx, c.secretPath(name)); err != nil {
		return fmt.Errorf("failed to delete authority credentials: %w", err)
	}
	return nil
}

func (c *Client) secretPath(name string) string {
	mount := c.config.MountPath
	if mount == "" {
		mount = "secret"
	}
	prefix := c.config.SecretPath
	if prefix == "" {
		prefix = "license-server/authority"
	}
	return fmt.Sprintf("%s/data/%s/%s", mount, prefix, name)
}

func getString(data map[string]interface{}, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
