// Package vault stores venue API credentials in HashiCorp Vault. When Vault
// is disabled the client degrades to an in-memory secret cache so local
// development needs no Vault instance.
package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"
)

// Credentials holds one venue API key pair
type Credentials struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	Venue     string `json:"venue"`
	IsTestnet bool   `json:"is_testnet"`
}

// Config holds Vault client configuration
type Config struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV v2 mount, e.g. "secret"
	SecretPath string `json:"secret_path"` // path prefix under the mount
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// Client wraps the HashiCorp Vault client with a read-through cache
type Client struct {
	client *api.Client
	config Config
	cache  map[string]*Credentials // userID/venue -> credentials
	mu     sync.RWMutex
}

// NewClient creates a Vault-backed credentials client. With Enabled false it
// runs cache-only.
func NewClient(cfg Config) (*Client, error) {
	c := &Client{
		config: cfg,
		cache:  make(map[string]*Credentials),
	}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address
	if cfg.TLSEnabled && cfg.CACert != "" {
		if err := vaultConfig.ConfigureTLS(&api.TLSConfig{CACert: cfg.CACert}); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	c.client = client
	return c, nil
}

// StoreCredentials writes a key pair for a user and venue
func (c *Client) StoreCredentials(ctx context.Context, userID string, creds Credentials) error {
	if !c.config.Enabled {
		c.mu.Lock()
		c.cache[c.cacheKey(userID, creds.Venue, creds.IsTestnet)] = &creds
		c.mu.Unlock()
		return nil
	}

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"api_key":    creds.APIKey,
			"secret_key": creds.SecretKey,
			"venue":      creds.Venue,
			"is_testnet": creds.IsTestnet,
		},
	}
	path := c.secretPath(userID, creds.Venue, creds.IsTestnet)
	if _, err := c.client.Logical().WriteWithContext(ctx, path, secretData); err != nil {
		return fmt.Errorf("failed to store credentials in vault: %w", err)
	}

	c.mu.Lock()
	c.cache[c.cacheKey(userID, creds.Venue, creds.IsTestnet)] = &creds
	c.mu.Unlock()
	return nil
}

// GetCredentials retrieves a key pair for a user and venue
func (c *Client) GetCredentials(ctx context.Context, userID, venue string, isTestnet bool) (*Credentials, error) {
	c.mu.RLock()
	if cached, ok := c.cache[c.cacheKey(userID, venue, isTestnet)]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return nil, fmt.Errorf("credentials not found and vault is disabled")
	}

	path := c.secretPath(userID, venue, isTestnet)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("credentials not found")
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}

	creds := &Credentials{
		APIKey:    getString(data, "api_key"),
		SecretKey: getString(data, "secret_key"),
		Venue:     getString(data, "venue"),
		IsTestnet: getBool(data, "is_testnet"),
	}

	c.mu.Lock()
	c.cache[c.cacheKey(userID, venue, isTestnet)] = creds
	c.mu.Unlock()
	return creds, nil
}

// DeleteCredentials removes a key pair and its cache entry
func (c *Client) DeleteCredentials(ctx context.Context, userID, venue string, isTestnet bool) error {
	c.mu.Lock()
	delete(c.cache, c.cacheKey(userID, venue, isTestnet))
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}
	path := c.metadataPath(userID, venue, isTestnet)
	if _, err := c.client.Logical().DeleteWithContext(ctx, path); err != nil {
		return fmt.Errorf("failed to delete credentials from vault: %w", err)
	}
	return nil
}

func (c *Client) secretPath(userID, venue string, isTestnet bool) string {
	return fmt.Sprintf("%s/data/%s/%s/%s_%s",
		c.config.MountPath, c.config.SecretPath, userID, venue, network(isTestnet))
}

func (c *Client) metadataPath(userID, venue string, isTestnet bool) string {
	return fmt.Sprintf("%s/metadata/%s/%s/%s_%s",
		c.config.MountPath, c.config.SecretPath, userID, venue, network(isTestnet))
}

func (c *Client) cacheKey(userID, venue string, isTestnet bool) string {
	return fmt.Sprintf("%s/%s_%s", userID, venue, network(isTestnet))
}

func network(isTestnet bool) string {
	if isTestnet {
		return "testnet"
	}
	return "mainnet"
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func getBool(data map[string]interface{}, key string) bool {
	if val, ok := data[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return false
}
