package secrets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// VaultConfig configures the HashiCorp Vault backend. All engine
// credentials live as fields of one KV v2 secret at
// <MountPath>/data/<SecretPath>.
type VaultConfig struct {
	// Address of the Vault server, e.g. "http://localhost:8200".
	Address string
	// Token authenticates every request.
	Token string
	// MountPath of the KV v2 engine (default "secret").
	MountPath string
	// SecretPath under the mount holding the engine's keys (default
	// "doctrove").
	SecretPath string
	Timeout    time.Duration
}

// DefaultVaultConfig returns default Vault configuration.
func DefaultVaultConfig() *VaultConfig {
	return &VaultConfig{
		Address:    "http://localhost:8200",
		MountPath:  "secret",
		SecretPath: "doctrove",
		Timeout:    10 * time.Second,
	}
}

// VaultProvider resolves secrets from HashiCorp Vault over its HTTP
// API. Set and Delete rewrite the whole secret, so concurrent writers
// from different processes can lose keys; the engine only writes
// secrets from its own CLI.
type VaultProvider struct {
	config *VaultConfig
	client *http.Client
}

// NewVaultProvider creates a Vault secrets provider.
func NewVaultProvider(config *VaultConfig) (*VaultProvider, error) {
	if config == nil {
		config = DefaultVaultConfig()
	}
	if config.Address == "" {
		return nil, fmt.Errorf("vault address required")
	}
	if config.Token == "" {
		return nil, fmt.Errorf("vault token required")
	}
	if config.MountPath == "" {
		config.MountPath = "secret"
	}
	if config.SecretPath == "" {
		config.SecretPath = "doctrove"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	return &VaultProvider{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}, nil
}

func (p *VaultProvider) Name() string { return "vault" }

func (p *VaultProvider) dataURL() string {
	return fmt.Sprintf("%s/v1/%s/data/%s",
		strings.TrimSuffix(p.config.Address, "/"),
		p.config.MountPath,
		p.config.SecretPath,
	)
}

// readAll fetches the full key set at the secret path. A missing path
// is not an error; it reads as empty.
func (p *VaultProvider) readAll(ctx context.Context) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.dataURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	req.Header.Set("X-Vault-Token", p.config.Token)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return map[string]interface{}{}, nil
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("vault: status %d: %s", resp.StatusCode, body)
	}

	// KV v2 nests the key set one level down.
	var result struct {
		Data struct {
			Data map[string]interface{} `json:"data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("vault: decode response: %w", err)
	}
	if result.Data.Data == nil {
		return map[string]interface{}{}, nil
	}
	return result.Data.Data, nil
}

// writeAll replaces the full key set at the secret path.
func (p *VaultProvider) writeAll(ctx context.Context, data map[string]interface{}) error {
	body, err := json.Marshal(map[string]interface{}{"data": data})
	if err != nil {
		return fmt.Errorf("vault: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.dataURL(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	req.Header.Set("X-Vault-Token", p.config.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("vault: status %d: %s", resp.StatusCode, respBody)
	}
	return nil
}

func (p *VaultProvider) Get(ctx context.Context, key string) (string, error) {
	data, err := p.readAll(ctx)
	if err != nil {
		return "", err
	}
	val, ok := data[key]
	if !ok {
		return "", fmt.Errorf("vault: key not found: %s", key)
	}
	if s, ok := val.(string); ok {
		return s, nil
	}
	return fmt.Sprintf("%v", val), nil
}

func (p *VaultProvider) Set(ctx context.Context, key, value string) error {
	data, err := p.readAll(ctx)
	if err != nil {
		return err
	}
	data[key] = value
	return p.writeAll(ctx, data)
}

func (p *VaultProvider) Delete(ctx context.Context, key string) error {
	data, err := p.readAll(ctx)
	if err != nil {
		return err
	}
	delete(data, key)
	return p.writeAll(ctx, data)
}
