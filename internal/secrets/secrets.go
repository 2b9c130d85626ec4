// Package secrets resolves the credentials the engine needs at
// runtime: model provider API keys, the qdrant key, the OTLP token.
// Backends are pluggable (env, file, Vault) behind one read-through
// cached manager; environment variables always serve as the fallback.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// SecretKey names the credentials the engine resolves.
type SecretKey string

const (
	SecretLLMAPIKey     SecretKey = "llm_api_key"
	SecretSummaryAPIKey SecretKey = "summary_api_key"
	SecretQdrantAPIKey  SecretKey = "qdrant_api_key"
	SecretOTLPToken     SecretKey = "otlp_token"
)

// Provider is one secrets backend. Set and Delete may be unsupported
// by read-only backends.
type Provider interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Name() string
}

// Config selects and configures the backend.
type Config struct {
	// Provider is "env", "vault", or "file". Empty means env.
	Provider    string
	VaultConfig *VaultConfig
	FileConfig  *FileConfig
	// EnvPrefix for environment lookups (default "DOCTROVE_").
	EnvPrefix string
}

// DefaultConfig resolves secrets from DOCTROVE_-prefixed environment
// variables.
func DefaultConfig() *Config {
	return &Config{Provider: "env", EnvPrefix: "DOCTROVE_"}
}

// Manager reads secrets through the configured backend with an env
// fallback, caching hits so repeated lookups of the same key never
// re-query a remote backend.
type Manager struct {
	primary  Provider
	fallback Provider

	cacheMu  sync.RWMutex
	cache    map[string]string
	useCache bool
}

// NewManager creates a secrets manager for the configured backend.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var primary Provider
	var err error
	switch cfg.Provider {
	case "vault":
		if cfg.VaultConfig == nil {
			return nil, fmt.Errorf("vault config required for vault provider")
		}
		primary, err = NewVaultProvider(cfg.VaultConfig)
		if err != nil {
			return nil, fmt.Errorf("create vault provider: %w", err)
		}
	case "file":
		if cfg.FileConfig == nil {
			return nil, fmt.Errorf("file config required for file provider")
		}
		primary, err = NewFileProvider(cfg.FileConfig)
		if err != nil {
			return nil, fmt.Errorf("create file provider: %w", err)
		}
	case "env", "":
		primary = NewEnvProvider(cfg.EnvPrefix)
	default:
		return nil, fmt.Errorf("unknown secrets provider: %s", cfg.Provider)
	}

	return &Manager{
		primary:  primary,
		fallback: NewEnvProvider(cfg.EnvPrefix),
		cache:    make(map[string]string),
		useCache: true,
	}, nil
}

// Get resolves a secret: cache, then primary backend, then env.
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	if m.useCache {
		m.cacheMu.RLock()
		val, ok := m.cache[key]
		m.cacheMu.RUnlock()
		if ok {
			return val, nil
		}
	}

	for _, p := range []Provider{m.primary, m.fallback} {
		if p == nil {
			continue
		}
		if val, err := p.Get(ctx, key); err == nil && val != "" {
			m.cacheSet(key, val)
			return val, nil
		}
	}
	return "", fmt.Errorf("secret not found: %s", key)
}

// GetOrDefault resolves a secret, falling back to defaultVal.
func (m *Manager) GetOrDefault(ctx context.Context, key, defaultVal string) string {
	val, err := m.Get(ctx, key)
	if err != nil || val == "" {
		return defaultVal
	}
	return val
}

// MustGet resolves a secret or panics. For startup paths where running
// without the credential is not an option.
func (m *Manager) MustGet(ctx context.Context, key string) string {
	val, err := m.Get(ctx, key)
	if err != nil {
		panic(fmt.Sprintf("required secret not found: %s", key))
	}
	return val
}

// Set stores a secret in the primary backend.
func (m *Manager) Set(ctx context.Context, key, value string) error {
	if err := m.primary.Set(ctx, key, value); err != nil {
		return err
	}
	m.cacheSet(key, value)
	return nil
}

// Delete removes a secret from the primary backend.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if err := m.primary.Delete(ctx, key); err != nil {
		return err
	}
	m.cacheMu.Lock()
	delete(m.cache, key)
	m.cacheMu.Unlock()
	return nil
}

// ClearCache drops all cached values.
func (m *Manager) ClearCache() {
	m.cacheMu.Lock()
	m.cache = make(map[string]string)
	m.cacheMu.Unlock()
}

// DisableCache turns off read-through caching so every Get hits the
// backend.
func (m *Manager) DisableCache() {
	m.useCache = false
}

func (m *Manager) cacheSet(key, value string) {
	if !m.useCache {
		return
	}
	m.cacheMu.Lock()
	m.cache[key] = value
	m.cacheMu.Unlock()
}

// EnvProvider resolves secrets from environment variables, trying the
// prefixed name first ("llm_api_key" reads DOCTROVE_LLM_API_KEY, then
// LLM_API_KEY).
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an environment-based secrets provider.
func NewEnvProvider(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = "DOCTROVE_"
	}
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Get(ctx context.Context, key string) (string, error) {
	envKey := p.prefix + strings.ToUpper(key)
	if val := os.Getenv(envKey); val != "" {
		return val, nil
	}
	if val := os.Getenv(strings.ToUpper(key)); val != "" {
		return val, nil
	}
	return "", fmt.Errorf("env var not found: %s", envKey)
}

func (p *EnvProvider) Set(ctx context.Context, key, value string) error {
	return os.Setenv(p.prefix+strings.ToUpper(key), value)
}

func (p *EnvProvider) Delete(ctx context.Context, key string) error {
	return os.Unsetenv(p.prefix + strings.ToUpper(key))
}

// Global manager, initialized once by the CLI.
var (
	globalManager *Manager
	managerOnce   sync.Once
)

// Init initializes the global secrets manager.
func Init(cfg *Config) error {
	var err error
	managerOnce.Do(func() {
		globalManager, err = NewManager(cfg)
	})
	return err
}

// Get resolves a secret through the global manager, initializing it
// with defaults when the CLI has not.
func Get(ctx context.Context, key string) (string, error) {
	if globalManager == nil {
		if err := Init(nil); err != nil {
			return "", err
		}
	}
	return globalManager.Get(ctx, key)
}

// GetOrDefault resolves a secret through the global manager with a
// default.
func GetOrDefault(ctx context.Context, key, defaultVal string) string {
	if globalManager == nil {
		Init(nil)
	}
	return globalManager.GetOrDefault(ctx, key, defaultVal)
}

// MustGet resolves a secret through the global manager or panics.
func MustGet(ctx context.Context, key string) string {
	if globalManager == nil {
		Init(nil)
	}
	return globalManager.MustGet(ctx, key)
}
