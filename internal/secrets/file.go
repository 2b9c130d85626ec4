package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileConfig configures the file-backed secrets provider. The file is
// a flat JSON object of key to value. Development use only; production
// deployments run env or vault.
type FileConfig struct {
	Path string
	// CreateIfMissing writes an empty secrets file on first use.
	CreateIfMissing bool
}

// FileProvider keeps secrets in a JSON file on disk, loaded once and
// persisted on every mutation.
type FileProvider struct {
	path string

	mu   sync.RWMutex
	data map[string]string
}

// NewFileProvider creates a file-backed secrets provider.
func NewFileProvider(config *FileConfig) (*FileProvider, error) {
	if config == nil || config.Path == "" {
		return nil, fmt.Errorf("secrets file path required")
	}

	p := &FileProvider{
		path: config.Path,
		data: make(map[string]string),
	}
	err := p.load()
	switch {
	case err == nil:
	case os.IsNotExist(err) && config.CreateIfMissing:
		if err := p.persist(); err != nil {
			return nil, fmt.Errorf("create secrets file: %w", err)
		}
	case os.IsNotExist(err):
		// Absent file reads as an empty key set.
	default:
		return nil, fmt.Errorf("load secrets file: %w", err)
	}
	return p, nil
}

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Get(ctx context.Context, key string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	val, ok := p.data[key]
	if !ok {
		return "", fmt.Errorf("secret not found: %s", key)
	}
	return val, nil
}

func (p *FileProvider) Set(ctx context.Context, key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[key] = value
	return p.persist()
}

func (p *FileProvider) Delete(ctx context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.data, key)
	return p.persist()
}

// Reload re-reads the file, picking up out-of-band edits.
func (p *FileProvider) Reload() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load()
}

func (p *FileProvider) load() error {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, &p.data)
}

func (p *FileProvider) persist() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0700); err != nil {
		return fmt.Errorf("create secrets dir: %w", err)
	}
	raw, err := json.MarshalIndent(p.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}
	// Credentials stay owner-readable only.
	return os.WriteFile(p.path, raw, 0600)
}
