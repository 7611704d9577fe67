package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// FileProvider reads secrets from a flat JSON object on disk. Intended for
// development setups.
type FileProvider struct {
	path string
	mu   sync.RWMutex
	data map[string]string
}

// NewFileProvider loads path. A missing file yields an empty provider.
func NewFileProvider(path string) (*FileProvider, error) {
	if path == "" {
		return nil, errors.New("file path required")
	}
	p := &FileProvider{path: path, data: map[string]string{}}
	if err := p.Reload(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return p, nil
}

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Get(_ context.Context, key string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	val, ok := p.data[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return val, nil
}

// Reload re-reads the file.
func (p *FileProvider) Reload() error {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}
	data := map[string]string{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parsing %s: %w", p.path, err)
	}
	p.mu.Lock()
	p.data = data
	p.mu.Unlock()
	return nil
}
