// Package secrets looks up credentials (model API keys, the callback token,
// database passwords) from the environment or a local JSON file.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Key names a secret.
type Key = string

const (
	EmbeddingAPIKey  Key = "embedding_api_key"
	SummarizerAPIKey Key = "summarizer_api_key"
	CallbackToken    Key = "callback_token"
	Neo4jPassword    Key = "neo4j_password"
)

// DefaultEnvPrefix is prepended to upper-cased keys by EnvProvider.
const DefaultEnvPrefix = "DOCINTEL_"

// ErrNotFound is returned when no backend holds a secret.
var ErrNotFound = errors.New("secret not found")

// Provider is a secret backend.
type Provider interface {
	Get(ctx context.Context, key string) (string, error)
	Name() string
}

// Config selects the backend.
type Config struct {
	// Provider is "env" (default) or "file".
	Provider string `mapstructure:"provider"`
	// File is the JSON secrets file for the file provider.
	File string `mapstructure:"file"`
	// EnvPrefix overrides DefaultEnvPrefix.
	EnvPrefix string `mapstructure:"env_prefix"`
}

// Manager reads from a primary backend and falls back to the environment.
// Values are cached after the first successful lookup.
type Manager struct {
	primary  Provider
	fallback Provider
	cacheMu  sync.RWMutex
	cache    map[string]string
}

// NewManager builds a Manager for cfg.
func NewManager(cfg Config) (*Manager, error) {
	env := NewEnvProvider(cfg.EnvPrefix)

	var primary Provider
	switch cfg.Provider {
	case "", "env":
		primary = env
	case "file":
		fp, err := NewFileProvider(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("file secrets: %w", err)
		}
		primary = fp
	default:
		return nil, fmt.Errorf("unknown secrets provider: %s", cfg.Provider)
	}

	m := &Manager{primary: primary, cache: make(map[string]string)}
	if primary != env {
		m.fallback = env
	}
	return m, nil
}

// Backend returns the primary backend's name.
func (m *Manager) Backend() string { return m.primary.Name() }

// Get returns the secret for key.
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	m.cacheMu.RLock()
	val, ok := m.cache[key]
	m.cacheMu.RUnlock()
	if ok {
		return val, nil
	}

	for _, p := range []Provider{m.primary, m.fallback} {
		if p == nil {
			continue
		}
		if val, err := p.Get(ctx, key); err == nil && val != "" {
			m.cacheMu.Lock()
			m.cache[key] = val
			m.cacheMu.Unlock()
			return val, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, key)
}

// GetOrDefault returns the secret for key, or def when it is missing.
func (m *Manager) GetOrDefault(ctx context.Context, key, def string) string {
	if val, err := m.Get(ctx, key); err == nil {
		return val
	}
	return def
}

// Resolve returns explicit when set, otherwise the secret for key, or "".
// Config values take precedence over the secret store.
func (m *Manager) Resolve(ctx context.Context, explicit, key string) string {
	if explicit != "" {
		return explicit
	}
	return m.GetOrDefault(ctx, key, "")
}

// EnvProvider reads PREFIX_KEY, then KEY, from the environment.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an EnvProvider. An empty prefix uses
// DefaultEnvPrefix.
func NewEnvProvider(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Get(_ context.Context, key string) (string, error) {
	name := strings.ToUpper(key)
	if val := os.Getenv(p.prefix + name); val != "" {
		return val, nil
	}
	if val := os.Getenv(name); val != "" {
		return val, nil
	}
	return "", fmt.Errorf("%w: env %s%s", ErrNotFound, p.prefix, name)
}
