// Package providers wires the built-in provider constructors into an
// llm.ProviderFactory.
package providers

import (
	"fmt"

	"github.com/efebarandurmaz/docintel/internal/llm"
	"github.com/efebarandurmaz/docintel/internal/llm/anthropic"
	"github.com/efebarandurmaz/docintel/internal/llm/openai"
)

// compatible lists the presets that speak the OpenAI wire protocol.
var compatible = []string{"groq", "huggingface", "ollama", "together", "deepseek", "tei", "custom"}

// Register adds anthropic, openai and every OpenAI-compatible preset to
// factory.
func Register(factory *llm.ProviderFactory) {
	factory.Register("anthropic", func(c llm.ProviderConfig) (llm.Provider, error) {
		if c.APIKey == "" {
			return nil, fmt.Errorf("anthropic: api key is required")
		}
		return anthropic.New(c.APIKey, c.Model, c.BaseURL), nil
	})
	factory.Register("openai", func(c llm.ProviderConfig) (llm.Provider, error) {
		return openai.New(c.APIKey, c.Model, c.BaseURL, c.EmbedModel), nil
	})
	for _, name := range compatible {
		name := name
		factory.Register(name, func(c llm.ProviderConfig) (llm.Provider, error) {
			base := c.BaseURL
			if base == "" {
				base = llm.KnownProviders[name]
			}
			if base == "" {
				return nil, fmt.Errorf("%s: base_url is required", name)
			}
			return openai.NewNamed(name, c.APIKey, c.Model, base, c.EmbedModel), nil
		})
	}
}

// NewFactory returns a factory with every built-in provider registered.
func NewFactory() *llm.ProviderFactory {
	f := llm.NewFactory()
	Register(f)
	return f
}
