// Package registry maps provider identifiers to configured clients.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/yanqian/pagedigest/internal/infra/llm"
	"github.com/yanqian/pagedigest/internal/infra/llm/anthropic"
	"github.com/yanqian/pagedigest/internal/infra/llm/chatgpt"
	"github.com/yanqian/pagedigest/internal/infra/llm/gemini"
)

// Constructor builds a provider client from its configuration.
type Constructor func(cfg llm.Config, logger *slog.Logger) (llm.Provider, error)

// Constructors returns the default family → constructor table.
func Constructors() map[llm.Family]Constructor {
	return map[llm.Family]Constructor{
		llm.FamilyOpenAI: func(cfg llm.Config, logger *slog.Logger) (llm.Provider, error) {
			return chatgpt.NewClient(cfg, logger)
		},
		llm.FamilyAnthropic: func(cfg llm.Config, logger *slog.Logger) (llm.Provider, error) {
			return anthropic.NewClient(cfg, logger)
		},
		llm.FamilyGemini: func(cfg llm.Config, logger *slog.Logger) (llm.Provider, error) {
			return gemini.NewClient(cfg, logger)
		},
	}
}

// Registry holds the configured providers keyed by id.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]llm.Provider
	fallback  string
}

// New builds every configured provider. Entries that fail to construct are logged and skipped so
// one bad key does not take the others down.
func New(configs []llm.Config, fallback string, constructors map[llm.Family]Constructor, logger *slog.Logger) (*Registry, error) {
	logger = logger.With("component", "llm.registry")
	r := &Registry{providers: make(map[string]llm.Provider, len(configs)), fallback: fallback}
	for _, cfg := range configs {
		ctor, ok := constructors[cfg.Family]
		if !ok {
			return nil, fmt.Errorf("provider %q: unknown family %q", cfg.ID, cfg.Family)
		}
		provider, err := ctor(cfg, logger)
		if err != nil {
			logger.Warn("provider disabled", "provider", cfg.ID, "error", err)
			continue
		}
		r.Register(provider)
	}
	return r, nil
}

// Register adds or replaces a provider.
func (r *Registry) Register(provider llm.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.ID()] = provider
}

// Get returns the provider for id, or the fallback provider when id is empty.
func (r *Registry) Get(id string) (llm.Provider, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = r.fallback
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("provider %q is not configured", id)
	}
	return provider, nil
}

// List returns the registered providers sorted by id.
func (r *Registry) List() []llm.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Fallback returns the id used when a request names no provider.
func (r *Registry) Fallback() string {
	return r.fallback
}
