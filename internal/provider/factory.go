package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"relaybot/internal/config"
	"relaybot/internal/domain"
)

// Factory creates and caches one oracle client per model. All clients share
// a pooled HTTP client.
type Factory struct {
	cfg    config.LLMConfig
	client *http.Client
	logger *slog.Logger
	cache  map[string]domain.Provider
	mu     sync.RWMutex
}

func NewFactory(cfg config.LLMConfig, logger *slog.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		client: SharedHTTPClient(cfg.Timeout()),
		logger: logger,
		cache:  make(map[string]domain.Provider),
	}
}

// Get returns the client for model. Created clients are reused; double-check
// locking avoids racing constructors.
func (f *Factory) Get(model string) (domain.Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	f.mu.RLock()
	if cached, ok := f.cache[model]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	f.mu.Lock()
	defer f.mu.Unlock()
	if cached, ok := f.cache[model]; ok {
		return cached, nil
	}

	p := NewOpenAI(OpenAIConfig{
		APIKey:  f.cfg.APIKey,
		APIBase: f.cfg.APIBase,
		Model:   model,
		Client:  f.client,
		Logger:  f.logger,
	})
	f.cache[model] = p
	return p, nil
}

// Chat returns the oracle used by the agent loop: the configured models in
// order, wrapped in a failover chain when there is more than one.
func (f *Factory) Chat() (domain.Provider, error) {
	if len(f.cfg.Models) == 0 {
		return nil, fmt.Errorf("no chat models configured")
	}
	chain := make([]domain.Provider, 0, len(f.cfg.Models))
	for _, m := range f.cfg.Models {
		p, err := f.Get(m)
		if err != nil {
			return nil, err
		}
		chain = append(chain, p)
	}
	if len(chain) == 1 {
		return chain[0], nil
	}
	fp := NewFailoverProvider(chain, f.logger)
	fp.SetCooldown(f.cfg.Cooldown())
	return fp, nil
}

// Summariser returns the client for thread summaries and history compaction.
// It falls back to the first chat model.
func (f *Factory) Summariser() (domain.Provider, error) {
	model := f.cfg.SummaryModel
	if model == "" && len(f.cfg.Models) > 0 {
		model = f.cfg.Models[0]
	}
	return f.Get(model)
}

// HealthyProvider returns the first cached client that passes a health
// check, or nil.
func (f *Factory) HealthyProvider(ctx context.Context) domain.Provider {
	for _, m := range f.cfg.Models {
		p, err := f.Get(m)
		if err != nil {
			continue
		}
		if p.Healthy(ctx) == nil {
			return p
		}
	}
	return nil
}
