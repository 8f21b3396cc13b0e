// Package provider implements the oracle clients behind domain.Provider.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"relaybot/internal/domain"
)

const (
	DefaultAPIBase     = "https://ai.hackclub.com/proxy/v1"
	defaultHTTPTimeout = 120 * time.Second
)

// OpenAI implements domain.Provider for OpenAI-compatible chat completion
// APIs, including OpenRouter-style proxies that route "vendor/model" names.
type OpenAI struct {
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

type OpenAIConfig struct {
	APIKey  string
	APIBase string
	Model   string
	Timeout time.Duration
	Client  *http.Client // optional; defaults to a pooled client
	Logger  *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAI{
		apiKey:  cfg.APIKey,
		apiBase: cfg.APIBase,
		model:   cfg.Model,
		client:  cfg.Client,
		logger:  cfg.Logger.With("provider", "openai", "model", cfg.Model),
	}
}

func (o *OpenAI) Name() string     { return "openai:" + o.model }
func (o *OpenAI) Models() []string { return []string{o.model} }

func (o *OpenAI) authorize(r *http.Request) {
	r.Header.Set("Authorization", "Bearer "+o.apiKey)
}

// Healthy lists models, which every compatible backend serves cheaply.
func (o *OpenAI) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	o.authorize(req)
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("oracle not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("oracle: invalid API key")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("oracle returned %d", resp.StatusCode)
	}
	return nil
}

// Chat sends one completion request. Transient failures are retried inside
// doWithRetry; everything else is returned to the caller.
func (o *OpenAI) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}
	payload, err := json.Marshal(encodeRequest(req, model))
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	start := time.Now()
	resp, err := doWithRetry(ctx, o.client, func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		o.authorize(r)
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("X-Title", "relaybot")
		return r, nil
	}, o.logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%s: %w", model, &statusError{code: resp.StatusCode, body: string(snippet)})
	}

	var c completion
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", model, err)
	}
	switch {
	case c.Error != nil:
		return nil, fmt.Errorf("%s: %s", model, c.Error.Message)
	case len(c.Choices) == 0:
		return nil, fmt.Errorf("%s: response has no choices", model)
	}

	first := c.Choices[0]
	out := &domain.ChatResponse{
		Content:      first.Message.Content,
		ToolCalls:    decodeCalls(first.Message.ToolCalls, o.logger),
		FinishReason: first.FinishReason,
		Usage:        c.Usage,
		Model:        c.Model,
		LatencyMs:    time.Since(start).Milliseconds(),
	}
	if out.Model == "" {
		out.Model = model
	}
	return out, nil
}
