// Package browser renders mermaid diagrams to PNG, either through the
// mermaid.ink service or a local headless Chrome.
package browser

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultInkURL = "https://mermaid.ink"
	inkTimeout    = 30 * time.Second
	maxImageBytes = 10 << 20
)

// Renderer turns mermaid source into PNG bytes.
type Renderer interface {
	Name() string
	Render(ctx context.Context, code string) ([]byte, error)
}

// InkURL builds the mermaid.ink image URL for a diagram. The payload is the
// zlib-deflated JSON {"code":...,"mermaid":{}} in unpadded URL-safe base64.
func InkURL(base, code string) (string, error) {
	payload, err := json.Marshal(struct {
		Code    string         `json:"code"`
		Mermaid map[string]any `json:"mermaid"`
	}{Code: code, Mermaid: map[string]any{}})
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}

	enc := base64.RawURLEncoding.EncodeToString(buf.Bytes())
	return strings.TrimRight(base, "/") + "/img/pako:" + enc + "?type=png", nil
}

// InkRenderer fetches rendered diagrams from mermaid.ink.
type InkRenderer struct {
	base   string
	client *http.Client
	logger *slog.Logger
}

func NewInkRenderer(base string, logger *slog.Logger) *InkRenderer {
	if base == "" {
		base = DefaultInkURL
	}
	return &InkRenderer{
		base:   base,
		client: &http.Client{Timeout: inkTimeout},
		logger: logger,
	}
}

func (r *InkRenderer) Name() string { return "ink" }

func (r *InkRenderer) Render(ctx context.Context, code string) ([]byte, error) {
	url, err := InkURL(r.base, code)
	if err != nil {
		return nil, fmt.Errorf("encode diagram: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch diagram: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to generate diagram: %s", resp.Status)
	}
	img, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, fmt.Errorf("read diagram: %w", err)
	}
	r.logger.Debug("diagram rendered", "renderer", r.Name(), "bytes", len(img))
	return img, nil
}

// Chain tries each renderer in order and returns the first success.
type Chain struct {
	renderers []Renderer
	logger    *slog.Logger
}

func NewChain(logger *slog.Logger, renderers ...Renderer) *Chain {
	return &Chain{renderers: renderers, logger: logger}
}

func (c *Chain) Name() string {
	names := make([]string, len(c.renderers))
	for i, r := range c.renderers {
		names[i] = r.Name()
	}
	return strings.Join(names, "+")
}

func (c *Chain) Render(ctx context.Context, code string) ([]byte, error) {
	var errs []error
	for _, r := range c.renderers {
		img, err := r.Render(ctx, code)
		if err == nil {
			return img, nil
		}
		c.logger.Warn("diagram renderer failed, trying next", "renderer", r.Name(), "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return nil, errors.New("no diagram renderer configured")
	}
	return nil, errors.Join(errs...)
}
