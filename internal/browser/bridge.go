package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"html"
	"log/slog"
	"time"

	"github.com/chromedp/chromedp"
)

const (
	chromeRenderTimeout = 45 * time.Second
	mermaidScriptURL    = "https://cdn.jsdelivr.net/npm/mermaid@11/dist/mermaid.min.js"
)

// ChromeConfig holds configuration for the headless Chrome renderer.
type ChromeConfig struct {
	ExecPath  string // Chrome binary; empty uses chromedp's lookup
	ScriptURL string // mermaid.js location
	Logger    *slog.Logger
}

// ChromeRenderer renders diagrams in a local headless Chrome and screenshots
// the resulting SVG.
type ChromeRenderer struct {
	execPath  string
	scriptURL string
	logger    *slog.Logger
}

func NewChromeRenderer(cfg ChromeConfig) *ChromeRenderer {
	if cfg.ScriptURL == "" {
		cfg.ScriptURL = mermaidScriptURL
	}
	return &ChromeRenderer{
		execPath:  cfg.ExecPath,
		scriptURL: cfg.ScriptURL,
		logger:    cfg.Logger,
	}
}

func (c *ChromeRenderer) Name() string { return "chrome" }

// newContext creates a chromedp context for one render.
// The caller MUST call cancel() when done.
func (c *ChromeRenderer) newContext(parent context.Context) (context.Context, context.CancelFunc) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Headless,
		chromedp.DisableGPU,
		chromedp.WindowSize(1600, 1200),
	)
	if c.execPath != "" {
		opts = append(opts, chromedp.ExecPath(c.execPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	return taskCtx, func() {
		taskCancel()
		allocCancel()
	}
}

// page is the document the diagram is rendered into.
func (c *ChromeRenderer) page(code string) string {
	return `<!doctype html><html><head><meta charset="utf-8">` +
		`<script src="` + html.EscapeString(c.scriptURL) + `"></script></head>` +
		`<body style="margin:0;background:#fff"><pre class="mermaid" id="diagram">` +
		html.EscapeString(code) +
		`</pre><script>mermaid.initialize({startOnLoad:true});</script></body></html>`
}

func (c *ChromeRenderer) Render(ctx context.Context, code string) ([]byte, error) {
	taskCtx, cancel := c.newContext(ctx)
	defer cancel()

	taskCtx, timeoutCancel := context.WithTimeout(taskCtx, chromeRenderTimeout)
	defer timeoutCancel()

	url := "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(c.page(code)))

	var png []byte
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(url),
		chromedp.WaitVisible("#diagram svg", chromedp.ByQuery),
		chromedp.Screenshot("#diagram svg", &png, chromedp.NodeVisible, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("render in chrome: %w", err)
	}
	c.logger.Debug("diagram rendered", "renderer", c.Name(), "bytes", len(png))
	return png, nil
}
