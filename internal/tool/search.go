package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"relaybot/internal/domain"
)

const (
	searchTimeout    = 15 * time.Second
	exaDefaultURL    = "https://api.exa.ai/search"
	exaNumResults    = 3
	snippetMaxRunes  = 1000
	responseMaxBytes = 1 << 20
	userAgentString  = "relaybot/0.1"
)

// WorkspaceSearchTool searches workspace messages through the assistant
// search API. It needs the action token Slack attaches to direct mentions.
type WorkspaceSearchTool struct {
	ws     domain.Workspace
	logger *slog.Logger
}

func NewWorkspaceSearchTool(ws domain.Workspace, logger *slog.Logger) *WorkspaceSearchTool {
	return &WorkspaceSearchTool{ws: ws, logger: logger}
}

func (t *WorkspaceSearchTool) Name() string { return "searchWorkspace" }
func (t *WorkspaceSearchTool) Description() string {
	return "Use this to search the Slack workspace for information"
}

func (t *WorkspaceSearchTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"query": {Type: "string", Description: "What to search for"},
		},
		[]string{"query"},
	)
}

func (t *WorkspaceSearchTool) Execute(ctx context.Context, turn *domain.Turn, args map[string]any) (domain.ToolResult, error) {
	token := turn.Message.ActionToken
	if token == "" {
		return domain.Failed("The search could not be completed because the user did not explicitly ping/mention you in their message. Please ask the user to do so."), nil
	}
	hits, err := t.ws.SearchContext(ctx, ArgsString(args, "query"), token)
	if err != nil {
		return domain.ToolResult{}, fmt.Errorf("the search failed with the error %w", err)
	}
	t.logger.Debug("workspace search", "conversation", turn.Conversation, "hits", len(hits))
	return domain.OK(map[string]any{"messages": hits}), nil
}

// WebSearchTool searches the web using the Exa search API.
type WebSearchTool struct {
	apiKey   string
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func NewWebSearchTool(apiKey, endpoint string, logger *slog.Logger) *WebSearchTool {
	if endpoint == "" {
		endpoint = exaDefaultURL
	}
	return &WebSearchTool{
		apiKey:   apiKey,
		endpoint: endpoint,
		client:   &http.Client{Timeout: searchTimeout},
		logger:   logger,
	}
}

func (t *WebSearchTool) Name() string { return "searchWeb" }
func (t *WebSearchTool) Description() string {
	return "Use this to search the web for information"
}

func (t *WebSearchTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"query": {Type: "string", Description: "Search query to look up on the web"},
			"specificDomain": {
				Type:        "string",
				Description: "A domain to search if the user names one, e.g. bbc.com. Domain name only, without the protocol.",
			},
		},
		[]string{"query"},
	)
}

type exaRequest struct {
	Query          string      `json:"query"`
	NumResults     int         `json:"numResults"`
	IncludeDomains []string    `json:"includeDomains,omitempty"`
	Contents       exaContents `json:"contents"`
}

type exaContents struct {
	Text      bool   `json:"text"`
	Livecrawl string `json:"livecrawl,omitempty"`
}

type exaResponse struct {
	Results []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
		Text  string `json:"text"`
	} `json:"results"`
	Error string `json:"error"`
}

// WebResult is one search hit returned to the oracle.
type WebResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

func (t *WebSearchTool) Execute(ctx context.Context, turn *domain.Turn, args map[string]any) (domain.ToolResult, error) {
	if t.apiKey == "" {
		return domain.ToolResult{}, errors.New("web search is not configured")
	}
	body := exaRequest{
		Query:      ArgsString(args, "query"),
		NumResults: exaNumResults,
		Contents:   exaContents{Text: true, Livecrawl: "always"},
	}
	if d := strings.TrimSpace(ArgsString(args, "specificDomain")); d != "" {
		body.IncludeDomains = []string{d}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return domain.ToolResult{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(raw))
	if err != nil {
		return domain.ToolResult{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", t.apiKey)
	req.Header.Set("User-Agent", userAgentString)

	resp, err := t.client.Do(req)
	if err != nil {
		return domain.ToolResult{}, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, responseMaxBytes))
	if err != nil {
		return domain.ToolResult{}, fmt.Errorf("read response: %w", err)
	}
	var parsed exaResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return domain.ToolResult{}, fmt.Errorf("parse response (HTTP %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := parsed.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return domain.ToolResult{}, fmt.Errorf("search API HTTP %d: %s", resp.StatusCode, msg)
	}

	hits := parsed.Results
	if len(hits) > exaNumResults {
		hits = hits[:exaNumResults]
	}
	results := make([]WebResult, 0, len(hits))
	for _, r := range hits {
		results = append(results, WebResult{Title: r.Title, URL: r.URL, Snippet: truncateRunes(r.Text, snippetMaxRunes)})
	}
	t.logger.Debug("web search", "conversation", turn.Conversation, "results", len(results))
	return domain.OK(map[string]any{"results": results}), nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
