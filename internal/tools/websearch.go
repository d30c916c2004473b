package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultSearchCount  = 5
	maxSearchCount      = 10
	braveSearchEndpoint = "https://api.search.brave.com/res/v1/web/search"
)

// ReasonMissingQuery flags the structural failure the loop's stall detector
// watches for: the model called web_search without a usable query, as opposed
// to a query that simply returned nothing.
const ReasonMissingQuery = "missing_query"

// SearchProvider abstracts a web search backend.
type SearchProvider interface {
	Search(ctx context.Context, query string, count int) ([]SearchResult, error)
	Name() string
}

type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// --- Brave backend ---

type braveSearchProvider struct {
	apiKey string
	client *http.Client
}

func NewBraveSearchProvider(apiKey string) SearchProvider {
	return &braveSearchProvider{
		apiKey: apiKey,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *braveSearchProvider) Name() string { return "brave" }

func (p *braveSearchProvider) Search(ctx context.Context, query string, count int) ([]SearchResult, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("count", fmt.Sprintf("%d", count))

	req, err := http.NewRequestWithContext(ctx, "GET", braveSearchEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave API returned %d", resp.StatusCode)
	}

	var braveResp struct {
		Web struct {
			Results []SearchResult `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &braveResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return braveResp.Web.Results, nil
}

// --- tool wrapper ---

// WebSearchTool answers information-lookup requests. It is the search-class
// tool: the executor raises its latency budget to the search floor.
type WebSearchTool struct {
	provider SearchProvider
}

func NewWebSearchTool(provider SearchProvider) *WebSearchTool {
	return &WebSearchTool{provider: provider}
}

func (t *WebSearchTool) Name() string { return NameWebSearch }

func (t *WebSearchTool) Description() string {
	return "Search the web. Requires a non-empty query."
}

func (t *WebSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string"},
			"count": map[string]interface{}{"type": "integer"},
		},
		"required": []interface{}{"query"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return &Result{
			Success: false,
			Message: "web_search requires a query",
			Data:    map[string]interface{}{"reason": ReasonMissingQuery},
		}
	}

	count := intArg(args, "count")
	if count <= 0 {
		count = defaultSearchCount
	}
	if count > maxSearchCount {
		count = maxSearchCount
	}

	results, err := t.provider.Search(ctx, query, count)
	if err != nil {
		return Fail(fmt.Sprintf("search failed: %v", err))
	}
	if len(results) == 0 {
		return OK("no results found")
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Description)
	}
	return OKData(b.String(), map[string]interface{}{"result_count": len(results)})
}
