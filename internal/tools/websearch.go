package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	braveEndpoint     = "https://api.search.brave.com/res/v1/web/search"
	searchProvider    = "brave"
	defaultMaxResults = 5
)

// SearchCache is the persistent results cache, keyed by provider and query.
type SearchCache interface {
	GetSearchCache(ctx context.Context, provider, query string, ttl time.Duration) (string, error)
	PutSearchCache(ctx context.Context, provider, query, resultsJSON string) error
}

// SearchResult is one hit returned to the model and kept for source lists.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// WebSearchTool searches the web with the Brave Search API, caching result
// lists in the store.
type WebSearchTool struct {
	apiKey     string
	endpoint   string
	cache      SearchCache
	cacheTTL   time.Duration
	maxResults int
	httpClient *http.Client
}

func NewWebSearchTool(apiKey string, cache SearchCache, cacheTTL time.Duration) *WebSearchTool {
	return &WebSearchTool{
		apiKey:     apiKey,
		endpoint:   braveEndpoint,
		cache:      cache,
		cacheTTL:   cacheTTL,
		maxResults: defaultMaxResults,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web. Returns titles, URLs, and snippets."
}

func (t *WebSearchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {
				"type": "string",
				"description": "Search query"
			},
			"count": {
				"type": "integer",
				"description": "Results (1-10)",
				"minimum": 1,
				"maximum": 10
			}
		},
		"required": ["query"]
	}`)
}

func (t *WebSearchTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	if t.apiKey == "" {
		return "Error: BRAVE_API_KEY not configured", nil
	}
	query, _ := params["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return "Error: query is required", nil
	}

	n := t.maxResults
	if countVal, ok := params["count"]; ok {
		switch v := countVal.(type) {
		case float64:
			n = int(v)
		case int:
			n = v
		}
	}
	if n < 1 {
		n = 1
	}
	if n > 10 {
		n = 10
	}

	results, err := t.Search(ctx, query, n)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	if len(results) == 0 {
		return fmt.Sprintf("No results for: %s", query), nil
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Results for: %s\n\n", query))
	for i, item := range results {
		sb.WriteString(fmt.Sprintf("%d. %s\n   %s", i+1, item.Title, item.URL))
		if item.Snippet != "" {
			sb.WriteString("\n   " + item.Snippet)
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// Search runs the cached Brave query and returns the structured result list.
func (t *WebSearchTool) Search(ctx context.Context, query string, n int) ([]SearchResult, error) {
	if t.cache != nil {
		cached, err := t.cache.GetSearchCache(ctx, searchProvider, query, t.cacheTTL)
		if err != nil {
			log.Printf("[websearch] cache read warning: %v", err)
		} else if cached != "" {
			var results []SearchResult
			if err := json.Unmarshal([]byte(cached), &results); err == nil {
				return capResults(results, n), nil
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	q := req.URL.Query()
	q.Set("q", query)
	q.Set("count", fmt.Sprintf("%d", n))
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search http %d", resp.StatusCode)
	}

	var data struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}

	results := make([]SearchResult, 0, len(data.Web.Results))
	for _, item := range data.Web.Results {
		results = append(results, SearchResult{
			Title:   item.Title,
			URL:     item.URL,
			Snippet: item.Description,
		})
	}

	if t.cache != nil && len(results) > 0 {
		if payload, err := json.Marshal(results); err == nil {
			if err := t.cache.PutSearchCache(ctx, searchProvider, query, string(payload)); err != nil {
				log.Printf("[websearch] cache write warning: %v", err)
			}
		}
	}

	return capResults(results, n), nil
}

func capResults(results []SearchResult, n int) []SearchResult {
	if n > 0 && len(results) > n {
		return results[:n]
	}
	return results
}
