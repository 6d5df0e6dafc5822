package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
)

const (
	fetchUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_2) AppleWebKit/537.36"
	maxRedirects   = 5

	// Pages are truncated before they hit the context window.
	defaultMaxPageChars = 20000
)

var (
	reTags     = regexp.MustCompile(`<[^>]+>`)
	reSpaces   = regexp.MustCompile(`[ \t]+`)
	reNewlines = regexp.MustCompile(`\n{3,}`)
)

// PageCache is the persistent extracted-page cache, keyed by URL.
type PageCache interface {
	GetPageCache(ctx context.Context, url string, ttl time.Duration) (string, error)
	PutPageCache(ctx context.Context, url, content string) error
}

// FetchPageTool fetches a URL and extracts its readable text.
type FetchPageTool struct {
	cache      PageCache
	cacheTTL   time.Duration
	maxChars   int
	httpClient *http.Client
}

func NewFetchPageTool(cache PageCache, cacheTTL time.Duration) *FetchPageTool {
	client := &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	return &FetchPageTool{
		cache:      cache,
		cacheTTL:   cacheTTL,
		maxChars:   defaultMaxPageChars,
		httpClient: client,
	}
}

func (t *FetchPageTool) Name() string { return "fetch_page" }

func (t *FetchPageTool) Description() string {
	return "Fetch a URL and extract its readable text content."
}

func (t *FetchPageTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {
				"type": "string",
				"description": "URL to fetch"
			}
		},
		"required": ["url"]
	}`)
}

func (t *FetchPageTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	rawURL, _ := params["url"].(string)
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "Error: url is required", nil
	}
	if err := validateURL(rawURL); err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}

	text, err := t.Fetch(ctx, rawURL)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	return text, nil
}

// Fetch returns the extracted page text, from cache when fresh.
func (t *FetchPageTool) Fetch(ctx context.Context, rawURL string) (string, error) {
	if t.cache != nil {
		cached, err := t.cache.GetPageCache(ctx, rawURL, t.cacheTTL)
		if err != nil {
			log.Printf("[fetchpage] cache read warning: %v", err)
		} else if cached != "" {
			return cached, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create fetch request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch page: http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read page body: %w", err)
	}

	text := extractText(body, rawURL)
	if len(text) > t.maxChars {
		text = text[:t.maxChars]
	}

	if t.cache != nil && text != "" {
		if err := t.cache.PutPageCache(ctx, rawURL, text); err != nil {
			log.Printf("[fetchpage] cache write warning: %v", err)
		}
	}

	return text, nil
}

// extractText pulls the readable article from HTML; non-article pages degrade
// to a plain tag strip.
func extractText(body []byte, rawURL string) string {
	parsedURL, _ := url.Parse(rawURL)
	article, err := readability.FromReader(bytes.NewReader(body), parsedURL)
	if err == nil {
		text := stripHTMLTags(article.Content)
		if article.Title != "" {
			text = article.Title + "\n\n" + text
		}
		return text
	}
	return stripHTMLTags(string(body))
}

func stripHTMLTags(text string) string {
	text = reTags.ReplaceAllString(text, "")
	text = reSpaces.ReplaceAllString(text, " ")
	text = reNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// validateURL checks that the url is http(s) with a host.
func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("only http/https allowed, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing domain in URL")
	}
	return nil
}
