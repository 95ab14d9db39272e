package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/net/html"
)

// SearchConfig configures web search.
type SearchConfig struct {
	// Provider is "brave" or "duckduckgo". Brave falls back to DuckDuckGo
	// when no key is available or the API fails.
	Provider    string `yaml:"provider"`
	BraveAPIKey string `yaml:"brave_api_key"`
	MaxResults  int    `yaml:"max_results"`
}

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// WebSearch queries Brave Search with a DuckDuckGo HTML fallback.
type WebSearch struct {
	cfg     SearchConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]SearchResult]
	logger  *slog.Logger

	braveURL string
	ddgURL   string
}

// NewWebSearch creates a search client.
func NewWebSearch(cfg SearchConfig, client *http.Client, bcfg BreakerConfig, logger *slog.Logger) *WebSearch {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.Provider == "" {
		cfg.Provider = "brave"
	}
	logger = logger.With("component", "search")
	return &WebSearch{
		cfg:      cfg,
		client:   client,
		breaker:  newBreaker[[]SearchResult]("search", bcfg, logger),
		logger:   logger,
		braveURL: "https://api.search.brave.com/res/v1/web/search",
		ddgURL:   "https://html.duckduckgo.com/html/",
	}
}

// Search returns up to limit results (the configured maximum when limit <= 0).
func (s *WebSearch) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidInput)
	}
	if limit <= 0 || limit > s.cfg.MaxResults {
		limit = s.cfg.MaxResults
	}

	return execute(s.breaker, func() ([]SearchResult, error) {
		if s.cfg.Provider == "brave" && s.cfg.BraveAPIKey != "" {
			results, err := s.searchBrave(ctx, query, limit)
			if err == nil {
				return results, nil
			}
			s.logger.Warn("search: brave failed, falling back to duckduckgo", "error", err)
		}
		return s.searchDDG(ctx, query, limit)
	})
}

// FindVideo returns the first YouTube result for query.
func (s *WebSearch) FindVideo(ctx context.Context, query string) (string, error) {
	results, err := s.Search(ctx, "site:youtube.com "+query, 0)
	if err != nil {
		return "", err
	}
	for _, r := range results {
		if IsYouTubeURL(r.URL) {
			return r.URL, nil
		}
	}
	return "", fmt.Errorf("%w: no video found for %q", ErrInvalidInput, query)
}

// IsYouTubeURL reports whether u points at a YouTube video.
func IsYouTubeURL(u string) bool {
	return strings.Contains(u, "youtube.com/watch") ||
		strings.Contains(u, "youtu.be/") ||
		strings.Contains(u, "youtube.com/shorts/")
}

func (s *WebSearch) searchBrave(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	searchURL := fmt.Sprintf("%s?q=%s&count=%d", s.braveURL, url.QueryEscape(query), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", s.cfg.BraveAPIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("brave search", resp)
	}

	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 512*1024)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("parsing brave results: %w", err)
	}

	results := make([]SearchResult, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		if len(results) >= limit {
			break
		}
		results = append(results, SearchResult{
			Title:   stripTags(r.Title),
			URL:     r.URL,
			Snippet: stripTags(r.Description),
		})
	}
	return results, nil
}

func (s *WebSearch) searchDDG(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	searchURL := s.ddgURL + "?q=" + url.QueryEscape(query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; wabot/1.0)")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("duckduckgo", resp)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil, fmt.Errorf("parsing duckduckgo html: %w", err)
	}
	results := extractDDGResults(doc)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// extractDDGResults walks the DuckDuckGo HTML page. Each hit is an
// <a class="result__a"> followed by an element with class "result__snippet".
func extractDDGResults(doc *html.Node) []SearchResult {
	var results []SearchResult
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "a" && hasClass(n, "result__a"):
				href := resolveDDGLink(attr(n, "href"))
				title := strings.TrimSpace(textContent(n))
				if href != "" && title != "" {
					results = append(results, SearchResult{Title: title, URL: href})
				}
			case hasClass(n, "result__snippet"):
				if len(results) > 0 && results[len(results)-1].Snippet == "" {
					results[len(results)-1].Snippet = strings.TrimSpace(textContent(n))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results
}

// resolveDDGLink unwraps DuckDuckGo's redirect links (".../l/?uddg=<url>").
func resolveDDGLink(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

// stripTags removes the <strong> highlighting Brave puts in titles.
func stripTags(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	nodes, err := html.ParseFragment(strings.NewReader(s), &html.Node{Type: html.ElementNode, Data: "div"})
	if err != nil {
		return s
	}
	var sb strings.Builder
	for _, n := range nodes {
		sb.WriteString(textContent(n))
		sb.WriteByte(' ')
	}
	return strings.TrimSpace(strings.Join(strings.Fields(sb.String()), " "))
}
