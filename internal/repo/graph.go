package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sentrastack/sentra-triage/internal/cache"
)

// GraphStats summarises the capability knowledge graph.
type GraphStats struct {
	Endpoints     int            `json:"endpoints"`
	Resources     int            `json:"resources"`
	UseCases      int            `json:"use_cases"`
	RiskBreakdown map[string]int `json:"risk_breakdown,omitempty"`
}

// GraphEntry is one record from a graph listing or search.
type GraphEntry struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Risk     string `json:"risk,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// GraphClient reads the capability knowledge graph over HTTP. The graph API is
// pre-filtered server-side to exclude destructive capabilities; this client
// only ever issues GET requests.
type GraphClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cache      cache.Provider
	statsTTL   time.Duration
	listTTL    time.Duration
}

// NewGraphClient constructs a client for the knowledge-graph API.
func NewGraphClient(baseURL, apiKey string, timeout time.Duration, cacheProvider cache.Provider, statsTTL, listTTL time.Duration) *GraphClient {
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &GraphClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cacheProvider,
		statsTTL:   statsTTL,
		listTTL:    listTTL,
	}
}

// Configured reports whether a graph endpoint has been set.
func (c *GraphClient) Configured() bool {
	return c != nil && c.baseURL != ""
}

// Stats returns aggregate counts for the graph, cached for statsTTL.
func (c *GraphClient) Stats(ctx context.Context) (GraphStats, error) {
	var stats GraphStats
	if data, err := c.cache.Get(ctx, "graph:stats"); err == nil {
		if err := json.Unmarshal(data, &stats); err == nil {
			return stats, nil
		}
	}

	if err := c.getJSON(ctx, "/api/v1/graph/stats", nil, &stats); err != nil {
		return GraphStats{}, fmt.Errorf("graph stats: %w", err)
	}

	if data, err := json.Marshal(stats); err == nil {
		_ = c.cache.Set(ctx, "graph:stats", data, c.statsTTL)
	}
	return stats, nil
}

// Search runs a keyword lookup across graph entities.
func (c *GraphClient) Search(ctx context.Context, keyword string, limit int) ([]GraphEntry, error) {
	params := url.Values{}
	params.Set("q", keyword)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var decoded struct {
		Results []GraphEntry `json:"results"`
	}
	if err := c.getJSON(ctx, "/api/v1/graph/search", params, &decoded); err != nil {
		return nil, fmt.Errorf("graph search %q: %w", keyword, err)
	}
	return decoded.Results, nil
}

// ResourceOverview lists the resource groupings exposed by the graph.
func (c *GraphClient) ResourceOverview(ctx context.Context) ([]GraphEntry, error) {
	return c.cachedListing(ctx, "/api/v1/graph/resources", "graph:resources")
}

// UseCases lists analyst-facing capability use cases.
func (c *GraphClient) UseCases(ctx context.Context) ([]GraphEntry, error) {
	return c.cachedListing(ctx, "/api/v1/graph/use-cases", "graph:use-cases")
}

// RiskAnalysis lists risk classifications across capabilities.
func (c *GraphClient) RiskAnalysis(ctx context.Context) ([]GraphEntry, error) {
	return c.cachedListing(ctx, "/api/v1/graph/risk", "graph:risk")
}

// ErrorPatterns lists known error and failure patterns.
func (c *GraphClient) ErrorPatterns(ctx context.Context) ([]GraphEntry, error) {
	return c.cachedListing(ctx, "/api/v1/graph/error-patterns", "graph:error-patterns")
}

// Endpoints lists API endpoints matching the supplied filters.
func (c *GraphClient) Endpoints(ctx context.Context, filters map[string]string) ([]GraphEntry, error) {
	params := url.Values{}
	for k, v := range filters {
		params.Set(k, v)
	}
	var decoded struct {
		Results []GraphEntry `json:"results"`
	}
	if err := c.getJSON(ctx, "/api/v1/graph/endpoints", params, &decoded); err != nil {
		return nil, fmt.Errorf("graph endpoints: %w", err)
	}
	return decoded.Results, nil
}

func (c *GraphClient) cachedListing(ctx context.Context, path, cacheKey string) ([]GraphEntry, error) {
	var entries []GraphEntry
	if data, err := c.cache.Get(ctx, cacheKey); err == nil {
		if err := json.Unmarshal(data, &entries); err == nil {
			return entries, nil
		}
	}

	var decoded struct {
		Results []GraphEntry `json:"results"`
	}
	if err := c.getJSON(ctx, path, nil, &decoded); err != nil {
		return nil, fmt.Errorf("graph listing %s: %w", path, err)
	}

	if data, err := json.Marshal(decoded.Results); err == nil {
		_ = c.cache.Set(ctx, cacheKey, data, c.listTTL)
	}
	return decoded.Results, nil
}

func (c *GraphClient) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	if !c.Configured() {
		return fmt.Errorf("graph adapter not configured")
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
