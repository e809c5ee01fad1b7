package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sentrastack/sentra-triage/internal/models"
	"github.com/sentrastack/sentra-triage/internal/repo"
)

// GraphReader is the read-only capability knowledge-graph adapter. The
// implementation excludes destructive capabilities at its boundary.
type GraphReader interface {
	Configured() bool
	Stats(ctx context.Context) (repo.GraphStats, error)
	Search(ctx context.Context, keyword string, limit int) ([]repo.GraphEntry, error)
	ResourceOverview(ctx context.Context) ([]repo.GraphEntry, error)
	UseCases(ctx context.Context) ([]repo.GraphEntry, error)
	RiskAnalysis(ctx context.Context) ([]repo.GraphEntry, error)
	ErrorPatterns(ctx context.Context) ([]repo.GraphEntry, error)
	Endpoints(ctx context.Context, filters map[string]string) ([]repo.GraphEntry, error)
}

// IndexSearcher is the read-only telemetry search-index adapter.
type IndexSearcher interface {
	Configured() bool
	AlertsPattern() string
	VulnsPattern() string
	Search(ctx context.Context, pattern string, body map[string]interface{}) ([]repo.IndexHit, error)
}

const (
	maxKeywordSearches = 3
	maxAgentQueries    = 3
	graphSearchLimit   = 5
	indexSearchSize    = 10
	agentQuerySize     = 5
)

// errorKeywordPattern triggers error-pattern retrieval from a keyword alone.
var errorKeywordPattern = regexp.MustCompile(`(?i)\b(error|errors|timeout|timeouts|fail(ed|ure|ures)?|unreachable|refused|[45]\d\d)\b`)

// BranchReport captures one retrieval branch's outcome for the step trace.
type BranchReport struct {
	Ran        bool
	Sources    []models.RetrievalSource
	DataPoints int
	Duration   time.Duration
}

// Coordinator fans out retrieval to the graph and index adapters per the
// Intent's strategy. Both branches run concurrently; every sub-query failure
// is contained as a single error-tagged source rather than aborting a branch.
type Coordinator struct {
	graph  GraphReader
	index  IndexSearcher
	logger *slog.Logger
}

// NewCoordinator constructs a retrieval coordinator.
func NewCoordinator(graph GraphReader, index IndexSearcher, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{graph: graph, index: index, logger: logger}
}

// Retrieve runs the branches selected by the intent and returns one report
// per branch. Retrieval is best-effort; Retrieve itself never fails.
func (c *Coordinator) Retrieve(ctx context.Context, intent models.Intent) (graphReport, indexReport BranchReport) {
	var eg errgroup.Group

	if intent.WantsGraph() {
		eg.Go(func() error {
			start := time.Now()
			sources, points := c.retrieveGraph(ctx, intent)
			graphReport = BranchReport{Ran: true, Sources: sources, DataPoints: points, Duration: time.Since(start)}
			return nil
		})
	}
	if intent.WantsIndex() {
		eg.Go(func() error {
			start := time.Now()
			sources, points := c.retrieveIndex(ctx, intent)
			indexReport = BranchReport{Ran: true, Sources: sources, DataPoints: points, Duration: time.Since(start)}
			return nil
		})
	}

	_ = eg.Wait()
	return graphReport, indexReport
}

func (c *Coordinator) retrieveGraph(ctx context.Context, intent models.Intent) ([]models.RetrievalSource, int) {
	if c.graph == nil || !c.graph.Configured() {
		return []models.RetrievalSource{errorSource(models.OriginGraph, "graph", "graph adapter not configured")}, 0
	}

	var sources []models.RetrievalSource
	points := 0

	// Aggregate stats always provide context for synthesis.
	if stats, err := c.graph.Stats(ctx); err != nil {
		sources = append(sources, errorSource(models.OriginStats, "graph statistics", err.Error()))
	} else {
		sources = append(sources, jsonSource(models.OriginStats, "graph statistics", stats, models.RelevanceContext))
		points++
	}

	if intent.Category == models.IntentCapability {
		sources, points = c.appendListing(ctx, sources, points, "resource overview", c.graph.ResourceOverview)
		sources, points = c.appendListing(ctx, sources, points, "use cases", c.graph.UseCases)
	}
	if intent.Category == models.IntentVulnerability {
		sources, points = c.appendListing(ctx, sources, points, "risk analysis", c.graph.RiskAnalysis)
	}
	if intent.Category == models.IntentErrorAnalysis || anyKeywordMatches(intent.Keywords, errorKeywordPattern) {
		sources, points = c.appendListing(ctx, sources, points, "error patterns", c.graph.ErrorPatterns)
	}
	if intent.Category == models.IntentCapability || intent.Category == models.IntentAgentHealth {
		if entries, err := c.graph.Endpoints(ctx, nil); err != nil {
			sources = append(sources, errorSource(models.OriginGraph, "endpoints", err.Error()))
		} else {
			sources = append(sources, jsonSource(models.OriginGraph, "endpoints", entries, models.RelevanceSupporting))
			points += len(entries)
		}
	}

	for i, keyword := range intent.Keywords {
		if i >= maxKeywordSearches {
			break
		}
		entries, err := c.graph.Search(ctx, keyword, graphSearchLimit)
		if err != nil {
			sources = append(sources, errorSource(models.OriginGraph, "search: "+keyword, err.Error()))
			continue
		}
		if len(entries) == 0 {
			continue
		}
		sources = append(sources, jsonSource(models.OriginGraph, "search: "+keyword, entries, models.RelevancePrimary))
		points += len(entries)
	}

	return sources, points
}

func (c *Coordinator) appendListing(ctx context.Context, sources []models.RetrievalSource, points int, label string, fetch func(context.Context) ([]repo.GraphEntry, error)) ([]models.RetrievalSource, int) {
	entries, err := fetch(ctx)
	if err != nil {
		return append(sources, errorSource(models.OriginGraph, label, err.Error())), points
	}
	return append(sources, jsonSource(models.OriginGraph, label, entries, models.RelevanceSupporting)), points + len(entries)
}

func (c *Coordinator) retrieveIndex(ctx context.Context, intent models.Intent) ([]models.RetrievalSource, int) {
	if c.index == nil || !c.index.Configured() {
		return []models.RetrievalSource{errorSource(models.OriginIndex, "index", "index adapter not configured")}, 0
	}

	var sources []models.RetrievalSource
	points := 0

	hits, err := c.index.Search(ctx, c.index.AlertsPattern(), fullTextQuery(intent.Keywords, indexSearchSize))
	if err != nil {
		sources = append(sources, errorSource(models.OriginIndex, "alert search", err.Error()))
	} else {
		sources = append(sources, hitsSource("alert search", hits, models.RelevancePrimary))
		points += len(hits)
	}

	if intent.Category == models.IntentVulnerability || len(intent.CVEs) > 0 {
		terms := intent.CVEs
		if len(terms) == 0 {
			terms = intent.Keywords
		}
		hits, err := c.index.Search(ctx, c.index.VulnsPattern(), fullTextQuery(terms, indexSearchSize))
		if err != nil {
			sources = append(sources, errorSource(models.OriginIndex, "vulnerability search", err.Error()))
		} else {
			sources = append(sources, hitsSource("vulnerability search", hits, models.RelevanceSupporting))
			points += len(hits)
		}
	}

	for i, agentID := range intent.AgentIDs {
		if i >= maxAgentQueries {
			break
		}
		label := "agent alerts: " + agentID
		hits, err := c.index.Search(ctx, c.index.AlertsPattern(), agentQuery(agentID, agentQuerySize))
		if err != nil {
			sources = append(sources, errorSource(models.OriginIndex, label, err.Error()))
			continue
		}
		sources = append(sources, hitsSource(label, hits, models.RelevanceSupporting))
		points += len(hits)
	}

	return sources, points
}

func fullTextQuery(keywords []string, size int) map[string]interface{} {
	query := ""
	for i, k := range keywords {
		if i > 0 {
			query += " "
		}
		query += k
	}
	return map[string]interface{}{
		"size": size,
		"sort": []map[string]interface{}{
			{"timestamp": map[string]string{"order": "desc"}},
		},
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": []string{"rule.description", "full_log", "data.*"},
			},
		},
	}
}

func agentQuery(agentID string, size int) map[string]interface{} {
	return map[string]interface{}{
		"size": size,
		"sort": []map[string]interface{}{
			{"timestamp": map[string]string{"order": "desc"}},
		},
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"should": []map[string]interface{}{
					{"term": map[string]interface{}{"agent.id": agentID}},
					{"match": map[string]interface{}{"agent.name": agentID}},
				},
				"minimum_should_match": 1,
			},
		},
	}
}

func anyKeywordMatches(keywords []string, re *regexp.Regexp) bool {
	for _, k := range keywords {
		if re.MatchString(k) {
			return true
		}
	}
	return false
}

func errorSource(origin models.SourceOrigin, label, detail string) models.RetrievalSource {
	return models.RetrievalSource{
		Origin:    origin,
		Label:     label,
		Payload:   detail,
		Relevance: models.RelevanceError,
	}
}

func jsonSource(origin models.SourceOrigin, label string, payload interface{}, relevance models.SourceRelevance) models.RetrievalSource {
	data, err := json.Marshal(payload)
	if err != nil {
		return errorSource(origin, label, fmt.Sprintf("encode payload: %v", err))
	}
	return models.RetrievalSource{
		Origin:    origin,
		Label:     label,
		Payload:   string(data),
		Relevance: relevance,
	}
}

func hitsSource(label string, hits []repo.IndexHit, relevance models.SourceRelevance) models.RetrievalSource {
	docs := make([]json.RawMessage, 0, len(hits))
	for _, hit := range hits {
		docs = append(docs, hit.Source)
	}
	return jsonSource(models.OriginIndex, label, docs, relevance)
}
