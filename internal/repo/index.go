package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sentrastack/sentra-triage/internal/models"
)

// IndexHit is one document returned from the telemetry search index.
type IndexHit struct {
	ID     string          `json:"_id"`
	Index  string          `json:"_index"`
	Score  float64         `json:"_score"`
	Source json.RawMessage `json:"_source"`
}

// IndexClient issues read-only searches against the full-text telemetry index
// holding alert and vulnerability documents.
type IndexClient struct {
	baseURL       string
	username      string
	password      string
	alertsPattern string
	vulnsPattern  string
	httpClient    *http.Client
}

// NewIndexClient constructs a client for the search index.
func NewIndexClient(baseURL, username, password, alertsPattern, vulnsPattern string, timeout time.Duration) *IndexClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if alertsPattern == "" {
		alertsPattern = "wazuh-alerts-*"
	}
	if vulnsPattern == "" {
		vulnsPattern = "wazuh-states-vulnerabilities-*"
	}
	return &IndexClient{
		baseURL:       strings.TrimRight(baseURL, "/"),
		username:      username,
		password:      password,
		alertsPattern: alertsPattern,
		vulnsPattern:  vulnsPattern,
		httpClient:    &http.Client{Timeout: timeout},
	}
}

// Configured reports whether an index endpoint has been set.
func (c *IndexClient) Configured() bool {
	return c != nil && c.baseURL != ""
}

// AlertsPattern returns the collection pattern holding alert documents.
func (c *IndexClient) AlertsPattern() string { return c.alertsPattern }

// VulnsPattern returns the collection pattern holding vulnerability documents.
func (c *IndexClient) VulnsPattern() string { return c.vulnsPattern }

// Search executes a query body against the given collection pattern and
// returns raw hits.
func (c *IndexClient) Search(ctx context.Context, pattern string, body map[string]interface{}) ([]IndexHit, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("index adapter not configured")
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/_search", c.baseURL, pattern)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("index search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("index returned status %d", resp.StatusCode)
	}

	var decoded struct {
		Hits struct {
			Hits []IndexHit `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return decoded.Hits.Hits, nil
}

// RecentAlerts returns alerts newer than since, ascending by timestamp. Used
// by the auto-enqueue poller.
func (c *IndexClient) RecentAlerts(ctx context.Context, since time.Time, limit int) ([]models.IndexedAlert, error) {
	if limit <= 0 {
		limit = 100
	}
	body := map[string]interface{}{
		"size": limit,
		"sort": []map[string]interface{}{
			{"timestamp": map[string]string{"order": "asc"}},
		},
		"query": map[string]interface{}{
			"range": map[string]interface{}{
				"timestamp": map[string]string{"gte": since.UTC().Format(time.RFC3339)},
			},
		},
	}

	hits, err := c.Search(ctx, c.alertsPattern, body)
	if err != nil {
		return nil, err
	}

	alerts := make([]models.IndexedAlert, 0, len(hits))
	for _, hit := range hits {
		alert, err := decodeAlert(hit)
		if err != nil {
			continue
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

func decodeAlert(hit IndexHit) (models.IndexedAlert, error) {
	var doc struct {
		Timestamp time.Time `json:"timestamp"`
		Rule      struct {
			ID          string `json:"id"`
			Description string `json:"description"`
			Level       int    `json:"level"`
			Mitre       struct {
				IDs []string `json:"id"`
			} `json:"mitre"`
		} `json:"rule"`
		Agent struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"agent"`
	}
	if err := json.Unmarshal(hit.Source, &doc); err != nil {
		return models.IndexedAlert{}, fmt.Errorf("decode alert %s: %w", hit.ID, err)
	}

	return models.IndexedAlert{
		AlertID:         hit.ID,
		RuleID:          doc.Rule.ID,
		RuleDescription: doc.Rule.Description,
		RuleLevel:       doc.Rule.Level,
		AgentID:         doc.Agent.ID,
		AgentName:       doc.Agent.Name,
		TechniqueIDs:    doc.Rule.Mitre.IDs,
		Timestamp:       doc.Timestamp,
		Raw:             string(hit.Source),
	}, nil
}
