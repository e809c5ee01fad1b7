package repo

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

func TestIndexSearchPostsToPattern(t *testing.T) {
	client := NewIndexClient("https://index.example.com", "admin", "secret", "", "", time.Second)
	client.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/wazuh-alerts-*/_search" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if user, pass, ok := req.BasicAuth(); !ok || user != "admin" || pass != "secret" {
			t.Fatalf("missing basic auth")
		}
		var body map[string]any
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if _, ok := body["query"]; !ok {
			t.Fatalf("query missing from body: %v", body)
		}
		return graphResponse(t, map[string]any{
			"hits": map[string]any{
				"hits": []map[string]any{
					{"_id": "a1", "_index": "wazuh-alerts-2026.08", "_score": 1.2, "_source": map[string]any{"foo": "bar"}},
				},
			},
		}), nil
	}))

	hits, err := client.Search(context.Background(), client.AlertsPattern(), map[string]interface{}{
		"query": map[string]interface{}{"match_all": map[string]interface{}{}},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "a1" {
		t.Fatalf("unexpected hits: %+v", hits)
	}
}

func TestRecentAlertsDecodesDocuments(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	client := NewIndexClient("https://index.example.com", "", "", "", "", time.Second)
	client.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return graphResponse(t, map[string]any{
			"hits": map[string]any{
				"hits": []map[string]any{
					{
						"_id": "alert-1",
						"_source": map[string]any{
							"timestamp": now.Format(time.RFC3339),
							"rule": map[string]any{
								"id":          "5710",
								"description": "sshd: attempt to login using a non-existent user",
								"level":       5,
								"mitre":       map[string]any{"id": []string{"T1110"}},
							},
							"agent": map[string]any{"id": "003", "name": "web-01"},
						},
					},
				},
			},
		}), nil
	}))

	alerts, err := client.RecentAlerts(context.Background(), now.Add(-90*time.Second), 0)
	if err != nil {
		t.Fatalf("recent alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts))
	}
	alert := alerts[0]
	if alert.AlertID != "alert-1" || alert.RuleID != "5710" || alert.RuleLevel != 5 {
		t.Fatalf("unexpected alert: %+v", alert)
	}
	if alert.AgentName != "web-01" || len(alert.TechniqueIDs) != 1 || alert.TechniqueIDs[0] != "T1110" {
		t.Fatalf("unexpected agent/technique fields: %+v", alert)
	}
}

func TestIndexUnconfiguredShortCircuits(t *testing.T) {
	client := NewIndexClient("", "", "", "", "", time.Second)
	if _, err := client.Search(context.Background(), "anything", nil); err == nil {
		t.Fatalf("expected error for unconfigured index adapter")
	}
}
