// Command mock-sources serves canned responses for the three upstreams the
// triage engine talks to: the capability knowledge graph, the telemetry
// search index, and the chat-completion backend. Point all three client
// baseURLs at this process for local development.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"
)

type graphEntry struct {
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Risk     string `json:"risk,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

var graphEntries = []graphEntry{
	{Name: "agents_overview", Category: "agents", Risk: "low", Detail: "List registered agents and their status"},
	{Name: "ssh_brute_force_detection", Category: "detections", Risk: "medium", Detail: "Rules 5710-5720 cover SSH authentication abuse"},
	{Name: "vulnerability_inventory", Category: "vulnerabilities", Risk: "low", Detail: "Per-agent CVE inventory from the vulnerability detector"},
}

func alertDoc(id, ruleID, description string, level int, agentName string, age time.Duration) map[string]any {
	return map[string]any{
		"_id":    id,
		"_index": "wazuh-alerts-4.x-sample",
		"_score": 1.0,
		"_source": map[string]any{
			"timestamp": time.Now().Add(-age).UTC().Format(time.RFC3339),
			"rule": map[string]any{
				"id":          ruleID,
				"description": description,
				"level":       level,
				"mitre":       map[string]any{"id": []string{"T1110"}},
			},
			"agent":    map[string]any{"id": "001", "name": agentName},
			"full_log": description,
		},
	}
}

func main() {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Knowledge-graph API.
	mux.HandleFunc("/api/v1/graph/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"endpoints": 112,
			"resources": 14,
			"use_cases": 9,
			"risk_breakdown": map[string]int{
				"low": 80, "medium": 24, "high": 8,
			},
		})
	})
	mux.HandleFunc("/api/v1/graph/search", func(w http.ResponseWriter, r *http.Request) {
		q := strings.ToLower(r.URL.Query().Get("q"))
		var results []graphEntry
		for _, e := range graphEntries {
			if q == "" || strings.Contains(strings.ToLower(e.Name), q) || strings.Contains(strings.ToLower(e.Detail), q) {
				results = append(results, e)
			}
		}
		writeJSON(w, map[string]any{"results": results})
	})
	for _, path := range []string{
		"/api/v1/graph/resources",
		"/api/v1/graph/use-cases",
		"/api/v1/graph/risk",
		"/api/v1/graph/error-patterns",
		"/api/v1/graph/endpoints",
	} {
		mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, map[string]any{"results": graphEntries})
		})
	}

	// Telemetry search index. Any collection pattern gets the same sample set.
	mux.HandleFunc("POST /{pattern}/_search", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"hits": map[string]any{
				"hits": []map[string]any{
					alertDoc("alert-1", "5710", "sshd: attempt to login using a non-existent user", 5, "web-01", 2*time.Minute),
					alertDoc("alert-2", "5712", "sshd: brute force trying to get access to the system", 10, "web-01", time.Minute),
					alertDoc("alert-3", "31151", "multiple web server 400 error codes from same source ip", 10, "proxy-01", 30*time.Second),
				},
			},
		})
	})

	// Chat-completion backend.
	mux.HandleFunc("POST /v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ResponseFormat struct {
				JSONSchema struct {
					Name string `json:"name"`
				} `json:"json_schema"`
			} `json:"response_format"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		content := "Rule 5712 indicates an SSH brute-force attempt against web-01. " +
			"The activity maps to T1110 and has not produced a successful login in the sampled window."
		switch req.ResponseFormat.JSONSchema.Name {
		case "intent":
			content = `{"category":"alert_triage","keywords":["ssh","brute force"],` +
				`"agent_ids":["web-01"],"rule_ids":["5712"],"cves":[],"strategies":["both"],"confidence":0.9}`
		case "follow_ups":
			content = `["Which source IPs drove the brute-force attempts?",` +
				`"Did any login succeed on web-01 in this window?",` +
				`"Are other agents seeing rule 5712?"]`
		}

		writeJSON(w, map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
			"usage": map[string]any{"prompt_tokens": 200, "completion_tokens": 80},
		})
	})

	addr := ":9095"
	log.Printf("mock-sources listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
