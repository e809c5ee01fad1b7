package safety

import (
	"strings"
	"testing"
)

func TestCheckQueryBlocksWriteIntent(t *testing.T) {
	v := NewValidator()

	blocked := []string{
		"delete the agent web-01 from the manager",
		"please restart the wazuh manager service",
		"trigger an active-response on host db-02",
		"execute this command on the compromised host",
		"update the ossec.conf configuration for agent 003",
		"disable rule 5710 for now",
		"isolate the endpoint 10.0.0.12",
	}
	for _, query := range blocked {
		if res := v.CheckQuery(query); !res.Blocked {
			t.Errorf("expected block for %q", query)
		}
	}
}

func TestCheckQueryAllowsReadOnlyQuestions(t *testing.T) {
	v := NewValidator()

	allowed := []string{
		"why did rule 5710 fire on web-01 last night?",
		"show me recent ssh brute force alerts",
		"what does the agent restart alert mean?",
		"which CVEs affect agent db-02?",
		"summarize error patterns for the api endpoints",
	}
	for _, query := range allowed {
		if res := v.CheckQuery(query); res.Blocked {
			t.Errorf("unexpected block for %q (pattern %s)", query, res.Pattern)
		}
	}
}

func TestScanAnswerRedactsDestructiveOperations(t *testing.T) {
	v := NewValidator()

	answer := "To clean up, call DELETE /api/v4/agents with the stale ids, " +
		"or run systemctl restart wazuh-agent on the host."
	res := v.ScanAnswer(answer)

	if !res.Filtered {
		t.Fatalf("expected filtered result")
	}
	if strings.Contains(res.Text, "DELETE /api/v4/agents") {
		t.Fatalf("literal destructive call survived redaction: %s", res.Text)
	}
	if strings.Contains(res.Text, "systemctl restart") {
		t.Fatalf("shell command survived redaction: %s", res.Text)
	}
	if !strings.Contains(res.Text, RedactionMarker) {
		t.Fatalf("expected redaction marker in %s", res.Text)
	}
	if len(res.Matches) < 2 {
		t.Fatalf("expected both matches recorded, got %v", res.Matches)
	}
}

func TestScanAnswerIdempotentOnCleanText(t *testing.T) {
	v := NewValidator()

	clean := "Rule 5710 indicates repeated SSH authentication failures. " +
		"Review the source IPs and correlate with the auth log volume."

	first := v.ScanAnswer(clean)
	if first.Filtered {
		t.Fatalf("clean text flagged as filtered: %v", first.Matches)
	}
	second := v.ScanAnswer(first.Text)
	if second.Filtered || second.Text != first.Text {
		t.Fatalf("scan not idempotent: %q vs %q", first.Text, second.Text)
	}
}
