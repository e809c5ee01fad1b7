package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Message is one chat turn sent to the completion backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one completion call. Schema, when set, constrains the
// output shape (JSON schema enforced by the backend where supported).
type Request struct {
	Messages    []Message
	Schema      json.RawMessage
	SchemaName  string
	MaxTokens   int
	Temperature float64
}

// Usage reports token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Completion is the backend's answer to one Request.
type Completion struct {
	Text  string
	Usage Usage
}

// Client is the black-box completion capability. Implementations must be safe
// for concurrent use; concurrency limits are enforced by the Gate, not here.
type Client interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

// HTTPClient targets an OpenAI-compatible chat-completions endpoint.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewHTTPClient constructs a client for the configured completion backend.
func NewHTTPClient(baseURL, apiKey, model string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Complete issues one chat-completion call and returns the first choice.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (Completion, error) {
	if c == nil || c.baseURL == "" {
		return Completion{}, fmt.Errorf("completion backend not configured")
	}

	payload := map[string]interface{}{
		"model":    c.model,
		"messages": req.Messages,
	}
	if req.MaxTokens > 0 {
		payload["max_tokens"] = req.MaxTokens
	}
	if req.Temperature > 0 {
		payload["temperature"] = req.Temperature
	}
	if len(req.Schema) > 0 {
		name := req.SchemaName
		if name == "" {
			name = "response"
		}
		payload["response_format"] = map[string]interface{}{
			"type": "json_schema",
			"json_schema": map[string]interface{}{
				"name":   name,
				"schema": req.Schema,
				"strict": true,
			},
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Completion{}, fmt.Errorf("encode completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Completion{}, fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Completion{}, fmt.Errorf("completion backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage Usage `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Completion{}, fmt.Errorf("decode completion response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return Completion{}, fmt.Errorf("completion backend returned no choices")
	}

	return Completion{Text: decoded.Choices[0].Message.Content, Usage: decoded.Usage}, nil
}
