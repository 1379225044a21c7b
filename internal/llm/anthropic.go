package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"newsbrief/internal/model"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
)

// Anthropic speaks the Messages API. System messages are extracted into
// the top-level system field; the messages array must not contain them.
type Anthropic struct {
	cfg     model.LLMProviderConfig
	baseURL string
}

// NewAnthropic builds the provider. An empty base URL falls back to the
// public Anthropic endpoint.
func NewAnthropic(cfg model.LLMProviderConfig) *Anthropic {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}
	return &Anthropic{cfg: cfg, baseURL: strings.TrimSuffix(baseURL, "/")}
}

type anthropicRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Chat sends the messages with x-api-key auth and the fixed version
// header.
func (p *Anthropic) Chat(ctx context.Context, messages []Message, temperature *float64, maxTokens *int) (*Response, error) {
	var systemParts []string
	var rest []Message
	for _, m := range messages {
		if m.Role == "system" {
			systemParts = append(systemParts, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	if len(rest) == 0 {
		// The API rejects an empty messages array.
		rest = []Message{{Role: "user", Content: "hi"}}
	}

	reqBody := anthropicRequest{
		Model:       p.cfg.ModelName,
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: p.cfg.Temperature,
		System:      strings.Join(systemParts, "\n\n"),
		Messages:    rest,
	}
	if temperature != nil {
		reqBody.Temperature = *temperature
	}
	if maxTokens != nil {
		reqBody.MaxTokens = *maxTokens
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: "anthropic", Status: resp.StatusCode, Body: string(body)}
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &ProviderError{Provider: "anthropic", Status: resp.StatusCode, Body: "malformed response: " + err.Error()}
	}

	var content strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	return &Response{
		Content:          content.String(),
		PromptTokens:     parsed.Usage.InputTokens,
		CompletionTokens: parsed.Usage.OutputTokens,
		TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
	}, nil
}

// TestConnection reports whether a minimal chat round-trip succeeds.
func (p *Anthropic) TestConnection(ctx context.Context) bool {
	return probe(ctx, p)
}
