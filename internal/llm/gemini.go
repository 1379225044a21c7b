package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"newsbrief/internal/model"
)

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini speaks Google's generateContent wire format. The API has no
// system role and requires strict user/model alternation, so system
// messages are folded into the first user turn.
type Gemini struct {
	cfg     model.LLMProviderConfig
	baseURL string
}

// NewGemini builds the provider. An empty base URL falls back to the
// public Google endpoint.
func NewGemini(cfg model.LLMProviderConfig) *Gemini {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	return &Gemini{cfg: cfg, baseURL: strings.TrimSuffix(baseURL, "/")}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// translateMessages converts the uniform message model into Gemini
// contents: consecutive leading system messages are concatenated and
// prepended to the first user message, and "assistant" becomes "model".
func translateMessages(messages []Message) []geminiContent {
	var systemParts []string
	rest := messages
	for len(rest) > 0 && rest[0].Role == "system" {
		systemParts = append(systemParts, rest[0].Content)
		rest = rest[1:]
	}
	systemPrefix := strings.Join(systemParts, "\n\n")

	var contents []geminiContent
	for _, m := range rest {
		role := m.Role
		if role == "assistant" {
			role = "model"
		}
		text := m.Content
		if systemPrefix != "" && role == "user" {
			text = systemPrefix + "\n\n" + text
			systemPrefix = ""
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: text}}})
	}
	if systemPrefix != "" {
		// Only system messages were supplied; send them as a user turn.
		contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: systemPrefix}}})
	}
	return contents
}

// Chat calls models/{model}:generateContent with the key as a query
// parameter.
func (p *Gemini) Chat(ctx context.Context, messages []Message, temperature *float64, maxTokens *int) (*Response, error) {
	reqBody := geminiRequest{Contents: translateMessages(messages)}
	reqBody.GenerationConfig.Temperature = p.cfg.Temperature
	reqBody.GenerationConfig.MaxOutputTokens = p.cfg.MaxTokens
	if temperature != nil {
		reqBody.GenerationConfig.Temperature = *temperature
	}
	if maxTokens != nil {
		reqBody.GenerationConfig.MaxOutputTokens = *maxTokens
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		p.baseURL, p.cfg.ModelName, url.QueryEscape(p.cfg.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

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
		return nil, &ProviderError{Provider: "gemini", Status: resp.StatusCode, Body: string(body)}
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &ProviderError{Provider: "gemini", Status: resp.StatusCode, Body: "malformed response: " + err.Error()}
	}
	if len(parsed.Candidates) == 0 {
		return nil, &ProviderError{Provider: "gemini", Status: resp.StatusCode, Body: "response contains no candidates"}
	}

	var content strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		content.WriteString(part.Text)
	}
	return &Response{
		Content:          content.String(),
		PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
		CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
		TotalTokens:      parsed.UsageMetadata.TotalTokenCount,
	}, nil
}

// TestConnection reports whether a minimal chat round-trip succeeds.
func (p *Gemini) TestConnection(ctx context.Context) bool {
	return probe(ctx, p)
}
