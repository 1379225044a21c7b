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

// defaultBaseURLs maps known OpenAI-compatible providers to their public
// endpoints. The generic openai_compat kind has no default and requires
// an explicit base URL.
var defaultBaseURLs = map[model.ProviderKind]string{
	model.ProviderOpenAI:  "https://api.openai.com/v1",
	model.ProviderZhipu:   "https://open.bigmodel.cn/api/paas/v4",
	model.ProviderDoubao:  "https://ark.cn-beijing.volces.com/api/v3",
	model.ProviderMiniMax: "https://api.minimax.chat/v1",
}

// OpenAICompat speaks the chat/completions wire format shared by OpenAI,
// Zhipu, Doubao, MiniMax and self-hosted compatible servers.
type OpenAICompat struct {
	cfg     model.LLMProviderConfig
	baseURL string
}

// NewOpenAICompat builds the provider, resolving the base URL from the
// config override or the known-provider table. Missing both is a
// configuration error.
func NewOpenAICompat(cfg model.LLMProviderConfig) (*OpenAICompat, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURLs[cfg.ProviderType]
	}
	if baseURL == "" {
		return nil, fmt.Errorf("provider %q requires a base URL", cfg.ProviderType)
	}
	return &OpenAICompat{cfg: cfg, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Chat sends the messages array verbatim with bearer-token auth.
func (p *OpenAICompat) Chat(ctx context.Context, messages []Message, temperature *float64, maxTokens *int) (*Response, error) {
	reqBody := openAIRequest{
		Model:       p.cfg.ModelName,
		Messages:    messages,
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
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

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

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
		return nil, &ProviderError{Provider: string(p.cfg.ProviderType), Status: resp.StatusCode, Body: string(body)}
	}

	var parsed openAIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &ProviderError{Provider: string(p.cfg.ProviderType), Status: resp.StatusCode, Body: "malformed response: " + err.Error()}
	}
	if len(parsed.Choices) == 0 {
		return nil, &ProviderError{Provider: string(p.cfg.ProviderType), Status: resp.StatusCode, Body: "response contains no choices"}
	}

	return &Response{
		Content:          parsed.Choices[0].Message.Content,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		TotalTokens:      parsed.Usage.TotalTokens,
	}, nil
}

// TestConnection reports whether a minimal chat round-trip succeeds.
func (p *OpenAICompat) TestConnection(ctx context.Context) bool {
	return probe(ctx, p)
}
