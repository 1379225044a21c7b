package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsbrief/internal/model"
)

func openAIConfig(baseURL string) model.LLMProviderConfig {
	return model.LLMProviderConfig{
		ProviderType: model.ProviderOpenAICompat,
		APIKey:       "sk-test-key",
		BaseURL:      baseURL,
		ModelName:    "gpt-4o-mini",
		Temperature:  0.5,
		MaxTokens:    512,
	}
}

func TestOpenAICompatChat(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "a summary"}}},
			"usage":   map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	defer srv.Close()

	p, err := NewOpenAICompat(openAIConfig(srv.URL))
	require.NoError(t, err)

	resp, err := p.Chat(context.Background(), []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "summarize this"},
	}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-test-key", gotAuth)
	assert.Equal(t, "gpt-4o-mini", gotBody["model"])
	assert.Equal(t, 0.5, gotBody["temperature"])
	assert.Equal(t, float64(512), gotBody["max_tokens"])

	// Messages pass through verbatim, system role included.
	messages := gotBody["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])

	assert.Equal(t, "a summary", resp.Content)
	assert.Equal(t, 10, resp.PromptTokens)
	assert.Equal(t, 5, resp.CompletionTokens)
	assert.Equal(t, 15, resp.TotalTokens)
}

func TestOpenAICompatOverrides(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "ok"}}},
		})
	}))
	defer srv.Close()

	p, err := NewOpenAICompat(openAIConfig(srv.URL))
	require.NoError(t, err)

	temp := 1.2
	maxTokens := 10
	_, err = p.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, &temp, &maxTokens)
	require.NoError(t, err)
	assert.Equal(t, 1.2, gotBody["temperature"])
	assert.Equal(t, float64(10), gotBody["max_tokens"])
}

func TestOpenAICompatDefaultBaseURLs(t *testing.T) {
	for kind, want := range map[model.ProviderKind]string{
		model.ProviderOpenAI:  "https://api.openai.com/v1",
		model.ProviderZhipu:   "https://open.bigmodel.cn/api/paas/v4",
		model.ProviderDoubao:  "https://ark.cn-beijing.volces.com/api/v3",
		model.ProviderMiniMax: "https://api.minimax.chat/v1",
	} {
		cfg := openAIConfig("")
		cfg.ProviderType = kind
		p, err := NewOpenAICompat(cfg)
		require.NoError(t, err)
		assert.Equal(t, want, p.baseURL)
	}
}

func TestOpenAICompatRequiresBaseURL(t *testing.T) {
	cfg := openAIConfig("")
	_, err := NewOpenAICompat(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base URL")
}

func TestOpenAICompatProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := NewOpenAICompat(openAIConfig(srv.URL))
	require.NoError(t, err)

	_, err = p.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, nil)
	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, http.StatusTooManyRequests, provErr.Status)
}

func TestGeminiChat(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{"parts": []map[string]any{{"text": "part one "}, {"text": "part two"}}},
			}},
			"usageMetadata": map[string]int{"promptTokenCount": 7, "candidatesTokenCount": 3, "totalTokenCount": 10},
		})
	}))
	defer srv.Close()

	cfg := model.LLMProviderConfig{
		ProviderType: model.ProviderGemini,
		APIKey:       "gm-key",
		BaseURL:      srv.URL,
		ModelName:    "gemini-pro",
		Temperature:  0.3,
		MaxTokens:    256,
	}
	p := NewGemini(cfg)

	resp, err := p.Chat(context.Background(), []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "summarize"},
		{Role: "assistant", Content: "done"},
	}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "/models/gemini-pro:generateContent", gotPath)
	assert.Equal(t, "gm-key", gotKey)

	contents := gotBody["contents"].([]any)
	require.Len(t, contents, 2)

	// System text folds into the first user turn.
	first := contents[0].(map[string]any)
	assert.Equal(t, "user", first["role"])
	firstText := first["parts"].([]any)[0].(map[string]any)["text"]
	assert.Equal(t, "be brief\n\nsummarize", firstText)

	// Assistant renames to model.
	second := contents[1].(map[string]any)
	assert.Equal(t, "model", second["role"])

	genCfg := gotBody["generationConfig"].(map[string]any)
	assert.Equal(t, 0.3, genCfg["temperature"])
	assert.Equal(t, float64(256), genCfg["maxOutputTokens"])

	assert.Equal(t, "part one part two", resp.Content)
	assert.Equal(t, 10, resp.TotalTokens)
}

func TestAnthropicChat(t *testing.T) {
	var gotKey, gotVersion string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": "first "},
				{"type": "tool_use", "text": "ignored"},
				{"type": "text", "text": "second"},
			},
			"usage": map[string]int{"input_tokens": 8, "output_tokens": 4},
		})
	}))
	defer srv.Close()

	cfg := model.LLMProviderConfig{
		ProviderType: model.ProviderAnthropic,
		APIKey:       "an-key",
		BaseURL:      srv.URL,
		ModelName:    "claude-sonnet",
		Temperature:  0.7,
		MaxTokens:    1024,
	}
	p := NewAnthropic(cfg)

	resp, err := p.Chat(context.Background(), []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "summarize"},
	}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "an-key", gotKey)
	assert.Equal(t, "2023-06-01", gotVersion)

	// System messages move to the top-level field.
	assert.Equal(t, "be brief", gotBody["system"])
	messages := gotBody["messages"].([]any)
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].(map[string]any)["role"])

	// Only text blocks contribute to content; totals are input+output.
	assert.Equal(t, "first second", resp.Content)
	assert.Equal(t, 8, resp.PromptTokens)
	assert.Equal(t, 4, resp.CompletionTokens)
	assert.Equal(t, 12, resp.TotalTokens)
}

func TestAnthropicPlaceholderUserTurn(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{{"type": "text", "text": "ok"}},
		})
	}))
	defer srv.Close()

	p := NewAnthropic(model.LLMProviderConfig{
		ProviderType: model.ProviderAnthropic,
		APIKey:       "an-key",
		BaseURL:      srv.URL,
		ModelName:    "claude-sonnet",
		MaxTokens:    100,
	})
	_, err := p.Chat(context.Background(), []Message{{Role: "system", Content: "only system"}}, nil, nil)
	require.NoError(t, err)

	messages := gotBody["messages"].([]any)
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].(map[string]any)["role"])
	assert.Equal(t, "hi", messages[0].(map[string]any)["content"])
}

func TestNewDispatch(t *testing.T) {
	srvURL := "http://localhost:1"

	p, err := New(model.LLMProviderConfig{ProviderType: model.ProviderOpenAI, BaseURL: srvURL})
	require.NoError(t, err)
	assert.IsType(t, &OpenAICompat{}, p)

	p, err = New(model.LLMProviderConfig{ProviderType: model.ProviderGemini})
	require.NoError(t, err)
	assert.IsType(t, &Gemini{}, p)

	p, err = New(model.LLMProviderConfig{ProviderType: model.ProviderAnthropic})
	require.NoError(t, err)
	assert.IsType(t, &Anthropic{}, p)

	_, err = New(model.LLMProviderConfig{ProviderType: "mystery"})
	require.Error(t, err)
}

func TestTestConnection(t *testing.T) {
	var gotMaxTokens float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		gotMaxTokens = body["max_tokens"].(float64)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "ok"}}},
		})
	}))
	defer srv.Close()

	p, err := NewOpenAICompat(openAIConfig(srv.URL))
	require.NoError(t, err)
	assert.True(t, p.TestConnection(context.Background()))
	assert.Equal(t, float64(10), gotMaxTokens)

	srv.Close()
	assert.False(t, p.TestConnection(context.Background()))
}
