// Package llm provides a uniform chat interface over multiple LLM
// backends: the OpenAI-compatible family, Google Gemini, and Anthropic.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"newsbrief/internal/database"
	"newsbrief/internal/model"
)

// ErrNoConfig is returned when no provider config resolves: the request
// named none and no config carries the default flag.
var ErrNoConfig = errors.New("no llm provider configured")

// ProviderError reports a non-success status or malformed response from
// an upstream provider. Callers decide retry policy; none is implemented.
type ProviderError struct {
	Provider string
	Status   int
	Body     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s request failed with status %d: %s", e.Provider, e.Status, e.Body)
}

// Message is one role-tagged turn of a chat exchange.
type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// Response is a completed chat call.
type Response struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Provider is a live LLM backend resolved from a config record.
type Provider interface {
	// Chat sends the message sequence and returns the completion.
	// temperature and maxTokens override the config values when non-nil.
	Chat(ctx context.Context, messages []Message, temperature *float64, maxTokens *int) (*Response, error)

	// TestConnection sends a minimal probe and reports reachability.
	TestConnection(ctx context.Context) bool
}

// LLM calls get a longer timeout than feed fetches; generation is slow.
var httpClient = &http.Client{Timeout: 60 * time.Second}

// New builds a provider from a config record, dispatching on kind.
func New(cfg model.LLMProviderConfig) (Provider, error) {
	switch cfg.ProviderType {
	case model.ProviderOpenAI, model.ProviderZhipu, model.ProviderDoubao,
		model.ProviderMiniMax, model.ProviderOpenAICompat:
		return NewOpenAICompat(cfg)
	case model.ProviderGemini:
		return NewGemini(cfg), nil
	case model.ProviderAnthropic:
		return NewAnthropic(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported provider type %q", cfg.ProviderType)
	}
}

// Resolve loads a provider config by id, or the default config when
// configID is nil, and instantiates its provider.
func Resolve(store database.Store, configID *int64) (*model.LLMProviderConfig, Provider, error) {
	var cfg *model.LLMProviderConfig
	var err error
	if configID != nil {
		cfg, err = store.GetLLMConfigByID(*configID)
	} else {
		cfg, err = store.GetDefaultLLMConfig()
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil, ErrNoConfig
		}
	}
	if err != nil {
		return nil, nil, err
	}
	provider, err := New(*cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, provider, nil
}

// probe is the shared TestConnection body: a tiny one-turn request,
// errors swallowed into a boolean.
func probe(ctx context.Context, p Provider) bool {
	maxTokens := 10
	_, err := p.Chat(ctx, []Message{{Role: "user", Content: "Hello"}}, nil, &maxTokens)
	return err == nil
}
