// Package summary provides per-article LLM summarization.
package summary

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	log "github.com/go-pkgz/lgr"

	"newsbrief/internal/database"
	"newsbrief/internal/llm"
	"newsbrief/internal/model"
	"newsbrief/internal/textutil"
)

const systemPrompt = "You are a news editor. Summarize articles concisely and accurately."

const promptTemplate = `Summarize the following article. Start with a one-paragraph summary, then list the key points as bullet lines starting with "-".

Title: %s

Content:
%s`

// Service creates and retrieves article summaries.
type Service struct {
	db database.Store
}

// NewService creates a summarization service.
func NewService(db database.Store) *Service {
	return &Service{db: db}
}

// Summarize returns the article's summary, generating one through the
// resolved provider if none exists. Idempotent: an existing summary is
// returned unchanged with no provider call.
func (s *Service) Summarize(ctx context.Context, articleID int64, configID *int64) (*model.Summary, error) {
	existing, err := s.db.GetSummaryByArticleID(articleID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	article, err := s.db.GetArticleByID(articleID)
	if err != nil {
		return nil, err
	}

	cfg, provider, err := llm.Resolve(s.db, configID)
	if err != nil {
		return nil, err
	}

	content := textutil.Truncate(textutil.StripHTML(article.Content), textutil.MaxSummaryInputLength)
	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf(promptTemplate, article.Title, content)},
	}

	resp, err := provider.Chat(ctx, messages, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("summarize article %d: %w", articleID, err)
	}

	summaryText, keyPoints := ParseSummary(resp.Content)
	result := &model.Summary{
		ArticleID:   articleID,
		LLMProvider: string(cfg.ProviderType),
		LLMModel:    cfg.ModelName,
		SummaryText: summaryText,
		KeyPoints:   keyPoints,
		TokenUsage:  resp.TotalTokens,
	}
	id, err := s.db.CreateSummary(result)
	if err != nil {
		return nil, fmt.Errorf("persist summary for article %d: %w", articleID, err)
	}
	result.ID = id
	log.Printf("[INFO] summarized article %d (%d tokens)", articleID, resp.TotalTokens)
	return result, nil
}

// BatchResult is the per-article outcome of a batch run.
type BatchResult struct {
	ArticleID int64  `json:"article_id"`
	Success   bool   `json:"success"`
	SummaryID int64  `json:"summary_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// BatchSummarize processes articles sequentially; each one succeeds or
// fails on its own and a failure never aborts the batch.
func (s *Service) BatchSummarize(ctx context.Context, articleIDs []int64, configID *int64) []BatchResult {
	results := make([]BatchResult, 0, len(articleIDs))
	for _, articleID := range articleIDs {
		summary, err := s.Summarize(ctx, articleID, configID)
		if err != nil {
			log.Printf("[WARN] batch summarize article %d failed: %v", articleID, err)
			results = append(results, BatchResult{ArticleID: articleID, Error: err.Error()})
			continue
		}
		results = append(results, BatchResult{ArticleID: articleID, Success: true, SummaryID: summary.ID})
	}
	return results
}

// bulletPattern matches a key-point line: -, *, • or a numbered marker,
// followed by whitespace.
var bulletPattern = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+`)

// ParseSummary splits a raw LLM response into prose summary and key
// points. Bullet lines become key points; non-bullet lines before the
// first bullet form the summary; non-bullet lines after the first
// bullet are discarded to keep the "paragraph first, bullets after"
// template contract. When nothing is extracted, the whole raw text is
// the summary.
func ParseSummary(raw string) (string, []string) {
	var proseLines []string
	var keyPoints []string
	seenBullet := false

	for _, line := range strings.Split(raw, "\n") {
		if marker := bulletPattern.FindString(line); marker != "" {
			seenBullet = true
			keyPoints = append(keyPoints, strings.TrimSpace(line[len(marker):]))
			continue
		}
		if seenBullet {
			continue
		}
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			proseLines = append(proseLines, trimmed)
		}
	}

	summaryText := strings.Join(proseLines, "\n")
	if summaryText == "" && len(keyPoints) == 0 {
		return strings.TrimSpace(raw), nil
	}
	return summaryText, keyPoints
}
