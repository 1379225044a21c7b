// Package digest builds periodic reports from stored article summaries.
package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"

	"newsbrief/internal/database"
	"newsbrief/internal/llm"
	"newsbrief/internal/model"
)

const digestSystemPrompt = "You are a news editor writing periodic digest reports in markdown."

const digestTemplate = `Write a %s news digest covering %s to %s. Group related stories, highlight the most important developments, and keep the tone neutral. Use markdown headings.

Article summaries:

%s`

// Service generates digest reports.
type Service struct {
	db database.Store
}

// NewService creates a digest service.
func NewService(db database.Store) *Service {
	return &Service{db: db}
}

// Generate builds a report over [start, end) from summarized articles and
// persists it. Fails with database.ErrNotFound when the window holds no
// summarized articles; nothing is persisted on any failure.
func (s *Service) Generate(ctx context.Context, period model.PeriodKind, start, end time.Time, configID *int64) (*model.DigestReport, error) {
	if !period.Valid() {
		return nil, fmt.Errorf("invalid period type %q", period)
	}

	articles, summaries, err := s.db.GetSummarizedArticlesInWindow(start, end)
	if err != nil {
		return nil, err
	}
	if len(articles) == 0 {
		return nil, database.ErrNotFound
	}

	cfg, provider, err := llm.Resolve(s.db, configID)
	if err != nil {
		return nil, err
	}

	blocks := make([]string, len(articles))
	for i, article := range articles {
		blocks[i] = renderBlock(i+1, article, summaries[i])
	}
	prompt := fmt.Sprintf(digestTemplate, period,
		start.Format("2006-01-02"), end.Format("2006-01-02"),
		strings.Join(blocks, "\n\n---\n\n"))

	resp, err := provider.Chat(ctx, []llm.Message{
		{Role: "system", Content: digestSystemPrompt},
		{Role: "user", Content: prompt},
	}, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("generate %s digest: %w", period, err)
	}

	report := &model.DigestReport{
		PeriodType:   period,
		PeriodStart:  start,
		PeriodEnd:    end,
		Content:      resp.Content,
		ArticleCount: len(articles),
		LLMProvider:  string(cfg.ProviderType),
		LLMModel:     cfg.ModelName,
	}
	id, err := s.db.CreateDigest(report)
	if err != nil {
		return nil, fmt.Errorf("persist %s digest: %w", period, err)
	}
	report.ID = id
	log.Printf("[INFO] generated %s digest over %d articles", period, len(articles))
	return report, nil
}

// renderBlock formats one article with its summary for the digest prompt.
func renderBlock(index int, article model.Article, summary model.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s\n%s", index, article.Title, summary.SummaryText)
	if len(summary.KeyPoints) > 0 {
		b.WriteString("\nKey points:")
		for _, point := range summary.KeyPoints {
			b.WriteString("\n  - " + point)
		}
	}
	return b.String()
}

// DailyWindow returns the UTC calendar day of the anchor as [00:00, +24h).
// A nil anchor means yesterday.
func DailyWindow(anchor *time.Time) (time.Time, time.Time) {
	day := time.Now().UTC().AddDate(0, 0, -1)
	if anchor != nil {
		day = anchor.UTC()
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// WeeklyWindow returns the Monday-aligned UTC week containing the anchor.
// A nil anchor means one week ago.
func WeeklyWindow(anchor *time.Time) (time.Time, time.Time) {
	day := time.Now().UTC().AddDate(0, 0, -7)
	if anchor != nil {
		day = anchor.UTC()
	}
	// time.Weekday numbers Sunday as 0; shift so Monday is day zero.
	offset := (int(day.Weekday()) + 6) % 7
	monday := day.AddDate(0, 0, -offset)
	start := time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 7)
}

// MonthlyWindow returns the UTC calendar month containing the anchor.
// A nil anchor means 32 days ago, which always lands in the prior month.
func MonthlyWindow(anchor *time.Time) (time.Time, time.Time) {
	day := time.Now().UTC().AddDate(0, 0, -32)
	if anchor != nil {
		day = anchor.UTC()
	}
	start := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// WindowFor computes the default window for a period kind.
func WindowFor(period model.PeriodKind, anchor *time.Time) (time.Time, time.Time, error) {
	switch period {
	case model.PeriodDaily:
		start, end := DailyWindow(anchor)
		return start, end, nil
	case model.PeriodWeekly:
		start, end := WeeklyWindow(anchor)
		return start, end, nil
	case model.PeriodMonthly:
		start, end := MonthlyWindow(anchor)
		return start, end, nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("invalid period type %q", period)
	}
}
