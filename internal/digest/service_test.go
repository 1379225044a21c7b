package digest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsbrief/internal/database"
	"newsbrief/internal/model"
)

func TestDailyWindow(t *testing.T) {
	anchor := time.Date(2024, 3, 15, 13, 45, 0, 0, time.UTC)
	start, end := DailyWindow(&anchor)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), end)

	// Default anchor is yesterday: a midnight-aligned day that has
	// already ended.
	start, end = DailyWindow(nil)
	assert.Equal(t, 24*time.Hour, end.Sub(start))
	assert.Zero(t, start.Hour())
	assert.False(t, end.After(time.Now().UTC().Add(time.Second)))
}

func TestWeeklyWindow(t *testing.T) {
	// 2024-03-15 is a Friday; its week starts Monday 2024-03-11.
	anchor := time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)
	start, end := WeeklyWindow(&anchor)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC), end)
	assert.Equal(t, time.Monday, start.Weekday())

	// A Sunday belongs to the week that began the previous Monday.
	sunday := time.Date(2024, 3, 17, 23, 0, 0, 0, time.UTC)
	start, _ = WeeklyWindow(&sunday)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), start)

	// A Monday anchors its own week.
	monday := time.Date(2024, 3, 11, 0, 30, 0, 0, time.UTC)
	start, _ = WeeklyWindow(&monday)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), start)
}

func TestMonthlyWindow(t *testing.T) {
	anchor := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	start, end := MonthlyWindow(&anchor)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), end)

	// December rolls into January.
	december := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)
	start, end = MonthlyWindow(&december)
	assert.Equal(t, time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestWindowFor(t *testing.T) {
	anchor := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	start, end, err := WindowFor(model.PeriodMonthly, &anchor)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), end)

	_, _, err = WindowFor("hourly", nil)
	assert.Error(t, err)
}

func newTestStore(t *testing.T) database.Store {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedSummarizedArticle(t *testing.T, db database.Store, guid string, publishedAt time.Time) {
	t.Helper()
	feedID, err := db.CreateFeed(&model.Feed{
		URL:      "https://example.com/" + guid + ".xml",
		Title:    "Feed",
		IsActive: true,
	})
	require.NoError(t, err)
	feed, err := db.GetFeedByID(feedID)
	require.NoError(t, err)
	_, err = db.CommitFetch(feed, []*model.Article{{
		FeedID:      feedID,
		GUID:        guid,
		Title:       "Story " + guid,
		URL:         "https://example.com/" + guid,
		Content:     "body",
		PublishedAt: &publishedAt,
	}})
	require.NoError(t, err)
	articles, _, err := db.GetArticles(database.ArticleFilter{FeedID: &feedID})
	require.NoError(t, err)
	require.Len(t, articles, 1)
	_, err = db.CreateSummary(&model.Summary{
		ArticleID:   articles[0].ID,
		LLMProvider: "openai",
		LLMModel:    "m",
		SummaryText: "summary of " + guid,
		KeyPoints:   []string{"key " + guid},
	})
	require.NoError(t, err)
}

func TestGenerate(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		for _, m := range body.Messages {
			if m.Role == "user" {
				gotPrompt = m.Content
			}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "# Digest\n\ncontent"}}},
			"usage":   map[string]int{"total_tokens": 50},
		})
	}))
	t.Cleanup(srv.Close)

	db := newTestStore(t)
	_, err := db.CreateLLMConfig(&model.LLMProviderConfig{
		ProviderType: model.ProviderOpenAICompat,
		APIKey:       "key",
		BaseURL:      srv.URL,
		ModelName:    "stub-model",
		IsDefault:    true,
		Temperature:  0.7,
		MaxTokens:    512,
	})
	require.NoError(t, err)

	seedSummarizedArticle(t, db, "a1", time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC))
	seedSummarizedArticle(t, db, "a2", time.Date(2024, 3, 20, 8, 0, 0, 0, time.UTC))
	// Outside the window, must not appear.
	seedSummarizedArticle(t, db, "a3", time.Date(2024, 4, 2, 8, 0, 0, 0, time.UTC))

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	report, err := NewService(db).Generate(context.Background(), model.PeriodMonthly, start, end, nil)
	require.NoError(t, err)

	assert.Equal(t, model.PeriodMonthly, report.PeriodType)
	assert.Equal(t, 2, report.ArticleCount)
	assert.Equal(t, "# Digest\n\ncontent", report.Content)
	assert.Equal(t, "openai_compat", report.LLMProvider)
	assert.Equal(t, "stub-model", report.LLMModel)
	assert.NotZero(t, report.ID)

	// Prompt carries indexed blocks with summaries and key points,
	// separated by the block divider.
	assert.Contains(t, gotPrompt, "[1] Story a1\nsummary of a1")
	assert.Contains(t, gotPrompt, "Key points:\n  - key a1")
	assert.Contains(t, gotPrompt, "[2] Story a2")
	assert.Contains(t, gotPrompt, "\n\n---\n\n")
	assert.NotContains(t, gotPrompt, "a3")

	stored, err := db.GetDigestByID(report.ID)
	require.NoError(t, err)
	assert.Equal(t, report.Content, stored.Content)
}

func TestGenerateEmptyWindow(t *testing.T) {
	db := newTestStore(t)
	_, err := NewService(db).Generate(context.Background(), model.PeriodDaily,
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), nil)
	assert.ErrorIs(t, err, database.ErrNotFound)

	reports, err := db.GetDigests(nil)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestGenerateInvalidPeriod(t *testing.T) {
	db := newTestStore(t)
	_, err := NewService(db).Generate(context.Background(), "hourly", time.Now(), time.Now().Add(time.Hour), nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "invalid period type"))
}
