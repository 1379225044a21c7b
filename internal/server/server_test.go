package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsbrief/internal/database"
	"newsbrief/internal/digest"
	"newsbrief/internal/model"
	"newsbrief/internal/rss"
	"newsbrief/internal/scheduler"
	"newsbrief/internal/summary"
)

func newTestServer(t *testing.T) (*httptest.Server, database.Store) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	fetcher := rss.NewFetcher(db)
	digests := digest.NewService(db)
	registry := scheduler.New(db, fetcher, digests)
	require.NoError(t, registry.Start())
	t.Cleanup(registry.Stop)

	srv := New(db, fetcher, summary.NewService(db), digests, registry)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, db
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "SQLite", body["database"])
}

func TestCreateFeedValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/feeds", map[string]any{"title": "no url"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/feeds", map[string]any{
		"url":                    "https://example.com/feed.xml",
		"title":                  "t",
		"fetch_interval_minutes": 1,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestCreateFeedAndDuplicate(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/feeds", map[string]any{
		"url":   "https://example.com/feed.xml",
		"title": "Example",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created map[string]any
	decode(t, resp, &created)
	assert.Equal(t, "Example", created["title"])
	assert.Equal(t, float64(model.DefaultFetchIntervalMinutes), created["fetch_interval_minutes"])

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/feeds", map[string]any{
		"url":   "https://example.com/feed.xml",
		"title": "Again",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetMissingArticle(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/v1/articles/42")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "not found", body["error"])
}

func TestCategoryTree(t *testing.T) {
	ts, db := newTestServer(t)
	parentID, err := db.CreateCategory("Tech", nil)
	require.NoError(t, err)
	_, err = db.CreateCategory("Databases", &parentID)
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/api/v1/categories")
	require.NoError(t, err)
	defer resp.Body.Close()

	var tree []struct {
		Name     string `json:"name"`
		Children []struct {
			Name string `json:"name"`
		} `json:"children"`
	}
	decode(t, resp, &tree)
	require.Len(t, tree, 1)
	assert.Equal(t, "Tech", tree[0].Name)
	require.Len(t, tree[0].Children, 1)
	assert.Equal(t, "Databases", tree[0].Children[0].Name)
}

func TestLLMConfigMaskedKey(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/llm-configs", map[string]any{
		"provider_type": "openai",
		"display_name":  "main",
		"api_key":       "sk-secret-value-1234",
		"model_name":    "gpt-4o-mini",
		"is_default":    true,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created map[string]any
	decode(t, resp, &created)
	assert.Equal(t, "****1234", created["api_key"])
	assert.Equal(t, true, created["is_default"])
}

func TestLLMConfigValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/llm-configs", map[string]any{
		"provider_type": "carrier-pigeon",
		"api_key":       "k",
		"model_name":    "m",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// Generic compatible provider without a base URL cannot be built.
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/llm-configs", map[string]any{
		"provider_type": "openai_compat",
		"api_key":       "k",
		"model_name":    "m",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/llm-configs", map[string]any{
		"provider_type": "openai",
		"api_key":       "k",
		"model_name":    "m",
		"temperature":   3.5,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestSetDefaultLLMConfig(t *testing.T) {
	ts, db := newTestServer(t)

	mk := func(name string, isDefault bool) int64 {
		id, err := db.CreateLLMConfig(&model.LLMProviderConfig{
			ProviderType: model.ProviderOpenAI,
			DisplayName:  name,
			APIKey:       "key",
			ModelName:    "m",
			IsDefault:    isDefault,
			Temperature:  0.7,
			MaxTokens:    256,
		})
		require.NoError(t, err)
		return id
	}
	a := mk("a", true)
	b := mk("b", false)

	resp := doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/v1/llm-configs/%d/set-default", ts.URL, b), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stored, err := db.GetLLMConfigByID(a)
	require.NoError(t, err)
	assert.False(t, stored.IsDefault)
	def, err := db.GetDefaultLLMConfig()
	require.NoError(t, err)
	assert.Equal(t, b, def.ID)
}

func TestSummarizeWithoutConfig(t *testing.T) {
	ts, db := newTestServer(t)

	feedID, err := db.CreateFeed(&model.Feed{URL: "https://example.com/f.xml", Title: "F", IsActive: true})
	require.NoError(t, err)
	feed, err := db.GetFeedByID(feedID)
	require.NoError(t, err)
	_, err = db.CommitFetch(feed, []*model.Article{{FeedID: feedID, GUID: "g", Title: "T", URL: "https://example.com/1"}})
	require.NoError(t, err)
	articles, _, err := db.GetArticles(database.ArticleFilter{})
	require.NoError(t, err)
	require.Len(t, articles, 1)

	resp := doJSON(t, http.MethodPost, fmt.Sprintf("%s/api/v1/articles/%d/summarize", ts.URL, articles[0].ID), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGenerateDigestValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/v1/digests", map[string]any{"period_type": "hourly"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// Empty window maps to 404.
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/v1/digests", map[string]any{"period_type": "daily"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateTaskCronValidation(t *testing.T) {
	ts, db := newTestServer(t)

	task, err := db.GetTaskByType(model.TaskFetchFeeds)
	require.NoError(t, err)

	resp := doJSON(t, http.MethodPut, fmt.Sprintf("%s/api/v1/tasks/%d", ts.URL, task.ID), map[string]any{
		"cron_expression": "not a cron",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = doJSON(t, http.MethodPut, fmt.Sprintf("%s/api/v1/tasks/%d", ts.URL, task.ID), map[string]any{
		"cron_expression": "30 3 * * *",
		"is_enabled":      false,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var updated map[string]any
	decode(t, resp, &updated)
	assert.Equal(t, "30 3 * * *", updated["cron_expression"])
	assert.Equal(t, false, updated["is_enabled"])
}

func TestOPMLExportHeaders(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/v1/opml/export")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/x-opml", resp.Header.Get("Content-Type"))
}

func TestListArticlesPaginationEnvelope(t *testing.T) {
	ts, db := newTestServer(t)

	feedID, err := db.CreateFeed(&model.Feed{URL: "https://example.com/f.xml", Title: "F", IsActive: true})
	require.NoError(t, err)
	feed, err := db.GetFeedByID(feedID)
	require.NoError(t, err)
	var batch []*model.Article
	for i := 0; i < 3; i++ {
		batch = append(batch, &model.Article{
			FeedID: feedID,
			GUID:   fmt.Sprintf("g%d", i),
			Title:  fmt.Sprintf("Article %d", i),
			URL:    fmt.Sprintf("https://example.com/%d", i),
		})
	}
	_, err = db.CommitFetch(feed, batch)
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/api/v1/articles?page=1&page_size=2")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Articles []json.RawMessage `json:"articles"`
		Total    int               `json:"total"`
		Page     int               `json:"page"`
		PageSize int               `json:"page_size"`
	}
	decode(t, resp, &body)
	assert.Equal(t, 3, body.Total)
	assert.Len(t, body.Articles, 2)
	assert.Equal(t, 1, body.Page)
	assert.Equal(t, 2, body.PageSize)
}
