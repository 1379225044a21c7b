package scheduler

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsbrief/internal/database"
	"newsbrief/internal/digest"
	"newsbrief/internal/model"
	"newsbrief/internal/rss"
)

const testRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example Feed</title>
    <link>https://example.com</link>
    <description>d</description>
    <item>
      <guid>guid-1</guid>
      <title>First</title>
      <link>https://example.com/1</link>
      <pubDate>Mon, 04 Mar 2024 10:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`

func newTestRegistry(t *testing.T) (*Registry, database.Store) {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, rss.NewFetcher(db), digest.NewService(db)), db
}

func TestStartSeedsDefaultTasks(t *testing.T) {
	registry, db := newTestRegistry(t)
	require.NoError(t, registry.Start())
	defer registry.Stop()

	tasks, err := db.GetTasks()
	require.NoError(t, err)
	require.Len(t, tasks, 4)

	types := make(map[string]bool)
	for _, task := range tasks {
		types[task.TaskType] = true
		assert.True(t, task.IsEnabled)
	}
	assert.True(t, types[model.TaskFetchFeeds])
	assert.True(t, types[model.TaskDailyDigest])
	assert.True(t, types[model.TaskWeeklyDigest])
	assert.True(t, types[model.TaskMonthlyDigest])

	// Starting again must not duplicate tasks.
	require.NoError(t, registry.Reschedule())
	tasks, err = db.GetTasks()
	require.NoError(t, err)
	assert.Len(t, tasks, 4)
}

func TestRunNowFetchFeeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testRSS))
	}))
	defer srv.Close()

	registry, db := newTestRegistry(t)
	require.NoError(t, registry.Start())
	defer registry.Stop()

	_, err := db.CreateFeed(&model.Feed{URL: srv.URL, Title: "Feed", IsActive: true})
	require.NoError(t, err)

	require.NoError(t, registry.RunNow(model.TaskFetchFeeds))

	_, total, err := db.GetArticles(database.ArticleFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	task, err := db.GetTaskByType(model.TaskFetchFeeds)
	require.NoError(t, err)
	require.NotNil(t, task.LastRunAt)
	assert.WithinDuration(t, time.Now().UTC(), *task.LastRunAt, 5*time.Second)

	logs, err := db.GetTaskLogs(task.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "success", logs[0].Status)
	assert.Contains(t, logs[0].Message, "1 new articles")
}

func TestRunNowUnknownTask(t *testing.T) {
	registry, _ := newTestRegistry(t)
	require.NoError(t, registry.Start())
	defer registry.Stop()

	assert.ErrorIs(t, registry.RunNow("no_such_task"), database.ErrNotFound)
}

func TestRunNowDigestEmptyWindow(t *testing.T) {
	registry, db := newTestRegistry(t)
	require.NoError(t, registry.Start())
	defer registry.Stop()

	// No summarized articles: the scheduled run succeeds with a note
	// instead of failing.
	require.NoError(t, registry.RunNow(model.TaskDailyDigest))

	task, err := db.GetTaskByType(model.TaskDailyDigest)
	require.NoError(t, err)
	logs, err := db.GetTaskLogs(task.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "success", logs[0].Status)
	assert.Equal(t, "no summarized articles in window", logs[0].Message)
}

func TestRunNowRecordsFailure(t *testing.T) {
	registry, db := newTestRegistry(t)
	require.NoError(t, registry.Start())
	defer registry.Stop()

	// A summarized article in yesterday's window but no provider
	// config: the digest run fails and the failure is logged.
	feedID, err := db.CreateFeed(&model.Feed{URL: "https://example.com/f.xml", Title: "Feed", IsActive: true})
	require.NoError(t, err)
	feed, err := db.GetFeedByID(feedID)
	require.NoError(t, err)
	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	_, err = db.CommitFetch(feed, []*model.Article{{
		FeedID:      feedID,
		GUID:        "g1",
		Title:       "T",
		URL:         "https://example.com/1",
		PublishedAt: &yesterday,
	}})
	require.NoError(t, err)
	articles, _, err := db.GetArticles(database.ArticleFilter{})
	require.NoError(t, err)
	require.Len(t, articles, 1)
	_, err = db.CreateSummary(&model.Summary{ArticleID: articles[0].ID, LLMProvider: "p", LLMModel: "m", SummaryText: "s"})
	require.NoError(t, err)

	require.Error(t, registry.RunNow(model.TaskDailyDigest))

	task, err := db.GetTaskByType(model.TaskDailyDigest)
	require.NoError(t, err)
	logs, err := db.GetTaskLogs(task.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "failed", logs[0].Status)
	assert.NotEmpty(t, logs[0].Message)
}
