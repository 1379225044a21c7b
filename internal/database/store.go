// Package database provides storage backends for the aggregator.
package database

import (
	"errors"
	"time"

	"newsbrief/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ArticleFilter narrows article listings. Nil pointer fields are ignored.
type ArticleFilter struct {
	FeedID    *int64
	IsRead    *bool
	IsStarred *bool
	Search    string // case-insensitive substring match on title
	Page      int    // 1-based
	PageSize  int
}

// Store defines the interface for database operations.
// Both SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// Category operations
	GetCategories() ([]model.Category, error)
	GetCategoryByID(categoryID int64) (*model.Category, error)
	CreateCategory(name string, parentID *int64) (int64, error)
	GetOrCreateCategory(name string, parentID *int64) (int64, error)
	// DeleteCategory removes a category. Child categories are deleted
	// recursively; feeds keep their rows with category_id nulled.
	DeleteCategory(categoryID int64) error

	// Feed operations
	GetFeeds(categoryID *int64) ([]model.Feed, error)
	GetActiveFeeds() ([]model.Feed, error)
	GetFeedByID(feedID int64) (*model.Feed, error)
	GetFeedByURL(url string) (*model.Feed, error)
	CreateFeed(feed *model.Feed) (int64, error)
	UpdateFeed(feed *model.Feed) error
	DeleteFeed(feedID int64) error
	GetArticleCountsByFeed() (map[int64]int, error)

	// CommitFetch persists post-fetch feed state (conditional-GET tokens,
	// backfilled metadata, last_fetched_at) and inserts the given articles
	// in one outer transaction. Each insert runs under its own savepoint so
	// a (feed_id, guid) uniqueness violation skips that article only.
	// Returns the number of articles actually inserted.
	CommitFetch(feed *model.Feed, articles []*model.Article) (int, error)

	// Article operations
	GetArticles(filter ArticleFilter) ([]model.Article, int, error)
	GetArticleByID(articleID int64) (*model.Article, error)
	GetSummarizedArticlesInWindow(start, end time.Time) ([]model.Article, []model.Summary, error)
	ToggleArticleRead(articleID int64) (*model.Article, error)
	ToggleArticleStarred(articleID int64) (*model.Article, error)

	// Summary operations
	GetSummaryByArticleID(articleID int64) (*model.Summary, error)
	CreateSummary(summary *model.Summary) (int64, error)

	// Digest operations
	CreateDigest(report *model.DigestReport) (int64, error)
	GetDigests(period *model.PeriodKind) ([]model.DigestReport, error)
	GetDigestByID(digestID int64) (*model.DigestReport, error)

	// LLM provider config operations. Create/Update/SetDefault demote any
	// other default config in the same transaction so at most one config
	// carries the default flag.
	GetLLMConfigs() ([]model.LLMProviderConfig, error)
	GetLLMConfigByID(configID int64) (*model.LLMProviderConfig, error)
	GetDefaultLLMConfig() (*model.LLMProviderConfig, error)
	CreateLLMConfig(cfg *model.LLMProviderConfig) (int64, error)
	UpdateLLMConfig(cfg *model.LLMProviderConfig) error
	DeleteLLMConfig(configID int64) error
	SetDefaultLLMConfig(configID int64) error

	// Scheduled task operations
	GetTasks() ([]model.ScheduledTask, error)
	GetTaskByID(taskID int64) (*model.ScheduledTask, error)
	GetTaskByType(taskType string) (*model.ScheduledTask, error)
	CreateTask(task *model.ScheduledTask) (int64, error)
	UpdateTask(task *model.ScheduledTask) error
	SeedDefaultTasks(defaults []model.ScheduledTask) error
	// AppendTaskLog records one run and advances the task's last_run_at.
	AppendTaskLog(taskType, status, message string, startedAt, finishedAt time.Time) error
	GetTaskLogs(taskID int64, limit int) ([]model.TaskLog, error)
}
