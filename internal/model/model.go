// Package model defines shared data structures.
package model

import "time"

// ProviderKind identifies which wire protocol a provider config speaks.
type ProviderKind string

// Supported provider kinds. The openai-compatible family shares one wire
// format; gemini and anthropic each have their own.
const (
	ProviderOpenAI       ProviderKind = "openai"
	ProviderZhipu        ProviderKind = "zhipu"
	ProviderDoubao       ProviderKind = "doubao"
	ProviderMiniMax      ProviderKind = "minimax"
	ProviderOpenAICompat ProviderKind = "openai_compat"
	ProviderGemini       ProviderKind = "gemini"
	ProviderAnthropic    ProviderKind = "anthropic"
)

// PeriodKind is the time window granularity of a digest report.
type PeriodKind string

const (
	PeriodDaily   PeriodKind = "daily"
	PeriodWeekly  PeriodKind = "weekly"
	PeriodMonthly PeriodKind = "monthly"
)

// Valid reports whether p is a known period kind.
func (p PeriodKind) Valid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return true
	}
	return false
}

// MinFetchIntervalMinutes is the minimum allowed feed fetch interval.
const MinFetchIntervalMinutes = 5

// DefaultFetchIntervalMinutes is used when a feed is created without one.
const DefaultFetchIntervalMinutes = 120

// Category is a hierarchical folder for feeds. The parent chain always
// terminates at a root (tree, not graph).
type Category struct {
	ID        int64
	Name      string
	ParentID  *int64 // nil for root categories
	CreatedAt time.Time
}

// Feed represents an RSS/Atom feed subscription.
type Feed struct {
	ID                   int64
	URL                  string
	Title                string
	Description          string
	SiteURL              string
	CategoryID           *int64 // nil if uncategorized
	IsActive             bool
	FetchIntervalMinutes int
	ETag                 string // conditional GET token, empty if unknown
	LastModified         string // conditional GET token, empty if unknown
	LastFetchedAt        *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Article is a single feed entry. (FeedID, GUID) is unique; a duplicate
// GUID is rejected on ingest, never merged.
type Article struct {
	ID          int64
	FeedID      int64
	GUID        string
	Title       string
	URL         string
	Author      string
	Content     string // HTML-stripped, length-capped
	PublishedAt *time.Time
	IsRead      bool
	IsStarred   bool
	CreatedAt   time.Time
}

// Summary is the LLM summarization result for one article. At most one
// summary exists per article.
type Summary struct {
	ID          int64
	ArticleID   int64
	LLMProvider string
	LLMModel    string
	SummaryText string
	KeyPoints   []string
	TokenUsage  int
	CreatedAt   time.Time
}

// DigestReport is an LLM-generated report over a time window. Reports are
// never deduplicated: each generation call inserts a new row.
type DigestReport struct {
	ID           int64
	PeriodType   PeriodKind
	PeriodStart  time.Time // inclusive
	PeriodEnd    time.Time // exclusive
	Content      string    // markdown
	ArticleCount int
	LLMProvider  string
	LLMModel     string
	CreatedAt    time.Time
}

// LLMProviderConfig is a named backend credential record. At most one
// config has IsDefault set at any time.
type LLMProviderConfig struct {
	ID           int64
	ProviderType ProviderKind
	DisplayName  string
	APIKey       string
	BaseURL      string // optional override; empty means provider default
	ModelName    string
	IsDefault    bool
	Temperature  float64 // 0.0 - 2.0
	MaxTokens    int     // >= 1
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Task type names known to the scheduler.
const (
	TaskFetchFeeds    = "fetch_feeds"
	TaskDailyDigest   = "daily_digest"
	TaskWeeklyDigest  = "weekly_digest"
	TaskMonthlyDigest = "monthly_digest"
)

// ScheduledTask binds a task type to a cron expression.
type ScheduledTask struct {
	ID             int64
	TaskType       string // unique
	CronExpression string // standard 5-field cron
	IsEnabled      bool
	LastRunAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TaskLog records one execution of a scheduled task.
type TaskLog struct {
	ID         int64
	TaskID     int64
	Status     string // "success" or "failed"
	Message    string
	StartedAt  time.Time
	FinishedAt time.Time
}

// CategoryNode is a category with its children resolved, for tree
// responses. Built in memory from the flat category list.
type CategoryNode struct {
	Category
	Children []*CategoryNode
}

// BuildCategoryTree assembles the flat category list into root nodes by
// explicit parent-id indexing. Categories whose parent is missing are
// treated as roots.
func BuildCategoryTree(categories []Category) []*CategoryNode {
	nodes := make(map[int64]*CategoryNode, len(categories))
	for _, c := range categories {
		nodes[c.ID] = &CategoryNode{Category: c}
	}
	var roots []*CategoryNode
	for _, c := range categories {
		node := nodes[c.ID]
		if c.ParentID != nil {
			if parent, ok := nodes[*c.ParentID]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}
	return roots
}
