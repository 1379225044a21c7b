package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"newsbrief/internal/model"
)

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// New opens or creates an SQLite database at the given path.
func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Enable WAL mode for better concurrency.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	// Cascading deletes depend on foreign key enforcement.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	return "SQLite"
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS categories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		parent_id INTEGER REFERENCES categories(id) ON DELETE CASCADE,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS feeds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		site_url TEXT NOT NULL DEFAULT '',
		category_id INTEGER REFERENCES categories(id) ON DELETE SET NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		fetch_interval_minutes INTEGER NOT NULL DEFAULT 120,
		etag TEXT NOT NULL DEFAULT '',
		last_modified TEXT NOT NULL DEFAULT '',
		last_fetched_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS articles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		feed_id INTEGER NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
		guid TEXT NOT NULL,
		title TEXT NOT NULL,
		url TEXT NOT NULL,
		author TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		published_at DATETIME,
		is_read INTEGER NOT NULL DEFAULT 0,
		is_starred INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		UNIQUE(feed_id, guid)
	);
	CREATE TABLE IF NOT EXISTS summaries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		article_id INTEGER NOT NULL UNIQUE REFERENCES articles(id) ON DELETE CASCADE,
		llm_provider TEXT NOT NULL,
		llm_model TEXT NOT NULL,
		summary_text TEXT NOT NULL,
		key_points TEXT,
		token_usage INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS digest_reports (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		period_type TEXT NOT NULL,
		period_start DATETIME NOT NULL,
		period_end DATETIME NOT NULL,
		content TEXT NOT NULL,
		article_count INTEGER NOT NULL,
		llm_provider TEXT NOT NULL,
		llm_model TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS llm_provider_configs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		provider_type TEXT NOT NULL,
		display_name TEXT NOT NULL,
		api_key TEXT NOT NULL,
		base_url TEXT NOT NULL DEFAULT '',
		model_name TEXT NOT NULL,
		is_default INTEGER NOT NULL DEFAULT 0,
		temperature REAL NOT NULL DEFAULT 0.7,
		max_tokens INTEGER NOT NULL DEFAULT 1024,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS scheduled_tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_type TEXT NOT NULL UNIQUE,
		cron_expression TEXT NOT NULL,
		is_enabled INTEGER NOT NULL DEFAULT 1,
		last_run_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS task_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL REFERENCES scheduled_tasks(id) ON DELETE CASCADE,
		status TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_articles_published_at ON articles(published_at);
	CREATE INDEX IF NOT EXISTS idx_articles_feed_id ON articles(feed_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// --- Category Methods ---

// GetCategories returns all categories ordered by id.
func (db *DB) GetCategories() ([]model.Category, error) {
	rows, err := db.conn.Query("SELECT id, name, parent_id, created_at FROM categories ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var categories []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.ParentID, &c.CreatedAt); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// GetCategoryByID returns a single category.
func (db *DB) GetCategoryByID(categoryID int64) (*model.Category, error) {
	var c model.Category
	err := db.conn.QueryRow("SELECT id, name, parent_id, created_at FROM categories WHERE id = ?", categoryID).
		Scan(&c.ID, &c.Name, &c.ParentID, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCategory creates a new category. Returns the ID.
func (db *DB) CreateCategory(name string, parentID *int64) (int64, error) {
	res, err := db.conn.Exec("INSERT INTO categories (name, parent_id, created_at) VALUES (?, ?, ?)",
		name, parentID, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetOrCreateCategory finds a category by name and parent, or creates it.
func (db *DB) GetOrCreateCategory(name string, parentID *int64) (int64, error) {
	var id int64
	var row *sql.Row
	if parentID == nil {
		row = db.conn.QueryRow("SELECT id FROM categories WHERE name = ? AND parent_id IS NULL", name)
	} else {
		row = db.conn.QueryRow("SELECT id FROM categories WHERE name = ? AND parent_id = ?", name, *parentID)
	}
	err := row.Scan(&id)
	if err == sql.ErrNoRows {
		return db.CreateCategory(name, parentID)
	}
	return id, err
}

// DeleteCategory removes a category. The parent_id FK cascades to child
// categories; feeds referencing the category have category_id nulled.
func (db *DB) DeleteCategory(categoryID int64) error {
	res, err := db.conn.Exec("DELETE FROM categories WHERE id = ?", categoryID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Feed Methods ---

const feedColumns = "id, url, title, description, site_url, category_id, is_active, fetch_interval_minutes, etag, last_modified, last_fetched_at, created_at, updated_at"

func scanFeed(row interface{ Scan(...any) error }) (*model.Feed, error) {
	var f model.Feed
	var lastFetched sql.NullTime
	err := row.Scan(&f.ID, &f.URL, &f.Title, &f.Description, &f.SiteURL, &f.CategoryID,
		&f.IsActive, &f.FetchIntervalMinutes, &f.ETag, &f.LastModified, &lastFetched,
		&f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastFetched.Valid {
		t := lastFetched.Time
		f.LastFetchedAt = &t
	}
	return &f, nil
}

func (db *DB) queryFeeds(query string, args ...any) ([]model.Feed, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var feeds []model.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, *f)
	}
	return feeds, rows.Err()
}

// GetFeeds returns all feeds, optionally filtered by category, newest first.
func (db *DB) GetFeeds(categoryID *int64) ([]model.Feed, error) {
	if categoryID == nil {
		return db.queryFeeds("SELECT " + feedColumns + " FROM feeds ORDER BY created_at DESC")
	}
	return db.queryFeeds("SELECT "+feedColumns+" FROM feeds WHERE category_id = ? ORDER BY created_at DESC", *categoryID)
}

// GetActiveFeeds returns feeds eligible for the fetch cycle.
func (db *DB) GetActiveFeeds() ([]model.Feed, error) {
	return db.queryFeeds("SELECT " + feedColumns + " FROM feeds WHERE is_active = 1 ORDER BY id")
}

// GetFeedByID returns a single feed.
func (db *DB) GetFeedByID(feedID int64) (*model.Feed, error) {
	f, err := scanFeed(db.conn.QueryRow("SELECT "+feedColumns+" FROM feeds WHERE id = ?", feedID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return f, err
}

// GetFeedByURL returns the feed subscribed at the given URL.
func (db *DB) GetFeedByURL(url string) (*model.Feed, error) {
	f, err := scanFeed(db.conn.QueryRow("SELECT "+feedColumns+" FROM feeds WHERE url = ?", url))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return f, err
}

// CreateFeed adds a new feed. Returns the ID.
func (db *DB) CreateFeed(feed *model.Feed) (int64, error) {
	now := time.Now().UTC()
	res, err := db.conn.Exec(`
		INSERT INTO feeds (url, title, description, site_url, category_id, is_active, fetch_interval_minutes, etag, last_modified, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		feed.URL, feed.Title, feed.Description, feed.SiteURL, feed.CategoryID,
		feed.IsActive, feed.FetchIntervalMinutes, feed.ETag, feed.LastModified, now, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateFeed persists user-editable feed fields.
func (db *DB) UpdateFeed(feed *model.Feed) error {
	res, err := db.conn.Exec(`
		UPDATE feeds SET title = ?, description = ?, site_url = ?, category_id = ?, is_active = ?, fetch_interval_minutes = ?, updated_at = ?
		WHERE id = ?`,
		feed.Title, feed.Description, feed.SiteURL, feed.CategoryID, feed.IsActive,
		feed.FetchIntervalMinutes, time.Now().UTC(), feed.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteFeed removes a feed; articles cascade.
func (db *DB) DeleteFeed(feedID int64) error {
	res, err := db.conn.Exec("DELETE FROM feeds WHERE id = ?", feedID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetArticleCountsByFeed returns a feed id -> article count map.
func (db *DB) GetArticleCountsByFeed() (map[int64]int, error) {
	rows, err := db.conn.Query("SELECT feed_id, COUNT(id) FROM articles GROUP BY feed_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[int64]int)
	for rows.Next() {
		var feedID int64
		var count int
		if err := rows.Scan(&feedID, &count); err != nil {
			return nil, err
		}
		counts[feedID] = count
	}
	return counts, rows.Err()
}

// --- Fetch pipeline ---

// CommitFetch writes post-fetch feed state and inserts articles in one
// transaction. Each article insert runs under a savepoint so a duplicate
// (feed_id, guid) rolls back only that insert.
func (db *DB) CommitFetch(feed *model.Feed, articles []*model.Article) (int, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		UPDATE feeds SET title = ?, description = ?, site_url = ?, etag = ?, last_modified = ?, last_fetched_at = ?, updated_at = ?
		WHERE id = ?`,
		feed.Title, feed.Description, feed.SiteURL, feed.ETag, feed.LastModified,
		feed.LastFetchedAt, time.Now().UTC(), feed.ID)
	if err != nil {
		return 0, fmt.Errorf("update feed %d: %w", feed.ID, err)
	}

	inserted := 0
	for _, a := range articles {
		if _, err := tx.Exec("SAVEPOINT article_insert"); err != nil {
			return 0, err
		}
		_, err := tx.Exec(`
			INSERT INTO articles (feed_id, guid, title, url, author, content, published_at, is_read, is_starred, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?)`,
			a.FeedID, a.GUID, a.Title, a.URL, a.Author, a.Content, a.PublishedAt, time.Now().UTC())
		if err != nil {
			// Duplicate (feed_id, guid) or other constraint; roll back to
			// the savepoint and keep the outer transaction intact.
			if _, rbErr := tx.Exec("ROLLBACK TO article_insert"); rbErr != nil {
				return 0, rbErr
			}
			continue
		}
		if _, err := tx.Exec("RELEASE article_insert"); err != nil {
			return 0, err
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// --- Article Methods ---

const articleColumns = "id, feed_id, guid, title, url, author, content, published_at, is_read, is_starred, created_at"

func scanArticle(row interface{ Scan(...any) error }) (*model.Article, error) {
	var a model.Article
	var publishedAt sql.NullTime
	err := row.Scan(&a.ID, &a.FeedID, &a.GUID, &a.Title, &a.URL, &a.Author, &a.Content,
		&publishedAt, &a.IsRead, &a.IsStarred, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		a.PublishedAt = &t
	}
	return &a, nil
}

func articleFilterClauses(filter ArticleFilter) (string, []any) {
	var clauses []string
	var args []any
	if filter.FeedID != nil {
		clauses = append(clauses, "feed_id = ?")
		args = append(args, *filter.FeedID)
	}
	if filter.IsRead != nil {
		clauses = append(clauses, "is_read = ?")
		args = append(args, *filter.IsRead)
	}
	if filter.IsStarred != nil {
		clauses = append(clauses, "is_starred = ?")
		args = append(args, *filter.IsStarred)
	}
	if filter.Search != "" {
		clauses = append(clauses, "title LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(filter.Search)+"%")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}

// GetArticles returns one page of articles plus the unpaginated total,
// newest first with created_at as a stable secondary sort.
func (db *DB) GetArticles(filter ArticleFilter) ([]model.Article, int, error) {
	where, args := articleFilterClauses(filter)

	var total int
	if err := db.conn.QueryRow("SELECT COUNT(id) FROM articles"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 20
	}
	query := "SELECT " + articleColumns + " FROM articles" + where +
		" ORDER BY published_at DESC, created_at DESC LIMIT ? OFFSET ?"
	rows, err := db.conn.Query(query, append(args, pageSize, (page-1)*pageSize)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var articles []model.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, 0, err
		}
		articles = append(articles, *a)
	}
	return articles, total, rows.Err()
}

// GetArticleByID returns a single article.
func (db *DB) GetArticleByID(articleID int64) (*model.Article, error) {
	a, err := scanArticle(db.conn.QueryRow("SELECT "+articleColumns+" FROM articles WHERE id = ?", articleID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return a, err
}

// GetSummarizedArticlesInWindow returns articles published in [start, end)
// that have a summary, with their summaries in matching order.
func (db *DB) GetSummarizedArticlesInWindow(start, end time.Time) ([]model.Article, []model.Summary, error) {
	rows, err := db.conn.Query(`
		SELECT a.id, a.feed_id, a.guid, a.title, a.url, a.author, a.content, a.published_at, a.is_read, a.is_starred, a.created_at,
		       s.id, s.article_id, s.llm_provider, s.llm_model, s.summary_text, s.key_points, s.token_usage, s.created_at
		FROM articles a
		JOIN summaries s ON s.article_id = a.id
		WHERE a.published_at >= ? AND a.published_at < ?
		ORDER BY a.published_at`, start, end)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var articles []model.Article
	var summaries []model.Summary
	for rows.Next() {
		var a model.Article
		var s model.Summary
		var publishedAt sql.NullTime
		var keyPoints sql.NullString
		err := rows.Scan(&a.ID, &a.FeedID, &a.GUID, &a.Title, &a.URL, &a.Author, &a.Content,
			&publishedAt, &a.IsRead, &a.IsStarred, &a.CreatedAt,
			&s.ID, &s.ArticleID, &s.LLMProvider, &s.LLMModel, &s.SummaryText, &keyPoints,
			&s.TokenUsage, &s.CreatedAt)
		if err != nil {
			return nil, nil, err
		}
		if publishedAt.Valid {
			t := publishedAt.Time
			a.PublishedAt = &t
		}
		if keyPoints.Valid {
			if err := json.Unmarshal([]byte(keyPoints.String), &s.KeyPoints); err != nil {
				return nil, nil, fmt.Errorf("decode key points for summary %d: %w", s.ID, err)
			}
		}
		articles = append(articles, a)
		summaries = append(summaries, s)
	}
	return articles, summaries, rows.Err()
}

// ToggleArticleRead flips the is_read flag and returns the updated article.
func (db *DB) ToggleArticleRead(articleID int64) (*model.Article, error) {
	res, err := db.conn.Exec("UPDATE articles SET is_read = NOT is_read WHERE id = ?", articleID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return db.GetArticleByID(articleID)
}

// ToggleArticleStarred flips the is_starred flag and returns the updated article.
func (db *DB) ToggleArticleStarred(articleID int64) (*model.Article, error) {
	res, err := db.conn.Exec("UPDATE articles SET is_starred = NOT is_starred WHERE id = ?", articleID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return db.GetArticleByID(articleID)
}

// --- Summary Methods ---

func encodeKeyPoints(points []string) (any, error) {
	if len(points) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(points)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// GetSummaryByArticleID returns the summary for an article, if any.
func (db *DB) GetSummaryByArticleID(articleID int64) (*model.Summary, error) {
	var s model.Summary
	var keyPoints sql.NullString
	err := db.conn.QueryRow(`
		SELECT id, article_id, llm_provider, llm_model, summary_text, key_points, token_usage, created_at
		FROM summaries WHERE article_id = ?`, articleID).
		Scan(&s.ID, &s.ArticleID, &s.LLMProvider, &s.LLMModel, &s.SummaryText, &keyPoints, &s.TokenUsage, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if keyPoints.Valid {
		if err := json.Unmarshal([]byte(keyPoints.String), &s.KeyPoints); err != nil {
			return nil, fmt.Errorf("decode key points for summary %d: %w", s.ID, err)
		}
	}
	return &s, nil
}

// CreateSummary inserts a summary. The article_id unique constraint keeps
// at most one summary per article.
func (db *DB) CreateSummary(summary *model.Summary) (int64, error) {
	keyPoints, err := encodeKeyPoints(summary.KeyPoints)
	if err != nil {
		return 0, err
	}
	res, err := db.conn.Exec(`
		INSERT INTO summaries (article_id, llm_provider, llm_model, summary_text, key_points, token_usage, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		summary.ArticleID, summary.LLMProvider, summary.LLMModel, summary.SummaryText,
		keyPoints, summary.TokenUsage, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// --- Digest Methods ---

const digestColumns = "id, period_type, period_start, period_end, content, article_count, llm_provider, llm_model, created_at"

func scanDigest(row interface{ Scan(...any) error }) (*model.DigestReport, error) {
	var d model.DigestReport
	err := row.Scan(&d.ID, &d.PeriodType, &d.PeriodStart, &d.PeriodEnd, &d.Content,
		&d.ArticleCount, &d.LLMProvider, &d.LLMModel, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDigest inserts a new digest report. Reports are never deduplicated.
func (db *DB) CreateDigest(report *model.DigestReport) (int64, error) {
	res, err := db.conn.Exec(`
		INSERT INTO digest_reports (period_type, period_start, period_end, content, article_count, llm_provider, llm_model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		report.PeriodType, report.PeriodStart, report.PeriodEnd, report.Content,
		report.ArticleCount, report.LLMProvider, report.LLMModel, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetDigests lists reports newest-window first, optionally by period type.
func (db *DB) GetDigests(period *model.PeriodKind) ([]model.DigestReport, error) {
	query := "SELECT " + digestColumns + " FROM digest_reports"
	var args []any
	if period != nil {
		query += " WHERE period_type = ?"
		args = append(args, *period)
	}
	query += " ORDER BY period_start DESC"
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var reports []model.DigestReport
	for rows.Next() {
		d, err := scanDigest(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *d)
	}
	return reports, rows.Err()
}

// GetDigestByID returns a single report.
func (db *DB) GetDigestByID(digestID int64) (*model.DigestReport, error) {
	d, err := scanDigest(db.conn.QueryRow("SELECT "+digestColumns+" FROM digest_reports WHERE id = ?", digestID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return d, err
}

// --- LLM Provider Config Methods ---

const llmConfigColumns = "id, provider_type, display_name, api_key, base_url, model_name, is_default, temperature, max_tokens, created_at, updated_at"

func scanLLMConfig(row interface{ Scan(...any) error }) (*model.LLMProviderConfig, error) {
	var c model.LLMProviderConfig
	err := row.Scan(&c.ID, &c.ProviderType, &c.DisplayName, &c.APIKey, &c.BaseURL,
		&c.ModelName, &c.IsDefault, &c.Temperature, &c.MaxTokens, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetLLMConfigs returns all provider configs ordered by id.
func (db *DB) GetLLMConfigs() ([]model.LLMProviderConfig, error) {
	rows, err := db.conn.Query("SELECT " + llmConfigColumns + " FROM llm_provider_configs ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var configs []model.LLMProviderConfig
	for rows.Next() {
		c, err := scanLLMConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *c)
	}
	return configs, rows.Err()
}

// GetLLMConfigByID returns a single provider config.
func (db *DB) GetLLMConfigByID(configID int64) (*model.LLMProviderConfig, error) {
	c, err := scanLLMConfig(db.conn.QueryRow("SELECT "+llmConfigColumns+" FROM llm_provider_configs WHERE id = ?", configID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return c, err
}

// GetDefaultLLMConfig returns the config marked is_default.
func (db *DB) GetDefaultLLMConfig() (*model.LLMProviderConfig, error) {
	c, err := scanLLMConfig(db.conn.QueryRow("SELECT " + llmConfigColumns + " FROM llm_provider_configs WHERE is_default = 1"))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return c, err
}

// CreateLLMConfig inserts a provider config. When the new config is marked
// default, every other config is demoted in the same transaction.
func (db *DB) CreateLLMConfig(cfg *model.LLMProviderConfig) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if cfg.IsDefault {
		if _, err := tx.Exec("UPDATE llm_provider_configs SET is_default = 0"); err != nil {
			return 0, err
		}
	}
	now := time.Now().UTC()
	res, err := tx.Exec(`
		INSERT INTO llm_provider_configs (provider_type, display_name, api_key, base_url, model_name, is_default, temperature, max_tokens, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.ProviderType, cfg.DisplayName, cfg.APIKey, cfg.BaseURL, cfg.ModelName,
		cfg.IsDefault, cfg.Temperature, cfg.MaxTokens, now, now)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

// UpdateLLMConfig persists config changes, demoting other defaults when
// this config is promoted.
func (db *DB) UpdateLLMConfig(cfg *model.LLMProviderConfig) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if cfg.IsDefault {
		if _, err := tx.Exec("UPDATE llm_provider_configs SET is_default = 0 WHERE id != ?", cfg.ID); err != nil {
			return err
		}
	}
	res, err := tx.Exec(`
		UPDATE llm_provider_configs
		SET provider_type = ?, display_name = ?, api_key = ?, base_url = ?, model_name = ?, is_default = ?, temperature = ?, max_tokens = ?, updated_at = ?
		WHERE id = ?`,
		cfg.ProviderType, cfg.DisplayName, cfg.APIKey, cfg.BaseURL, cfg.ModelName,
		cfg.IsDefault, cfg.Temperature, cfg.MaxTokens, time.Now().UTC(), cfg.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// DeleteLLMConfig removes a provider config.
func (db *DB) DeleteLLMConfig(configID int64) error {
	res, err := db.conn.Exec("DELETE FROM llm_provider_configs WHERE id = ?", configID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDefaultLLMConfig promotes one config and demotes all others atomically.
func (db *DB) SetDefaultLLMConfig(configID int64) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("UPDATE llm_provider_configs SET is_default = 0 WHERE id != ?", configID); err != nil {
		return err
	}
	res, err := tx.Exec("UPDATE llm_provider_configs SET is_default = 1, updated_at = ? WHERE id = ?",
		time.Now().UTC(), configID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// --- Scheduled Task Methods ---

const taskColumns = "id, task_type, cron_expression, is_enabled, last_run_at, created_at, updated_at"

func scanTask(row interface{ Scan(...any) error }) (*model.ScheduledTask, error) {
	var t model.ScheduledTask
	var lastRun sql.NullTime
	err := row.Scan(&t.ID, &t.TaskType, &t.CronExpression, &t.IsEnabled, &lastRun, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastRun.Valid {
		lr := lastRun.Time
		t.LastRunAt = &lr
	}
	return &t, nil
}

// GetTasks returns all scheduled tasks ordered by id.
func (db *DB) GetTasks() ([]model.ScheduledTask, error) {
	rows, err := db.conn.Query("SELECT " + taskColumns + " FROM scheduled_tasks ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tasks []model.ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// GetTaskByID returns a single task.
func (db *DB) GetTaskByID(taskID int64) (*model.ScheduledTask, error) {
	t, err := scanTask(db.conn.QueryRow("SELECT "+taskColumns+" FROM scheduled_tasks WHERE id = ?", taskID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

// GetTaskByType returns the task with the given type name.
func (db *DB) GetTaskByType(taskType string) (*model.ScheduledTask, error) {
	t, err := scanTask(db.conn.QueryRow("SELECT "+taskColumns+" FROM scheduled_tasks WHERE task_type = ?", taskType))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

// CreateTask inserts a new scheduled task. task_type is unique.
func (db *DB) CreateTask(task *model.ScheduledTask) (int64, error) {
	now := time.Now().UTC()
	res, err := db.conn.Exec(`
		INSERT INTO scheduled_tasks (task_type, cron_expression, is_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		task.TaskType, task.CronExpression, task.IsEnabled, now, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateTask persists cron expression / enabled changes.
func (db *DB) UpdateTask(task *model.ScheduledTask) error {
	res, err := db.conn.Exec(`
		UPDATE scheduled_tasks SET cron_expression = ?, is_enabled = ?, updated_at = ? WHERE id = ?`,
		task.CronExpression, task.IsEnabled, time.Now().UTC(), task.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SeedDefaultTasks inserts the given tasks, skipping types that exist.
func (db *DB) SeedDefaultTasks(defaults []model.ScheduledTask) error {
	now := time.Now().UTC()
	for _, task := range defaults {
		_, err := db.conn.Exec(`
			INSERT INTO scheduled_tasks (task_type, cron_expression, is_enabled, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(task_type) DO NOTHING`,
			task.TaskType, task.CronExpression, task.IsEnabled, now, now)
		if err != nil {
			return err
		}
	}
	return nil
}

// AppendTaskLog records a run for the task type and advances last_run_at.
func (db *DB) AppendTaskLog(taskType, status, message string, startedAt, finishedAt time.Time) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var taskID int64
	err = tx.QueryRow("SELECT id FROM scheduled_tasks WHERE task_type = ?", taskType).Scan(&taskID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if _, err := tx.Exec("UPDATE scheduled_tasks SET last_run_at = ? WHERE id = ?", finishedAt, taskID); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		INSERT INTO task_logs (task_id, status, message, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?)`,
		taskID, status, message, startedAt, finishedAt); err != nil {
		return err
	}
	return tx.Commit()
}

// GetTaskLogs returns the most recent runs for a task.
func (db *DB) GetTaskLogs(taskID int64, limit int) ([]model.TaskLog, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT id, task_id, status, message, started_at, finished_at
		FROM task_logs WHERE task_id = ? ORDER BY finished_at DESC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []model.TaskLog
	for rows.Next() {
		var l model.TaskLog
		if err := rows.Scan(&l.ID, &l.TaskID, &l.Status, &l.Message, &l.StartedAt, &l.FinishedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
