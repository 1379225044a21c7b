// Package rss provides feed fetching, parsing and article ingestion.
package rss

import (
	"context"
	"fmt"
	"net/http"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/mmcdole/gofeed"

	"newsbrief/internal/database"
	"newsbrief/internal/model"
	"newsbrief/internal/textutil"
)

// FetchTimeout bounds a single feed HTTP request.
const FetchTimeout = 30 * time.Second

// FetchStatus is the terminal outcome of one fetch invocation.
type FetchStatus string

const (
	// StatusOK means the feed was parsed and new articles counted.
	StatusOK FetchStatus = "ok"
	// StatusNotModified means the server answered 304 to the conditional GET.
	StatusNotModified FetchStatus = "not_modified"
	// StatusHTTPError means a non-200/304 response.
	StatusHTTPError FetchStatus = "http_error"
)

// FetchResult reports one feed fetch.
type FetchResult struct {
	Status      FetchStatus
	HTTPStatus  int // set for StatusHTTPError
	NewArticles int // set for StatusOK
}

// FeedError is one failed feed within a fetch-all run.
type FeedError struct {
	FeedID int64  `json:"feed_id"`
	URL    string `json:"url"`
	Error  string `json:"error"`
}

// FetchAllReport aggregates a fetch-all run. One feed's failure never
// aborts the run.
type FetchAllReport struct {
	FeedsProcessed int         `json:"feeds_processed"`
	NewArticles    int         `json:"new_articles"`
	Errors         []FeedError `json:"errors"`
}

// FeedMetadata is what a live probe of a feed URL reveals.
type FeedMetadata struct {
	Title       string
	Description string
	SiteURL     string
}

// Fetcher handles RSS/Atom feed fetching and ingestion.
type Fetcher struct {
	db     database.Store
	client *http.Client
	parser *gofeed.Parser
}

// NewFetcher creates a fetcher with the standard timeout.
func NewFetcher(db database.Store) *Fetcher {
	return &Fetcher{
		db:     db,
		client: &http.Client{Timeout: FetchTimeout},
		parser: gofeed.NewParser(),
	}
}

// FetchFeed fetches one feed by id and ingests its articles.
func (f *Fetcher) FetchFeed(ctx context.Context, feedID int64) (*FetchResult, error) {
	feed, err := f.db.GetFeedByID(feedID)
	if err != nil {
		return nil, err
	}
	return f.fetch(ctx, feed)
}

// fetch runs the conditional GET, parses on 200, and commits feed state
// plus new articles in one transaction.
func (f *Fetcher) fetch(ctx context.Context, feed *model.Feed) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", feed.URL, err)
	}
	if feed.ETag != "" {
		req.Header.Set("If-None-Match", feed.ETag)
	}
	if feed.LastModified != "" {
		req.Header.Set("If-Modified-Since", feed.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", feed.URL, err)
	}
	defer resp.Body.Close()

	now := time.Now().UTC()
	feed.LastFetchedAt = &now

	if resp.StatusCode == http.StatusNotModified {
		if _, err := f.db.CommitFetch(feed, nil); err != nil {
			return nil, err
		}
		return &FetchResult{Status: StatusNotModified}, nil
	}
	if resp.StatusCode != http.StatusOK {
		if _, err := f.db.CommitFetch(feed, nil); err != nil {
			return nil, err
		}
		log.Printf("[WARN] feed %s returned status %d", feed.URL, resp.StatusCode)
		return &FetchResult{Status: StatusHTTPError, HTTPStatus: resp.StatusCode}, nil
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		feed.ETag = etag
	}
	if lastMod := resp.Header.Get("Last-Modified"); lastMod != "" {
		feed.LastModified = lastMod
	}

	parsed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feed.URL, err)
	}

	// Title backfills only when empty; description and site URL refresh
	// from every successful parse.
	if feed.Title == "" && parsed.Title != "" {
		feed.Title = parsed.Title
	}
	if parsed.Description != "" {
		feed.Description = parsed.Description
	}
	if parsed.Link != "" {
		feed.SiteURL = parsed.Link
	}

	articles := make([]*model.Article, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		articles = append(articles, buildArticle(feed, item))
	}

	inserted, err := f.db.CommitFetch(feed, articles)
	if err != nil {
		return nil, fmt.Errorf("commit fetch for %s: %w", feed.URL, err)
	}
	if inserted > 0 {
		log.Printf("[INFO] feed %s: %d new articles", feed.URL, inserted)
	}
	return &FetchResult{Status: StatusOK, NewArticles: inserted}, nil
}

// buildArticle maps one parsed entry to an article row.
func buildArticle(feed *model.Feed, item *gofeed.Item) *model.Article {
	guid := item.GUID
	if guid == "" {
		guid = item.Link
	}
	if guid == "" {
		guid = feed.URL + "#" + item.Title
	}

	content := item.Content
	if content == "" {
		content = item.Description
	}
	if content == "" {
		content = item.Title
	}
	content = textutil.Truncate(textutil.StripHTML(content), textutil.MaxArticleContentLength)

	var publishedAt *time.Time
	if item.PublishedParsed != nil {
		t := item.PublishedParsed.UTC()
		publishedAt = &t
	} else if item.UpdatedParsed != nil {
		t := item.UpdatedParsed.UTC()
		publishedAt = &t
	}

	author := ""
	if item.Author != nil {
		author = item.Author.Name
	}

	return &model.Article{
		FeedID:      feed.ID,
		GUID:        guid,
		Title:       item.Title,
		URL:         item.Link,
		Author:      author,
		Content:     content,
		PublishedAt: publishedAt,
	}
}

// FetchAll fetches every active feed sequentially and aggregates a
// report. Feeds are never fetched concurrently.
func (f *Fetcher) FetchAll(ctx context.Context) (*FetchAllReport, error) {
	feeds, err := f.db.GetActiveFeeds()
	if err != nil {
		return nil, err
	}

	report := &FetchAllReport{}
	for _, feed := range feeds {
		if err := ctx.Err(); err != nil {
			log.Printf("[WARN] fetch-all cancelled after %d/%d feeds", report.FeedsProcessed, len(feeds))
			return report, err
		}
		result, err := f.fetch(ctx, &feed)
		report.FeedsProcessed++
		if err != nil {
			log.Printf("[WARN] fetch %s failed: %v", feed.URL, err)
			report.Errors = append(report.Errors, FeedError{FeedID: feed.ID, URL: feed.URL, Error: err.Error()})
			continue
		}
		report.NewArticles += result.NewArticles
	}
	log.Printf("[INFO] fetched %d feeds, %d new articles, %d errors",
		report.FeedsProcessed, report.NewArticles, len(report.Errors))
	return report, nil
}

// ProbeFeed fetches and parses a feed URL without persisting anything.
// Used to auto-detect the title when a subscription is created without
// one.
func (f *Fetcher) ProbeFeed(ctx context.Context, feedURL string) (*FeedMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", feedURL, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", feedURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", feedURL, resp.StatusCode)
	}
	parsed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}
	return &FeedMetadata{
		Title:       parsed.Title,
		Description: parsed.Description,
		SiteURL:     parsed.Link,
	}, nil
}
