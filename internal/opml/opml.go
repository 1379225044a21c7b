// Package opml handles importing and exporting OPML subscription lists.
package opml

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/go-pkgz/lgr"

	"newsbrief/internal/database"
	"newsbrief/internal/model"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline represents a single outline element (category or feed).
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// FeedEntry is a flattened feed with its category path.
type FeedEntry struct {
	CategoryPath []string // e.g., ["Tech", "Databases"]
	Title        string
	URL          string
	SiteURL      string
}

// ImportReport summarizes one import run.
type ImportReport struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"` // already-subscribed URLs
}

// Parse reads an OPML document and returns a flat list of FeedEntry.
func Parse(r io.Reader) ([]FeedEntry, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var entries []FeedEntry
	var walk func(outlines []Outline, path []string)
	walk = func(outlines []Outline, path []string) {
		for _, o := range outlines {
			if o.XMLURL != "" {
				title := o.Title
				if title == "" {
					title = o.Text
				}
				entries = append(entries, FeedEntry{
					CategoryPath: append([]string{}, path...),
					Title:        title,
					URL:          o.XMLURL,
					SiteURL:      o.HTMLURL,
				})
			} else if len(o.Outlines) > 0 {
				name := o.Text
				if name == "" {
					name = o.Title
				}
				walk(o.Outlines, append(path, name))
			}
		}
	}
	walk(doc.Body.Outlines, nil)
	return entries, nil
}

// Import reads an OPML document and creates the categories and feeds it
// describes. Already-subscribed URLs are skipped, so importing the same
// document twice is a no-op the second time.
func Import(db database.Store, r io.Reader) (*ImportReport, error) {
	entries, err := Parse(r)
	if err != nil {
		return nil, err
	}

	report := &ImportReport{}
	for _, entry := range entries {
		var categoryID *int64
		for _, name := range entry.CategoryPath {
			id, err := db.GetOrCreateCategory(name, categoryID)
			if err != nil {
				return nil, fmt.Errorf("create category %q: %w", name, err)
			}
			categoryID = &id
		}

		if _, err := db.GetFeedByURL(entry.URL); err == nil {
			report.Skipped++
			continue
		} else if !errors.Is(err, database.ErrNotFound) {
			return nil, err
		}

		feed := &model.Feed{
			URL:                  entry.URL,
			Title:                entry.Title,
			SiteURL:              entry.SiteURL,
			CategoryID:           categoryID,
			IsActive:             true,
			FetchIntervalMinutes: model.DefaultFetchIntervalMinutes,
		}
		if _, err := db.CreateFeed(feed); err != nil {
			return nil, fmt.Errorf("create feed %s: %w", entry.URL, err)
		}
		report.Imported++
	}
	log.Printf("[INFO] opml import: %d imported, %d skipped", report.Imported, report.Skipped)
	return report, nil
}

// ImportFromURL downloads an OPML document and imports it.
func ImportFromURL(ctx context.Context, db database.Store, opmlURL string) (*ImportReport, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opmlURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", opmlURL, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", opmlURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", opmlURL, resp.StatusCode)
	}
	return Import(db, resp.Body)
}

// Export writes all feeds as an OPML 2.0 document, reconstructing the
// category tree.
func Export(db database.Store, title string) ([]byte, error) {
	categories, err := db.GetCategories()
	if err != nil {
		return nil, err
	}
	feeds, err := db.GetFeeds(nil)
	if err != nil {
		return nil, err
	}

	// Index children and feeds by parent category, then build the
	// outline tree recursively from the roots.
	children := make(map[int64][]model.Category)
	var roots []model.Category
	for _, c := range categories {
		if c.ParentID == nil {
			roots = append(roots, c)
		} else {
			children[*c.ParentID] = append(children[*c.ParentID], c)
		}
	}
	feedsByCategory := make(map[int64][]model.Feed)
	var uncategorized []model.Feed
	for _, f := range feeds {
		if f.CategoryID == nil {
			uncategorized = append(uncategorized, f)
		} else {
			feedsByCategory[*f.CategoryID] = append(feedsByCategory[*f.CategoryID], f)
		}
	}

	feedOutline := func(f model.Feed) Outline {
		return Outline{
			Text:    f.Title,
			Title:   f.Title,
			Type:    "rss",
			XMLURL:  f.URL,
			HTMLURL: f.SiteURL,
		}
	}
	var build func(c model.Category) Outline
	build = func(c model.Category) Outline {
		o := Outline{Text: c.Name, Title: c.Name}
		for _, child := range children[c.ID] {
			o.Outlines = append(o.Outlines, build(child))
		}
		for _, f := range feedsByCategory[c.ID] {
			o.Outlines = append(o.Outlines, feedOutline(f))
		}
		return o
	}

	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: time.Now().UTC().Format(time.RFC1123Z),
		},
	}
	for _, c := range roots {
		doc.Body.Outlines = append(doc.Body.Outlines, build(c))
	}
	for _, f := range uncategorized {
		doc.Body.Outlines = append(doc.Body.Outlines, feedOutline(f))
	}

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}
