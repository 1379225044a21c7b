// Package server provides the HTTP API.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/go-pkgz/lgr"
	"github.com/robfig/cron/v3"

	"newsbrief/internal/database"
	"newsbrief/internal/digest"
	"newsbrief/internal/llm"
	"newsbrief/internal/model"
	"newsbrief/internal/opml"
	"newsbrief/internal/rss"
	"newsbrief/internal/scheduler"
	"newsbrief/internal/summary"
)

// Server is the HTTP API over the aggregator services.
type Server struct {
	db        database.Store
	fetcher   *rss.Fetcher
	summaries *summary.Service
	digests   *digest.Service
	registry  *scheduler.Registry
	router    chi.Router
}

// New creates a server and mounts its routes.
func New(db database.Store, fetcher *rss.Fetcher, summaries *summary.Service, digests *digest.Service, registry *scheduler.Registry) *Server {
	s := &Server{
		db:        db,
		fetcher:   fetcher,
		summaries: summaries,
		digests:   digests,
		registry:  registry,
	}
	s.setupRoutes()
	return s
}

// Handler returns the mounted router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/feeds", func(r chi.Router) {
			r.Get("/", s.handleListFeeds)
			r.Post("/", s.handleCreateFeed)
			r.Post("/fetch-all", s.handleFetchAll)
			r.Get("/{feedID}", s.handleGetFeed)
			r.Put("/{feedID}", s.handleUpdateFeed)
			r.Delete("/{feedID}", s.handleDeleteFeed)
			r.Post("/{feedID}/fetch", s.handleFetchFeed)
		})
		r.Route("/categories", func(r chi.Router) {
			r.Get("/", s.handleListCategories)
			r.Post("/", s.handleCreateCategory)
			r.Get("/{categoryID}", s.handleGetCategory)
			r.Delete("/{categoryID}", s.handleDeleteCategory)
		})
		r.Route("/articles", func(r chi.Router) {
			r.Get("/", s.handleListArticles)
			r.Get("/{articleID}", s.handleGetArticle)
			r.Post("/{articleID}/read", s.handleToggleRead)
			r.Post("/{articleID}/star", s.handleToggleStarred)
			r.Post("/{articleID}/summarize", s.handleSummarize)
			r.Get("/{articleID}/summary", s.handleGetSummary)
		})
		r.Post("/summaries/batch", s.handleBatchSummarize)
		r.Route("/digests", func(r chi.Router) {
			r.Get("/", s.handleListDigests)
			r.Post("/", s.handleGenerateDigest)
			r.Get("/{digestID}", s.handleGetDigest)
		})
		r.Route("/llm-configs", func(r chi.Router) {
			r.Get("/", s.handleListLLMConfigs)
			r.Post("/", s.handleCreateLLMConfig)
			r.Get("/{configID}", s.handleGetLLMConfig)
			r.Put("/{configID}", s.handleUpdateLLMConfig)
			r.Delete("/{configID}", s.handleDeleteLLMConfig)
			r.Post("/{configID}/set-default", s.handleSetDefaultLLMConfig)
			r.Post("/{configID}/test", s.handleTestLLMConfig)
		})
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Get("/{taskID}", s.handleGetTask)
			r.Put("/{taskID}", s.handleUpdateTask)
			r.Post("/{taskID}/run", s.handleRunTask)
			r.Get("/{taskID}/logs", s.handleTaskLogs)
		})
		r.Route("/opml", func(r chi.Router) {
			r.Post("/import", s.handleImportOPML)
			r.Post("/import-url", s.handleImportOPMLFromURL)
			r.Get("/export", s.handleExportOPML)
		})
	})

	s.router = r
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[WARN] encode response: %v", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps service errors onto HTTP statuses: missing records are
// 404, configuration problems 400, upstream provider failures 502.
func writeError(w http.ResponseWriter, err error) {
	var provErr *llm.ProviderError
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, llm.ErrNoConfig):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.As(err, &provErr):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func writeValidationError(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: msg})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func idParam(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"database": s.db.DatabaseType(),
	})
}

// --- Feeds ---

type feedResponse struct {
	ID                   int64      `json:"id"`
	URL                  string     `json:"url"`
	Title                string     `json:"title"`
	Description          string     `json:"description"`
	SiteURL              string     `json:"site_url"`
	CategoryID           *int64     `json:"category_id"`
	IsActive             bool       `json:"is_active"`
	FetchIntervalMinutes int        `json:"fetch_interval_minutes"`
	LastFetchedAt        *time.Time `json:"last_fetched_at"`
	ArticleCount         int        `json:"article_count"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func toFeedResponse(f model.Feed, articleCount int) feedResponse {
	return feedResponse{
		ID:                   f.ID,
		URL:                  f.URL,
		Title:                f.Title,
		Description:          f.Description,
		SiteURL:              f.SiteURL,
		CategoryID:           f.CategoryID,
		IsActive:             f.IsActive,
		FetchIntervalMinutes: f.FetchIntervalMinutes,
		LastFetchedAt:        f.LastFetchedAt,
		ArticleCount:         articleCount,
		CreatedAt:            f.CreatedAt,
		UpdatedAt:            f.UpdatedAt,
	}
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	var categoryID *int64
	if v := r.URL.Query().Get("category_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeBadRequest(w, "invalid category_id")
			return
		}
		categoryID = &id
	}
	feeds, err := s.db.GetFeeds(categoryID)
	if err != nil {
		writeError(w, err)
		return
	}
	counts, err := s.db.GetArticleCountsByFeed()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]feedResponse, 0, len(feeds))
	for _, f := range feeds {
		out = append(out, toFeedResponse(f, counts[f.ID]))
	}
	writeJSON(w, http.StatusOK, out)
}

type feedRequest struct {
	URL                  string `json:"url"`
	Title                string `json:"title"`
	Description          string `json:"description"`
	SiteURL              string `json:"site_url"`
	CategoryID           *int64 `json:"category_id"`
	IsActive             *bool  `json:"is_active"`
	FetchIntervalMinutes int    `json:"fetch_interval_minutes"`
}

func (s *Server) handleCreateFeed(w http.ResponseWriter, r *http.Request) {
	var req feedRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.URL == "" {
		writeBadRequest(w, "url is required")
		return
	}
	if req.FetchIntervalMinutes == 0 {
		req.FetchIntervalMinutes = model.DefaultFetchIntervalMinutes
	}
	if req.FetchIntervalMinutes < model.MinFetchIntervalMinutes {
		writeValidationError(w, fmt.Sprintf("fetch_interval_minutes must be at least %d", model.MinFetchIntervalMinutes))
		return
	}
	if _, err := s.db.GetFeedByURL(req.URL); err == nil {
		writeBadRequest(w, "feed already subscribed")
		return
	} else if !errors.Is(err, database.ErrNotFound) {
		writeError(w, err)
		return
	}

	feed := &model.Feed{
		URL:                  req.URL,
		Title:                req.Title,
		Description:          req.Description,
		SiteURL:              req.SiteURL,
		CategoryID:           req.CategoryID,
		IsActive:             true,
		FetchIntervalMinutes: req.FetchIntervalMinutes,
	}
	if req.IsActive != nil {
		feed.IsActive = *req.IsActive
	}
	// No title supplied: probe the feed and take its own.
	if feed.Title == "" {
		if meta, err := s.fetcher.ProbeFeed(r.Context(), feed.URL); err == nil {
			feed.Title = meta.Title
			if feed.Description == "" {
				feed.Description = meta.Description
			}
			if feed.SiteURL == "" {
				feed.SiteURL = meta.SiteURL
			}
		} else {
			log.Printf("[WARN] probe %s failed: %v", feed.URL, err)
		}
	}

	id, err := s.db.CreateFeed(feed)
	if err != nil {
		writeError(w, err)
		return
	}
	created, err := s.db.GetFeedByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFeedResponse(*created, 0))
}

func (s *Server) handleGetFeed(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "feedID")
	if err != nil {
		writeBadRequest(w, "invalid feed id")
		return
	}
	feed, err := s.db.GetFeedByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	counts, err := s.db.GetArticleCountsByFeed()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFeedResponse(*feed, counts[feed.ID]))
}

func (s *Server) handleUpdateFeed(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "feedID")
	if err != nil {
		writeBadRequest(w, "invalid feed id")
		return
	}
	feed, err := s.db.GetFeedByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	var req feedRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.Title != "" {
		feed.Title = req.Title
	}
	if req.Description != "" {
		feed.Description = req.Description
	}
	if req.SiteURL != "" {
		feed.SiteURL = req.SiteURL
	}
	if req.CategoryID != nil {
		feed.CategoryID = req.CategoryID
	}
	if req.IsActive != nil {
		feed.IsActive = *req.IsActive
	}
	if req.FetchIntervalMinutes != 0 {
		if req.FetchIntervalMinutes < model.MinFetchIntervalMinutes {
			writeValidationError(w, fmt.Sprintf("fetch_interval_minutes must be at least %d", model.MinFetchIntervalMinutes))
			return
		}
		feed.FetchIntervalMinutes = req.FetchIntervalMinutes
	}
	if err := s.db.UpdateFeed(feed); err != nil {
		writeError(w, err)
		return
	}
	updated, err := s.db.GetFeedByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	counts, _ := s.db.GetArticleCountsByFeed()
	writeJSON(w, http.StatusOK, toFeedResponse(*updated, counts[id]))
}

func (s *Server) handleDeleteFeed(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "feedID")
	if err != nil {
		writeBadRequest(w, "invalid feed id")
		return
	}
	if err := s.db.DeleteFeed(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFetchFeed(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "feedID")
	if err != nil {
		writeBadRequest(w, "invalid feed id")
		return
	}
	result, err := s.fetcher.FetchFeed(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       result.Status,
		"http_status":  result.HTTPStatus,
		"new_articles": result.NewArticles,
	})
}

func (s *Server) handleFetchAll(w http.ResponseWriter, r *http.Request) {
	report, err := s.fetcher.FetchAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- Categories ---

type categoryNodeResponse struct {
	ID       int64                   `json:"id"`
	Name     string                  `json:"name"`
	ParentID *int64                  `json:"parent_id"`
	Children []*categoryNodeResponse `json:"children"`
}

func toCategoryNodeResponse(node *model.CategoryNode) *categoryNodeResponse {
	out := &categoryNodeResponse{
		ID:       node.ID,
		Name:     node.Name,
		ParentID: node.ParentID,
		Children: []*categoryNodeResponse{},
	}
	for _, child := range node.Children {
		out.Children = append(out.Children, toCategoryNodeResponse(child))
	}
	return out
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.db.GetCategories()
	if err != nil {
		writeError(w, err)
		return
	}
	roots := model.BuildCategoryTree(categories)
	out := make([]*categoryNodeResponse, 0, len(roots))
	for _, root := range roots {
		out = append(out, toCategoryNodeResponse(root))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		ParentID *int64 `json:"parent_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}
	if req.ParentID != nil {
		if _, err := s.db.GetCategoryByID(*req.ParentID); err != nil {
			writeError(w, err)
			return
		}
	}
	id, err := s.db.CreateCategory(req.Name, req.ParentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":        id,
		"name":      req.Name,
		"parent_id": req.ParentID,
	})
}

func (s *Server) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "categoryID")
	if err != nil {
		writeBadRequest(w, "invalid category id")
		return
	}
	category, err := s.db.GetCategoryByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":        category.ID,
		"name":      category.Name,
		"parent_id": category.ParentID,
	})
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "categoryID")
	if err != nil {
		writeBadRequest(w, "invalid category id")
		return
	}
	if err := s.db.DeleteCategory(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Articles ---

type articleResponse struct {
	ID          int64      `json:"id"`
	FeedID      int64      `json:"feed_id"`
	GUID        string     `json:"guid"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Author      string     `json:"author"`
	Content     string     `json:"content"`
	PublishedAt *time.Time `json:"published_at"`
	IsRead      bool       `json:"is_read"`
	IsStarred   bool       `json:"is_starred"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toArticleResponse(a model.Article) articleResponse {
	return articleResponse{
		ID:          a.ID,
		FeedID:      a.FeedID,
		GUID:        a.GUID,
		Title:       a.Title,
		URL:         a.URL,
		Author:      a.Author,
		Content:     a.Content,
		PublishedAt: a.PublishedAt,
		IsRead:      a.IsRead,
		IsStarred:   a.IsStarred,
		CreatedAt:   a.CreatedAt,
	}
}

func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := database.ArticleFilter{Search: q.Get("search"), Page: 1, PageSize: 20}
	if v := q.Get("feed_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeBadRequest(w, "invalid feed_id")
			return
		}
		filter.FeedID = &id
	}
	if v := q.Get("is_read"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "invalid is_read")
			return
		}
		filter.IsRead = &b
	}
	if v := q.Get("is_starred"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "invalid is_starred")
			return
		}
		filter.IsStarred = &b
	}
	if v := q.Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Page = n
		}
	}
	if v := q.Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			filter.PageSize = n
		}
	}

	articles, total, err := s.db.GetArticles(filter)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]articleResponse, 0, len(articles))
	for _, a := range articles {
		out = append(out, toArticleResponse(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"articles":  out,
		"total":     total,
		"page":      filter.Page,
		"page_size": filter.PageSize,
	})
}

func (s *Server) handleGetArticle(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "articleID")
	if err != nil {
		writeBadRequest(w, "invalid article id")
		return
	}
	article, err := s.db.GetArticleByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toArticleResponse(*article))
}

func (s *Server) handleToggleRead(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "articleID")
	if err != nil {
		writeBadRequest(w, "invalid article id")
		return
	}
	article, err := s.db.ToggleArticleRead(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toArticleResponse(*article))
}

func (s *Server) handleToggleStarred(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "articleID")
	if err != nil {
		writeBadRequest(w, "invalid article id")
		return
	}
	article, err := s.db.ToggleArticleStarred(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toArticleResponse(*article))
}

// --- Summaries ---

type summaryResponse struct {
	ID          int64     `json:"id"`
	ArticleID   int64     `json:"article_id"`
	LLMProvider string    `json:"llm_provider"`
	LLMModel    string    `json:"llm_model"`
	SummaryText string    `json:"summary_text"`
	KeyPoints   []string  `json:"key_points"`
	TokenUsage  int       `json:"token_usage"`
	CreatedAt   time.Time `json:"created_at"`
}

func toSummaryResponse(s model.Summary) summaryResponse {
	keyPoints := s.KeyPoints
	if keyPoints == nil {
		keyPoints = []string{}
	}
	return summaryResponse{
		ID:          s.ID,
		ArticleID:   s.ArticleID,
		LLMProvider: s.LLMProvider,
		LLMModel:    s.LLMModel,
		SummaryText: s.SummaryText,
		KeyPoints:   keyPoints,
		TokenUsage:  s.TokenUsage,
		CreatedAt:   s.CreatedAt,
	}
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "articleID")
	if err != nil {
		writeBadRequest(w, "invalid article id")
		return
	}
	var req struct {
		ConfigID *int64 `json:"config_id"`
	}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeBadRequest(w, err.Error())
			return
		}
	}
	result, err := s.summaries.Summarize(r.Context(), id, req.ConfigID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryResponse(*result))
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "articleID")
	if err != nil {
		writeBadRequest(w, "invalid article id")
		return
	}
	result, err := s.db.GetSummaryByArticleID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryResponse(*result))
}

func (s *Server) handleBatchSummarize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ArticleIDs []int64 `json:"article_ids"`
		ConfigID   *int64  `json:"config_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if len(req.ArticleIDs) == 0 {
		writeBadRequest(w, "article_ids is required")
		return
	}
	results := s.summaries.BatchSummarize(r.Context(), req.ArticleIDs, req.ConfigID)
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// --- Digests ---

type digestResponse struct {
	ID           int64            `json:"id"`
	PeriodType   model.PeriodKind `json:"period_type"`
	PeriodStart  time.Time        `json:"period_start"`
	PeriodEnd    time.Time        `json:"period_end"`
	Content      string           `json:"content"`
	ArticleCount int              `json:"article_count"`
	LLMProvider  string           `json:"llm_provider"`
	LLMModel     string           `json:"llm_model"`
	CreatedAt    time.Time        `json:"created_at"`
}

func toDigestResponse(d model.DigestReport) digestResponse {
	return digestResponse{
		ID:           d.ID,
		PeriodType:   d.PeriodType,
		PeriodStart:  d.PeriodStart,
		PeriodEnd:    d.PeriodEnd,
		Content:      d.Content,
		ArticleCount: d.ArticleCount,
		LLMProvider:  d.LLMProvider,
		LLMModel:     d.LLMModel,
		CreatedAt:    d.CreatedAt,
	}
}

func (s *Server) handleGenerateDigest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PeriodType model.PeriodKind `json:"period_type"`
		Anchor     *time.Time       `json:"anchor"`
		Start      *time.Time       `json:"start"`
		End        *time.Time       `json:"end"`
		ConfigID   *int64           `json:"config_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if !req.PeriodType.Valid() {
		writeValidationError(w, fmt.Sprintf("invalid period_type %q", req.PeriodType))
		return
	}

	var start, end time.Time
	if req.Start != nil && req.End != nil {
		start, end = req.Start.UTC(), req.End.UTC()
		if !start.Before(end) {
			writeValidationError(w, "start must be before end")
			return
		}
	} else {
		var err error
		start, end, err = digest.WindowFor(req.PeriodType, req.Anchor)
		if err != nil {
			writeValidationError(w, err.Error())
			return
		}
	}

	report, err := s.digests.Generate(r.Context(), req.PeriodType, start, end, req.ConfigID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDigestResponse(*report))
}

func (s *Server) handleListDigests(w http.ResponseWriter, r *http.Request) {
	var period *model.PeriodKind
	if v := r.URL.Query().Get("period_type"); v != "" {
		p := model.PeriodKind(v)
		if !p.Valid() {
			writeValidationError(w, fmt.Sprintf("invalid period_type %q", v))
			return
		}
		period = &p
	}
	reports, err := s.db.GetDigests(period)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]digestResponse, 0, len(reports))
	for _, d := range reports {
		out = append(out, toDigestResponse(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDigest(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "digestID")
	if err != nil {
		writeBadRequest(w, "invalid digest id")
		return
	}
	report, err := s.db.GetDigestByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDigestResponse(*report))
}

// --- LLM provider configs ---

type llmConfigResponse struct {
	ID           int64              `json:"id"`
	ProviderType model.ProviderKind `json:"provider_type"`
	DisplayName  string             `json:"display_name"`
	APIKey       string             `json:"api_key"` // masked
	BaseURL      string             `json:"base_url"`
	ModelName    string             `json:"model_name"`
	IsDefault    bool               `json:"is_default"`
	Temperature  float64            `json:"temperature"`
	MaxTokens    int                `json:"max_tokens"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// maskAPIKey hides all but the last four characters.
func maskAPIKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func toLLMConfigResponse(c model.LLMProviderConfig) llmConfigResponse {
	return llmConfigResponse{
		ID:           c.ID,
		ProviderType: c.ProviderType,
		DisplayName:  c.DisplayName,
		APIKey:       maskAPIKey(c.APIKey),
		BaseURL:      c.BaseURL,
		ModelName:    c.ModelName,
		IsDefault:    c.IsDefault,
		Temperature:  c.Temperature,
		MaxTokens:    c.MaxTokens,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

type llmConfigRequest struct {
	ProviderType model.ProviderKind `json:"provider_type"`
	DisplayName  string             `json:"display_name"`
	APIKey       string             `json:"api_key"`
	BaseURL      string             `json:"base_url"`
	ModelName    string             `json:"model_name"`
	IsDefault    *bool              `json:"is_default"`
	Temperature  *float64           `json:"temperature"`
	MaxTokens    *int               `json:"max_tokens"`
}

func validProviderType(p model.ProviderKind) bool {
	switch p {
	case model.ProviderOpenAI, model.ProviderZhipu, model.ProviderDoubao,
		model.ProviderMiniMax, model.ProviderOpenAICompat,
		model.ProviderGemini, model.ProviderAnthropic:
		return true
	}
	return false
}

func (s *Server) handleListLLMConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := s.db.GetLLMConfigs()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]llmConfigResponse, 0, len(configs))
	for _, c := range configs {
		out = append(out, toLLMConfigResponse(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateLLMConfig(w http.ResponseWriter, r *http.Request) {
	var req llmConfigRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if !validProviderType(req.ProviderType) {
		writeValidationError(w, fmt.Sprintf("invalid provider_type %q", req.ProviderType))
		return
	}
	if req.APIKey == "" || req.ModelName == "" {
		writeBadRequest(w, "api_key and model_name are required")
		return
	}

	cfg := model.LLMProviderConfig{
		ProviderType: req.ProviderType,
		DisplayName:  req.DisplayName,
		APIKey:       req.APIKey,
		BaseURL:      req.BaseURL,
		ModelName:    req.ModelName,
		Temperature:  0.7,
		MaxTokens:    1024,
	}
	if req.IsDefault != nil {
		cfg.IsDefault = *req.IsDefault
	}
	if req.Temperature != nil {
		cfg.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		cfg.MaxTokens = *req.MaxTokens
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		writeValidationError(w, "temperature must be between 0.0 and 2.0")
		return
	}
	if cfg.MaxTokens < 1 {
		writeValidationError(w, "max_tokens must be at least 1")
		return
	}
	// Construction surfaces base-URL problems before anything persists.
	if _, err := llm.New(cfg); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	id, err := s.db.CreateLLMConfig(&cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	created, err := s.db.GetLLMConfigByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLLMConfigResponse(*created))
}

func (s *Server) handleGetLLMConfig(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "configID")
	if err != nil {
		writeBadRequest(w, "invalid config id")
		return
	}
	cfg, err := s.db.GetLLMConfigByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLLMConfigResponse(*cfg))
}

func (s *Server) handleUpdateLLMConfig(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "configID")
	if err != nil {
		writeBadRequest(w, "invalid config id")
		return
	}
	cfg, err := s.db.GetLLMConfigByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	var req llmConfigRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.ProviderType != "" {
		if !validProviderType(req.ProviderType) {
			writeValidationError(w, fmt.Sprintf("invalid provider_type %q", req.ProviderType))
			return
		}
		cfg.ProviderType = req.ProviderType
	}
	if req.DisplayName != "" {
		cfg.DisplayName = req.DisplayName
	}
	if req.APIKey != "" {
		cfg.APIKey = req.APIKey
	}
	if req.BaseURL != "" {
		cfg.BaseURL = req.BaseURL
	}
	if req.ModelName != "" {
		cfg.ModelName = req.ModelName
	}
	if req.IsDefault != nil {
		cfg.IsDefault = *req.IsDefault
	}
	if req.Temperature != nil {
		cfg.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		cfg.MaxTokens = *req.MaxTokens
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		writeValidationError(w, "temperature must be between 0.0 and 2.0")
		return
	}
	if cfg.MaxTokens < 1 {
		writeValidationError(w, "max_tokens must be at least 1")
		return
	}
	if _, err := llm.New(*cfg); err != nil {
		writeValidationError(w, err.Error())
		return
	}

	if err := s.db.UpdateLLMConfig(cfg); err != nil {
		writeError(w, err)
		return
	}
	updated, err := s.db.GetLLMConfigByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLLMConfigResponse(*updated))
}

func (s *Server) handleDeleteLLMConfig(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "configID")
	if err != nil {
		writeBadRequest(w, "invalid config id")
		return
	}
	if err := s.db.DeleteLLMConfig(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetDefaultLLMConfig(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "configID")
	if err != nil {
		writeBadRequest(w, "invalid config id")
		return
	}
	if err := s.db.SetDefaultLLMConfig(id); err != nil {
		writeError(w, err)
		return
	}
	cfg, err := s.db.GetLLMConfigByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLLMConfigResponse(*cfg))
}

func (s *Server) handleTestLLMConfig(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "configID")
	if err != nil {
		writeBadRequest(w, "invalid config id")
		return
	}
	cfg, err := s.db.GetLLMConfigByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	provider, err := llm.New(*cfg)
	if err != nil {
		writeValidationError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": provider.TestConnection(r.Context())})
}

// --- Scheduled tasks ---

type taskResponse struct {
	ID             int64      `json:"id"`
	TaskType       string     `json:"task_type"`
	CronExpression string     `json:"cron_expression"`
	IsEnabled      bool       `json:"is_enabled"`
	LastRunAt      *time.Time `json:"last_run_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toTaskResponse(t model.ScheduledTask) taskResponse {
	return taskResponse{
		ID:             t.ID,
		TaskType:       t.TaskType,
		CronExpression: t.CronExpression,
		IsEnabled:      t.IsEnabled,
		LastRunAt:      t.LastRunAt,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.db.GetTasks()
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "taskID")
	if err != nil {
		writeBadRequest(w, "invalid task id")
		return
	}
	task, err := s.db.GetTaskByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(*task))
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "taskID")
	if err != nil {
		writeBadRequest(w, "invalid task id")
		return
	}
	task, err := s.db.GetTaskByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		CronExpression string `json:"cron_expression"`
		IsEnabled      *bool  `json:"is_enabled"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.CronExpression != "" {
		if _, err := cron.ParseStandard(req.CronExpression); err != nil {
			writeValidationError(w, fmt.Sprintf("invalid cron expression: %v", err))
			return
		}
		task.CronExpression = req.CronExpression
	}
	if req.IsEnabled != nil {
		task.IsEnabled = *req.IsEnabled
	}
	if err := s.db.UpdateTask(task); err != nil {
		writeError(w, err)
		return
	}
	if err := s.registry.Reschedule(); err != nil {
		writeError(w, err)
		return
	}
	updated, err := s.db.GetTaskByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(*updated))
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "taskID")
	if err != nil {
		writeBadRequest(w, "invalid task id")
		return
	}
	task, err := s.db.GetTaskByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.registry.RunNow(task.TaskType); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed", "task_type": task.TaskType})
}

func (s *Server) handleTaskLogs(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "taskID")
	if err != nil {
		writeBadRequest(w, "invalid task id")
		return
	}
	if _, err := s.db.GetTaskByID(id); err != nil {
		writeError(w, err)
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	logs, err := s.db.GetTaskLogs(id, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	type taskLogResponse struct {
		ID         int64     `json:"id"`
		TaskID     int64     `json:"task_id"`
		Status     string    `json:"status"`
		Message    string    `json:"message"`
		StartedAt  time.Time `json:"started_at"`
		FinishedAt time.Time `json:"finished_at"`
	}
	out := make([]taskLogResponse, 0, len(logs))
	for _, l := range logs {
		out = append(out, taskLogResponse{
			ID:         l.ID,
			TaskID:     l.TaskID,
			Status:     l.Status,
			Message:    l.Message,
			StartedAt:  l.StartedAt,
			FinishedAt: l.FinishedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// --- OPML ---

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("opml")
	if err != nil {
		writeBadRequest(w, "no opml file provided")
		return
	}
	defer file.Close()

	report, err := opml.Import(s.db, file)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleImportOPMLFromURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.URL == "" {
		writeBadRequest(w, "url is required")
		return
	}
	report, err := opml.ImportFromURL(r.Context(), s.db, req.URL)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	data, err := opml.Export(s.db, "newsbrief subscriptions")
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/x-opml")
	w.Header().Set("Content-Disposition", `attachment; filename="newsbrief.opml"`)
	w.Write(data)
}
