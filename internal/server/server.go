package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/unattachedgray/feedbuffet/config"
	"github.com/unattachedgray/feedbuffet/internal/pipeline"
	"github.com/unattachedgray/feedbuffet/internal/search"
	"github.com/unattachedgray/feedbuffet/internal/store"
	"github.com/unattachedgray/feedbuffet/internal/telemetry"
)

const defaultStoryLimit = 20

// RunStarter triggers one pipeline run. *pipeline.Runner satisfies it.
type RunStarter interface {
	Run(ctx context.Context, opts pipeline.Options) (pipeline.Result, error)
}

// StatusReader is the store subset the API handlers read from.
type StatusReader interface {
	GetPipelineStatus(ctx context.Context) (store.PipelineStatus, bool, error)
	ListRecentStories(ctx context.Context, n int) ([]store.Story, error)
}

// Server exposes the read API and the manual run trigger.
type Server struct {
	Cfg     config.Config
	Store   StatusReader
	Runner  RunStarter
	Index   *search.Index
	Metrics *telemetry.Metrics
	Logger  *log.Logger

	running atomic.Bool
}

// NewServer wires the HTTP surface. Index and Metrics may be nil.
func NewServer(cfg config.Config, st StatusReader, runner RunStarter, idx *search.Index, metrics *telemetry.Metrics, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	return &Server{Cfg: cfg, Store: st, Runner: runner, Index: idx, Metrics: metrics, Logger: logger}
}

// Echo builds the routed echo instance.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		s.Logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if s.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.Metrics.Handler()))
	}

	api := e.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/stories", s.handleStories)
	api.GET("/stories/search", s.handleSearch)
	api.POST("/run", s.handleRun)
	return e
}

// Start serves until the listener fails.
func (s *Server) Start() error {
	addr := s.Cfg.Server.Address
	if addr == "" {
		addr = ":8080"
	}
	e := s.Echo()
	s.Logger.Printf("listening on %s", addr)
	return e.Start(addr)
}

func (s *Server) handleStatus(c echo.Context) error {
	ps, ok, err := s.Store.GetPipelineStatus(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status_text":      "Idle.",
			"progress_percent": 0,
			"is_active":        false,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status_text":      ps.StatusText,
		"progress_percent": ps.ProgressPercent,
		"is_active":        ps.IsActive,
		"updated_at":       ps.UpdatedAt,
	})
}

func (s *Server) handleStories(c echo.Context) error {
	limit := defaultStoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	stories, err := s.Store.ListRecentStories(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"stories": storiesJSON(stories)})
}

func (s *Server) handleSearch(c echo.Context) error {
	if s.Index == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "search index disabled")
	}
	q := c.QueryParam("q")
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	limit := defaultStoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	hits, err := s.Index.Search(q, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if hits == nil {
		hits = []search.Hit{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"hits": hits})
}

type runRequest struct {
	Categories []string `json:"categories"`
	Query      string   `json:"query"`
	Provider   string   `json:"provider"`
}

// handleRun kicks off a pipeline run in the background. A second trigger
// while one is in flight is rejected with 409.
func (s *Server) handleRun(c echo.Context) error {
	var req runRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	provider := req.Provider
	if provider == "" {
		provider = s.Cfg.LLM.DefaultProvider
	}

	if !s.running.CompareAndSwap(false, true) {
		return echo.NewHTTPError(http.StatusConflict, "a pipeline run is already in progress")
	}
	go func() {
		defer s.running.Store(false)
		res, err := s.Runner.Run(context.Background(), pipeline.Options{
			Categories: req.Categories,
			Query:      req.Query,
			Provider:   provider,
		})
		if err != nil {
			s.Logger.Printf("triggered run failed: %v", err)
			return
		}
		s.Logger.Printf("triggered run finished: %d stories from %d new items", len(res.Stories), res.NewItems)
	}()
	return c.JSON(http.StatusAccepted, map[string]string{"status": "started"})
}

type storyJSON struct {
	ID          string              `json:"id"`
	Key         string              `json:"key"`
	Title       string              `json:"title"`
	Summary     string              `json:"summary"`
	Category    string              `json:"category"`
	Language    string              `json:"language"`
	Entities    []string            `json:"entities"`
	Topics      []string            `json:"topics"`
	Sources     []store.StorySource `json:"sources"`
	SourceURLs  []string            `json:"source_urls"`
	PublishedAt string              `json:"published_at"`
	CreatedAt   string              `json:"created_at"`
}

func storiesJSON(stories []store.Story) []storyJSON {
	out := make([]storyJSON, 0, len(stories))
	for _, st := range stories {
		out = append(out, storyJSON{
			ID:          st.ID,
			Key:         st.Key,
			Title:       st.Title,
			Summary:     st.Summary,
			Category:    st.Category,
			Language:    st.Language,
			Entities:    st.Entities,
			Topics:      st.Topics,
			Sources:     st.Sources,
			SourceURLs:  st.SourceURLs,
			PublishedAt: st.PublishedAt.UTC().Format(time.RFC3339),
			CreatedAt:   st.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}
