// Package server exposes the ask pipeline and metadata lookups over HTTP.
// Thin transport: it never interprets pipeline errors, only payloads.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/econoquery/econoquery/internal/metadata"
	"github.com/econoquery/econoquery/internal/pipeline"
	"github.com/econoquery/econoquery/internal/store"
)

// Asker is the pipeline surface the transport depends on.
type Asker interface {
	Ask(ctx context.Context, question string) pipeline.AnswerPayload
}

// Server wires the HTTP transport over the pipeline and catalog.
type Server struct {
	agent   Asker
	catalog *metadata.Catalog
	audit   *store.Store // optional
	secret  []byte       // optional; enables bearer auth on /api
	logger  *log.Logger
}

// New creates a server. audit may be nil; secret may be empty to disable auth.
func New(agent Asker, catalog *metadata.Catalog, audit *store.Store, secret string, logger *log.Logger) *Server {
	return &Server{
		agent:   agent,
		catalog: catalog,
		audit:   audit,
		secret:  []byte(secret),
		logger:  logger,
	}
}

// Start runs the HTTP server until it fails or is shut down.
func (s *Server) Start(addr string) error {
	e := s.router()
	return e.Start(addr)
}

func (s *Server) router() *echo.Echo {
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
		s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	if len(s.secret) > 0 {
		api.Use(s.requireBearer)
	}
	api.POST("/ask", s.ask)
	api.GET("/datasets", s.listDatasets)
	api.GET("/datasets/:name", s.readDataset)
	api.GET("/asks", s.recentAsks)

	return e
}

// AskRequest is the POST /api/ask body.
type AskRequest struct {
	Question string `json:"question"`
}

func (s *Server) ask(c echo.Context) error {
	var req AskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question must be a non-empty string")
	}
	payload := s.agent.Ask(c.Request().Context(), question)
	return c.JSON(http.StatusOK, payload)
}

// DatasetSummary is one /api/datasets entry.
type DatasetSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Tables      int    `json:"tables"`
}

func (s *Server) listDatasets(c echo.Context) error {
	snap := s.catalog.Current()
	if snap == nil {
		return c.JSON(http.StatusOK, []DatasetSummary{})
	}
	out := make([]DatasetSummary, 0, len(snap.Datasets))
	for _, ds := range snap.Datasets {
		desc := ds.Description
		if ds.GeneratedDescription != "" {
			desc = ds.GeneratedDescription
		}
		out = append(out, DatasetSummary{Name: ds.Name, Description: desc, Tables: len(ds.Tables)})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) readDataset(c echo.Context) error {
	snap := s.catalog.Current()
	if snap == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no metadata loaded")
	}
	qc, err := pipeline.BuildQueryContext(snap, c.Param("name"), c.QueryParam("table"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, qc)
}

func (s *Server) recentAsks(c echo.Context) error {
	if s.audit == nil {
		return echo.NewHTTPError(http.StatusNotFound, "audit store not configured")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	records, err := s.audit.RecentAsks(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, records)
}
