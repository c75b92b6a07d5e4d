// Package server exposes changes, analyses and the obligation catalog over
// a JSON API and a small HTML dashboard.
package server

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"github.com/TobiSchelling/RegWatch/internal/analysis"
	"github.com/TobiSchelling/RegWatch/internal/collect"
	"github.com/TobiSchelling/RegWatch/internal/database"
	"github.com/TobiSchelling/RegWatch/internal/ingest"
	"github.com/TobiSchelling/RegWatch/internal/knowledge"
	"github.com/TobiSchelling/RegWatch/internal/retrieve"
	"github.com/TobiSchelling/RegWatch/internal/risk"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// Deps are the components the server reads from.
type Deps struct {
	DB         *database.DB
	Catalog    *knowledge.Catalog
	Engine     *retrieve.Engine
	Ingester   *ingest.Pipeline
	Classifier *risk.Classifier
	Cache      *analysis.Cache
	Gatekeeper *analysis.Gatekeeper
	Sources    []collect.SourceInfo
	Logger     *zap.Logger
}

// Server is the HTTP server.
type Server struct {
	Deps
	router *gin.Engine
	pages  map[string]*template.Template
	now    func() time.Time
}

// New creates a new Server.
func New(d Deps) (*Server, error) {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"title": func(l risk.Level) string {
			return l.Title()
		},
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base so their "content" blocks do not collide.
	pageNames := []string{"index.html", "change.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{Deps: d, router: gin.New(), pages: pages, now: time.Now}
	s.router.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.router.StaticFS("/static", http.FS(staticSub))

	s.router.GET("/", s.handleIndex)
	s.router.GET("/changes/:id", s.handleChangePage)
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/changes", s.listChanges)
		api.GET("/changes/:id", s.getChange)
		api.GET("/changes/:id/analysis", s.getAnalysis)
		api.GET("/stats", s.getStats)
		api.GET("/sources", s.listSources)
		api.GET("/obligations", s.listObligations)
		api.GET("/obligations/:id", s.getObligation)
		api.POST("/retrieve", s.retrieve)
		api.POST("/classify", s.classify)
		api.GET("/cache", s.cacheStats)
		api.DELETE("/cache", s.clearCache)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.Logger.Debug("Request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

func (s *Server) render(c *gin.Context, code int, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.Logger.Error("Template not found", zap.String("template", name))
		c.String(http.StatusInternalServerError, "Internal server error")
		return
	}
	c.Render(code, render.HTML{Template: tmpl, Name: "base.html", Data: data})
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve listens on 127.0.0.1:port until ctx is cancelled.
func Serve(ctx context.Context, s *Server, port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.Info("Server listening", zap.String("url", "http://"+addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
