// Package server exposes background removal over HTTP.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	rmbg "github.com/josuedeavila/rmbg-service"
)

//go:embed web
var webFS embed.FS

// Remover is the part of rmbg.RemBG the handlers use.
type Remover interface {
	RemoveBackgroundBytes(ctx context.Context, data []byte) (*rmbg.Output, error)
}

type Server struct {
	cfg     *Config
	remover Remover
	backend rmbg.Backend
	store   *Store
	logger  *slog.Logger

	router *gin.Engine
	srv    *http.Server
	cron   *cron.Cron
}

// New builds a server. backend is resolved once by the caller; uploads are
// refused with 503 while it is unavailable.
func New(cfg *Config, remover Remover, backend rmbg.Backend, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := NewStore(cfg.ProcessedDir, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		remover: remover,
		backend: backend,
		store:   store,
		logger:  logger,
		cron:    cron.New(),
	}
	if _, err := s.cron.AddFunc(cfg.SweepSchedule, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.SweepSchedule, err)
	}

	static, err := fs.Sub(webFS, "web/static")
	if err != nil {
		return nil, fmt.Errorf("failed to open static assets: %w", err)
	}

	s.router = gin.New()
	s.router.MaxMultipartMemory = cfg.MaxUploadBytes
	s.router.Use(gin.Recovery(), s.logRequests())
	s.router.SetHTMLTemplate(template.Must(template.ParseFS(webFS, "web/index.html")))
	s.router.StaticFS("/static", http.FS(static))
	s.router.NoRoute(s.notFound)
	s.router.GET("/", s.index)
	s.router.GET("/health", s.health)
	s.router.POST("/upload", s.upload)
	s.router.GET("/download/:name", s.download)

	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.cron.Start()
	defer func() {
		<-s.cron.Stop().Done()
	}()

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.cfg.Addr, "backend", s.backend)
		errc <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	s.logger.Info("server shutting down")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

func (s *Server) sweep() {
	s.store.Sweep(time.Now().Add(-s.cfg.Retention))
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
		)
	}
}
