// Package server exposes the catalog over HTTP.
//
// Routes:
//
//	GET  /api                   banner
//	GET  /api/bucket-info       one page of the catalog snapshot
//	GET  /api/search?q=         ranked search
//	GET  /api/audio/url?key=    stream URL for a key
//	GET  /api/audio/stream      byte relay from the bucket, Range aware
//	GET  /api/b2-status         provider reachability
//	GET  /api/catalog           snapshot status
//	POST /api/catalog/refresh   force a crawl
//	GET  /health                liveness
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/koustreak/pistas/internal/catalog"
	"github.com/koustreak/pistas/internal/filestore"
	"github.com/koustreak/pistas/internal/logger"
	"github.com/koustreak/pistas/internal/search"
)

// Version is reported by the banner route.
const Version = "1.0.0"

// Catalog is the snapshot holder the handlers read. *catalog.Cache implements it.
type Catalog interface {
	Snapshot(ctx context.Context) (*catalog.Snapshot, error)
	Peek() *catalog.Snapshot
	Invalidate()
}

// Searcher runs ranked searches. *search.Engine implements it.
type Searcher interface {
	Search(ctx context.Context, q string, maxResults int) ([]search.Result, error)
}

// Deps are the collaborators the handlers need.
type Deps struct {
	Catalog  Catalog
	Searcher Searcher
	Store    filestore.Store

	Provider   filestore.Provider
	BucketName string

	// PublicURL is the base of the stream links handed to clients.
	PublicURL string
}

// Config holds listener settings. Zero values select the defaults.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Server is the pistas HTTP server.
type Server struct {
	deps            Deps
	log             *logger.Logger
	httpServer      *http.Server
	shutdownTimeout time.Duration
	inShutdown      atomic.Bool
}

// New builds a Server. It does not start listening.
func New(deps Deps, cfg Config, log *logger.Logger) *Server {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	deps.PublicURL = strings.TrimRight(deps.PublicURL, "/")

	s := &Server{
		deps:            deps,
		log:             log.Component("http"),
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler returns the router with every route and middleware mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/", s.handleBanner)
		r.Get("/bucket-info", s.handleBucketInfo)
		r.Get("/search", s.handleSearch)
		r.Get("/audio/url", s.handleAudioURL)
		r.Get("/audio/stream", s.handleAudioStream)
		r.Get("/b2-status", s.handleProviderStatus)
		r.Get("/catalog", s.handleCatalogStatus)
		r.Post("/catalog/refresh", s.handleCatalogRefresh)
	})

	return r
}

// Start listens and serves until Shutdown. It returns nil after a graceful
// shutdown.
func (s *Server) Start() error {
	s.log.With().Str("addr", s.httpServer.Addr).Logger().Info("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones, up to the
// shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.inShutdown.Store(true)
	s.httpServer.SetKeepAlivesEnabled(false)

	ctx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
