// Package server exposes feature manifests and the resolver table over a
// read-only HTTP API.
//
// Routes:
//
//	GET /healthz
//	GET /v1/redists
//	GET /v1/redists/{redist}/manifests
//	GET /v1/redists/{redist}/manifests/{version}
//	GET /v1/redists/{redist}/manifests/{version}/graph?platform=&format=dot|svg
//	GET /v1/providers/{platform}/{soname}/{version}
//
// Encoded manifests are cached under [cache.Keyer.ManifestKey], so repeated
// reads of a large manifest are served without touching the disk.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/matzehuels/cudaredist/pkg/cache"
	"github.com/matzehuels/cudaredist/pkg/errors"
	"github.com/matzehuels/cudaredist/pkg/resolver"
)

// DefaultAddr is the listen address used when Config.Addr is empty.
const DefaultAddr = ":8080"

// Config configures a Server.
type Config struct {
	Addr string

	// FeatureDir holds one <redist>/feature_<version>.json tree. Required.
	FeatureDir string

	// Resolver answers provider lookups. Nil serves an empty table.
	Resolver *resolver.Resolver

	// Cache holds encoded manifests. Nil selects a MemoryCache.
	Cache cache.Cache
	Keyer cache.Keyer
	TTL   time.Duration

	Logger *log.Logger
}

// Server is the HTTP query API.
type Server struct {
	cfg        Config
	router     chi.Router
	httpServer *http.Server
}

// New validates cfg and builds the router.
func New(cfg Config) (*Server, error) {
	if cfg.FeatureDir == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "feature directory is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Resolver == nil {
		cfg.Resolver = resolver.New(resolver.WithLogger(cfg.Logger))
	}
	if cfg.Cache == nil {
		c, err := cache.NewMemoryCache(0)
		if err != nil {
			return nil, err
		}
		cfg.Cache = c
	}
	if cfg.Keyer == nil {
		cfg.Keyer = cache.NewDefaultKeyer()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	s := &Server{cfg: cfg}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(s.router, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the router, for tests and for embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.cfg.Logger.Info("Starting API server", "addr", s.httpServer.Addr, "features", s.cfg.FeatureDir)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(errors.ErrCodeTransport, err, "serve %s", s.httpServer.Addr)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.cfg.Logger))
	r.Use(cors)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/redists", s.handleRedists)
		r.Route("/redists/{redist}/manifests", func(r chi.Router) {
			r.Get("/", s.handleVersions)
			r.Get("/{version}", s.handleManifest)
			r.Get("/{version}/graph", s.handleGraph)
		})
		r.Get("/providers/{platform}/{soname}/{version}", s.handleProvider)
	})
	return r
}
