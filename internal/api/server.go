// Package api exposes the HTTP surface: the public chat and
// related-content endpoints plus the token-guarded embedding admin API.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foliolabs/folio/internal/chat"
	"github.com/foliolabs/folio/internal/content"
	"github.com/foliolabs/folio/internal/index"
	"github.com/foliolabs/folio/internal/search"
)

// Server timeouts.
const (
	readHeaderTimeout = 5 * time.Second
	readTimeout       = 15 * time.Second
	// Generation can take most of a minute on long answers.
	writeTimeout    = 90 * time.Second
	idleTimeout     = 120 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Chat handles one inbound chat message. *chat.Orchestrator satisfies
// it.
type Chat interface {
	HandleMessage(ctx context.Context, req chat.Request) (*chat.Response, error)
}

// Admin drives index maintenance. *index.Indexer satisfies it.
type Admin interface {
	SyncOne(ctx context.Context, typ content.SourceType, id string) error
	SyncAll(ctx context.Context) (*index.Report, error)
	ClearOne(ctx context.Context, typ content.SourceType, id string) error
	ClearAll(ctx context.Context) error
	ChunkDetails(ctx context.Context, typ content.SourceType, id string) ([]index.Chunk, error)
	StatusReport(ctx context.Context, types ...content.SourceType) ([]index.EntityStatus, error)
}

// Related serves the related-content lookup. *search.Searcher
// satisfies it.
type Related interface {
	FindSimilarEntities(ctx context.Context, typ content.SourceType, id string, lang content.Language, k int) ([]search.RelatedEntity, error)
}

// Config carries the server's HTTP-level settings.
type Config struct {
	ListenAddr  string
	CORSOrigins []string
	TrustProxy  bool
	AdminToken  string
	RateBurst   int
}

// Server is the HTTP server for the public and admin APIs.
type Server struct {
	cfg     Config
	chat    Chat
	admin   Admin
	related Related
	ready   func(ctx context.Context) error
	logger  *slog.Logger
	srv     *http.Server
}

// NewServer wires the router. ready is probed by /readyz; pool.Ping
// fits.
func NewServer(cfg Config, chatSvc Chat, admin Admin, related Related,
	ready func(ctx context.Context) error, logger *slog.Logger) (*Server, error) {
	if chatSvc == nil {
		return nil, fmt.Errorf("chat service is required")
	}
	if admin == nil {
		return nil, fmt.Errorf("admin service is required")
	}
	if related == nil {
		return nil, fmt.Errorf("related service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 5
	}

	s := &Server{
		cfg:     cfg,
		chat:    chatSvc,
		admin:   admin,
		related: related,
		ready:   ready,
		logger:  logger,
	}
	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}
	return s, nil
}

// TokenAuth returns the chat.Auth implementation backed by the
// admin-token middleware: requests that presented the token are
// privileged.
func TokenAuth() chat.Auth { return contextAuth{} }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(recoverer(s.logger))
	r.Use(requestLogger(s.logger))
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(corsMiddleware(s.cfg.CORSOrigins))
	}
	r.Use(adminTokenMiddleware(s.cfg.AdminToken))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	limiter := newRateLimiter(1, s.cfg.RateBurst)
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(rateLimitMiddleware(limiter, s.cfg.TrustProxy, s.logger))
			r.Post("/chat", s.handleChat)
			r.Get("/related/{type}/{id}", s.handleRelated)
		})

		r.Route("/admin/embeddings", func(r chi.Router) {
			r.Use(requireAdmin(s.logger))
			r.Post("/sync", s.handleSyncAll)
			r.Post("/sync/{type}/{id}", s.handleSyncOne)
			r.Delete("/{type}/{id}", s.handleClearOne)
			r.Delete("/", s.handleClearAll)
			r.Get("/status", s.handleStatus)
			r.Get("/chunks/{type}/{id}", s.handleChunks)
		})
	})

	return r
}

// Run serves until ctx is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.ListenAddr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return <-errCh
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "not_ready", "database unreachable", s.logger)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, s.logger)
}
