// Package server is the reference HTTP implementation of the fieldkit remote
// API, backed by a types.Backend.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/fieldkit/pkg/types"
)

// ShutdownTimeout bounds graceful shutdown in Run.
const ShutdownTimeout = 5 * time.Second

// Pinger reports backend health.
type Pinger interface {
	Ping() error
}

// Server routes API requests to backend tables.
type Server struct {
	backend types.Backend
	log     *zap.Logger
	origins []string
	router  *mux.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithAllowedOrigins sets the CORS origins. The default allows any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// New builds a server over an attached backend.
func New(backend types.Backend, opts ...Option) *Server {
	s := &Server{
		backend: backend,
		log:     zap.NewNop(),
		origins: []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/fields", s.handleListFields).Methods(http.MethodGet)
	api.HandleFunc("/fields", s.handleCreateField).Methods(http.MethodPost)
	api.HandleFunc("/fields/{id}", s.handleUpdateField).Methods(http.MethodPut)
	api.HandleFunc("/fields/{id}", s.handleDeleteField).Methods(http.MethodDelete)
	api.HandleFunc("/options", s.handleCreateOption).Methods(http.MethodPost)
	api.HandleFunc("/options/{id}", s.handleDeleteOption).Methods(http.MethodDelete)
	api.HandleFunc("/subjects/{subjectId}/values", s.handleGetValues).Methods(http.MethodGet)
	api.HandleFunc("/subjects/{subjectId}/values", s.handleSaveValues).Methods(http.MethodPut)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	return r
}

// Handler returns the router wrapped in recovery, CORS, and request logging.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.log}),
		handlers.PrintRecoveryStack(false),
	)(h)
	h = handlers.CORS(
		handlers.AllowedOrigins(s.origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(h)
	return handlers.CustomLoggingHandler(io.Discard, h, s.logRequest)
}

func (s *Server) logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	s.log.Info("request",
		zap.String("method", p.Request.Method),
		zap.String("path", p.URL.Path),
		zap.Int("status", p.StatusCode),
		zap.Int("size", p.Size),
		zap.Duration("elapsed", time.Since(p.TimeStamp)))
}

// recoveryLogger adapts zap to handlers.RecoveryHandlerLogger.
type recoveryLogger struct {
	log *zap.Logger
}

func (l recoveryLogger) Println(v ...any) {
	l.log.Error("panic in handler", zap.String("panic", fmt.Sprint(v...)))
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		s.log.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
