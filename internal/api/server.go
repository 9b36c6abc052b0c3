// Package api exposes upload sessions and stored results over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"settlement-reconciler/internal/session"
	"settlement-reconciler/internal/storage"
	"settlement-reconciler/pkg/errors"
	"settlement-reconciler/pkg/logger"
)

// Config holds the HTTP settings
type Config struct {
	Addr            string        `mapstructure:"addr"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DefaultConfig returns the service defaults
func DefaultConfig() *Config {
	return &Config{
		Addr:            ":8000",
		MaxUploadBytes:  100 << 20,
		AllowedOrigins:  []string{"*"},
		ReadTimeout:     5 * time.Minute,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Validate checks the HTTP settings
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "server.addr", nil, nil)
	}
	if c.MaxUploadBytes <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "server.max_upload_bytes", c.MaxUploadBytes, nil)
	}
	if c.ShutdownTimeout < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "server.shutdown_timeout", c.ShutdownTimeout, nil)
	}
	return nil
}

// Server routes requests to the session manager and the result store
type Server struct {
	config   *Config
	sessions *session.Manager
	store    storage.Store
	logger   logger.Logger
	router   *mux.Router
	upgrader websocket.Upgrader
}

// NewServer builds the router
func NewServer(config *Config, sessions *session.Manager, store storage.Store, log logger.Logger) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if sessions == nil || store == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "sessions/store", nil, nil)
	}

	s := &Server{
		config:   config,
		sessions: sessions,
		store:    store,
		logger:   logger.OrGlobal(log).WithComponent("api"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.originAllowed,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.Use(s.requestID, s.recoverPanics, s.logRequests, s.cors)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/sessions/{id}/upload/{report_type}", s.handleUpload).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sessions/{id}/ws", s.handleSessionSocket).Methods(http.MethodGet)
	api.HandleFunc("/results", s.handleListResults).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/results/{id}", s.handleGetResult).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/transactions", s.handleListTransactions).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/transactions/{order_id}", s.handleGetTransaction).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/transaction/{order_id}", s.handleGetTransaction).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/summary", s.handleSummary).Methods(http.MethodGet, http.MethodOptions)

	s.router = r
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.config.Addr).Info("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, errors.CategoryNetwork, errors.CodeUnexpectedError, "http server failed")
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, errors.CategoryNetwork, errors.CodeUnexpectedError, "http server shutdown failed")
	}
	return nil
}

func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
