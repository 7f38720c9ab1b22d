package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pixelvault/pixelvault/internal/logger"
	"github.com/pixelvault/pixelvault/pkg/config"
)

// Server is the public HTTP front of the proxy. It supports graceful
// shutdown with a configurable timeout.
type Server struct {
	server       *http.Server
	config       config.ServerConfig
	shutdownOnce sync.Once
}

// NewServer creates the proxy HTTP server in a stopped state. Call Start
// to begin serving requests.
func NewServer(cfg config.ServerConfig, proxy http.Handler) *Server {
	router := NewRouter(proxy, cfg.Prefix)

	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		config: cfg,
	}
}

// Start serves until ctx is cancelled or the listener fails. Cancellation
// triggers graceful shutdown; nil is returned when shutdown completes.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("proxy server listening",
			"port", s.config.Port, "prefix", s.config.Prefix)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("proxy server shutdown signal received")
		// A fresh context: the cancelled one would abort shutdown instantly.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("proxy server failed: %w", err)
	}
}

// Stop initiates graceful shutdown. Safe to call multiple times and
// concurrently with Start.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("proxy server shutdown error: %w", err)
			logger.Error("proxy server shutdown error", logger.KeyError, err)
		} else {
			logger.Info("proxy server stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the TCP port the server listens on.
func (s *Server) Port() int {
	return s.config.Port
}
