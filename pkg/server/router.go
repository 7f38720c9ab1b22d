// Package server wires the proxy handler into an HTTP server with the
// middleware stack, health endpoint, and graceful shutdown.
package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pixelvault/pixelvault/internal/logger"
)

// NewRouter builds the chi router: request tracking and logging middleware,
// the health endpoint, and the proxy handler mounted under prefix.
//
// The router deliberately skips path cleaning: proxied paths embed full
// URLs ("/http://host/img.png") whose double slashes must survive routing.
func NewRouter(proxy http.Handler, prefix string) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	if prefix == "" || prefix == "/" {
		r.Handle("/*", proxy)
	} else {
		prefix = "/" + strings.Trim(prefix, "/")
		r.Handle(prefix+"/*", http.StripPrefix(prefix, proxy))
	}

	return r
}

// requestLogger logs each request's start at DEBUG and completion at INFO
// using the internal logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("request started",
			logger.KeyRequestID, requestID,
			"method", r.Method,
			logger.KeyPath, r.URL.Path,
			logger.KeyClientIP, r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("request completed",
			logger.KeyRequestID, requestID,
			"method", r.Method,
			logger.KeyPath, r.URL.Path,
			logger.KeyStatus, ww.Status(),
			logger.KeyBytes, ww.BytesWritten(),
			logger.KeyDuration, time.Since(start).String(),
		)
	})
}
