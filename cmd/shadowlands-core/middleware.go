package main

import (
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"go.uber.org/zap"
)

// createCORSmiddleware grounds on cmd/deflix-stremio/middleware.go's
// createCorsMiddleware: every client-facing endpoint here is also consumed
// directly by browser-based video players, so the same permissive,
// header-allowlisting CORS policy applies.
func createCORSmiddleware() func(http.Handler) http.Handler {
	headersOk := handlers.AllowedHeaders([]string{
		"Accept",
		"Accept-Language",
		"Content-Type",
		"Origin",
		"Range",
		"If-None-Match",
		"If-Modified-Since",
	})
	originsOk := handlers.AllowedOrigins([]string{"*"})
	methodsOk := handlers.AllowedMethods([]string{"GET", "HEAD", "POST", "OPTIONS"})
	return handlers.CORS(originsOk, headersOk, methodsOk)
}

var recoveryMiddleware = handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))

// createLoggingMiddleware logs each request's method, path, status, and
// duration, grounded on cmd/deflix-stremio/middleware.go's
// createLoggingMiddleware and the other_examples go-stremio addon's
// timerMiddleware, combined into a single structured zap entry.
func createLoggingMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Info("handled request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("remoteAddr", r.RemoteAddr))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
