// Command edge-proxy is a standalone deployment of the StreamProxy
// (pkg/streamproxy): a thin, independently scalable edge tier that only
// proxies upstream CDN segments/manifests, so it can be horizontally scaled
// separately from cmd/shadowlands-core's extraction work.
//
// Grounded directly on cmd/rd-proxy/main.go's shape (flag-configured,
// optional API-key gating, Slowloris-defense timeouts, 9s graceful-shutdown
// deadline) but retargeted from a single fixed RealDebrid upstream to
// per-request upstream URLs via pkg/streamproxy.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/doingodswork/shadowlands-core/pkg/streamproxy"
)

var (
	bindAddr     = flag.String("bindAddr", "0.0.0.0", `Local interface address to bind to. "0.0.0.0" binds to all network interfaces.`)
	port         = flag.Int("port", 8080, "Port to listen on")
	apiKeyHeader = flag.String("apiKeyHeader", "", `Header key for the API key, e.g. "X-Proxy-Apikey". Empty disables the gate.`)
	apiKeys      = flag.String("apiKeys", "", "Comma-separated list of API keys the proxy accepts")
	logLevel     = flag.String("logLevel", "info", `Log level: "debug", "info", "warn", or "error"`)
)

func main() {
	flag.Parse()

	logger := buildEdgeLogger(*logLevel)
	defer logger.Sync()

	if (*apiKeyHeader == "") != (*apiKeys == "") {
		logger.Fatal("apiKeyHeader and apiKeys must either both be set or both be empty")
	}

	var allowedKeys []string
	if *apiKeys != "" {
		for _, k := range strings.Split(*apiKeys, ",") {
			if k = strings.TrimSpace(k); k != "" {
				allowedKeys = append(allowedKeys, k)
			}
		}
		logger.Info("accepted API keys configured", zap.Int("count", len(allowedKeys)))
	} else {
		logger.Warn("edge-proxy is not secured by an API key")
	}

	proxy := streamproxy.New(&http.Client{}, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/stream-proxy", gateByAPIKey(*apiKeyHeader, allowedKeys, logger, proxy.ServeHTTP))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	addr := *bindAddr + ":" + strconv.Itoa(*port)
	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
		// Timeouts to avoid Slowloris attacks, per cmd/rd-proxy/main.go.
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   0, // unbounded: manifest/segment delivery has no application-level timeout, per spec §5
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 4 * 1024,
	}

	stopping := false
	logger.Info("starting edge proxy", zap.String("address", addr))
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if stopping {
				logger.Fatal("error during edge-proxy shutdown", zap.Error(err))
			}
			logger.Error("couldn't start edge proxy", zap.Error(err))
			os.Exit(2)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	sig := <-c
	logger.Info("received signal, shutting down edge proxy", zap.Stringer("signal", sig))
	stopping = true

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 9*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("error shutting down edge proxy", zap.Error(err))
	}
	logger.Info("edge proxy shut down")
}

// gateByAPIKey rejects requests missing or presenting an unrecognized API
// key, mirroring cmd/rd-proxy/main.go's createHandler API-key check.
func gateByAPIKey(headerName string, allowed []string, logger *zap.Logger, next http.HandlerFunc) http.HandlerFunc {
	if headerName == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(headerName)
		if key == "" {
			logger.Warn("request without API key", zap.String("remoteAddr", r.RemoteAddr))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		ok := false
		for _, k := range allowed {
			if k == key {
				ok = true
				break
			}
		}
		if !ok {
			logger.Warn("request with invalid API key", zap.String("remoteAddr", r.RemoteAddr))
			w.WriteHeader(http.StatusForbidden)
			return
		}
		r.Header.Del(headerName)
		next(w, r)
	}
}

func buildEdgeLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	zapLevel, err := zap.ParseAtomicLevel(level)
	if err == nil {
		cfg.Level = zapLevel
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
