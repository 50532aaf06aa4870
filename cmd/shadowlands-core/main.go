// Command shadowlands-core runs the stream acquisition and delivery core:
// the HTTP surface spec §6 names, backed by the ExtractionController,
// StreamProxy, MetadataClient, and SubtitleResolver.
//
// Grounded on cmd/deflix-stremio/main.go's bootstrap order (logger first,
// then config, then caches/clients, then the server) and on the
// other_examples go-stremio addon's Run() method for the zap.AtomicLevel
// config, gorilla/mux router with a middleware-chained subrouter, and
// graceful-shutdown-with-deadline shape; the Slowloris-defense timeouts on
// the http.Server are grounded on cmd/rd-proxy/main.go.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/doingodswork/shadowlands-core/pkg/cachelayer"
	"github.com/doingodswork/shadowlands-core/pkg/controller"
	"github.com/doingodswork/shadowlands-core/pkg/extraction"
	"github.com/doingodswork/shadowlands-core/pkg/metadata"
	"github.com/doingodswork/shadowlands-core/pkg/metrics"
	"github.com/doingodswork/shadowlands-core/pkg/stealth"
	"github.com/doingodswork/shadowlands-core/pkg/streamproxy"
	"github.com/doingodswork/shadowlands-core/pkg/subtitles"
)

func main() {
	logger := buildLogger("info")
	defer logger.Sync()

	logger.Info("parsing config")
	cfg := parseConfig()
	cfgJSON, _ := json.Marshal(cfg)
	logger.Info("parsed config", zap.ByteString("config", cfgJSON))

	if cfg.LogLevel != "info" {
		logger = buildLogger(cfg.LogLevel)
	}

	if err := cfg.validate(); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		os.Exit(1)
	}

	extraction.PlayButtonSelectors = cfg.selectors()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	cache := cachelayer.New(redisClient, logger)

	pool := stealth.NewPool(stealth.MinPoolSize*2, logger)

	engine, err := extraction.NewHTTPEngine(extraction.Config{
		BaseURL:        cfg.BaseURLvidsrc,
		AltBaseURL:     cfg.BaseURLembedsu,
		AltServerName:  cfg.AlternateServer,
		ServerName:     cfg.DefaultServer,
		SocksProxyAddr: cfg.SocksProxyAddr,
	}, logger)
	if err != nil {
		logger.Error("couldn't build extraction engine", zap.Error(err))
		os.Exit(1)
	}

	ctrl := controller.New(controller.Config{
		DefaultServer:   cfg.DefaultServer,
		AlternateServer: cfg.AlternateServer,
	}, cache, pool, engine, logger)

	metadataClient := metadata.NewClient(cfg.MetadataBaseURL, cfg.MetadataFallbackBaseURL, cfg.MetadataAPIKey, logger)
	subtitleResolver := subtitles.NewResolver(cfg.SubtitleBaseURL, cfg.SubtitleAPIKey, logger)
	proxy := streamproxy.New(&http.Client{}, logger)

	h := &Handlers{
		controller: ctrl,
		proxy:      proxy,
		metadata:   metadataClient,
		subtitles:  subtitleResolver,
		cache:      cache,
		cfg:        cfg,
		log:        logger,
	}

	router := mux.NewRouter()
	s := router.Methods(http.MethodGet, http.MethodHead, http.MethodPost, http.MethodOptions).Subrouter()
	s.Use(recoveryMiddleware, createCORSmiddleware(), createLoggingMiddleware(logger), metrics.Middleware)

	s.HandleFunc("/health", h.handleHealth)
	s.Handle("/metrics", metrics.Handler())
	s.HandleFunc("/api/extract-shadowlands", h.handleExtract)
	s.HandleFunc("/api/stream-proxy", h.handleStreamProxy)
	s.HandleFunc("/api/subtitles", h.handleSubtitlesList)
	s.HandleFunc("/api/subtitles/download", h.handleSubtitlesDownload).Methods(http.MethodPost)
	s.HandleFunc("/api/tmdb", h.handleTMDB)

	addr := cfg.BindAddr + ":" + strconv.Itoa(cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
		// Timeouts to avoid Slowloris attacks, per cmd/rd-proxy/main.go.
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   75 * time.Second, // must exceed the 45s per-attempt extraction timeout
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 4 * 1024,
	}

	stopping := false
	logger.Info("starting server", zap.String("address", addr))
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if stopping {
				logger.Fatal("error during server shutdown", zap.Error(err))
			}
			logger.Error("couldn't start server", zap.Error(err))
			os.Exit(2)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	sig := <-c
	logger.Info("received signal, shutting down", zap.Stringer("signal", sig))
	stopping = true

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 9*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("error shutting down server", zap.Error(err))
	}
	logger.Info("server shut down")
}

// buildLogger mirrors the other_examples go-stremio addon's logger
// construction: a development-base config with production-style fields and
// a dynamically chosen level.
func buildLogger(level string) *zap.Logger {
	zapLevel, err := parseZapLevel(level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}
	logConfig := zap.NewDevelopmentConfig()
	logConfig.Level = zap.NewAtomicLevelAt(zapLevel)
	logConfig.Development = false
	logConfig.EncoderConfig = zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	logger, err := logConfig.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

func parseZapLevel(level string) (zapcore.Level, error) {
	switch level {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, os.ErrInvalid
}
