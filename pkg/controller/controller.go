// Package controller implements the ExtractionController (spec §4.1): the
// public request handler. Debounces duplicate in-flight requests,
// classifies errors, schedules retries with exponential backoff, performs
// server-to-server fallback, and owns the result cache.
//
// Debounce is grounded on cmd/deflix-stremio/handlers.go's per-redirect-ID
// lock map (map[string]*sync.Mutex guarded by a package-level mutex),
// generalized from mutual exclusion into a shared-future fan-in so
// concurrent subscribers get the same result (spec §9's "debounce map maps
// cache key -> shared future" design note). The retry/backoff/failover
// state machine is grounded on pkg/debrid/realdebrid/client.go's polling
// loop with terminal-vs-retryable status classification.
package controller

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/doingodswork/shadowlands-core/pkg/cachelayer"
	"github.com/doingodswork/shadowlands-core/pkg/extraction"
	"github.com/doingodswork/shadowlands-core/pkg/metrics"
	"github.com/doingodswork/shadowlands-core/pkg/model"
	"github.com/doingodswork/shadowlands-core/pkg/stealth"
)

// MaxRetries is the default maximum number of attempts per request, per
// spec §8 property 5.
const MaxRetries = 3

// PerAttemptTimeout is the hard per-attempt timeout, per spec §4.1 step 4.
const PerAttemptTimeout = 45 * time.Second

// DebounceWindow is the in-flight-request coalescing window, per spec
// §4.1 step 2.
const DebounceWindow = 1 * time.Second

// ResultTTL is the cache TTL for a successful ExtractionResult, per spec
// §4.1 step 7.
const ResultTTL = 5 * time.Minute

// backoffDelays are the fixed retry delays for attempts 2/3/4, per spec
// §4.1 step 5.
var backoffDelays = []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second}

// RateLimitDelay is the fixed delay forced by a rate-limit classification
// regardless of attempt number, per spec §4.1 step 5.
const RateLimitDelay = 60 * time.Second

// ClientOptions mirrors spec §4.1's ClientOptions.
type ClientOptions struct {
	PreferredServer string
	ForceProxy      bool
}

// Config configures the default/alternate server names.
type Config struct {
	DefaultServer   string
	AlternateServer string
}

// Controller is the ExtractionController.
type Controller struct {
	cfg    Config
	cache  *cachelayer.Layer
	pool   *stealth.Pool
	engine extraction.Engine
	log    *zap.Logger

	debounceMu sync.Mutex
	inFlight   map[string]*future
}

type future struct {
	startedAt time.Time
	done      chan struct{}
	result    model.ExtractionResult
	err       error
}

// New builds an ExtractionController.
func New(cfg Config, cache *cachelayer.Layer, pool *stealth.Pool, engine extraction.Engine, log *zap.Logger) *Controller {
	return &Controller{
		cfg:      cfg,
		cache:    cache,
		pool:     pool,
		engine:   engine,
		log:      log,
		inFlight: make(map[string]*future),
	}
}

// Extract implements spec §4.1's public surface:
// Extract(CatalogRef, ClientOptions) -> ExtractionResult | ErrorKind.
// It never panics a caller-visible error type other than *model.ExtractionError.
func (c *Controller) Extract(ctx context.Context, ref model.CatalogRef, opts ClientOptions) (model.ExtractionResult, error) {
	if err := ref.Validate(); err != nil {
		return model.ExtractionResult{}, model.NewError(model.ErrInvalidRequest, err)
	}

	server := opts.PreferredServer
	if server == "" {
		server = c.cfg.DefaultServer
	}
	cacheKey := ref.Key() + "|" + server

	if res, ok := c.cache.GetResult(ctx, cacheKey); ok {
		return res, nil
	}

	f, isLeader := c.joinOrStartFuture(cacheKey)
	if !isLeader {
		return c.awaitFuture(ctx, f)
	}

	attemptStart := time.Now()
	result, err := c.runExtraction(ctx, ref, server, opts)
	metrics.ExtractionDuration.Observe(time.Since(attemptStart).Seconds())

	f.result, f.err = result, err
	close(f.done)

	c.debounceMu.Lock()
	delete(c.inFlight, cacheKey)
	c.debounceMu.Unlock()

	if err == nil {
		result.ExpiresAt = time.Now().Add(ResultTTL)
		c.cache.PutResult(ctx, cacheKey, result)
	}

	return result, err
}

// joinOrStartFuture implements spec §4.1 step 2: a second request within
// DebounceWindow of the first subscribes to the existing future instead of
// starting a new extraction. Returns isLeader=true if the caller must run
// the extraction itself.
func (c *Controller) joinOrStartFuture(cacheKey string) (*future, bool) {
	c.debounceMu.Lock()
	defer c.debounceMu.Unlock()

	if existing, ok := c.inFlight[cacheKey]; ok && time.Since(existing.startedAt) < DebounceWindow {
		return existing, false
	}

	f := &future{startedAt: time.Now(), done: make(chan struct{})}
	c.inFlight[cacheKey] = f
	return f, true
}

func (c *Controller) awaitFuture(ctx context.Context, f *future) (model.ExtractionResult, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return model.ExtractionResult{}, model.NewError(model.ErrCancelled, ctx.Err())
	}
}

// runExtraction drives the attempt loop: acquire a fingerprint, run the
// engine with a per-attempt timeout, classify the outcome, and retry with
// backoff per spec §4.1 steps 3-6.
func (c *Controller) runExtraction(ctx context.Context, ref model.CatalogRef, server string, opts ClientOptions) (model.ExtractionResult, error) {
	handle, err := c.pool.Acquire()
	if err != nil {
		return model.ExtractionResult{}, err
	}
	defer handle.Release()

	currentServer := server
	var lastErr error

	for attempt := 1; attempt <= MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return model.ExtractionResult{}, model.NewError(model.ErrCancelled, ctx.Err())
		}

		session := &model.ExtractionSession{
			ID:          newSessionID(),
			Ref:         ref,
			Server:      currentServer,
			Fingerprint: handle.Fingerprint,
			StartedAt:   time.Now(),
			Stage:       model.StageConnecting,
		}

		sink := NewChannelSink(session.ID)
		attemptCtx, cancel := context.WithTimeout(ctx, PerAttemptTimeout)
		result, runErr := c.runAttempt(attemptCtx, ctx, session, sink)
		cancel()
		// On cancellation the abandoned engine call may still emit progress,
		// so its sink is left open rather than closed under it.
		if ctx.Err() == nil {
			sink.Close()
		}

		if runErr == nil {
			result.Server = currentServer
			metrics.ExtractionAttempts.WithLabelValues(currentServer, "success").Inc()
			return result, nil
		}

		lastErr = runErr
		kind := kindOf(runErr)
		metrics.ExtractionAttempts.WithLabelValues(currentServer, string(kind)).Inc()

		c.log.Info("extraction attempt failed",
			zap.Int("attempt", attempt),
			zap.String("server", currentServer),
			zap.String("kind", string(kind)),
			zap.Int("ref", ref.TmdbID))

		if !kind.Retryable() {
			return model.ExtractionResult{}, runErr
		}

		if attempt == MaxRetries {
			break
		}

		delay := delayFor(kind, attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return model.ExtractionResult{}, model.NewError(model.ErrCancelled, ctx.Err())
		}

		// Spec §4.1 step 6: switch to the secondary server only on the
		// final attempt, and only if the failure originated on the
		// primary server. Never switch back inside the same request.
		if attempt+1 == MaxRetries && currentServer == c.cfg.DefaultServer && c.cfg.AlternateServer != "" {
			currentServer = c.cfg.AlternateServer
		}
	}

	return model.ExtractionResult{}, lastErr
}

// runAttempt races a single engine.Run call against context cancellation,
// per spec §4.1's "abort the in-flight engine attempt at the next
// cooperative suspension point" and spec §4.2's cancellation contract. The
// engine call runs on its own goroutine; on cancellation runAttempt returns
// model.ErrCancelled immediately without waiting for the engine to notice
// attemptCtx.Done() itself, letting the abandoned call drain in the
// background.
func (c *Controller) runAttempt(attemptCtx, parentCtx context.Context, session *model.ExtractionSession, sink ProgressSink) (model.ExtractionResult, error) {
	type outcome struct {
		result model.ExtractionResult
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		result, err := c.engine.Run(attemptCtx, session, sink)
		ch <- outcome{result, err}
	}()

	select {
	case o := <-ch:
		return o.result, o.err
	case <-parentCtx.Done():
		return model.ExtractionResult{}, model.NewError(model.ErrCancelled, parentCtx.Err())
	}
}

func delayFor(kind model.ErrorKind, attempt int) time.Duration {
	if kind == model.ErrUpstreamRateLimited {
		return RateLimitDelay
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffDelays) {
		idx = len(backoffDelays) - 1
	}
	return backoffDelays[idx]
}

func kindOf(err error) model.ErrorKind {
	if ee, ok := err.(*model.ExtractionError); ok {
		return ee.Kind
	}
	return model.ErrNetworkError
}

func newSessionID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
