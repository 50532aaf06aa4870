package controller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/doingodswork/shadowlands-core/pkg/cachelayer"
	"github.com/doingodswork/shadowlands-core/pkg/model"
	"github.com/doingodswork/shadowlands-core/pkg/stealth"
)

// fakeEngine lets each test script the per-call outcome and observe which
// server each attempt ran against.
type fakeEngine struct {
	mu      sync.Mutex
	calls   int
	servers []string
	script  func(call int, server string) (model.ExtractionResult, error)
}

func (f *fakeEngine) Run(ctx context.Context, session *model.ExtractionSession, sink ProgressSink) (model.ExtractionResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.servers = append(f.servers, session.Server)
	f.mu.Unlock()
	return f.script(call, session.Server)
}

func newTestController(t *testing.T, engine *fakeEngine) *Controller {
	t.Helper()
	cache := cachelayer.New(nil, zap.NewNop())
	pool := stealth.NewPool(stealth.MinPoolSize, zap.NewNop())
	cfg := Config{DefaultServer: "vidsrc.xyz", AlternateServer: "embed.su"}
	return New(cfg, cache, pool, engine, zap.NewNop())
}

func TestController_HappyPathMovie(t *testing.T) {
	engine := &fakeEngine{script: func(call int, server string) (model.ExtractionResult, error) {
		return model.ExtractionResult{ManifestURL: "https://cdn.example/index.m3u8"}, nil
	}}
	c := newTestController(t, engine)

	res, err := c.Extract(context.Background(), model.CatalogRef{TmdbID: 603}, ClientOptions{})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/index.m3u8", res.ManifestURL)
	assert.Equal(t, 1, engine.calls)
}

func TestController_HappyPathEpisodeCachesResult(t *testing.T) {
	engine := &fakeEngine{script: func(call int, server string) (model.ExtractionResult, error) {
		return model.ExtractionResult{ManifestURL: "https://cdn.example/ep.m3u8"}, nil
	}}
	c := newTestController(t, engine)
	ref := model.CatalogRef{TmdbID: 1399, Season: 1, Episode: 1}

	_, err := c.Extract(context.Background(), ref, ClientOptions{})
	require.NoError(t, err)

	// A second call after the in-flight future has settled must hit the
	// cache, not the engine again.
	_, err = c.Extract(context.Background(), ref, ClientOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, engine.calls)
}

func TestController_InvalidRequestNeverReachesEngine(t *testing.T) {
	engine := &fakeEngine{script: func(call int, server string) (model.ExtractionResult, error) {
		t.Fatal("engine must not be invoked for an invalid ref")
		return model.ExtractionResult{}, nil
	}}
	c := newTestController(t, engine)

	_, err := c.Extract(context.Background(), model.CatalogRef{TmdbID: 1399, Season: 1}, ClientOptions{})
	require.Error(t, err)
	ee, ok := err.(*model.ExtractionError)
	require.True(t, ok)
	assert.Equal(t, model.ErrInvalidRequest, ee.Kind)
}

// Verifies spec §8 property 5: a non-retryable failure returns immediately
// without scheduling any retry.
func TestController_NonRetryableFailsImmediately(t *testing.T) {
	engine := &fakeEngine{script: func(call int, server string) (model.ExtractionResult, error) {
		return model.ExtractionResult{}, model.NewError(model.ErrInvalidRequest, fmt.Errorf("boom"))
	}}
	c := newTestController(t, engine)

	start := time.Now()
	_, err := c.Extract(context.Background(), model.CatalogRef{TmdbID: 42}, ClientOptions{})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, 1, engine.calls)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

// Verifies spec §4.1 step 5/6: a retryable failure is retried up to
// MaxRetries times, and the last attempt switches to the alternate server.
func TestController_RetriesThenSwitchesServerOnLastAttempt(t *testing.T) {
	engine := &fakeEngine{script: func(call int, server string) (model.ExtractionResult, error) {
		if call < MaxRetries {
			return model.ExtractionResult{}, model.NewError(model.ErrNetworkError, fmt.Errorf("flaky"))
		}
		return model.ExtractionResult{ManifestURL: "https://cdn.example/final.m3u8"}, nil
	}}
	orig := backoffDelays
	backoffDelays = []time.Duration{10 * time.Millisecond, 10 * time.Millisecond, 10 * time.Millisecond}
	defer func() { backoffDelays = orig }()

	c := newTestController(t, engine)
	res, err := c.Extract(context.Background(), model.CatalogRef{TmdbID: 99}, ClientOptions{})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/final.m3u8", res.ManifestURL)
	require.Equal(t, MaxRetries, engine.calls)
	assert.Equal(t, []string{"vidsrc.xyz", "vidsrc.xyz", "embed.su"}, engine.servers)
}

// Verifies spec §7: a rate-limited attempt forces the fixed 60s delay
// regardless of attempt number, rather than the attempt's backoff slot.
func TestController_RateLimitUsesFixedDelay(t *testing.T) {
	assert.Equal(t, RateLimitDelay, delayFor(model.ErrUpstreamRateLimited, 1))
	assert.Equal(t, RateLimitDelay, delayFor(model.ErrUpstreamRateLimited, 2))
	assert.Equal(t, 2*time.Second, delayFor(model.ErrNetworkError, 1))
	assert.Equal(t, 10*time.Second, delayFor(model.ErrNetworkError, 3))
}

// Verifies spec §4.1 step 2: concurrent requests for the same ref within
// the debounce window share one engine invocation.
func TestController_DebouncesConcurrentRequestsForSameRef(t *testing.T) {
	var started int32
	release := make(chan struct{})
	engine := &fakeEngine{script: func(call int, server string) (model.ExtractionResult, error) {
		atomic.AddInt32(&started, 1)
		<-release
		return model.ExtractionResult{ManifestURL: "https://cdn.example/shared.m3u8"}, nil
	}}
	c := newTestController(t, engine)
	ref := model.CatalogRef{TmdbID: 77}

	var wg sync.WaitGroup
	results := make([]model.ExtractionResult, 3)
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Extract(context.Background(), ref, ClientOptions{})
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
		assert.Equal(t, "https://cdn.example/shared.m3u8", results[i].ManifestURL)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&started))
}

// Verifies cancellation surfaces as ErrCancelled rather than hanging or
// leaking the fingerprint.
func TestController_CancellationReturnsCancelledKind(t *testing.T) {
	release := make(chan struct{})
	engine := &fakeEngine{script: func(call int, server string) (model.ExtractionResult, error) {
		<-release
		return model.ExtractionResult{}, nil
	}}
	c := newTestController(t, engine)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var err error
	go func() {
		_, err = c.Extract(ctx, model.CatalogRef{TmdbID: 5}, ClientOptions{})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done
	close(release)

	require.Error(t, err)
	ee, ok := err.(*model.ExtractionError)
	require.True(t, ok)
	assert.Equal(t, model.ErrCancelled, ee.Kind)
}

// The fingerprint pool must not leak: after many sequential requests the
// pool should still be able to satisfy an immediate Acquire.
func TestController_ReleasesFingerprintOnEveryExitPath(t *testing.T) {
	engine := &fakeEngine{script: func(call int, server string) (model.ExtractionResult, error) {
		return model.ExtractionResult{ManifestURL: "https://cdn.example/x.m3u8"}, nil
	}}
	c := newTestController(t, engine)

	for i := 0; i < stealth.MinPoolSize*2; i++ {
		_, err := c.Extract(context.Background(), model.CatalogRef{TmdbID: 1000 + i}, ClientOptions{})
		require.NoError(t, err)
	}

	handle, err := c.pool.Acquire()
	require.NoError(t, err)
	handle.Release()
}
