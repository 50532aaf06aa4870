// Package stealth implements the StealthProfile pool (spec §4.4): a
// pre-generated pool of coherent browser fingerprints handed out one per
// ExtractionSession and returned on completion.
//
// Grounded on pkg/debrid/realdebrid/client.go's randomized fake-Chrome
// User-Agent generator in its private get/post helpers — generalized here
// from one hardcoded disguise to a pool of coherent ones — and on
// other_examples/media-proxy-go's default-UA-if-absent convention.
package stealth

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/doingodswork/shadowlands-core/pkg/metrics"
	"github.com/doingodswork/shadowlands-core/pkg/model"
)

// MinPoolSize is the minimum number of fingerprints the pool must hold,
// per spec §4.4.
const MinPoolSize = 8

// AcquireWait is the bound a caller waits for a free fingerprint before
// failing with NoFingerprintAvailable, per spec §4.4.
const AcquireWait = 5 * time.Second

var desktopUserAgents = []struct {
	ua       string
	platform string
}{
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", "Win32"},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36", "Win32"},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36", "MacIntel"},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15", "MacIntel"},
	{"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:122.0) Gecko/20100101 Firefox/122.0", "Win32"},
	{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:122.0) Gecko/20100101 Firefox/122.0", "MacIntel"},
}

var localeZones = []struct {
	lang string
	tz   string
}{
	{"en-US", "America/New_York"},
	{"en-GB", "Europe/London"},
	{"es-ES", "Europe/Madrid"},
	{"fr-FR", "Europe/Paris"},
	{"de-DE", "Europe/Berlin"},
}

var viewports = [][2]int{{1920, 1080}, {1536, 864}, {1366, 768}, {2560, 1440}}
var pixelRatios = []float64{1, 1.25, 1.5, 2}
var hardwareConcurrencies = []int{4, 8, 12, 16}
var deviceMemories = []int{4, 8, 16}

// Pool is a mutual-exclusion pool of StealthFingerprints. Exactly one
// session may hold a given fingerprint at a time.
type Pool struct {
	mu        sync.Mutex
	cond      *sync.Cond
	all       []*model.StealthFingerprint
	busy      map[string]bool
	log       *zap.Logger
}

// NewPool generates size fingerprints (at least MinPoolSize) and returns a
// ready-to-use pool.
func NewPool(size int, log *zap.Logger) *Pool {
	if size < MinPoolSize {
		size = MinPoolSize
	}
	p := &Pool{
		all:  make([]*model.StealthFingerprint, 0, size),
		busy: make(map[string]bool, size),
		log:  log,
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < size; i++ {
		p.all = append(p.all, generateFingerprint(i))
	}
	return p
}

// FingerprintHandle wraps a borrowed fingerprint and the pool it must be
// released back to.
type FingerprintHandle struct {
	Fingerprint *model.StealthFingerprint
	pool        *Pool
}

// Release returns the fingerprint to the pool, waking one waiter if any.
// Safe to call multiple times; only the first call has an effect.
func (h *FingerprintHandle) Release() {
	if h == nil || h.pool == nil || h.Fingerprint == nil {
		return
	}
	h.pool.release(h.Fingerprint.ID)
	h.pool = nil
}

// Acquire borrows a free fingerprint, waiting up to AcquireWait if all are
// busy. Returns model.ErrNoFingerprintAvailable if the wait bound expires.
func (p *Pool) Acquire() (*FingerprintHandle, error) {
	deadline := time.Now().Add(AcquireWait)

	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		for _, fp := range p.all {
			if !p.busy[fp.ID] {
				p.busy[fp.ID] = true
				return &FingerprintHandle{Fingerprint: fp, pool: p}, nil
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			metrics.FingerprintPoolExhaustions.Inc()
			return nil, model.NewError(model.ErrNoFingerprintAvailable, nil)
		}

		// sync.Cond has no timed Wait; emulate one by waking periodically
		// off a timer goroutine that broadcasts once the bound expires.
		timer := time.AfterFunc(remaining, p.cond.Broadcast)
		p.cond.Wait()
		timer.Stop()
	}
}

func (p *Pool) release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busy[id] {
		delete(p.busy, id)
		p.cond.Broadcast()
	}
}

// Len returns the pool size, for diagnostics.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all)
}

func generateFingerprint(idx int) *model.StealthFingerprint {
	uaPick := desktopUserAgents[randIntn(len(desktopUserAgents))]
	locale := localeZones[randIntn(len(localeZones))]
	vp := viewports[randIntn(len(viewports))]

	return &model.StealthFingerprint{
		ID:                  fmt.Sprintf("fp-%d-%s", idx, randHex(6)),
		UserAgent:           uaPick.ua,
		Platform:            uaPick.platform,
		Language:            locale.lang,
		Timezone:            locale.tz,
		ViewportWidth:       vp[0],
		ViewportHeight:      vp[1],
		DevicePixelRatio:    pixelRatios[randIntn(len(pixelRatios))],
		HardwareConcurrency: hardwareConcurrencies[randIntn(len(hardwareConcurrencies))],
		DeviceMemory:        deviceMemories[randIntn(len(deviceMemories))],
		LocalStorage:        seedLocalStorage(),
		BehaviorPlan:        generateBehaviorPlan(),
	}
}

func seedLocalStorage() map[string]string {
	return map[string]string{
		"session_count":  fmt.Sprintf("%d", randIntn(20)+1),
		"consent_banner": "accepted",
		"last_visit_ts":  fmt.Sprintf("%d", time.Now().Add(-time.Duration(randIntn(72))*time.Hour).Unix()),
	}
}

func generateBehaviorPlan() model.BehaviorPlan {
	return model.BehaviorPlan{
		MouseMoves:     2 + randIntn(4), // 2-5
		ScrollMoves:    randIntn(3),     // 0-2
		TabBeforeClick: true,
	}
}

// randIntn and randHex use crypto/rand rather than math/rand so fingerprint
// generation doesn't depend on a process-global seed (the teacher's own
// randomization, e.g. cmd/rd-proxy/main.go's randIP, uses math/rand for a
// throwaway per-request IP; fingerprints are longer-lived pool state, so
// crypto/rand is used here instead — still stdlib, no randomization library
// exists anywhere in the retrieved pack).
func randIntn(n int) int {
	if n <= 0 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

func randHex(n int) string {
	const chars = "0123456789abcdef"
	out := make([]byte, n)
	for i := range out {
		out[i] = chars[randIntn(len(chars))]
	}
	return string(out)
}
