package stealth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Verifies spec §8 property 7: two overlapping sessions always carry
// distinct StealthFingerprint ids.
func TestPool_DistinctFingerprintsAcrossOverlappingSessions(t *testing.T) {
	p := NewPool(MinPoolSize, zap.NewNop())

	h1, err := p.Acquire()
	require.NoError(t, err)
	h2, err := p.Acquire()
	require.NoError(t, err)

	assert.NotEqual(t, h1.Fingerprint.ID, h2.Fingerprint.ID)

	h1.Release()
	h2.Release()
}

func TestPool_MinimumSize(t *testing.T) {
	p := NewPool(1, zap.NewNop())
	assert.GreaterOrEqual(t, p.Len(), MinPoolSize)
}

func TestPool_ReleaseAllowsReacquire(t *testing.T) {
	p := NewPool(MinPoolSize, zap.NewNop())

	handles := make([]*FingerprintHandle, 0, MinPoolSize)
	for i := 0; i < MinPoolSize; i++ {
		h, err := p.Acquire()
		require.NoError(t, err)
		handles = append(handles, h)
	}

	// Pool exhausted: once we release one, the next acquire should succeed
	// right away rather than wait out the full bound.
	go func() {
		time.Sleep(10 * time.Millisecond)
		handles[0].Release()
	}()

	h, err := p.Acquire()
	require.NoError(t, err)
	assert.NotNil(t, h.Fingerprint)

	for _, h := range handles[1:] {
		h.Release()
	}
	h.Release()
}

func TestPool_ExhaustionReturnsNoFingerprintAvailable(t *testing.T) {
	p := NewPool(MinPoolSize, zap.NewNop())

	for i := 0; i < MinPoolSize; i++ {
		_, err := p.Acquire()
		require.NoError(t, err)
	}

	start := time.Now()
	_, err := p.Acquire()
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.GreaterOrEqual(t, elapsed, AcquireWait-50*time.Millisecond)
}
