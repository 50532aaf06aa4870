package cachelayer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/doingodswork/shadowlands-core/pkg/metrics"
	"github.com/doingodswork/shadowlands-core/pkg/model"
)

const (
	// ExtractionResultsCapacity and ExtractionResultsTTL match spec §4.6.
	ExtractionResultsCapacity = 500
	ExtractionResultsTTL      = 5 * time.Minute

	// SubtitleBlobsCapacity and SubtitleBlobsTTL match spec §4.6.
	SubtitleBlobsCapacity = 200
	SubtitleBlobsTTL      = 60 * time.Minute
)

// Layer is the CacheLayer component: two LRU-with-TTL tables, plus an
// optional Redis mirror so a horizontally-scaled deployment can share cache
// hits across instances (additive to, not a replacement for, the in-process
// tables spec §4.6 requires — see SPEC_FULL.md §B).
type Layer struct {
	results   *LRU
	subtitles *LRU
	redis     *redis.Client
	log       *zap.Logger
}

// New builds a CacheLayer. redisClient may be nil, in which case the Redis
// mirror is disabled entirely.
func New(redisClient *redis.Client, log *zap.Logger) *Layer {
	return &Layer{
		results:   NewLRU(ExtractionResultsCapacity, ExtractionResultsTTL),
		subtitles: NewLRU(SubtitleBlobsCapacity, SubtitleBlobsTTL),
		redis:     redisClient,
		log:       log,
	}
}

// GetResult looks up an ExtractionResult by its cache key. It falls back to
// the Redis mirror on a local miss (and repopulates the local LRU on a
// Redis hit) when Redis is configured.
func (l *Layer) GetResult(ctx context.Context, key string) (model.ExtractionResult, bool) {
	if v, ok := l.results.Get(key); ok {
		metrics.CacheOutcomes.WithLabelValues("results", "hit").Inc()
		return v.(model.ExtractionResult), true
	}
	if l.redis == nil {
		metrics.CacheOutcomes.WithLabelValues("results", "miss").Inc()
		return model.ExtractionResult{}, false
	}
	raw, err := l.redis.Get(ctx, "extraction:"+key).Bytes()
	if err != nil {
		metrics.CacheOutcomes.WithLabelValues("results", "miss").Inc()
		return model.ExtractionResult{}, false
	}
	var res model.ExtractionResult
	if err := json.Unmarshal(raw, &res); err != nil {
		l.log.Warn("corrupt redis extraction result", zap.String("key", key), zap.Error(err))
		metrics.CacheOutcomes.WithLabelValues("results", "miss").Inc()
		return model.ExtractionResult{}, false
	}
	if time.Now().After(res.ExpiresAt) {
		metrics.CacheOutcomes.WithLabelValues("results", "miss").Inc()
		return model.ExtractionResult{}, false
	}
	l.results.Put(key, res)
	metrics.CacheOutcomes.WithLabelValues("results", "hit").Inc()
	return res, true
}

// PutResult stores an ExtractionResult locally and, if Redis is configured,
// mirrors it with a matching TTL.
func (l *Layer) PutResult(ctx context.Context, key string, res model.ExtractionResult) {
	l.results.Put(key, res)
	if l.redis == nil {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		l.log.Warn("failed to marshal extraction result for redis", zap.Error(err))
		return
	}
	ttl := time.Until(res.ExpiresAt)
	if ttl <= 0 {
		ttl = ExtractionResultsTTL
	}
	if err := l.redis.Set(ctx, "extraction:"+key, raw, ttl).Err(); err != nil {
		l.log.Warn("failed to mirror extraction result to redis", zap.Error(err))
	}
}

// InvalidateResult removes an ExtractionResult from both tiers.
func (l *Layer) InvalidateResult(ctx context.Context, key string) {
	l.results.Invalidate(key)
	if l.redis != nil {
		_ = l.redis.Del(ctx, "extraction:"+key).Err()
	}
}

// GetSubtitle looks up a SubtitleBlob by content hash.
func (l *Layer) GetSubtitle(key string) (model.SubtitleBlob, bool) {
	if v, ok := l.subtitles.Get(key); ok {
		metrics.CacheOutcomes.WithLabelValues("subtitles", "hit").Inc()
		return v.(model.SubtitleBlob), true
	}
	metrics.CacheOutcomes.WithLabelValues("subtitles", "miss").Inc()
	return model.SubtitleBlob{}, false
}

// PutSubtitle stores a SubtitleBlob under its content hash.
func (l *Layer) PutSubtitle(key string, blob model.SubtitleBlob) {
	l.subtitles.Put(key, blob)
}

// Stats returns hit/miss counters for both tables, for metrics export.
func (l *Layer) Stats() (resultHits, resultMisses, subtitleHits, subtitleMisses int64) {
	resultHits, resultMisses = l.results.Stats()
	subtitleHits, subtitleMisses = l.subtitles.Stats()
	return
}
