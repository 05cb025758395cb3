// Package embedcache memoizes query embeddings so repeated semantic searches
// skip the embedding provider.
package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"kolinsights/pkg/cache"
	"kolinsights/pkg/llm"
	"kolinsights/pkg/logging"
)

const (
	keyPrefix       = "insights:embed:"
	defaultTTL      = 24 * time.Hour
	defaultMaxLocal = 2048
)

type Config struct {
	Client llm.EmbeddingClient
	// Model participates in the key so switching models never serves stale
	// vectors.
	Model string
	// Redis is optional; without it vectors are kept in process.
	Redis      goredis.UniversalClient
	TTL        time.Duration
	MaxEntries int
	Logger     logging.Logger
}

// Embedder implements the executor's query embedder on top of an embedding
// client.
type Embedder struct {
	client llm.EmbeddingClient
	model  string
	redis  goredis.UniversalClient
	local  *cache.Cache[[]float32]
	ttl    time.Duration
	logger logging.Logger
}

func New(cfg Config) (*Embedder, error) {
	if cfg.Client == nil {
		return nil, errors.New("embedding client is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger()
	}
	e := &Embedder{
		client: cfg.Client,
		model:  cfg.Model,
		redis:  cfg.Redis,
		ttl:    ttl,
		logger: logger,
	}
	if e.redis == nil {
		maxEntries := cfg.MaxEntries
		if maxEntries <= 0 {
			maxEntries = defaultMaxLocal
		}
		e.local = cache.New[[]float32](cache.Options{TTL: ttl, MaxEntries: maxEntries}, cache.MetricsHooks{
			OnHit:   func() { cacheLookups.WithLabelValues("memory", "hit").Inc() },
			OnMiss:  func() { cacheLookups.WithLabelValues("memory", "miss").Inc() },
			OnEvict: func() { cacheEvictions.Inc() },
		})
	}
	return e, nil
}

// EmbedQuery returns the embedding for text, served from cache when present.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("cannot embed empty text")
	}
	key := Key(e.model, text)

	if e.local != nil {
		vec, _, err := e.local.Get(ctx, key, func(ctx context.Context, _ string) ([]float32, bool, error) {
			vec, err := e.embed(ctx, text)
			if err != nil {
				return nil, false, err
			}
			return vec, true, nil
		})
		return vec, err
	}

	if vec, ok := e.readRedis(ctx, key); ok {
		return vec, nil
	}
	vec, err := e.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.writeRedis(ctx, key, vec)
	return vec, nil
}

func (e *Embedder) embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.client.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("embed query: expected one vector, got %d", len(vectors))
	}
	return vectors[0], nil
}

func (e *Embedder) readRedis(ctx context.Context, key string) ([]float32, bool) {
	raw, err := e.redis.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		cacheLookups.WithLabelValues("redis", "miss").Inc()
		return nil, false
	}
	if err != nil {
		cacheLookups.WithLabelValues("redis", "error").Inc()
		e.logger.WithError(err).WithField("key", key).Warn("Embedding cache read failed")
		return nil, false
	}
	vec, err := Decode(raw)
	if err != nil {
		cacheLookups.WithLabelValues("redis", "error").Inc()
		e.logger.WithError(err).WithField("key", key).Warn("Discarding corrupt cached embedding")
		return nil, false
	}
	cacheLookups.WithLabelValues("redis", "hit").Inc()
	return vec, true
}

func (e *Embedder) writeRedis(ctx context.Context, key string, vec []float32) {
	if err := e.redis.Set(ctx, key, Encode(vec), e.ttl).Err(); err != nil {
		e.logger.WithError(err).WithField("key", key).Warn("Embedding cache write failed")
	}
}

// Key derives the cache key for a model and query text.
func Key(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Encode packs vec as little-endian float32s.
func Encode(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// Decode reverses Encode.
func Decode(raw []byte) ([]float32, error) {
	if len(raw) == 0 || len(raw)%4 != 0 {
		return nil, fmt.Errorf("invalid packed vector length %d", len(raw))
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return vec, nil
}
