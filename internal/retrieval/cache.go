package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/pkg/utils"
)

// DefaultCachePrefix namespaces answer keys in redis.
const DefaultCachePrefix = "kiji:answer:"

// AnswerCache stores generated answers in redis, keyed by the question, its filters,
// and the embedding model version, so a model change never serves a stale answer.
type AnswerCache struct {
	redis  *goredis.Client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

// NewAnswerCache returns a cache over client. A zero ttl defaults to one hour.
func NewAnswerCache(client *goredis.Client, ttl time.Duration, logger *zap.Logger) *AnswerCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	logger = utils.Named(logger, "answer_cache")
	return &AnswerCache{redis: client, ttl: ttl, prefix: DefaultCachePrefix, logger: logger}
}

// Key returns the cache key for q under model version.
func (c *AnswerCache) Key(q *models.Query, version string) string {
	var b strings.Builder
	b.WriteString(version)
	fmt.Fprintf(&b, "\x00%s\x00%d\x00%t", q.Category, q.TopK, q.NoScope)
	if !q.Range.From.IsZero() {
		fmt.Fprintf(&b, "\x00from=%d", q.Range.From.UnixNano())
	}
	if !q.Range.To.IsZero() {
		fmt.Fprintf(&b, "\x00to=%d", q.Range.To.UnixNano())
	}
	b.WriteString("\x00")
	b.WriteString(strings.Join(strings.Fields(strings.ToLower(q.Text)), " "))
	sum := sha256.Sum256([]byte(b.String()))
	return c.prefix + hex.EncodeToString(sum[:])
}

// Get returns the cached answer for q, or nil on a miss.
func (c *AnswerCache) Get(ctx context.Context, q *models.Query, version string) (*models.QueryResult, error) {
	if c == nil || c.redis == nil {
		return nil, nil
	}
	key := c.Key(q, version)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache get: %w", err)
	}
	var result models.QueryResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Warn("Dropping unreadable cached answer", zap.String("key", key), zap.Error(err))
		_ = c.redis.Del(ctx, key).Err()
		return nil, nil
	}
	return &result, nil
}

// Set stores result for q.
func (c *AnswerCache) Set(ctx context.Context, q *models.Query, version string, result *models.QueryResult) error {
	if c == nil || c.redis == nil {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("cache marshal: %w", err)
	}
	if err := c.redis.Set(ctx, c.Key(q, version), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Clear deletes every cached answer. Used after an ingest makes cached answers stale.
func (c *AnswerCache) Clear(ctx context.Context) (int, error) {
	if c == nil || c.redis == nil {
		return 0, nil
	}
	deleted := 0
	iter := c.redis.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.Warn("Failed to delete cached answer", zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		deleted++
	}
	return deleted, iter.Err()
}
