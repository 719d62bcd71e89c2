package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voxline/voxline/pkg/logging"
)

// CachedRetriever fronts a retriever with a Redis result cache keyed by
// normalized query text. Cache failures degrade to a live query; they
// never fail the turn.
type CachedRetriever struct {
	inner  Retriever
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedRetriever(inner Retriever, client redis.UniversalClient, ttl time.Duration) *CachedRetriever {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedRetriever{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logging.NewComponentLogger(slog.Default(), "retrieval_cache"),
	}
}

func (c *CachedRetriever) Query(ctx context.Context, query string, topK int) ([]Document, error) {
	key := cacheKey(query, topK)

	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var docs []Document
		if err := json.Unmarshal(raw, &docs); err == nil {
			return docs, nil
		}
		c.logger.Warn("cache entry corrupt, dropping", "key", key)
		c.client.Del(ctx, key)
	} else if err != redis.Nil {
		c.logger.Warn("cache read failed", "error", err)
	}

	docs, err := c.inner.Query(ctx, query, topK)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(docs); err == nil {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("cache write failed", "error", err)
		}
	}
	return docs, nil
}

func cacheKey(query string, topK int) string {
	norm := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha256.Sum256([]byte(norm))
	return fmt.Sprintf("voxline:retrieval:%s:%d", hex.EncodeToString(sum[:8]), topK)
}
