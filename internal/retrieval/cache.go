package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/combiphar/corpus/internal/observability"
	"github.com/combiphar/corpus/pkg/models"
)

const (
	searchGenKey    = "corpus:search:gen"
	searchKeyPrefix = "corpus:search:"
	docKeyPrefix    = "corpus:doc:"
	docCacheTTL     = time.Hour
)

// Cache keeps recent search results and document metadata in redis. Search
// invalidation is coarse: a generation counter is part of every key, so
// bumping it orphans the whole search cache at once and the stale entries
// simply expire.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCache creates a cache on an existing redis client. A nil client
// yields a disabled cache; callers don't need to branch.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Cache{
		client: client,
		ttl:    ttl,
		logger: observability.Logger("retrieval.cache"),
	}
}

func (c *Cache) enabled() bool { return c != nil && c.client != nil }

// searchKey hashes the full identity of one search.
func (c *Cache) searchKey(ctx context.Context, userID, query string, k int, threshold float64, sources []models.SourceType) string {
	gen, err := c.client.Get(ctx, searchGenKey).Int64()
	if err != nil && err != redis.Nil {
		return ""
	}

	sorted := make([]string, len(sources))
	for i, s := range sources {
		sorted[i] = string(s)
	}
	sort.Strings(sorted)

	payload := fmt.Sprintf("%s|%s|%d|%.4f|%s",
		userID, normalizeText(query), k, threshold, strings.Join(sorted, ","))
	sum := sha256.Sum256([]byte(payload))
	return fmt.Sprintf("%s%d:%s", searchKeyPrefix, gen, hex.EncodeToString(sum[:16]))
}

// GetSearch returns a cached result, marking it as served from cache.
func (c *Cache) GetSearch(ctx context.Context, userID, query string, k int, threshold float64, sources []models.SourceType) (*models.SearchResult, bool) {
	if !c.enabled() {
		return nil, false
	}
	key := c.searchKey(ctx, userID, query, k, threshold, sources)
	if key == "" {
		return nil, false
	}

	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var result models.SearchResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.logger.Debug().Err(err).Msg("dropping undecodable cached search result")
		c.client.Del(ctx, key)
		return nil, false
	}
	result.Cached = true
	return &result, true
}

// PutSearch stores a search result.
func (c *Cache) PutSearch(ctx context.Context, userID, query string, k int, threshold float64, sources []models.SourceType, result *models.SearchResult) {
	if !c.enabled() || result == nil {
		return
	}
	key := c.searchKey(ctx, userID, query, k, threshold, sources)
	if key == "" {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Debug().Err(err).Msg("could not cache search result")
	}
}

// InvalidateSearch bumps the generation, orphaning every cached search.
func (c *Cache) InvalidateSearch(ctx context.Context) {
	if !c.enabled() {
		return
	}
	if err := c.client.Incr(ctx, searchGenKey).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("could not invalidate search cache")
		return
	}
	observability.LogEvent(c.logger, observability.EventCacheInvalidated, map[string]interface{}{
		"cache": "search",
	})
}

// GetDocument returns cached document metadata.
func (c *Cache) GetDocument(ctx context.Context, documentID string) (*models.Document, bool) {
	if !c.enabled() {
		return nil, false
	}
	raw, err := c.client.Get(ctx, docKeyPrefix+documentID).Bytes()
	if err != nil {
		return nil, false
	}
	var doc models.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		c.client.Del(ctx, docKeyPrefix+documentID)
		return nil, false
	}
	return &doc, true
}

// PutDocument caches document metadata by id.
func (c *Cache) PutDocument(ctx context.Context, doc *models.Document) {
	if !c.enabled() || doc == nil {
		return
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return
	}
	c.client.Set(ctx, docKeyPrefix+doc.ID, raw, docCacheTTL)
}

// InvalidateDocument drops one document's cached metadata.
func (c *Cache) InvalidateDocument(ctx context.Context, documentID string) {
	if !c.enabled() || documentID == "" {
		return
	}
	c.client.Del(ctx, docKeyPrefix+documentID)
}
