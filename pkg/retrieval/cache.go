package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"

	"github.com/origo-labs/soulcore-go/pkg/store"
)

// greetingPrefixes are conversational openers stripped during normalization so
// that "hey, what is the capital of France" and "what is the capital of
// France" share one cache entry.
var greetingPrefixes = []string{
	"hey", "hi", "hello", "ok", "okay", "so", "well", "please", "szia", "hali",
}

// NormalizeQuery canonicalizes a query for cache keying: lowercases, strips
// leading greeting words and punctuation, and collapses whitespace runs.
func NormalizeQuery(query string) string {
	s := strings.ToLower(strings.TrimSpace(query))

	for changed := true; changed; {
		changed = false
		s = strings.TrimLeft(s, " \t,.!?-")
		for _, prefix := range greetingPrefixes {
			if strings.HasPrefix(s, prefix) {
				rest := s[len(prefix):]
				if rest == "" || rest[0] == ' ' || rest[0] == ',' || rest[0] == '!' || rest[0] == '.' {
					s = strings.TrimLeft(rest, " \t,.!?-")
					changed = true
				}
			}
		}
	}

	return strings.Join(strings.Fields(s), " ")
}

// HashQuery returns the stable cache key for a normalized query.
func HashQuery(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Cache is a two-tier TTL cache over retrieval results: a ristretto in-memory
// hot tier in front of the persistent store tier. The store row is the source
// of truth; the hot tier only short-circuits repeated lookups within one
// process lifetime.
type Cache struct {
	store store.Store
	hot   *ristretto.Cache
	ttl   time.Duration
	log   *zap.Logger
}

// NewCache creates a cache with the given store tier and entry TTL.
func NewCache(st store.Store, ttl time.Duration, log *zap.Logger) (*Cache, error) {
	hot, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10000,
		MaxCost:     1 << 24, // 16 MiB of result text
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &Cache{
		store: st,
		hot:   hot,
		ttl:   ttl,
		log:   log,
	}, nil
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached result for query, or ("", false) on a miss. A row
// whose expiry has passed is a miss; the stale row is left in place for the
// next Put to overwrite.
func (c *Cache) Get(ctx context.Context, query string) (string, bool) {
	hash := HashQuery(NormalizeQuery(query))

	if value, ok := c.hot.Get(hash); ok {
		if result, ok := value.(string); ok {
			return result, true
		}
	}

	entry, err := c.store.GetCachedSearch(ctx, hash)
	if err != nil {
		c.log.Warn("cache lookup failed", zap.Error(err))
		return "", false
	}
	if entry == nil {
		return "", false
	}
	if !time.Now().Before(entry.ExpiresAt) {
		return "", false
	}

	c.hot.SetWithTTL(hash, entry.Result, int64(len(entry.Result)), time.Until(entry.ExpiresAt))
	return entry.Result, true
}

// Put stores a result for query. The store write is authoritative; a hot-tier
// set may be dropped under pressure without affecting correctness. A
// non-positive TTL produces an already-expired row, which disables caching
// without a separate code path.
func (c *Cache) Put(ctx context.Context, query, result string) {
	normalized := NormalizeQuery(query)
	hash := HashQuery(normalized)

	entry := &store.CacheEntry{
		QueryHash: hash,
		Query:     query,
		Result:    result,
		ExpiresAt: time.Now().Add(c.ttl),
		CreatedAt: time.Now(),
	}

	if err := c.store.SaveSearch(ctx, entry); err != nil {
		c.log.Warn("cache save failed", zap.Error(err))
		return
	}

	if c.ttl > 0 {
		c.hot.SetWithTTL(hash, result, int64(len(result)), c.ttl)
	}
}

// Close releases the hot tier.
func (c *Cache) Close() {
	c.hot.Close()
}
