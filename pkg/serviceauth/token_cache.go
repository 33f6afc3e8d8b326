package serviceauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenCache stores one bearer token per downstream domain
type TokenCache interface {
	// Get returns the cached token for domain, or "" if none is usable
	Get(ctx context.Context, domain string) (string, error)
	Set(ctx context.Context, domain, token string, expiresAt time.Time) error
	Invalidate(ctx context.Context, domain string) error
}

// expirySkew drops tokens slightly before they expire so in-flight requests
// do not carry a token that dies on the way
const expirySkew = 5 * time.Second

// ============================================================================
// IN-MEMORY CACHE
// ============================================================================

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// MemoryTokenCache is a process-local TokenCache
type MemoryTokenCache struct {
	mu     sync.RWMutex
	tokens map[string]cachedToken
	now    func() time.Time
}

// NewMemoryTokenCache creates an empty MemoryTokenCache
func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{
		tokens: make(map[string]cachedToken),
		now:    time.Now,
	}
}

func (c *MemoryTokenCache) Get(_ context.Context, domain string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	token, ok := c.tokens[domain]
	if !ok {
		return "", nil
	}
	if !token.expiresAt.IsZero() && c.now().Add(expirySkew).After(token.expiresAt) {
		return "", nil
	}
	return token.value, nil
}

func (c *MemoryTokenCache) Set(_ context.Context, domain, token string, expiresAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tokens[domain] = cachedToken{value: token, expiresAt: expiresAt}
	return nil
}

func (c *MemoryTokenCache) Invalidate(_ context.Context, domain string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.tokens, domain)
	return nil
}

// ============================================================================
// REDIS CACHE
// ============================================================================

// RedisTokenCache shares tokens between replicas of the same service
type RedisTokenCache struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisTokenCache creates a RedisTokenCache whose keys are namespaced by clientID
func NewRedisTokenCache(rdb *redis.Client, clientID string) *RedisTokenCache {
	return &RedisTokenCache{rdb: rdb, prefix: "svc-token:" + clientID + ":"}
}

func (c *RedisTokenCache) Get(ctx context.Context, domain string) (string, error) {
	token, err := c.rdb.Get(ctx, c.prefix+domain).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token from redis: %w", err)
	}
	return token, nil
}

func (c *RedisTokenCache) Set(ctx context.Context, domain, token string, expiresAt time.Time) error {
	var ttl time.Duration
	if !expiresAt.IsZero() {
		ttl = time.Until(expiresAt) - expirySkew
		if ttl <= 0 {
			return nil
		}
	}
	if err := c.rdb.Set(ctx, c.prefix+domain, token, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store token in redis: %w", err)
	}
	return nil
}

func (c *RedisTokenCache) Invalidate(ctx context.Context, domain string) error {
	if err := c.rdb.Del(ctx, c.prefix+domain).Err(); err != nil {
		return fmt.Errorf("failed to delete token from redis: %w", err)
	}
	return nil
}
