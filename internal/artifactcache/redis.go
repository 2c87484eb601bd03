package artifactcache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"rewardjar/internal/domain"
)

// Cache keeps recently rendered artifacts in Redis. A nil Cache or a Cache
// without a client is a permanent miss.
type Cache struct {
	Client *redis.Client
	Prefix string
	TTL    time.Duration
}

func New(addr, password string, db int, ttl time.Duration) *Cache {
	return &Cache{
		Client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		Prefix: "rewardjar:",
		TTL:    ttl,
	}
}

func (c *Cache) key(requestID string) string {
	return c.Prefix + "artifact:" + requestID
}

// Get returns the cached artifact for a request.
func (c *Cache) Get(ctx context.Context, requestID string) (domain.StoredArtifact, bool, error) {
	var a domain.StoredArtifact
	if c == nil || c.Client == nil {
		return a, false, nil
	}
	data, err := c.Client.Get(ctx, c.key(requestID)).Bytes()
	if err == redis.Nil {
		return a, false, nil
	}
	if err != nil {
		return a, false, err
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return a, false, err
	}
	return a, true, nil
}

func (c *Cache) Set(ctx context.Context, a domain.StoredArtifact) error {
	if c == nil || c.Client == nil || c.TTL <= 0 {
		return nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return c.Client.SetEX(ctx, c.key(a.RequestID), data, c.TTL).Err()
}

func (c *Cache) Delete(ctx context.Context, requestID string) error {
	if c == nil || c.Client == nil {
		return nil
	}
	return c.Client.Del(ctx, c.key(requestID)).Err()
}

func (c *Cache) Ping(ctx context.Context) error {
	if c == nil || c.Client == nil {
		return nil
	}
	return c.Client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	if c == nil || c.Client == nil {
		return nil
	}
	return c.Client.Close()
}
