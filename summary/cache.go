// cache.go provides the optional chapter-segmentation dedup cache: a raw
// string value keyed by (task, transcript length), so a retried summarize
// stage does not re-spend an LLM call recomputing chapters for transcript
// text it already segmented.
package summary

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// PromptCache stores and retrieves raw prompt-response text by key.
type PromptCache interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// RedisPromptCache implements PromptCache over a Redis client.
type RedisPromptCache struct {
	client *redis.Client
	prefix string
}

func NewRedisPromptCache(client *redis.Client) *RedisPromptCache {
	return &RedisPromptCache{client: client, prefix: "scribeflow:summary:cache:"}
}

func (c *RedisPromptCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisPromptCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, c.prefix+key, value, ttl).Err()
}
