package reload

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Claimer reserves a reload so that concurrent triggers apply it once.
type Claimer interface {
	// Claim reserves key for opID. It reports false when the key is already held.
	Claim(ctx context.Context, key, opID string, ttl time.Duration) (bool, error)
	// Release frees key if opID still holds it.
	Release(ctx context.Context, key, opID string) error
}

// RedisClaimer implements Claimer with SET NX.
type RedisClaimer struct {
	client *redis.Client
}

// NewRedisClaimer wraps a connected client.
func NewRedisClaimer(client *redis.Client) *RedisClaimer {
	return &RedisClaimer{client: client}
}

// Dial parses a redis:// URL, connects and pings.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func (c *RedisClaimer) Claim(ctx context.Context, key, opID string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, opID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (c *RedisClaimer) Release(ctx context.Context, key, opID string) error {
	if err := releaseScript.Run(ctx, c.client, []string{key}, opID).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// Key names the claim for one organization at one settings version.
func Key(orgID string, version int64) string {
	return fmt.Sprintf("tollgate:reload:%s:%d", orgID, version)
}
