package cache

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ErrMiss is returned by Get when the key is absent.
var ErrMiss = errors.New("cache: miss")

// Tagged is a tag-addressable Redis cache. Every entry may belong to one or
// more tags; a tag can be swept as a whole or filtered by a glob pattern,
// which is how unboundedly many derived keys are evicted without key
// enumeration on the caller side.
//
// A Tagged with a nil client degrades to a permanent miss: every Get misses,
// every Put is a no-op and Fetch computes directly. Callers must treat cache
// contents as advisory either way.
type Tagged struct {
	client *redis.Client
	prefix string
	group  singleflight.Group
}

// NewTagged constructs a Tagged cache. The prefix namespaces all keys and
// tag sets so independent deployments can share one Redis.
func NewTagged(client *redis.Client, prefix string) *Tagged {
	if prefix == "" {
		prefix = "gatekeeper"
	}
	return &Tagged{client: client, prefix: prefix}
}

func (c *Tagged) key(k string) string { return c.prefix + ":" + k }

func (c *Tagged) tagKey(tag string) string { return c.prefix + ":tag:" + tag }

// Get loads the value stored under key into dest. Returns ErrMiss when absent.
func (c *Tagged) Get(ctx context.Context, key string, dest any) error {
	if c == nil || c.client == nil {
		return ErrMiss
	}
	payload, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, dest)
}

// Put stores value under key with the given TTL and registers it with tags.
func (c *Tagged) Put(ctx context.Context, key string, value any, ttl time.Duration, tags ...string) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.key(key), raw, ttl)
	for _, tag := range tags {
		pipe.SAdd(ctx, c.tagKey(tag), key)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Fetch loads key or, on miss, computes it with loader, stores it and loads
// the computed value into dest. Concurrent misses for the same key are
// collapsed into one loader call.
func (c *Tagged) Fetch(ctx context.Context, key string, ttl time.Duration, tags []string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	err := c.Get(ctx, key, dest)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrMiss) {
		return err
	}
	raw, err, _ := c.group.Do(key, func() (any, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		buf, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if putErr := c.Put(ctx, key, json.RawMessage(buf), ttl, tags...); putErr != nil {
			// Advisory cache: a failed write must not fail the computation.
			return buf, nil
		}
		return buf, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw.([]byte), dest)
}

// InvalidateTag removes every entry registered under tag, then the tag itself.
func (c *Tagged) InvalidateTag(ctx context.Context, tag string) error {
	if c == nil || c.client == nil {
		return nil
	}
	members, err := c.client.SMembers(ctx, c.tagKey(tag)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	pipe := c.client.TxPipeline()
	for _, member := range members {
		pipe.Del(ctx, c.key(member))
	}
	pipe.Del(ctx, c.tagKey(tag))
	_, err = pipe.Exec(ctx)
	return err
}

// InvalidatePattern removes the entries registered under tag whose bare key
// matches the glob pattern. Entries that do not match stay cached.
func (c *Tagged) InvalidatePattern(ctx context.Context, tag, pattern string) error {
	if c == nil || c.client == nil {
		return nil
	}
	members, err := c.client.SMembers(ctx, c.tagKey(tag)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	var matched []string
	for _, member := range members {
		ok, matchErr := path.Match(pattern, member)
		if matchErr != nil {
			return matchErr
		}
		if ok {
			matched = append(matched, member)
		}
	}
	if len(matched) == 0 {
		return nil
	}
	pipe := c.client.TxPipeline()
	for _, member := range matched {
		pipe.Del(ctx, c.key(member))
	}
	pipe.SRem(ctx, c.tagKey(tag), toAnySlice(matched)...)
	_, err = pipe.Exec(ctx)
	return err
}

// Flush drops every entry and tag set under this cache's prefix.
func (c *Tagged) Flush(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+":*", 200).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func toAnySlice(items []string) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}
