// Package cache stores AI results in Redis under keys derived from the semantically relevant request
// fields, so identical requests are answered without calling the provider again.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"recruiting-ai-queue/internal/telemetry"
)

// Cache is a best-effort JSON cache. Store failures are logged and behave like a miss.
type Cache struct {
	client        redis.UniversalClient
	prefix        string
	log           zerolog.Logger
	group         singleflight.Group
	flightTimeout time.Duration
}

const defaultFlightTimeout = 2 * time.Minute

// New builds a cache whose keys start with prefix.
func New(client redis.UniversalClient, prefix string, logger zerolog.Logger) *Cache {
	return &Cache{client: client, prefix: prefix, log: logger, flightTimeout: defaultFlightTimeout}
}

// SetFlightTimeout bounds a shared fetch started by GetOrSetShared. Non-positive values keep the default.
func (c *Cache) SetFlightTimeout(d time.Duration) {
	if d > 0 {
		c.flightTimeout = d
	}
}

// Key derives "<prefix><logical>:<sha256 hex>" from the canonical JSON encoding of fields.
// Map keys and struct fields are encoded in a stable order, so equal inputs always hash the same.
// Lists whose order carries no meaning should be passed through Unordered first.
func (c *Cache) Key(logical string, fields any) string {
	return c.prefix + logical + ":" + Hash(fields)
}

// Hash returns the hex sha256 of the canonical JSON encoding of v.
func Hash(v any) string {
	sum := sha256.Sum256(canonicalJSON(v))
	return hex.EncodeToString(sum[:])
}

func canonicalJSON(v any) []byte {
	raw, err := json.Marshal(v)
	if err != nil {
		return []byte(fmt.Sprintf("%v", v))
	}
	// Decoding into any and re-encoding sorts object keys at every depth.
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return raw
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return raw
	}
	return out
}

// Unordered returns a trimmed, lower-cased, sorted copy of values for use in key material.
func Unordered(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// Get decodes the value stored at key into dst. It reports false on a miss, an expired entry,
// an undecodable entry or a store failure.
func (c *Cache) Get(ctx context.Context, key string, dst any) bool {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		telemetry.CacheErrors.Inc()
		c.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("discarding undecodable cache entry")
		return false
	}
	return true
}

// Set stores v at key for ttl. A non-positive ttl stores nothing.
func (c *Cache) Set(ctx context.Context, key string, v any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache encode failed")
		return
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		telemetry.CacheErrors.Inc()
		c.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

// Delete removes key.
func (c *Cache) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		telemetry.CacheErrors.Inc()
		c.log.Warn().Err(err).Str("key", key).Msg("cache delete failed")
	}
}

// GetOrSet returns the cached value at key or calls fetch and caches its result.
// Concurrent callers that miss at the same time each call fetch.
func GetOrSet[T any](ctx context.Context, c *Cache, namespace, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	var cached T
	if c.Get(ctx, key, &cached) {
		telemetry.CacheHits.WithLabelValues(namespace).Inc()
		return cached, nil
	}
	telemetry.CacheMisses.WithLabelValues(namespace).Inc()

	v, err := fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.Set(ctx, key, v, ttl)
	return v, nil
}

// GetOrSetShared is GetOrSet with concurrent misses for the same key collapsed into a single fetch
// within this process. The fetch is detached from the caller that started it and bounded by the
// flight timeout, so one cancelled caller does not fail the others. Each caller still stops waiting
// when its own ctx is done.
func GetOrSetShared[T any](ctx context.Context, c *Cache, namespace, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	var cached T
	if c.Get(ctx, key, &cached) {
		telemetry.CacheHits.WithLabelValues(namespace).Inc()
		return cached, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.flightTimeout)
		defer cancel()

		telemetry.CacheMisses.WithLabelValues(namespace).Inc()
		// Another caller may have filled the entry between our miss and acquiring the flight.
		var again T
		if c.Get(fctx, key, &again) {
			return again, nil
		}
		fresh, err := fetch(fctx)
		if err != nil {
			return nil, err
		}
		c.Set(fctx, key, fresh, ttl)
		return fresh, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		if res.Shared {
			c.log.Debug().Str("key", key).Msg("joined in-flight fetch")
		}
		return res.Val.(T), nil
	}
}
