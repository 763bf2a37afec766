package analysis

import (
	"context"
	"time"

	"recruiting-ai-queue/internal/ai"
	"recruiting-ai-queue/internal/apperr"
	"recruiting-ai-queue/internal/cache"
)

// askModel runs one completion and decodes its JSON object into dst.
func askModel(ctx context.Context, completer ai.Completer, req ai.ChatRequest, dst any) error {
	raw, err := completer.Complete(ctx, req)
	if err != nil {
		if _, ok := apperr.As(err); !ok {
			err = apperr.UpstreamAI(err)
		}
		return err
	}
	return ai.DecodeJSON(raw, dst)
}

// lookaside serves the result for fields from the cache or computes it with fetch.
// A nil cache disables caching.
func lookaside[R any](ctx context.Context, c *cache.Cache, namespace string, fields any, ttl time.Duration, fetch func(context.Context) (R, error)) (R, error) {
	if c == nil {
		return fetch(ctx)
	}
	return cache.GetOrSetShared(ctx, c, namespace, c.Key(namespace, fields), ttl, fetch)
}

// scaledEstimate returns base plus one second per unit of size, capped at max.
func scaledEstimate(base time.Duration, size, unit int, max time.Duration) time.Duration {
	if unit <= 0 {
		return base
	}
	d := base + time.Duration(size/unit)*time.Second
	if d > max {
		return max
	}
	return d
}
