// Package tokencache layers a Redis read-through cache over the recorder's
// token lookup. It is a latency optimization for the burst of opens and
// clicks right after a campaign blast, not a correctness requirement: any
// cache failure falls through to the store.
package tokencache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/phishtrack/internal/pkg/logger"
	"github.com/ignite/phishtrack/internal/recorder"
)

// DefaultTTL bounds staleness of cached recipients. Recipient rows are
// immutable apart from flag timestamps, and the recorder only needs the ID,
// so a stale entry is harmless; the TTL mainly caps memory.
const DefaultTTL = 10 * time.Minute

// Cache resolves tokens via Redis before hitting the backing store.
// Not-found results are never cached: a token unknown now may belong to a
// recipient whose dispatch transaction commits a moment later.
type Cache struct {
	client *redis.Client
	store  recorder.Lookup
	ttl    time.Duration
}

// New creates a read-through cache in front of store.
func New(client *redis.Client, store recorder.Lookup, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, store: store, ttl: ttl}
}

func key(tok string) string { return "trk:tok:" + tok }

// RecipientByToken implements recorder.Lookup.
func (c *Cache) RecipientByToken(ctx context.Context, tok string) (*recorder.CampaignRecipient, error) {
	data, err := c.client.Get(ctx, key(tok)).Bytes()
	if err == nil {
		rec := &recorder.CampaignRecipient{}
		if err := json.Unmarshal(data, rec); err == nil {
			return rec, nil
		}
		// Corrupt entry: drop it and fall through to the store.
		c.client.Del(ctx, key(tok))
	} else if !errors.Is(err, redis.Nil) {
		logger.Warn("token cache read failed", "token", tok, "error", err.Error())
	}

	rec, err := c.store.RecipientByToken(ctx, tok)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(rec); err == nil {
		if err := c.client.Set(ctx, key(tok), data, c.ttl).Err(); err != nil {
			logger.Warn("token cache write failed", "token", tok, "error", err.Error())
		}
	}
	return rec, nil
}

// Invalidate removes a token's cache entry. Callers use it when a
// recipient is removed along with its campaign.
func (c *Cache) Invalidate(ctx context.Context, tok string) error {
	if err := c.client.Del(ctx, key(tok)).Err(); err != nil {
		return fmt.Errorf("invalidate token cache: %w", err)
	}
	return nil
}
