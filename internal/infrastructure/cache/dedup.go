package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupTTL is how long a delivered webhook id is remembered.
const DefaultDedupTTL = 24 * time.Hour

// Deduplicator remembers webhook delivery ids so redelivered events are
// processed once.
type Deduplicator struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewDeduplicator creates a deduplicator keyed under keyPrefix.
func NewDeduplicator(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *Deduplicator {
	if keyPrefix == "" {
		keyPrefix = defaultDNCKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &Deduplicator{client: client, prefix: keyPrefix + webhookKeySegment, ttl: ttl}
}

// FirstSeen records id and reports whether this is its first delivery.
func (d *Deduplicator) FirstSeen(ctx context.Context, id string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+id, time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

// Forget drops id so a failed delivery can be retried.
func (d *Deduplicator) Forget(ctx context.Context, id string) error {
	if err := d.client.Del(ctx, d.prefix+id).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}
