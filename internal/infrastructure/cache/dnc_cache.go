package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidleathers/crm-dnc-relay/internal/domain/dnc"
	"github.com/davidleathers/crm-dnc-relay/internal/domain/values"
)

// Hash fields of one cached phone.
const (
	fieldPhone           = "phone"
	fieldBlacklisted     = "is_company_blacklisted"
	fieldBlacklistAt     = "blacklist_checked_at"
	fieldNationalDNC     = "is_national_dnc"
	fieldNationalReason  = "national_dnc_reason"
	fieldNationalExpiry  = "national_dnc_expiry"
	fieldNationalAt      = "national_checked_at"
	fieldCreatedAt       = "created_at"
	fieldUpdatedAt       = "updated_at"
	scanBatchSize        = 200
	defaultDNCKeyPrefix  = "dnc:"
	dncCacheKeySegment   = "cache:"
	webhookKeySegment    = "webhook:"
	redisTimestampLayout = time.RFC3339Nano
)

// DNCCacheStore implements dnc.CacheStore with one Redis hash per phone.
// Each upsert sets only its own list's fields.
type DNCCacheStore struct {
	client    redis.UniversalClient
	logger    *zap.Logger
	prefix    string
	retention time.Duration
	now       func() time.Time

	beforeDelete func(key string)
}

var _ dnc.CacheStore = (*DNCCacheStore)(nil)

// NewDNCCacheStore creates a Redis-backed cache store. Every write refreshes
// the key's expiry to retention, so keys nobody touches age out even when
// the sweep never runs.
func NewDNCCacheStore(client redis.UniversalClient, keyPrefix string, retention time.Duration, logger *zap.Logger) (*DNCCacheStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if keyPrefix == "" {
		keyPrefix = defaultDNCKeyPrefix
	}
	if retention <= 0 {
		retention = dnc.DefaultRetention
	}
	return &DNCCacheStore{
		client:    client,
		logger:    logger,
		prefix:    keyPrefix + dncCacheKeySegment,
		retention: retention,
		now:       time.Now,
	}, nil
}

func (s *DNCCacheStore) key(phone string) string {
	return s.prefix + phone
}

// Get returns the cached entry for phone or (nil, nil) when absent.
func (s *DNCCacheStore) Get(ctx context.Context, phone string) (*dnc.CacheEntry, error) {
	fields, err := s.client.HGetAll(ctx, s.key(phone)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	entry, err := decodeEntry(fields)
	if err != nil {
		s.logger.Warn("discarding undecodable DNC cache entry",
			zap.String("phone", values.RedactPhone(phone)),
			zap.Error(err))
		return nil, nil
	}
	if entry.Phone == "" {
		entry.Phone = phone
	}
	return entry, nil
}

// UpsertBlacklist stores a live company blacklist result.
func (s *DNCCacheStore) UpsertBlacklist(ctx context.Context, phone string, isOnList bool) error {
	now := s.now().UTC().Format(redisTimestampLayout)
	key := s.key(phone)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, fieldCreatedAt, now)
		pipe.HSet(ctx, key,
			fieldPhone, phone,
			fieldBlacklisted, formatBool(isOnList),
			fieldBlacklistAt, now,
			fieldUpdatedAt, now,
		)
		pipe.Expire(ctx, key, s.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis blacklist upsert failed: %w", err)
	}
	return nil
}

// UpsertNational stores a live national registry result. Absent reason or
// expiry clear the previous values.
func (s *DNCCacheStore) UpsertNational(ctx context.Context, phone string, isOnList bool, reason *string, expiry *time.Time) error {
	now := s.now().UTC().Format(redisTimestampLayout)
	key := s.key(phone)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, fieldCreatedAt, now)
		pipe.HSet(ctx, key,
			fieldPhone, phone,
			fieldNationalDNC, formatBool(isOnList),
			fieldNationalAt, now,
			fieldUpdatedAt, now,
		)
		if reason != nil {
			pipe.HSet(ctx, key, fieldNationalReason, *reason)
		} else {
			pipe.HDel(ctx, key, fieldNationalReason)
		}
		if expiry != nil {
			pipe.HSet(ctx, key, fieldNationalExpiry, expiry.UTC().Format(redisTimestampLayout))
		} else {
			pipe.HDel(ctx, key, fieldNationalExpiry)
		}
		pipe.Expire(ctx, key, s.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis national upsert failed: %w", err)
	}
	return nil
}

// DeleteStale scans the cache keyspace and deletes entries stale on both
// lists.
func (s *DNCCacheStore) DeleteStale(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("retention must be positive")
	}
	cutoff := s.now().Add(-retention)

	var deleted int64
	iter := s.client.Scan(ctx, 0, s.prefix+"*", scanBatchSize).Iterator()
	for iter.Next(ctx) {
		n, err := s.deleteIfStale(ctx, iter.Val(), cutoff)
		if err != nil {
			return deleted, err
		}
		deleted += n
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("redis scan failed: %w", err)
	}
	return deleted, nil
}

// deleteIfStale removes key under WATCH, so an upsert that lands between
// the read and the delete aborts the delete and keeps the entry.
func (s *DNCCacheStore) deleteIfStale(ctx context.Context, key string, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("redis hgetall failed: %w", err)
		}
		if len(fields) == 0 {
			return nil
		}
		entry, err := decodeEntry(fields)
		if err == nil && !entry.RetentionExpired(cutoff) {
			return nil
		}
		if s.beforeDelete != nil {
			s.beforeDelete(key)
		}
		cmds, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		if err != nil {
			return err
		}
		deleted = cmds[0].(*redis.IntCmd).Val()
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		s.logger.Debug("cache entry changed during sweep, keeping it", zap.String("key", key))
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis delete failed: %w", err)
	}
	return deleted, nil
}

func decodeEntry(fields map[string]string) (*dnc.CacheEntry, error) {
	entry := &dnc.CacheEntry{Phone: fields[fieldPhone]}

	var err error
	if entry.IsCompanyBlacklisted, err = parseBool(fields[fieldBlacklisted]); err != nil {
		return nil, fmt.Errorf("%s: %w", fieldBlacklisted, err)
	}
	if entry.IsNationalDNC, err = parseBool(fields[fieldNationalDNC]); err != nil {
		return nil, fmt.Errorf("%s: %w", fieldNationalDNC, err)
	}
	if entry.BlacklistCheckedAt, err = parseTime(fields[fieldBlacklistAt]); err != nil {
		return nil, fmt.Errorf("%s: %w", fieldBlacklistAt, err)
	}
	if entry.NationalCheckedAt, err = parseTime(fields[fieldNationalAt]); err != nil {
		return nil, fmt.Errorf("%s: %w", fieldNationalAt, err)
	}
	if entry.NationalDNCExpiry, err = parseTime(fields[fieldNationalExpiry]); err != nil {
		return nil, fmt.Errorf("%s: %w", fieldNationalExpiry, err)
	}
	if reason, ok := fields[fieldNationalReason]; ok {
		entry.NationalDNCReason = &reason
	}
	if created, err := parseTime(fields[fieldCreatedAt]); err == nil && created != nil {
		entry.CreatedAt = *created
	}
	if updated, err := parseTime(fields[fieldUpdatedAt]); err == nil && updated != nil {
		entry.UpdatedAt = *updated
	}
	return entry, nil
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(redisTimestampLayout, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
