package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/crm-dnc-relay/internal/domain/dnc"
)

var storeNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*DNCCacheStore, func(time.Time)) {
	t.Helper()
	client, _ := setupTestRedis(t)
	store, err := NewDNCCacheStore(client, "test:", 0, zaptest.NewLogger(t))
	require.NoError(t, err)

	now := storeNow
	store.now = func() time.Time { return now }
	return store, func(ts time.Time) { now = ts }
}

func TestNewDNCCacheStore(t *testing.T) {
	client, _ := setupTestRedis(t)

	_, err := NewDNCCacheStore(nil, "", 0, zaptest.NewLogger(t))
	assert.Error(t, err)
	_, err = NewDNCCacheStore(client, "", 0, nil)
	assert.Error(t, err)

	store, err := NewDNCCacheStore(client, "", 0, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "dnc:cache:", store.prefix)
	assert.Equal(t, dnc.DefaultRetention, store.retention)
}

func TestDNCCacheStore_GetMiss(t *testing.T) {
	store, _ := newTestStore(t)

	entry, err := store.Get(context.Background(), "+15550000000")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestDNCCacheStore_UpsertsAreIndependent(t *testing.T) {
	store, setNow := newTestStore(t)
	ctx := context.Background()
	phone := "+15551234567"

	require.NoError(t, store.UpsertBlacklist(ctx, phone, true))

	entry, err := store.Get(ctx, phone)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, phone, entry.Phone)
	assert.True(t, entry.IsCompanyBlacklisted)
	assert.True(t, entry.BlacklistCheckedAt.Equal(storeNow))
	assert.False(t, entry.IsNationalDNC)
	assert.Nil(t, entry.NationalCheckedAt)
	assert.True(t, entry.CreatedAt.Equal(storeNow))

	later := storeNow.Add(time.Hour)
	setNow(later)
	reason := "registered"
	expiry := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpsertNational(ctx, phone, true, &reason, &expiry))

	entry, err = store.Get(ctx, phone)
	require.NoError(t, err)
	assert.True(t, entry.IsCompanyBlacklisted)
	assert.True(t, entry.BlacklistCheckedAt.Equal(storeNow))
	assert.True(t, entry.IsNationalDNC)
	assert.True(t, entry.NationalCheckedAt.Equal(later))
	require.NotNil(t, entry.NationalDNCReason)
	assert.Equal(t, "registered", *entry.NationalDNCReason)
	assert.True(t, entry.NationalDNCExpiry.Equal(expiry))
	assert.True(t, entry.CreatedAt.Equal(storeNow), "created_at is set once")
	assert.True(t, entry.UpdatedAt.Equal(later))

	require.NoError(t, store.UpsertNational(ctx, phone, false, nil, nil))
	entry, err = store.Get(ctx, phone)
	require.NoError(t, err)
	assert.False(t, entry.IsNationalDNC)
	assert.Nil(t, entry.NationalDNCReason)
	assert.Nil(t, entry.NationalDNCExpiry)
	assert.True(t, entry.IsCompanyBlacklisted)
}

func TestDNCCacheStore_UndecodableEntryIsMiss(t *testing.T) {
	client, _ := setupTestRedis(t)
	store, err := NewDNCCacheStore(client, "test:", 0, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, client.HSet(context.Background(), "test:cache:+15551234567", fieldBlacklisted, "maybe").Err())

	entry, err := store.Get(context.Background(), "+15551234567")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestDNCCacheStore_DeleteStale(t *testing.T) {
	store, setNow := newTestStore(t)
	ctx := context.Background()
	day := 24 * time.Hour

	setNow(storeNow.Add(-40 * day))
	require.NoError(t, store.UpsertBlacklist(ctx, "+15550000001", false))
	require.NoError(t, store.UpsertNational(ctx, "+15550000001", false, nil, nil))
	require.NoError(t, store.UpsertBlacklist(ctx, "+15550000002", true))
	require.NoError(t, store.UpsertBlacklist(ctx, "+15550000003", false))

	setNow(storeNow.Add(-5 * day))
	require.NoError(t, store.UpsertNational(ctx, "+15550000003", false, nil, nil))
	require.NoError(t, store.UpsertBlacklist(ctx, "+15550000004", false))

	setNow(storeNow)
	deleted, err := store.DeleteStale(ctx, 30*day)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	for phone, kept := range map[string]bool{
		"+15550000001": false,
		"+15550000002": false,
		"+15550000003": true,
		"+15550000004": true,
	} {
		entry, err := store.Get(ctx, phone)
		require.NoError(t, err)
		assert.Equal(t, kept, entry != nil, phone)
	}

	_, err = store.DeleteStale(ctx, 0)
	assert.Error(t, err)
}

func TestDNCCacheStore_DeleteStaleKeepsConcurrentUpsert(t *testing.T) {
	store, setNow := newTestStore(t)
	ctx := context.Background()
	day := 24 * time.Hour

	setNow(storeNow.Add(-40 * day))
	require.NoError(t, store.UpsertBlacklist(ctx, "+15550000001", false))
	require.NoError(t, store.UpsertNational(ctx, "+15550000001", false, nil, nil))

	setNow(storeNow)
	var refreshed []string
	store.beforeDelete = func(key string) {
		refreshed = append(refreshed, key)
		require.NoError(t, store.UpsertBlacklist(ctx, "+15550000001", true))
	}

	deleted, err := store.DeleteStale(ctx, 30*day)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)
	assert.Equal(t, []string{"test:cache:+15550000001"}, refreshed)

	entry, err := store.Get(ctx, "+15550000001")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.IsCompanyBlacklisted)
	require.NotNil(t, entry.BlacklistCheckedAt)
	assert.True(t, entry.BlacklistCheckedAt.Equal(storeNow))
}

func TestDNCCacheStore_WritesRefreshExpiry(t *testing.T) {
	client, mr := setupTestRedis(t)
	store, err := NewDNCCacheStore(client, "test:", 48*time.Hour, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, store.UpsertBlacklist(context.Background(), "+15551234567", false))
	assert.Equal(t, 48*time.Hour, mr.TTL("test:cache:+15551234567"))
}
