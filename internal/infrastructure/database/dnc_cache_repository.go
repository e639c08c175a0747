package database

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/davidleathers/crm-dnc-relay/internal/domain/dnc"
	"github.com/davidleathers/crm-dnc-relay/internal/domain/errors"
	"github.com/davidleathers/crm-dnc-relay/internal/infrastructure/telemetry"
)

// Querier is the subset of pgx used by the repository; *pgxpool.Pool and
// pgx.Tx both satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DNCCacheRepository implements dnc.CacheStore on the dnc_cache table.
// Each upsert writes only its own list's columns, so a blacklist and a
// national write for the same phone never overwrite each other.
type DNCCacheRepository struct {
	db  Querier
	now func() time.Time
}

var _ dnc.CacheStore = (*DNCCacheRepository)(nil)

// NewDNCCacheRepository creates a PostgreSQL-backed cache store.
func NewDNCCacheRepository(db *pgxpool.Pool) *DNCCacheRepository {
	return newDNCCacheRepository(db)
}

func newDNCCacheRepository(db Querier) *DNCCacheRepository {
	return &DNCCacheRepository{db: db, now: time.Now}
}

const selectCacheEntry = `
	SELECT phone, is_company_blacklisted, blacklist_checked_at,
	       is_national_dnc, national_dnc_reason, national_dnc_expiry, national_checked_at,
	       created_at, updated_at
	FROM dnc_cache
	WHERE phone = $1`

// Get returns the cached entry for phone or (nil, nil) when absent.
func (r *DNCCacheRepository) Get(ctx context.Context, phone string) (*dnc.CacheEntry, error) {
	ctx, span := telemetry.StartDatabaseSpan(ctx, "postgresql", "SELECT", "dnc_cache")
	defer span.End()

	var entry dnc.CacheEntry
	err := r.db.QueryRow(ctx, selectCacheEntry, phone).Scan(
		&entry.Phone,
		&entry.IsCompanyBlacklisted,
		&entry.BlacklistCheckedAt,
		&entry.IsNationalDNC,
		&entry.NationalDNCReason,
		&entry.NationalDNCExpiry,
		&entry.NationalCheckedAt,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		telemetry.RecordError(span, err)
		return nil, errors.NewInternalError("failed to read DNC cache entry").WithCause(err)
	}
	return &entry, nil
}

// UpsertBlacklist stores a live company blacklist result.
func (r *DNCCacheRepository) UpsertBlacklist(ctx context.Context, phone string, isOnList bool) error {
	ctx, span := telemetry.StartDatabaseSpan(ctx, "postgresql", "UPSERT", "dnc_cache")
	defer span.End()

	query := `
		INSERT INTO dnc_cache (phone, is_company_blacklisted, blacklist_checked_at, created_at, updated_at)
		VALUES ($1, $2, $3, $3, $3)
		ON CONFLICT (phone) DO UPDATE SET
			is_company_blacklisted = EXCLUDED.is_company_blacklisted,
			blacklist_checked_at = EXCLUDED.blacklist_checked_at,
			updated_at = EXCLUDED.updated_at`

	if _, err := r.db.Exec(ctx, query, phone, isOnList, r.now().UTC()); err != nil {
		telemetry.RecordError(span, err)
		return errors.NewInternalError("failed to upsert blacklist result").WithCause(err)
	}
	return nil
}

// UpsertNational stores a live national registry result. Reason and expiry
// are replaced, so a number that left the registry loses its old reason.
func (r *DNCCacheRepository) UpsertNational(ctx context.Context, phone string, isOnList bool, reason *string, expiry *time.Time) error {
	ctx, span := telemetry.StartDatabaseSpan(ctx, "postgresql", "UPSERT", "dnc_cache")
	defer span.End()

	query := `
		INSERT INTO dnc_cache (phone, is_national_dnc, national_dnc_reason, national_dnc_expiry, national_checked_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5, $5)
		ON CONFLICT (phone) DO UPDATE SET
			is_national_dnc = EXCLUDED.is_national_dnc,
			national_dnc_reason = EXCLUDED.national_dnc_reason,
			national_dnc_expiry = EXCLUDED.national_dnc_expiry,
			national_checked_at = EXCLUDED.national_checked_at,
			updated_at = EXCLUDED.updated_at`

	if _, err := r.db.Exec(ctx, query, phone, isOnList, reason, expiry, r.now().UTC()); err != nil {
		telemetry.RecordError(span, err)
		return errors.NewInternalError("failed to upsert national registry result").WithCause(err)
	}
	return nil
}

// DeleteStale removes rows stale on both lists. A list never checked is
// judged by the row's creation time.
func (r *DNCCacheRepository) DeleteStale(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, errors.NewValidationError("INVALID_RETENTION", "retention must be positive")
	}

	ctx, span := telemetry.StartDatabaseSpan(ctx, "postgresql", "DELETE", "dnc_cache")
	defer span.End()

	query := `
		DELETE FROM dnc_cache
		WHERE COALESCE(blacklist_checked_at, created_at) < $1
		  AND COALESCE(national_checked_at, created_at) < $1`

	tag, err := r.db.Exec(ctx, query, r.now().UTC().Add(-retention))
	if err != nil {
		telemetry.RecordError(span, err)
		return 0, errors.NewInternalError("failed to delete stale DNC cache entries").WithCause(err)
	}
	return tag.RowsAffected(), nil
}
