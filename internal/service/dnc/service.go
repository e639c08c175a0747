package dnc

import (
	"context"
	"sync"
	"time"

	"github.com/davidleathers/crm-dnc-relay/internal/domain/dnc"
	"github.com/davidleathers/crm-dnc-relay/internal/domain/errors"
	"github.com/davidleathers/crm-dnc-relay/internal/domain/values"
	"github.com/davidleathers/crm-dnc-relay/internal/service/dnc/providers"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrNoPhone is returned by Check for an empty phone.
var ErrNoPhone = errors.NewValidationError("INVALID_PHONE", "phone number is required")

// Ensure service implements the interface
var _ Service = (*service)(nil)

// service orchestrates cache reads, live list lookups and cache writes for a
// single phone. It holds no per-phone state between calls.
type service struct {
	logger    *zap.Logger
	config    *Config
	store     dnc.CacheStore
	blacklist providers.Checker
	national  providers.Checker
	sink      dnc.EventSink
	tracer    trace.Tracer
	now       func() time.Time
}

// NewService creates a new DNC orchestration service
func NewService(
	logger *zap.Logger,
	config *Config,
	store dnc.CacheStore,
	blacklist providers.Checker,
	national providers.Checker,
	sink dnc.EventSink,
) (Service, error) {
	if logger == nil {
		return nil, errors.NewValidationError("INVALID_LOGGER", "logger cannot be nil")
	}
	if config == nil {
		return nil, errors.NewValidationError("INVALID_CONFIG", "config cannot be nil")
	}
	if store == nil {
		return nil, errors.NewValidationError("INVALID_CACHE_STORE", "cache store cannot be nil")
	}
	if blacklist == nil {
		return nil, errors.NewValidationError("INVALID_BLACKLIST_CHECKER", "blacklist checker cannot be nil")
	}
	if national == nil {
		return nil, errors.NewValidationError("INVALID_NATIONAL_CHECKER", "national checker cannot be nil")
	}
	if sink == nil {
		sink = dnc.EventSinkFunc(func(context.Context, dnc.CheckEvent) {})
	}

	return &service{
		logger:    logger,
		config:    config.withDefaults(),
		store:     store,
		blacklist: blacklist,
		national:  national,
		sink:      sink,
		tracer:    otel.Tracer("crm-dnc-relay/service/dnc"),
		now:       time.Now,
	}, nil
}

// Check implements Service.
func (s *service) Check(ctx context.Context, phone string) (*dnc.Verdict, error) {
	if phone == "" {
		return nil, ErrNoPhone
	}

	start := s.now()
	redacted := values.RedactPhone(phone)
	ctx, span := s.tracer.Start(ctx, "dnc.Check", trace.WithAttributes(attribute.String("dnc.phone", redacted)))
	defer span.End()

	entry := s.readCache(ctx, phone)

	blacklistFresh := dnc.IsFresh(entry.CheckedAt(dnc.ListCompanyBlacklist), s.config.BlacklistTTL, start)
	nationalFresh := dnc.IsFresh(entry.CheckedAt(dnc.ListNationalRegistry), s.config.NationalTTL, start)

	verdict := &dnc.Verdict{
		BlacklistFromCache: blacklistFresh,
		NationalFromCache:  nationalFresh,
	}
	if entry != nil {
		verdict.IsBlacklisted = entry.IsCompanyBlacklisted
		verdict.IsNationalDNC = entry.IsNationalDNC
		verdict.NationalReason = entry.NationalDNCReason
		verdict.NationalExpiry = entry.NationalDNCExpiry
	}

	// Each branch owns a disjoint set of verdict fields.
	var (
		wg           sync.WaitGroup
		blacklistErr error
		nationalErr  error
	)
	if !blacklistFresh {
		wg.Add(1)
		go func() {
			defer wg.Done()
			blacklistErr = s.refreshBlacklist(ctx, phone, verdict)
		}()
	}
	if !nationalFresh {
		wg.Add(1)
		go func() {
			defer wg.Done()
			nationalErr = s.refreshNational(ctx, phone, verdict)
		}()
	}
	wg.Wait()

	elapsed := s.now().Sub(start)
	event := dnc.CheckEvent{
		Phone:              redacted,
		CacheStatus:        dnc.ClassifyCacheStatus(blacklistFresh, nationalFresh),
		BlacklistFromCache: blacklistFresh,
		NationalFromCache:  nationalFresh,
		IsBlacklisted:      verdict.IsBlacklisted,
		IsNationalDNC:      verdict.IsNationalDNC,
		BlacklistError:     errString(blacklistErr),
		NationalError:      errString(nationalErr),
		Duration:           elapsed,
		DurationMs:         elapsed.Milliseconds(),
		OccurredAt:         start,
	}
	span.SetAttributes(
		attribute.String("dnc.cache_status", string(event.CacheStatus)),
		attribute.Bool("dnc.blacklisted", verdict.IsBlacklisted),
		attribute.Bool("dnc.national", verdict.IsNationalDNC),
	)
	s.sink.Record(ctx, event)

	return verdict, nil
}

// readCache treats any read failure as a miss on both lists.
func (s *service) readCache(ctx context.Context, phone string) *dnc.CacheEntry {
	ctx, cancel := context.WithTimeout(ctx, s.config.CacheTimeout)
	defer cancel()

	entry, err := s.store.Get(ctx, phone)
	if err != nil {
		s.logger.Warn("dnc cache read failed, treating as miss",
			zap.String("phone", values.RedactPhone(phone)),
			zap.Error(err),
		)
		return nil
	}
	return entry
}

func (s *service) refreshBlacklist(ctx context.Context, phone string, verdict *dnc.Verdict) error {
	result := s.blacklist.Check(ctx, phone)
	verdict.IsBlacklisted = result.IsOnList
	if result.Degraded() {
		return result.Err
	}

	wctx, cancel := context.WithTimeout(ctx, s.config.CacheTimeout)
	defer cancel()
	if err := s.store.UpsertBlacklist(wctx, phone, result.IsOnList); err != nil {
		s.logger.Error("dnc cache blacklist write failed",
			zap.String("phone", values.RedactPhone(phone)),
			zap.Error(err),
		)
	}
	return nil
}

func (s *service) refreshNational(ctx context.Context, phone string, verdict *dnc.Verdict) error {
	result := s.national.Check(ctx, phone)
	verdict.IsNationalDNC = result.IsOnList
	verdict.NationalReason = nil
	verdict.NationalExpiry = result.Expiry
	if result.Reason != "" {
		reason := result.Reason
		verdict.NationalReason = &reason
	}
	if result.Degraded() {
		return result.Err
	}

	wctx, cancel := context.WithTimeout(ctx, s.config.CacheTimeout)
	defer cancel()
	if err := s.store.UpsertNational(wctx, phone, result.IsOnList, verdict.NationalReason, result.Expiry); err != nil {
		s.logger.Error("dnc cache national write failed",
			zap.String("phone", values.RedactPhone(phone)),
			zap.Error(err),
		)
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
