package dnc

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/davidleathers/crm-dnc-relay/internal/domain/dnc"
	"github.com/davidleathers/crm-dnc-relay/internal/domain/errors"
	"github.com/davidleathers/crm-dnc-relay/internal/service/dnc/providers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// Mock implementations

type MockCacheStore struct {
	mock.Mock
}

func (m *MockCacheStore) Get(ctx context.Context, phone string) (*dnc.CacheEntry, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dnc.CacheEntry), args.Error(1)
}

func (m *MockCacheStore) UpsertBlacklist(ctx context.Context, phone string, isOnList bool) error {
	args := m.Called(ctx, phone, isOnList)
	return args.Error(0)
}

func (m *MockCacheStore) UpsertNational(ctx context.Context, phone string, isOnList bool, reason *string, expiry *time.Time) error {
	args := m.Called(ctx, phone, isOnList, reason, expiry)
	return args.Error(0)
}

func (m *MockCacheStore) DeleteStale(ctx context.Context, retention time.Duration) (int64, error) {
	args := m.Called(ctx, retention)
	return args.Get(0).(int64), args.Error(1)
}

type MockChecker struct {
	mock.Mock
	name string
}

func (m *MockChecker) Name() string {
	return m.name
}

func (m *MockChecker) Check(ctx context.Context, phone string) providers.CheckResult {
	args := m.Called(ctx, phone)
	return args.Get(0).(providers.CheckResult)
}

type recordingSink struct {
	mu     sync.Mutex
	events []dnc.CheckEvent
}

func (r *recordingSink) Record(_ context.Context, event dnc.CheckEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

const testPhone = "+15551234567"

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func createTestService(t *testing.T) (*service, *MockCacheStore, *MockChecker, *MockChecker, *recordingSink) {
	store := &MockCacheStore{}
	blacklist := &MockChecker{name: "company_blacklist"}
	national := &MockChecker{name: "national_registry"}
	sink := &recordingSink{}

	svc, err := NewService(zaptest.NewLogger(t), &Config{BlacklistTTL: 12 * time.Hour, NationalTTL: 12 * time.Hour}, store, blacklist, national, sink)
	require.NoError(t, err)

	s := svc.(*service)
	s.now = func() time.Time { return testNow }
	return s, store, blacklist, national, sink
}

func hoursAgo(h int) *time.Time {
	ts := testNow.Add(-time.Duration(h) * time.Hour)
	return &ts
}

func TestNewService(t *testing.T) {
	logger := zaptest.NewLogger(t)
	store := &MockCacheStore{}
	checker := &MockChecker{}

	tests := []struct {
		name      string
		logger    *zap.Logger
		config    *Config
		store     dnc.CacheStore
		blacklist providers.Checker
		national  providers.Checker
		errorCode string
	}{
		{name: "valid service creation", logger: logger, config: &Config{}, store: store, blacklist: checker, national: checker},
		{name: "nil logger", config: &Config{}, store: store, blacklist: checker, national: checker, errorCode: "INVALID_LOGGER"},
		{name: "nil config", logger: logger, store: store, blacklist: checker, national: checker, errorCode: "INVALID_CONFIG"},
		{name: "nil store", logger: logger, config: &Config{}, blacklist: checker, national: checker, errorCode: "INVALID_CACHE_STORE"},
		{name: "nil blacklist checker", logger: logger, config: &Config{}, store: store, national: checker, errorCode: "INVALID_BLACKLIST_CHECKER"},
		{name: "nil national checker", logger: logger, config: &Config{}, store: store, blacklist: checker, errorCode: "INVALID_NATIONAL_CHECKER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewService(tt.logger, tt.config, tt.store, tt.blacklist, tt.national, nil)
			if tt.errorCode != "" {
				assert.Nil(t, svc)
				assert.True(t, errors.HasCode(err, tt.errorCode))
				return
			}
			require.NoError(t, err)
			s := svc.(*service)
			assert.Equal(t, dnc.DefaultTTL, s.config.BlacklistTTL)
			assert.Equal(t, dnc.DefaultTTL, s.config.NationalTTL)
		})
	}
}

func TestService_Check_EmptyPhone(t *testing.T) {
	svc, store, _, _, sink := createTestService(t)

	verdict, err := svc.Check(context.Background(), "")

	assert.Nil(t, verdict)
	assert.True(t, errors.HasCode(err, "INVALID_PHONE"))
	assert.True(t, stderrors.Is(err, ErrNoPhone))
	store.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	assert.Empty(t, sink.events)
}

func TestService_Check_NewPhoneBothListsLive(t *testing.T) {
	svc, store, blacklist, national, sink := createTestService(t)
	ctx := context.Background()

	store.On("Get", mock.Anything, testPhone).Return(nil, nil)
	blacklist.On("Check", mock.Anything, testPhone).Return(providers.CheckResult{IsOnList: true})
	national.On("Check", mock.Anything, testPhone).Return(providers.CheckResult{IsOnList: false})
	store.On("UpsertBlacklist", mock.Anything, testPhone, true).Return(nil)
	store.On("UpsertNational", mock.Anything, testPhone, false, (*string)(nil), (*time.Time)(nil)).Return(nil)

	verdict, err := svc.Check(ctx, testPhone)
	require.NoError(t, err)

	assert.Equal(t, &dnc.Verdict{IsBlacklisted: true}, verdict)
	store.AssertExpectations(t)
	blacklist.AssertNumberOfCalls(t, "Check", 1)
	national.AssertNumberOfCalls(t, "Check", 1)

	require.Len(t, sink.events, 1)
	event := sink.events[0]
	assert.Equal(t, dnc.CacheMiss, event.CacheStatus)
	assert.Equal(t, "*******4567", event.Phone)
	assert.True(t, event.IsBlacklisted)
	assert.False(t, event.IsNationalDNC)
	assert.Empty(t, event.BlacklistError)
	assert.Empty(t, event.NationalError)
}

func TestService_Check_IndependentListFreshness(t *testing.T) {
	svc, store, blacklist, national, sink := createTestService(t)
	reason := "registered"

	store.On("Get", mock.Anything, testPhone).Return(&dnc.CacheEntry{
		Phone:                testPhone,
		IsCompanyBlacklisted: true,
		BlacklistCheckedAt:   hoursAgo(1),
		IsNationalDNC:        false,
		NationalCheckedAt:    hoursAgo(20),
	}, nil)
	national.On("Check", mock.Anything, testPhone).Return(providers.CheckResult{IsOnList: true, Reason: reason})
	store.On("UpsertNational", mock.Anything, testPhone, true, &reason, (*time.Time)(nil)).Return(nil)

	verdict, err := svc.Check(context.Background(), testPhone)
	require.NoError(t, err)

	assert.True(t, verdict.BlacklistFromCache)
	assert.False(t, verdict.NationalFromCache)
	assert.True(t, verdict.IsBlacklisted)
	assert.True(t, verdict.IsNationalDNC)
	require.NotNil(t, verdict.NationalReason)
	assert.Equal(t, reason, *verdict.NationalReason)

	blacklist.AssertNotCalled(t, "Check", mock.Anything, mock.Anything)
	national.AssertNumberOfCalls(t, "Check", 1)
	store.AssertNotCalled(t, "UpsertBlacklist", mock.Anything, mock.Anything, mock.Anything)
	require.Len(t, sink.events, 1)
	assert.Equal(t, dnc.CachePartial, sink.events[0].CacheStatus)
}

func TestService_Check_FullCacheHit(t *testing.T) {
	svc, store, blacklist, national, sink := createTestService(t)
	reason := "registered"
	expiry := testNow.AddDate(1, 0, 0)

	store.On("Get", mock.Anything, testPhone).Return(&dnc.CacheEntry{
		Phone:                testPhone,
		IsCompanyBlacklisted: false,
		BlacklistCheckedAt:   hoursAgo(2),
		IsNationalDNC:        true,
		NationalDNCReason:    &reason,
		NationalDNCExpiry:    &expiry,
		NationalCheckedAt:    hoursAgo(11),
	}, nil)

	verdict, err := svc.Check(context.Background(), testPhone)
	require.NoError(t, err)

	assert.Equal(t, &dnc.Verdict{
		IsNationalDNC:      true,
		NationalReason:     &reason,
		NationalExpiry:     &expiry,
		BlacklistFromCache: true,
		NationalFromCache:  true,
	}, verdict)
	blacklist.AssertNotCalled(t, "Check", mock.Anything, mock.Anything)
	national.AssertNotCalled(t, "Check", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "UpsertBlacklist", mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "UpsertNational", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	require.Len(t, sink.events, 1)
	assert.Equal(t, dnc.CacheHit, sink.events[0].CacheStatus)
	assert.Equal(t, int64(0), sink.events[0].DurationMs)
}

func TestService_Check_FailOpen(t *testing.T) {
	svc, store, blacklist, national, sink := createTestService(t)
	networkErr := &providers.ProviderError{Code: providers.ErrCodeConnectionFailed, Message: "request failed: connection refused", Provider: "national_registry"}

	// A stale cached national hit must not survive a failed refresh.
	store.On("Get", mock.Anything, testPhone).Return(&dnc.CacheEntry{
		Phone:              testPhone,
		BlacklistCheckedAt: hoursAgo(1),
		IsNationalDNC:      true,
		NationalCheckedAt:  hoursAgo(30),
	}, nil)
	national.On("Check", mock.Anything, testPhone).Return(providers.CheckResult{Err: networkErr})

	verdict, err := svc.Check(context.Background(), testPhone)
	require.NoError(t, err)

	assert.False(t, verdict.IsNationalDNC)
	assert.False(t, verdict.NationalFromCache)
	store.AssertNotCalled(t, "UpsertNational", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	blacklist.AssertNotCalled(t, "Check", mock.Anything, mock.Anything)

	require.Len(t, sink.events, 1)
	assert.Equal(t, networkErr.Error(), sink.events[0].NationalError)
	assert.Empty(t, sink.events[0].BlacklistError)
}

func TestService_Check_OneListFailureDoesNotAffectOther(t *testing.T) {
	svc, store, blacklist, national, sink := createTestService(t)

	store.On("Get", mock.Anything, testPhone).Return(nil, nil)
	blacklist.On("Check", mock.Anything, testPhone).Return(providers.CheckResult{Err: stderrors.New("boom")})
	national.On("Check", mock.Anything, testPhone).Return(providers.CheckResult{IsOnList: true})
	store.On("UpsertNational", mock.Anything, testPhone, true, (*string)(nil), (*time.Time)(nil)).Return(nil)

	verdict, err := svc.Check(context.Background(), testPhone)
	require.NoError(t, err)

	assert.False(t, verdict.IsBlacklisted)
	assert.True(t, verdict.IsNationalDNC)
	store.AssertNotCalled(t, "UpsertBlacklist", mock.Anything, mock.Anything, mock.Anything)
	store.AssertExpectations(t)
	assert.Equal(t, "boom", sink.events[0].BlacklistError)
}

func TestService_Check_CacheReadFailureIsMiss(t *testing.T) {
	svc, store, blacklist, national, sink := createTestService(t)

	store.On("Get", mock.Anything, testPhone).Return(nil, stderrors.New("connection reset"))
	blacklist.On("Check", mock.Anything, testPhone).Return(providers.CheckResult{})
	national.On("Check", mock.Anything, testPhone).Return(providers.CheckResult{})
	store.On("UpsertBlacklist", mock.Anything, testPhone, false).Return(nil)
	store.On("UpsertNational", mock.Anything, testPhone, false, (*string)(nil), (*time.Time)(nil)).Return(nil)

	verdict, err := svc.Check(context.Background(), testPhone)
	require.NoError(t, err)

	assert.False(t, verdict.Flagged())
	assert.False(t, verdict.BlacklistFromCache)
	assert.False(t, verdict.NationalFromCache)
	blacklist.AssertNumberOfCalls(t, "Check", 1)
	national.AssertNumberOfCalls(t, "Check", 1)
	assert.Equal(t, dnc.CacheMiss, sink.events[0].CacheStatus)
}

func TestService_Check_CacheWriteFailureKeepsVerdict(t *testing.T) {
	svc, store, blacklist, national, _ := createTestService(t)

	store.On("Get", mock.Anything, testPhone).Return(nil, nil)
	blacklist.On("Check", mock.Anything, testPhone).Return(providers.CheckResult{IsOnList: true})
	national.On("Check", mock.Anything, testPhone).Return(providers.CheckResult{IsOnList: true})
	store.On("UpsertBlacklist", mock.Anything, testPhone, true).Return(stderrors.New("disk full"))
	store.On("UpsertNational", mock.Anything, testPhone, true, (*string)(nil), (*time.Time)(nil)).Return(stderrors.New("disk full"))

	verdict, err := svc.Check(context.Background(), testPhone)
	require.NoError(t, err)

	assert.True(t, verdict.IsBlacklisted)
	assert.True(t, verdict.IsNationalDNC)
	store.AssertExpectations(t)
}

func TestService_Check_ExactlyOneEventPerCheck(t *testing.T) {
	svc, store, blacklist, national, sink := createTestService(t)

	store.On("Get", mock.Anything, testPhone).Return(nil, nil)
	blacklist.On("Check", mock.Anything, testPhone).Return(providers.CheckResult{})
	national.On("Check", mock.Anything, testPhone).Return(providers.CheckResult{})
	store.On("UpsertBlacklist", mock.Anything, testPhone, false).Return(nil)
	store.On("UpsertNational", mock.Anything, testPhone, false, (*string)(nil), (*time.Time)(nil)).Return(nil)

	for i := 0; i < 3; i++ {
		_, err := svc.Check(context.Background(), testPhone)
		require.NoError(t, err)
	}
	assert.Len(t, sink.events, 3)
}
