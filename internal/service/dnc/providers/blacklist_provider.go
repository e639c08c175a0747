package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/davidleathers/crm-dnc-relay/internal/domain/values"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const blacklistProvider = "company_blacklist"

// BlacklistResponse is the company blacklist lookup body. The flag is a
// pointer so that a missing field is distinguishable from false.
type BlacklistResponse struct {
	IsCompanyBlacklisted *bool `json:"is_company_blacklisted" validate:"required"`
}

// BlacklistChecker looks a phone up on the company's own do-not-call list.
type BlacklistChecker struct {
	config      Config
	client      *http.Client
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

// NewBlacklistChecker creates a company blacklist checker.
func NewBlacklistChecker(config Config, logger *zap.Logger) *BlacklistChecker {
	config = config.withDefaults("/v1/blacklist/check")
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlacklistChecker{
		config:      config,
		client:      newHTTPClient(config.Timeout),
		rateLimiter: newLimiter(config.RateLimitRPS),
		logger:      logger.With(zap.String("provider", blacklistProvider)),
	}
}

// Name returns the provider name
func (b *BlacklistChecker) Name() string {
	return blacklistProvider
}

// Check queries the blacklist. Failures resolve to a fail-open result.
func (b *BlacklistChecker) Check(ctx context.Context, phone string) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	result, err := b.lookup(ctx, phone)
	if err != nil {
		b.logger.Warn("degraded blacklist check, failing open",
			zap.String("phone", values.RedactPhone(phone)),
			zap.String("code", ErrorCode(err)),
			zap.Error(err),
		)
		return failOpen(err)
	}
	return result
}

func (b *BlacklistChecker) lookup(ctx context.Context, phone string) (CheckResult, error) {
	if err := b.rateLimiter.Wait(ctx); err != nil {
		return CheckResult{}, &ProviderError{
			Code:     ErrCodeRateLimitExceeded,
			Message:  "rate limit exceeded",
			Provider: blacklistProvider,
			Retry:    true,
		}
	}

	params := url.Values{}
	params.Set("phone", phone)
	checkURL := strings.TrimRight(b.config.BaseURL, "/") + b.config.Path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checkURL, nil)
	if err != nil {
		return CheckResult{}, &ProviderError{
			Code:     ErrCodeInvalidRequest,
			Message:  fmt.Sprintf("failed to create request: %v", err),
			Provider: blacklistProvider,
		}
	}
	addAuthHeaders(req, b.config)

	resp, err := b.client.Do(req)
	if err != nil {
		return CheckResult{}, transportError(blacklistProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return CheckResult{}, handleHTTPError(blacklistProvider, resp)
	}

	var body BlacklistResponse
	if err := decodeResponse(blacklistProvider, resp.Body, &body); err != nil {
		return CheckResult{}, err
	}

	return CheckResult{IsOnList: *body.IsCompanyBlacklisted}, nil
}
