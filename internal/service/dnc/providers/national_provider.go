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

const nationalProvider = "national_registry"

// NationalResponse is the national registry lookup body.
type NationalResponse struct {
	ContactStatus *NationalContactStatus `json:"contact_status" validate:"required"`
}

// NationalContactStatus carries the registry verdict. CanContact is required.
type NationalContactStatus struct {
	CanContact *bool  `json:"can_contact" validate:"required"`
	Reason     string `json:"reason,omitempty"`
	ExpiryDate string `json:"expiry_date,omitempty"`
}

// NationalChecker looks a phone up on the national do-not-call registry.
type NationalChecker struct {
	config      Config
	client      *http.Client
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

// NewNationalChecker creates a national registry checker.
func NewNationalChecker(config Config, logger *zap.Logger) *NationalChecker {
	config = config.withDefaults("/v1/contact-status")
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NationalChecker{
		config:      config,
		client:      newHTTPClient(config.Timeout),
		rateLimiter: newLimiter(config.RateLimitRPS),
		logger:      logger.With(zap.String("provider", nationalProvider)),
	}
}

// Name returns the provider name
func (n *NationalChecker) Name() string {
	return nationalProvider
}

// Check queries the registry. Failures resolve to a fail-open result.
func (n *NationalChecker) Check(ctx context.Context, phone string) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, n.config.Timeout)
	defer cancel()

	result, err := n.lookup(ctx, phone)
	if err != nil {
		n.logger.Warn("degraded national registry check, failing open",
			zap.String("phone", values.RedactPhone(phone)),
			zap.String("code", ErrorCode(err)),
			zap.Error(err),
		)
		return failOpen(err)
	}
	return result
}

func (n *NationalChecker) lookup(ctx context.Context, phone string) (CheckResult, error) {
	if err := n.rateLimiter.Wait(ctx); err != nil {
		return CheckResult{}, &ProviderError{
			Code:     ErrCodeRateLimitExceeded,
			Message:  "rate limit exceeded",
			Provider: nationalProvider,
			Retry:    true,
		}
	}

	params := url.Values{}
	params.Set("phone", phone)
	checkURL := strings.TrimRight(n.config.BaseURL, "/") + n.config.Path + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checkURL, nil)
	if err != nil {
		return CheckResult{}, &ProviderError{
			Code:     ErrCodeInvalidRequest,
			Message:  fmt.Sprintf("failed to create request: %v", err),
			Provider: nationalProvider,
		}
	}
	addAuthHeaders(req, n.config)

	resp, err := n.client.Do(req)
	if err != nil {
		return CheckResult{}, transportError(nationalProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return CheckResult{}, handleHTTPError(nationalProvider, resp)
	}

	var body NationalResponse
	if err := decodeResponse(nationalProvider, resp.Body, &body); err != nil {
		return CheckResult{}, err
	}

	status := body.ContactStatus
	result := CheckResult{
		IsOnList: !*status.CanContact,
		Reason:   strings.TrimSpace(status.Reason),
	}
	if status.ExpiryDate != "" {
		if expiry, ok := parseDate(status.ExpiryDate); ok {
			result.Expiry = expiry
		} else {
			n.logger.Debug("ignoring unparseable expiry_date", zap.String("expiry_date", status.ExpiryDate))
		}
	}
	return result, nil
}
