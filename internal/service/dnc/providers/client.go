package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds a single list lookup.
const DefaultTimeout = 8 * time.Second

// Config contains the settings shared by the HTTP list checkers.
type Config struct {
	BaseURL      string        `json:"base_url"`
	Path         string        `json:"path"`
	APIKey       string        `json:"api_key"`
	APIKeyHeader string        `json:"api_key_header"`
	Timeout      time.Duration `json:"timeout"`
	RateLimitRPS int           `json:"rate_limit_rps"`
	UserAgent    string        `json:"user_agent"`
}

func (c Config) withDefaults(path string) Config {
	if c.Path == "" {
		c.Path = path
	}
	if c.APIKeyHeader == "" {
		c.APIKeyHeader = "X-API-Key"
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimitRPS <= 0 {
		c.RateLimitRPS = 20
	}
	if c.UserAgent == "" {
		c.UserAgent = "crm-dnc-relay/1.0"
	}
	return c
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func newLimiter(rps int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(rps), rps*2) // 2x burst
}

// addAuthHeaders adds authentication headers to the request
func addAuthHeaders(req *http.Request, cfg Config) {
	if cfg.APIKey != "" {
		req.Header.Set(cfg.APIKeyHeader, cfg.APIKey)
	}
	req.Header.Set("User-Agent", cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
}

// handleHTTPError converts HTTP errors to provider errors
func handleHTTPError(provider string, resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &ProviderError{
			Code:     ErrCodeAuthenticationFailed,
			Message:  "authentication failed",
			Provider: provider,
			Retry:    false,
		}
	case http.StatusTooManyRequests:
		return &ProviderError{
			Code:     ErrCodeRateLimitExceeded,
			Message:  "rate limit exceeded",
			Provider: provider,
			Retry:    true,
		}
	case http.StatusBadRequest:
		return &ProviderError{
			Code:     ErrCodeInvalidRequest,
			Message:  "bad request",
			Provider: provider,
			Retry:    false,
		}
	default:
		return &ProviderError{
			Code:     ErrCodeProviderUnavailable,
			Message:  fmt.Sprintf("HTTP %d", resp.StatusCode),
			Provider: provider,
			Retry:    resp.StatusCode >= 500,
		}
	}
}

// transportError classifies a failed round trip.
func transportError(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ProviderError{
			Code:     ErrCodeTimeout,
			Message:  "request timed out",
			Provider: provider,
			Retry:    true,
		}
	}
	return &ProviderError{
		Code:     ErrCodeConnectionFailed,
		Message:  fmt.Sprintf("request failed: %v", err),
		Provider: provider,
		Retry:    true,
	}
}

var validate = validator.New()

// decodeResponse decodes a lookup body into out and enforces its
// validate tags.
func decodeResponse(provider string, body io.Reader, out interface{}) error {
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return &ProviderError{
			Code:     ErrCodeInvalidResponse,
			Message:  fmt.Sprintf("failed to parse response: %v", err),
			Provider: provider,
		}
	}
	if err := validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return &ProviderError{Code: ErrCodeInvalidResponse, Message: err.Error(), Provider: provider}
		}
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Namespace())
		}
		return &ProviderError{
			Code:     ErrCodeInvalidResponse,
			Message:  "response missing " + strings.Join(fields, ", "),
			Provider: provider,
		}
	}
	return nil
}

func asProviderError(err error, target **ProviderError) bool {
	return errors.As(err, target)
}

// parseDate accepts RFC 3339 timestamps and plain dates.
func parseDate(value string) (*time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t, true
		}
	}
	return nil, false
}
