package crm

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/davidleathers/crm-dnc-relay/internal/domain/errors"
	"github.com/davidleathers/crm-dnc-relay/internal/infrastructure/httpretry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrContactNotFound is returned when the CRM has no contact with the id.
var ErrContactNotFound = stderrors.New("crm: contact not found")

// Config contains CRM API settings.
type Config struct {
	BaseURL      string        `json:"base_url"`
	APIVersion   string        `json:"api_version"`
	Timeout      time.Duration `json:"timeout"`
	MaxRetries   int           `json:"max_retries"`
	RateLimitRPS int           `json:"rate_limit_rps"`
}

// Client calls the CRM contacts API on behalf of one tenant token per call.
type Client struct {
	config      Config
	reader      httpretry.HTTPDoer
	writer      httpretry.HTTPDoer
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

// NewClient creates a CRM client. Reads are retried on transient errors;
// writes are not.
func NewClient(config Config, logger *zap.Logger) *Client {
	if config.APIVersion == "" {
		config.APIVersion = "2021-07-28"
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 2
	}
	if config.RateLimitRPS <= 0 {
		config.RateLimitRPS = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := &http.Client{Timeout: config.Timeout}
	return &Client{
		config:      config,
		reader:      httpretry.NewRetryClient(httpClient, config.MaxRetries, httpretry.WithLogger(logger)),
		writer:      httpClient,
		rateLimiter: rate.NewLimiter(rate.Limit(config.RateLimitRPS), config.RateLimitRPS),
		logger:      logger.With(zap.String("component", "crm_client")),
	}
}

// SetHTTPClient replaces both transports (useful for testing).
func (c *Client) SetHTTPClient(client httpretry.HTTPDoer) {
	c.reader = client
	c.writer = client
}

// GetContact fetches a contact.
func (c *Client) GetContact(ctx context.Context, token, contactID string) (*Contact, error) {
	req, err := c.newRequest(ctx, http.MethodGet, token, contactID, nil)
	if err != nil {
		return nil, err
	}

	body, err := c.do(c.reader, req)
	if err != nil {
		return nil, err
	}

	var envelope contactEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errors.NewExternalError("crm", "invalid contact response").WithCause(err)
	}
	if envelope.Contact == nil {
		return nil, errors.NewExternalError("crm", "contact response missing contact")
	}
	return envelope.Contact, nil
}

// UpdateContact writes a partial update to a contact.
func (c *Client) UpdateContact(ctx context.Context, token, contactID string, update ContactUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal contact update: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPut, token, contactID, payload)
	if err != nil {
		return err
	}

	_, err = c.do(c.writer, req)
	return err
}

func (c *Client) newRequest(ctx context.Context, method, token, contactID string, payload []byte) (*http.Request, error) {
	if token == "" {
		return nil, errors.NewUnauthorizedError("missing CRM access token")
	}
	if contactID == "" {
		return nil, errors.NewValidationError("INVALID_CONTACT_ID", "contact id is required")
	}

	endpoint := strings.TrimRight(c.config.BaseURL, "/") + "/contacts/" + url.PathEscape(contactID)

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Version", c.config.APIVersion)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(doer httpretry.HTTPDoer, req *http.Request) ([]byte, error) {
	if err := c.rateLimiter.Wait(req.Context()); err != nil {
		return nil, errors.NewExternalError("crm", "rate limit wait aborted").WithCause(err)
	}

	resp, err := doer.Do(req)
	if err != nil {
		return nil, errors.NewExternalError("crm", "request failed").WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.NewExternalError("crm", "failed to read response").WithCause(err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrContactNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errors.NewUnauthorizedError(fmt.Sprintf("crm rejected token: HTTP %d", resp.StatusCode))
	default:
		appErr := errors.NewExternalError("crm", fmt.Sprintf("HTTP %d", resp.StatusCode))
		appErr.Retryable = resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, appErr
	}
}
