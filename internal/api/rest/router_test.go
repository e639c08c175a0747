package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/crm-dnc-relay/internal/domain/dnc"
	"github.com/davidleathers/crm-dnc-relay/internal/metrics"
	"github.com/davidleathers/crm-dnc-relay/internal/service/webhook"
)

func newTestRouter(t *testing.T, checker DNCChecker, processor EventProcessor, checks ...HealthCheck) http.Handler {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg := prometheus.NewRegistry()

	dncHandler, err := NewDNCHandler(checker, logger)
	require.NoError(t, err)
	webhookHandler, err := NewWebhookHandler(processor, nil, "", 0, logger)
	require.NoError(t, err)

	return NewRouter(RouterConfig{
		Logger:       logger,
		Webhook:      webhookHandler,
		DNC:          dncHandler,
		Health:       NewHealthHandler(0, checks...),
		HTTPMetrics:  metrics.NewHTTPMetrics(reg),
		Metrics:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		AdminAPIKey:  "admin-key",
		MaxBodyBytes: 256,
	})
}

func TestRouter_Health(t *testing.T) {
	router := newTestRouter(t, &MockDNCChecker{}, &MockProcessor{},
		HealthCheck{Name: "database", Check: func(context.Context) error { return nil }},
	)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_ReadinessFailure(t *testing.T) {
	router := newTestRouter(t, &MockDNCChecker{}, &MockProcessor{},
		HealthCheck{Name: "database", Check: func(context.Context) error { return nil }},
		HealthCheck{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }},
	)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, HealthStatusFail, resp.Status)
	assert.Equal(t, HealthStatusPass, resp.Checks["database"].Status)
	assert.Equal(t, "connection refused", resp.Checks["redis"].Error)
}

func TestRouter_AdminKey(t *testing.T) {
	checker := &MockDNCChecker{}
	checker.On("Check", mock.Anything, "+15551234567").Return(&dnc.Verdict{}, nil)
	router := newTestRouter(t, checker, &MockProcessor{})

	send := func(header, value string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/dnc/check", strings.NewReader(`{"phone":"+15551234567"}`))
		if header != "" {
			req.Header.Set(header, value)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, send("", ""))
	assert.Equal(t, http.StatusUnauthorized, send("X-API-Key", "wrong"))
	assert.Equal(t, http.StatusOK, send("X-API-Key", "admin-key"))
	assert.Equal(t, http.StatusOK, send("Authorization", "Bearer admin-key"))
	checker.AssertNumberOfCalls(t, "Check", 2)
}

func TestRouter_WebhookBodyLimit(t *testing.T) {
	processor := &MockProcessor{}
	router := newTestRouter(t, &MockDNCChecker{}, processor)

	body := `{"type":"ContactCreate","locationId":"loc-1","id":"c-1","tags":["` + strings.Repeat("x", 512) + `"]}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/crm", strings.NewReader(body)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	processor.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
}

func TestRouter_MetricsAndMethods(t *testing.T) {
	processor := &MockProcessor{}
	processor.On("Process", mock.Anything, mock.Anything).Return(webhook.Outcome{Status: webhook.StatusCheckedClean})
	router := newTestRouter(t, &MockDNCChecker{}, processor)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/crm", strings.NewReader(contactCreateBody)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhooks/crm", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `dnc_relay_http_requests_total{method="POST",route="POST /webhooks/crm",status="200"} 1`)
}
