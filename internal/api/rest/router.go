package rest

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/davidleathers/crm-dnc-relay/internal/metrics"
)

// RouterConfig collects the handlers and cross-cutting settings of the API.
// Nil handlers leave their routes unregistered.
type RouterConfig struct {
	Logger       *zap.Logger
	Webhook      *WebhookHandler
	OAuth        *OAuthHandler
	DNC          *DNCHandler
	Health       *HealthHandler
	HTTPMetrics  *metrics.HTTPMetrics
	Metrics      http.Handler
	AdminAPIKey  string
	MaxBodyBytes int64
}

// NewRouter wires every route onto a ServeMux behind the middleware chain.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()

	if cfg.Webhook != nil {
		mux.Handle("POST /webhooks/crm", cfg.Webhook)
	}
	if cfg.OAuth != nil {
		mux.HandleFunc("GET /oauth/install", cfg.OAuth.Install)
		mux.HandleFunc("GET /oauth/callback", cfg.OAuth.Callback)
	}
	if cfg.DNC != nil {
		mux.Handle("POST /api/v1/dnc/check", AdminKeyMiddleware(cfg.AdminAPIKey)(http.HandlerFunc(cfg.DNC.Check)))
	}

	health := cfg.Health
	if health == nil {
		health = NewHealthHandler(0)
	}
	mux.HandleFunc("GET /healthz", health.Live)
	mux.HandleFunc("GET /readyz", health.Ready)

	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	var handler http.Handler = mux
	if cfg.HTTPMetrics != nil {
		// Innermost so the matched pattern is visible after ServeHTTP.
		handler = cfg.HTTPMetrics.Middleware(handler)
	}

	return NewMiddlewareChain(
		RequestIDMiddleware(),
		RequestLoggingMiddleware(logger),
		RecoveryMiddleware(logger),
		TracingMiddleware(),
		BodyLimitMiddleware(cfg.MaxBodyBytes),
	).Then(handler)
}
