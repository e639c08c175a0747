package rest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/crm-dnc-relay/internal/domain/errors"
	"github.com/davidleathers/crm-dnc-relay/internal/service/webhook"
)

// SignatureHeader carries the "sha256=<hex>" HMAC of the raw webhook body.
const SignatureHeader = "X-Webhook-Signature"

const defaultWebhookTimeout = 30 * time.Second

// EventProcessor runs one parsed webhook event.
type EventProcessor interface {
	Process(ctx context.Context, evt webhook.Event) webhook.Outcome
}

// DeliveryDeduplicator remembers delivery ids.
type DeliveryDeduplicator interface {
	FirstSeen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// WebhookResponse is the JSON body returned for every accepted delivery.
type WebhookResponse struct {
	DeliveryID string `json:"delivery_id"`
	webhook.Outcome
}

// WebhookHandler accepts CRM event deliveries.
type WebhookHandler struct {
	processor  EventProcessor
	dedup      DeliveryDeduplicator
	signingKey []byte
	timeout    time.Duration
	logger     *zap.Logger
}

// NewWebhookHandler creates the webhook endpoint. dedup may be nil, in which
// case redeliveries are processed again. An empty signingKey disables
// signature verification.
func NewWebhookHandler(processor EventProcessor, dedup DeliveryDeduplicator, signingKey string, timeout time.Duration, logger *zap.Logger) (*WebhookHandler, error) {
	if processor == nil {
		return nil, errors.NewValidationError("INVALID_PROCESSOR", "event processor cannot be nil")
	}
	if logger == nil {
		return nil, errors.NewValidationError("INVALID_LOGGER", "logger cannot be nil")
	}
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookHandler{
		processor:  processor,
		dedup:      dedup,
		signingKey: []byte(signingKey),
		timeout:    timeout,
		logger:     logger,
	}, nil
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			writeErrorCode(w, r, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "webhook body exceeds the size limit")
			return
		}
		writeErrorCode(w, r, http.StatusBadRequest, "UNREADABLE_BODY", "could not read webhook body")
		return
	}

	if len(h.signingKey) > 0 && !h.validSignature(body, r.Header.Get(SignatureHeader)) {
		writeErrorCode(w, r, http.StatusUnauthorized, "INVALID_SIGNATURE", "webhook signature does not match")
		return
	}

	evt, err := webhook.ParseEvent(body)
	if err != nil {
		if errors.HasCode(err, webhook.CodeUnsupportedEvent) {
			h.logger.Debug("ignoring unsupported webhook event", zap.Error(err))
			writeJSON(w, http.StatusOK, WebhookResponse{Outcome: webhook.Outcome{Status: webhook.StatusIgnored, Reason: "unsupported event type"}})
			return
		}
		writeError(w, r, err)
		return
	}

	deliveryID := evt.DeliveryID()
	logger := h.logger.With(
		zap.String("event_type", string(evt.Type())),
		zap.String("location_id", evt.Location()),
		zap.String("request_id", RequestIDFromContext(r.Context())),
	)

	// Processing outlives a client that hangs up, bounded by the timeout.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.timeout)
	defer cancel()

	if deliveryID != "" && h.dedup != nil {
		first, err := h.dedup.FirstSeen(ctx, deliveryID)
		if err != nil {
			logger.Warn("webhook dedup unavailable, processing anyway", zap.Error(err))
		} else if !first {
			logger.Info("duplicate webhook delivery", zap.String("delivery_id", deliveryID))
			writeJSON(w, http.StatusOK, WebhookResponse{DeliveryID: deliveryID, Outcome: webhook.Outcome{Status: webhook.StatusDuplicate}})
			return
		}
	}
	if deliveryID == "" {
		deliveryID = uuid.NewString()
	}

	outcome := h.processor.Process(ctx, evt)

	if outcome.Status == webhook.StatusFlagFailed && h.dedup != nil {
		// Let a redelivery try the write again.
		if err := h.dedup.Forget(ctx, deliveryID); err != nil {
			logger.Warn("failed to release webhook delivery id", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, WebhookResponse{DeliveryID: deliveryID, Outcome: outcome})
}

func (h *WebhookHandler) validSignature(body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	presented, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.signingKey)
	mac.Write(body)
	return hmac.Equal(presented, mac.Sum(nil))
}

// SignWebhookBody returns the signature header value for body.
func SignWebhookBody(body []byte, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
