package rest

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/davidleathers/crm-dnc-relay/internal/domain/dnc"
	"github.com/davidleathers/crm-dnc-relay/internal/domain/errors"
	"github.com/davidleathers/crm-dnc-relay/internal/domain/values"
)

// DNCChecker produces a verdict for a canonical phone.
type DNCChecker interface {
	Check(ctx context.Context, phone string) (*dnc.Verdict, error)
}

// CheckRequest is the body of POST /api/v1/dnc/check.
type CheckRequest struct {
	Phone string `json:"phone" validate:"required"`
}

// CheckResponse carries the verdict and the tags a flag would apply.
type CheckResponse struct {
	Phone   string       `json:"phone"`
	Flagged bool         `json:"flagged"`
	Tags    []string     `json:"tags"`
	Verdict *dnc.Verdict `json:"verdict"`
}

// DNCHandler exposes diagnostic checks to operators.
type DNCHandler struct {
	checker   DNCChecker
	validator *validator.Validate
	logger    *zap.Logger
}

// NewDNCHandler creates the check endpoint.
func NewDNCHandler(checker DNCChecker, logger *zap.Logger) (*DNCHandler, error) {
	if checker == nil {
		return nil, errors.NewValidationError("INVALID_CHECKER", "dnc checker cannot be nil")
	}
	if logger == nil {
		return nil, errors.NewValidationError("INVALID_LOGGER", "logger cannot be nil")
	}
	return &DNCHandler{checker: checker, validator: validator.New(), logger: logger}, nil
}

// Check runs the orchestrated check for one phone. The response never
// includes the full number.
func (h *DNCHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, "INVALID_JSON", "request body must be a JSON object")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, "INVALID_PHONE", "phone is required")
		return
	}

	phone, err := values.NewLenientPhoneNumber(req.Phone)
	if err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, "INVALID_PHONE", err.Error())
		return
	}

	verdict, err := h.checker.Check(r.Context(), phone.String())
	if err != nil {
		writeError(w, r, err)
		return
	}

	tags := dnc.TagsForVerdict(verdict)
	if tags == nil {
		tags = []string{}
	}
	writeJSON(w, http.StatusOK, CheckResponse{
		Phone:   phone.Redacted(),
		Flagged: verdict.Flagged(),
		Tags:    tags,
		Verdict: verdict,
	})
}
