package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/crm-dnc-relay/internal/domain/errors"
	"github.com/davidleathers/crm-dnc-relay/internal/service/credentials"
)

const (
	stateIssuer   = "crm-dnc-relay"
	stateAudience = "oauth-install"
)

// OAuthFlow is the credential side of the install flow.
type OAuthFlow interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*credentials.Token, error)
}

// StateSigner issues and verifies the OAuth state parameter as a short
// lived HS256 token.
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateSigner creates a signer; secret must not be empty.
func NewStateSigner(secret string, ttl time.Duration) (*StateSigner, error) {
	if secret == "" {
		return nil, errors.NewValidationError("INVALID_STATE_SECRET", "oauth state secret cannot be empty")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StateSigner{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue returns a fresh signed state.
func (s *StateSigner) Issue() (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    stateIssuer,
		Audience:  jwt.ClaimStrings{stateAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign oauth state: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer, audience and expiry of state.
func (s *StateSigner) Verify(state string) error {
	_, err := jwt.ParseWithClaims(state, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithAudience(stateAudience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return errors.NewValidationError("INVALID_STATE", "oauth state is invalid or expired").WithCause(err)
	}
	return nil
}

// OAuthHandler serves the marketplace install redirect and callback.
type OAuthHandler struct {
	flow   OAuthFlow
	signer *StateSigner
	logger *zap.Logger
}

// NewOAuthHandler creates the install endpoints.
func NewOAuthHandler(flow OAuthFlow, signer *StateSigner, logger *zap.Logger) (*OAuthHandler, error) {
	if flow == nil {
		return nil, errors.NewValidationError("INVALID_OAUTH_FLOW", "oauth flow cannot be nil")
	}
	if signer == nil {
		return nil, errors.NewValidationError("INVALID_STATE_SIGNER", "state signer cannot be nil")
	}
	if logger == nil {
		return nil, errors.NewValidationError("INVALID_LOGGER", "logger cannot be nil")
	}
	return &OAuthHandler{flow: flow, signer: signer, logger: logger}, nil
}

// Install redirects the browser to the CRM consent screen.
func (h *OAuthHandler) Install(w http.ResponseWriter, r *http.Request) {
	state, err := h.signer.Issue()
	if err != nil {
		h.logger.Error("failed to issue oauth state", zap.Error(err))
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, h.flow.AuthCodeURL(state), http.StatusFound)
}

// InstallResponse reports a completed install.
type InstallResponse struct {
	Status     string `json:"status"`
	LocationID string `json:"location_id"`
	CompanyID  string `json:"company_id,omitempty"`
}

// Callback exchanges the authorization code and stores the credential.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if denied := query.Get("error"); denied != "" {
		writeErrorCode(w, r, http.StatusBadRequest, "AUTHORIZATION_DENIED", "authorization was not granted: "+denied)
		return
	}
	if err := h.signer.Verify(query.Get("state")); err != nil {
		h.logger.Warn("rejected oauth callback", zap.Error(err))
		writeError(w, r, err)
		return
	}
	code := query.Get("code")
	if code == "" {
		writeErrorCode(w, r, http.StatusBadRequest, "MISSING_CODE", "authorization code is required")
		return
	}

	token, err := h.flow.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("oauth code exchange failed", zap.Error(err))
		writeError(w, r, err)
		return
	}

	h.logger.Info("app installed",
		zap.String("location_id", token.LocationID),
		zap.String("company_id", token.CompanyID))
	writeJSON(w, http.StatusOK, InstallResponse{
		Status:     "installed",
		LocationID: token.LocationID,
		CompanyID:  token.CompanyID,
	})
}
