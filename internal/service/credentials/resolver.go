// Package credentials stores tenant OAuth tokens and hands out valid access
// tokens, refreshing them shortly before they expire. Token values are never
// logged.
package credentials

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/davidleathers/crm-dnc-relay/internal/domain/errors"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// ErrNoCredential means no token is stored for the tenant.
var ErrNoCredential = stderrors.New("credentials: no stored credential")

// DefaultRefreshWindow is how close to expiry a token is refreshed.
const DefaultRefreshWindow = 5 * time.Minute

// TokenStore is the persistence the resolver needs.
type TokenStore interface {
	Get(ctx context.Context, userID, locationID string) (*Token, error)
	FindByLocation(ctx context.Context, locationID string) (*Token, error)
	Save(ctx context.Context, token *Token) error
	DeleteByLocation(ctx context.Context, locationID string) (int64, error)
}

// Resolver turns a tenant identity into a usable bearer token.
type Resolver struct {
	store         TokenStore
	oauth         *oauth2.Config
	logger        *zap.Logger
	refreshWindow time.Duration
	now           func() time.Time
}

// NewResolver creates a credential resolver.
func NewResolver(store TokenStore, oauthConfig *oauth2.Config, logger *zap.Logger) (*Resolver, error) {
	if store == nil {
		return nil, errors.NewValidationError("INVALID_TOKEN_STORE", "token store cannot be nil")
	}
	if oauthConfig == nil {
		return nil, errors.NewValidationError("INVALID_OAUTH_CONFIG", "oauth config cannot be nil")
	}
	if logger == nil {
		return nil, errors.NewValidationError("INVALID_LOGGER", "logger cannot be nil")
	}
	return &Resolver{
		store:         store,
		oauth:         oauthConfig,
		logger:        logger,
		refreshWindow: DefaultRefreshWindow,
		now:           time.Now,
	}, nil
}

// AuthCodeURL returns the CRM consent URL carrying state.
func (r *Resolver) AuthCodeURL(state string) string {
	return r.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// GetValidToken returns an access token for the tenant. An empty userID
// resolves by location alone. ErrNoCredential is returned when nothing is
// stored; a failed refresh is returned as an unauthorized AppError.
func (r *Resolver) GetValidToken(ctx context.Context, userID, locationID string) (string, error) {
	if locationID == "" {
		return "", ErrNoCredential
	}

	var (
		token *Token
		err   error
	)
	if userID == "" {
		token, err = r.store.FindByLocation(ctx, locationID)
	} else {
		token, err = r.store.Get(ctx, userID, locationID)
	}
	if err != nil {
		return "", err
	}
	if token.AccessToken == "" {
		return "", ErrNoCredential
	}

	if token.ExpiresAt.IsZero() || token.ExpiresAt.Sub(r.now()) > r.refreshWindow {
		return token.AccessToken, nil
	}

	refreshed, err := r.refresh(ctx, token)
	if err != nil {
		r.logger.Warn("oauth token refresh failed",
			zap.String("location_id", locationID),
			zap.Error(err),
		)
		return "", errors.NewUnauthorizedError("credential refresh failed").WithCause(err)
	}
	return refreshed.AccessToken, nil
}

func (r *Resolver) refresh(ctx context.Context, token *Token) (*Token, error) {
	if token.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token for location %s", token.LocationID)
	}

	// An expiry in the past forces the token source to refresh.
	src := r.oauth.TokenSource(ctx, &oauth2.Token{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       r.now().Add(-time.Minute),
	})
	fresh, err := src.Token()
	if err != nil {
		return nil, err
	}

	updated := *token
	updated.AccessToken = fresh.AccessToken
	if fresh.RefreshToken != "" {
		updated.RefreshToken = fresh.RefreshToken
	}
	updated.ExpiresAt = fresh.Expiry

	if err := r.store.Save(ctx, &updated); err != nil {
		// The fresh token is still usable for this call.
		r.logger.Error("failed to persist refreshed oauth token",
			zap.String("location_id", token.LocationID),
			zap.Error(err),
		)
	}
	r.logger.Info("oauth token refreshed", zap.String("location_id", token.LocationID))
	return &updated, nil
}

// Exchange trades an install authorization code for a token and stores it.
// Tenant identifiers come from the token response.
func (r *Resolver) Exchange(ctx context.Context, code string) (*Token, error) {
	if code == "" {
		return nil, errors.NewValidationError("INVALID_CODE", "authorization code is required")
	}

	tok, err := r.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, errors.NewExternalError("crm_oauth", "code exchange failed").WithCause(err)
	}

	token := &Token{
		UserID:       extraString(tok, "userId"),
		LocationID:   extraString(tok, "locationId"),
		CompanyID:    extraString(tok, "companyId"),
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Scope:        extraString(tok, "scope"),
		ExpiresAt:    tok.Expiry,
	}
	if token.LocationID == "" {
		return nil, errors.NewExternalError("crm_oauth", "token response missing locationId")
	}

	if err := r.store.Save(ctx, token); err != nil {
		return nil, errors.NewInternalError("failed to store credential").WithCause(err)
	}
	r.logger.Info("tenant installed",
		zap.String("location_id", token.LocationID),
		zap.String("company_id", token.CompanyID),
	)
	return token, nil
}

// Revoke forgets every credential for locationID.
func (r *Resolver) Revoke(ctx context.Context, locationID string) (int64, error) {
	n, err := r.store.DeleteByLocation(ctx, locationID)
	if err != nil {
		return 0, err
	}
	r.logger.Info("tenant credentials removed", zap.String("location_id", locationID), zap.Int64("count", n))
	return n, nil
}

func extraString(tok *oauth2.Token, key string) string {
	if v, ok := tok.Extra(key).(string); ok {
		return v
	}
	return ""
}
