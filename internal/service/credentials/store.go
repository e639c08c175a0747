package credentials

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"
)

// Token is one tenant's stored OAuth credential.
type Token struct {
	UserID       string
	LocationID   string
	CompanyID    string
	AccessToken  string
	RefreshToken string
	Scope        string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store persists tokens in the oauth_tokens table.
type Store struct {
	db *sql.DB
}

// NewStore creates a token store over db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const tokenColumns = `user_id, location_id, company_id, access_token, refresh_token, scope, expires_at, created_at, updated_at`

// Get returns the token for (userID, locationID) or ErrNoCredential.
func (s *Store) Get(ctx context.Context, userID, locationID string) (*Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM oauth_tokens WHERE user_id = $1 AND location_id = $2`
	return s.scanOne(s.db.QueryRowContext(ctx, query, userID, locationID))
}

// FindByLocation returns the most recently updated token installed for
// locationID, or ErrNoCredential.
func (s *Store) FindByLocation(ctx context.Context, locationID string) (*Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM oauth_tokens WHERE location_id = $1 ORDER BY updated_at DESC LIMIT 1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, locationID))
}

// Save inserts or replaces the token for its (user, location) pair.
func (s *Store) Save(ctx context.Context, token *Token) error {
	query := `
		INSERT INTO oauth_tokens (
			user_id, location_id, company_id, access_token, refresh_token, scope, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (user_id, location_id) DO UPDATE SET
			company_id = EXCLUDED.company_id,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			scope = EXCLUDED.scope,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()`

	_, err := s.db.ExecContext(ctx, query,
		token.UserID,
		token.LocationID,
		token.CompanyID,
		token.AccessToken,
		token.RefreshToken,
		token.Scope,
		token.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save oauth token: %w", err)
	}
	return nil
}

// DeleteByLocation removes every token installed for locationID.
func (s *Store) DeleteByLocation(ctx context.Context, locationID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM oauth_tokens WHERE location_id = $1`, locationID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete oauth tokens: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) scanOne(row *sql.Row) (*Token, error) {
	var t Token
	var companyID, refreshToken, scope sql.NullString
	err := row.Scan(
		&t.UserID,
		&t.LocationID,
		&companyID,
		&t.AccessToken,
		&refreshToken,
		&scope,
		&t.ExpiresAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoCredential
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load oauth token: %w", err)
	}
	t.CompanyID = companyID.String
	t.RefreshToken = refreshToken.String
	t.Scope = scope.String
	return &t, nil
}
