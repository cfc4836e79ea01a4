// provider.go -- OAuth provider interface and shared types.
package oauth

import (
	"context"
	"errors"

	"github.com/radiansnail-1/strava-mcp-oauth/internal/strava"
)

// ErrTokenEndpoint wraps every failed call to the provider's token endpoint
// (non-2xx, timeout, or a response missing access_token/expires_at).
var ErrTokenEndpoint = errors.New("token endpoint failed")

// Token is the normalized token-endpoint response.
// ExpiresAt is the provider-reported unix expiry of AccessToken, never derived locally.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64
	// Athlete is only populated on authorization-code exchange.
	Athlete *strava.Athlete
}

// Provider is an OAuth2 identity provider used for delegated access.
// Implementations handle provider-specific auth URLs, code exchange, and refresh.
type Provider interface {
	// Name returns the provider identifier, used in logs.
	Name() string

	// AuthCodeURL returns the consent page URL with state embedded.
	AuthCodeURL(state string) string

	// Exchange trades an authorization code for tokens and the subject's profile.
	Exchange(ctx context.Context, code string) (*Token, error)

	// Refresh trades a refresh token for a new access/refresh/expiry triple.
	Refresh(ctx context.Context, refreshToken string) (*Token, error)
}
