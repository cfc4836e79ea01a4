// strava.go -- Strava OAuth2 provider implementation.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/radiansnail-1/strava-mcp-oauth/internal/strava"
	"golang.org/x/oauth2"
)

// Scopes is the fixed scope set requested on every authorization.
// Strava expects a comma-separated list in a single scope parameter.
const Scopes = "profile:read_all,activity:read_all,activity:read,profile:write"

// StravaProvider implements Provider against Strava's OAuth2 endpoints.
type StravaProvider struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// NewStravaProvider builds a provider for the given app credentials and endpoints.
// timeout bounds every token-endpoint call.
func NewStravaProvider(clientID, clientSecret, redirectURL, authURL, tokenURL string, timeout time.Duration) *StravaProvider {
	return &StravaProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  authURL,
				TokenURL: tokenURL,
				// Strava reads client_id/client_secret from the form body, not basic auth.
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: []string{Scopes},
		},
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name returns "strava".
func (p *StravaProvider) Name() string { return "strava" }

// AuthCodeURL builds the Strava consent page URL.
// approval_prompt=auto skips the consent screen for athletes who already granted these scopes.
func (p *StravaProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.SetAuthURLParam("approval_prompt", "auto"))
}

// Exchange trades an authorization code for tokens plus the athlete summary.
func (p *StravaProvider) Exchange(ctx context.Context, code string) (*Token, error) {
	tok, err := p.config.Exchange(p.clientCtx(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("%w: exchanging code: %w", ErrTokenEndpoint, err)
	}
	out, err := normalize(tok)
	if err != nil {
		return nil, err
	}

	raw, ok := tok.Extra("athlete").(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: no athlete in token response", ErrTokenEndpoint)
	}
	athlete, err := decodeAthlete(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenEndpoint, err)
	}
	out.Athlete = athlete
	return out, nil
}

// Refresh exchanges refreshToken for a new token triple.
// Strava may rotate the refresh token; the old one is kept if the response omits it.
func (p *StravaProvider) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	// An empty access token forces the TokenSource to hit the token endpoint.
	src := p.config.TokenSource(p.clientCtx(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: refreshing token: %w", ErrTokenEndpoint, err)
	}
	return normalize(tok)
}

// clientCtx attaches the bounded http.Client that x/oauth2 reads from context.
func (p *StravaProvider) clientCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// normalize pulls the provider-reported expires_at out of the raw response.
func normalize(tok *oauth2.Token) (*Token, error) {
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: response missing access_token", ErrTokenEndpoint)
	}
	expiresAt, ok := unixField(tok.Extra("expires_at"))
	if !ok {
		return nil, fmt.Errorf("%w: response missing expires_at", ErrTokenEndpoint)
	}
	return &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

// unixField accepts the shapes a JSON or form-encoded token response can produce.
func unixField(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n <= 0 || n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil && i > 0
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil && i > 0
	default:
		return 0, false
	}
}

func decodeAthlete(raw map[string]any) (*strava.Athlete, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("re-encoding athlete: %w", err)
	}
	var a strava.Athlete
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("decoding athlete: %w", err)
	}
	if a.ID == 0 {
		return nil, fmt.Errorf("athlete missing id")
	}
	return &a, nil
}
