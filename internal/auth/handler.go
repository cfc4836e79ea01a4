// handler.go -- HTTP handlers for the OAuth round-trip and browser session endpoints.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/radiansnail-1/strava-mcp-oauth/internal/oauth"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/session"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/store"
)

var (
	// ErrInvalidState covers a missing, unknown, expired, or already consumed state nonce.
	ErrInvalidState = errors.New("invalid or expired oauth state")

	// ErrExchangeFailed is returned when the token endpoint rejects the authorization code.
	ErrExchangeFailed = errors.New("authorization code exchange failed")
)

// AuthHandler holds dependencies for the /auth, /callback, /status, /logout,
// /dashboard and /health endpoints.
type AuthHandler struct {
	KV       KV
	Sessions Sessions
	Provider oauth.Provider

	// BaseURL is the public origin, used for retry and MCP links.
	BaseURL string
	// DashboardURL receives ?token=<personal token> after a successful login.
	DashboardURL string

	// Health targets. A nil Postgres reports "disabled".
	Redis    HealthChecker
	Postgres HealthChecker
}

// now is overridable in tests.
var now = time.Now

// InitiateAuth handles GET /auth -- stores a single-use state nonce and
// redirects to Strava's consent page. ?session= links the login to an MCP client session.
func (h *AuthHandler) InitiateAuth(w http.ResponseWriter, r *http.Request) {
	state, err := GenerateState()
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	pending := PendingState{Pending: true, CreatedAt: now().Unix()}
	if sid := r.URL.Query().Get("session"); sid != "" {
		pending.SessionID = &sid
	}

	if err := PutJSON(r.Context(), h.KV, statePrefix+state, pending, StateTTL); err != nil {
		logError(r, "failed to store oauth state", "error", err)
		InternalServerError(w, r, err)
		return
	}

	logInfo(r, "oauth flow started", "has_client_session", pending.SessionID != nil)
	http.Redirect(w, r, h.Provider.AuthCodeURL(state), http.StatusFound)
}

// Callback handles GET /callback -- validates and consumes state, exchanges the
// code, persists the session, binds the device, mints a personal token, and
// redirects to the dashboard with it.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if providerErr := q.Get("error"); providerErr != "" {
		logInfo(r, "oauth callback: provider returned error", "provider_error", providerErr)
		h.authFailure(w, http.StatusBadRequest, "Authorization denied", "Strava returned: "+providerErr)
		return
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		logWarn(r, "oauth callback: missing code or state")
		h.authFailure(w, http.StatusBadRequest, "Invalid state", "Missing authorization code or state parameter")
		return
	}

	pending, err := h.consumeState(r.Context(), state)
	if err != nil {
		if errors.Is(err, ErrInvalidState) {
			logWarn(r, "oauth callback: unknown or expired state")
			h.authFailure(w, http.StatusBadRequest, "Invalid state", "Invalid or expired state parameter")
			return
		}
		InternalServerError(w, r, err)
		return
	}

	tok, err := h.Provider.Exchange(r.Context(), code)
	if err == nil && tok.Athlete == nil {
		err = errors.New("token response carried no athlete")
	}
	if err != nil {
		logWarn(r, "oauth callback: exchange failed", "error", fmt.Errorf("%w: %w", ErrExchangeFailed, err), "provider", h.Provider.Name())
		h.authFailure(w, http.StatusBadGateway, "Exchange failed", "Failed to exchange authorization code for tokens")
		return
	}

	issuedAt := now()
	sess := &session.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.ExpiresAt,
		CreatedAt:    issuedAt.UTC(),
		Scopes:       strings.Split(oauth.Scopes, ","),
		AthleteID:    tok.Athlete.ID,
		Athlete:      tok.Athlete,
	}
	if err := h.Sessions.Put(r.Context(), sess); err != nil {
		logError(r, "oauth callback: failed to store session", "error", err)
		InternalServerError(w, r, err)
		return
	}
	subject := sess.SubjectID()
	SetSessionCookie(w, subject)

	// Link and device binding are conveniences; login still succeeds without them.
	if pending.SessionID != nil {
		link := ClientSessionLink{AthleteID: sess.AthleteID, Authenticated: true, CreatedAt: issuedAt.Unix()}
		if err := PutJSON(r.Context(), h.KV, clientSessionPrefix+*pending.SessionID, link, ClientSessionTTL); err != nil {
			logWarn(r, "oauth callback: failed to link client session", "error", err, "subject_id", subject)
		}
	}

	fp := Fingerprint(r.UserAgent(), r.Header.Get("Accept"))
	binding := DeviceBinding{AthleteID: sess.AthleteID, CreatedAt: issuedAt.Unix(), UserAgent: truncate(r.UserAgent(), maxStoredUserAgent)}
	if err := PutJSON(r.Context(), h.KV, devicePrefix+fp, binding, DeviceTTL); err != nil {
		logWarn(r, "oauth callback: failed to bind device", "error", err, "subject_id", subject)
	}

	token, tokenHash, err := GenerateToken()
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	rec := PersonalToken{
		AthleteID: sess.AthleteID,
		CreatedAt: issuedAt.Unix(),
		ExpiresAt: issuedAt.Add(PersonalTokenTTL).Unix(),
	}
	if err := PutJSON(r.Context(), h.KV, personalTokenPrefix+tokenHash, rec, PersonalTokenTTL); err != nil {
		logError(r, "oauth callback: failed to store personal token", "error", err, "subject_id", subject)
		InternalServerError(w, r, err)
		return
	}

	dest, err := withQuery(h.DashboardURL, "token", token)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	logInfo(r, "athlete authenticated", "subject_id", subject, "provider", h.Provider.Name())
	http.Redirect(w, r, dest, http.StatusFound)
}

// consumeState loads and deletes the state record.
// The delete happens before the code exchange so a nonce is never usable twice.
func (h *AuthHandler) consumeState(ctx context.Context, state string) (*PendingState, error) {
	key := statePrefix + state
	// Only one of several concurrent callbacks carrying the same state wins.
	raw, err := h.KV.Take(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrCacheMiss) {
			return nil, ErrInvalidState
		}
		return nil, fmt.Errorf("consuming oauth state: %w", err)
	}

	var pending PendingState
	if err := json.Unmarshal(raw, &pending); err != nil {
		// Unparseable but present: the nonce is still genuine, it just carries no client session.
		return &PendingState{Pending: true}, nil
	}
	return &pending, nil
}

// authFailure writes the user-facing retry response for a failed login.
func (h *AuthHandler) authFailure(w http.ResponseWriter, status int, title, message string) {
	WriteJSON(w, status, struct {
		Error    string `json:"error"`
		Message  string `json:"message"`
		RetryURL string `json:"retry_url"`
	}{title, message, h.BaseURL + "/auth"})
}

// Status handles GET /status -- reports the cookie session's state. Always 200 unless the store fails.
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	type notAuthenticated struct {
		Authenticated bool   `json:"authenticated"`
		Message       string `json:"message"`
	}

	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		WriteJSON(w, http.StatusOK, notAuthenticated{false, "No session cookie found"})
		return
	}
	subject, ok := CookieSubject(r)
	if !ok {
		WriteJSON(w, http.StatusOK, notAuthenticated{false, "Invalid session cookie"})
		return
	}

	sess, err := h.Sessions.Get(r.Context(), subject)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			WriteJSON(w, http.StatusOK, notAuthenticated{false, "Session not found"})
			return
		}
		InternalServerError(w, r, err)
		return
	}

	type athleteSummary struct {
		ID        int64   `json:"id"`
		Firstname string  `json:"firstname"`
		Lastname  string  `json:"lastname"`
		Username  *string `json:"username"`
	}
	var athlete athleteSummary
	if sess.Athlete != nil {
		athlete = athleteSummary{sess.Athlete.ID, sess.Athlete.Firstname, sess.Athlete.Lastname, sess.Athlete.Username}
	}

	WriteJSON(w, http.StatusOK, struct {
		Authenticated  bool           `json:"authenticated"`
		AthleteID      int64          `json:"athlete_id"`
		Athlete        athleteSummary `json:"athlete"`
		TokenExpiresAt int64          `json:"token_expires_at"`
		TokenExpired   bool           `json:"token_expired"`
		Scopes         []string       `json:"scopes"`
	}{true, sess.AthleteID, athlete, sess.ExpiresAt, sess.ExpiresAt <= now().Unix(), sess.Scopes})
}

// Logout handles POST /logout -- deletes the cookie subject's session, clears the cookie,
// and redirects home. Personal tokens and device bindings are left in place.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if subject, ok := CookieSubject(r); ok {
		if err := h.Sessions.Delete(r.Context(), subject); err != nil {
			logError(r, "failed to delete session on logout", "error", err, "subject_id", subject)
		} else {
			logInfo(r, "athlete logged out", "subject_id", subject)
		}
	}
	ClearSessionCookie(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

// Dashboard handles GET /dashboard?token= -- describes the personal token's
// athlete and MCP URL. Unknown tokens are sent back through /auth.
func (h *AuthHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Redirect(w, r, "/auth", http.StatusFound)
		return
	}

	var rec PersonalToken
	if err := getJSON(r.Context(), h.KV, personalTokenPrefix+HashToken(token), &rec); err != nil {
		if !errors.Is(err, store.ErrCacheMiss) {
			logWarn(r, "dashboard: personal token lookup failed", "error", err)
		}
		http.Redirect(w, r, "/auth", http.StatusFound)
		return
	}

	sess, err := h.Sessions.Get(r.Context(), fmt.Sprint(rec.AthleteID))
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			logWarn(r, "dashboard: session lookup failed", "error", err)
		}
		http.Redirect(w, r, "/auth", http.StatusFound)
		return
	}

	mcpURL, err := withQuery(h.BaseURL+"/mcp", "token", token)
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	WriteJSON(w, http.StatusOK, struct {
		AthleteID        int64     `json:"athlete_id"`
		Athlete          any       `json:"athlete"`
		MCPURL           string    `json:"mcp_url"`
		TokenCreatedAt   int64     `json:"token_created_at"`
		TokenExpiresAt   int64     `json:"token_expires_at"`
		SessionCreatedAt time.Time `json:"session_created_at"`
		Scopes           []string  `json:"scopes"`
	}{rec.AthleteID, sess.Athlete, mcpURL, rec.CreatedAt, rec.ExpiresAt, sess.CreatedAt, sess.Scopes})
}

// withQuery returns rawURL with key=value set in its query string.
func withQuery(rawURL, key, value string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing %q: %w", rawURL, err)
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
