// resolver.go -- Multi-strategy caller identification.
//
// Strategies run in fixed priority order and the first that yields a usable,
// fresh session wins: personal token, then device fingerprint, then sid cookie.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/radiansnail-1/strava-mcp-oauth/internal/session"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/store"
)

// Method names the strategy that authenticated a request.
type Method string

const (
	MethodPersonalToken Method = "personal_token"
	MethodDevice        Method = "device_fingerprint"
	MethodCookie        Method = "cookie"
)

// AuthContext is the resolved identity of a request.
// Token is the access token to use for Strava calls on the subject's behalf.
type AuthContext struct {
	SubjectID string
	Session   *session.Session
	Token     string
	Method    Method
}

// KV is the key-value credential store.
// Satisfied by *store.RedisStore -- defined here (at consumer) per Go convention.
// Get returns store.ErrCacheMiss for an absent or expired key.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Take returns the value at key and removes it in one step.
	Take(ctx context.Context, key string) ([]byte, error)
}

// Sessions is the session lifecycle the resolver and handlers depend on.
// Satisfied by *session.Manager.
type Sessions interface {
	Get(ctx context.Context, subjectID string) (*session.Session, error)
	Put(ctx context.Context, s *session.Session) error
	Delete(ctx context.Context, subjectID string) error
	EnsureFresh(ctx context.Context, s *session.Session) (*session.Session, error)
}

// Resolver identifies the caller of a request. Safe for concurrent use.
type Resolver struct {
	kv       KV
	sessions Sessions

	// Now is used to check personal token expiry. Tests may replace it.
	Now func() time.Time
}

// NewResolver returns a Resolver over kv and sessions.
func NewResolver(kv KV, sessions Sessions) *Resolver {
	return &Resolver{kv: kv, sessions: sessions, Now: time.Now}
}

// Resolve runs every strategy in priority order.
// Returns (nil, false) when none yields a usable session; never errors.
func (res *Resolver) Resolve(r *http.Request) (*AuthContext, bool) {
	ctx := r.Context()
	// Subjects that already failed to load or refresh during this resolution.
	failed := make(map[string]bool)

	if token := PersonalTokenFromRequest(r); token != "" {
		if subject, ok := res.PersonalTokenSubject(ctx, token); ok {
			if ac := res.load(ctx, subject, MethodPersonalToken, failed); ac != nil {
				return ac, true
			}
		}
	}

	if subject, ok := res.deviceSubject(ctx, Fingerprint(r.UserAgent(), r.Header.Get("Accept"))); ok {
		if ac := res.load(ctx, subject, MethodDevice, failed); ac != nil {
			return ac, true
		}
	}

	if subject, ok := CookieSubject(r); ok {
		if ac := res.load(ctx, subject, MethodCookie, failed); ac != nil {
			return ac, true
		}
	}

	return nil, false
}

// PersonalTokenSubject looks up the athlete a raw personal token belongs to.
func (res *Resolver) PersonalTokenSubject(ctx context.Context, token string) (string, bool) {
	var rec PersonalToken
	if err := getJSON(ctx, res.kv, personalTokenPrefix+HashToken(token), &rec); err != nil {
		logLookupError("personal token", err)
		return "", false
	}
	if rec.AthleteID == 0 {
		return "", false
	}
	if rec.ExpiresAt > 0 && rec.ExpiresAt <= res.Now().Unix() {
		return "", false
	}
	return strconv.FormatInt(rec.AthleteID, 10), true
}

func (res *Resolver) deviceSubject(ctx context.Context, fingerprint string) (string, bool) {
	var rec DeviceBinding
	if err := getJSON(ctx, res.kv, devicePrefix+fingerprint, &rec); err != nil {
		logLookupError("device binding", err)
		return "", false
	}
	if rec.AthleteID == 0 {
		return "", false
	}
	return strconv.FormatInt(rec.AthleteID, 10), true
}

// load fetches and, when due, refreshes subject's session.
func (res *Resolver) load(ctx context.Context, subject string, method Method, failed map[string]bool) *AuthContext {
	if failed[subject] {
		return nil
	}

	s, err := res.sessions.Get(ctx, subject)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			slog.Error("auth: session lookup failed", "subject_id", subject, "method", method, "error", err)
		}
		failed[subject] = true
		return nil
	}

	s, err = res.sessions.EnsureFresh(ctx, s)
	if err != nil {
		slog.Warn("auth: token refresh failed", "subject_id", subject, "method", method, "error", err)
		failed[subject] = true
		return nil
	}

	return &AuthContext{
		SubjectID: subject,
		Session:   s,
		Token:     s.AccessToken,
		Method:    method,
	}
}

// PersonalTokenFromRequest returns the ?token= query value, else a Bearer token.
func PersonalTokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// CookieSubject returns the numeric subject id carried by the sid cookie.
func CookieSubject(r *http.Request) (string, bool) {
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		return "", false
	}
	id, err := strconv.ParseInt(c.Value, 10, 64)
	if err != nil || id <= 0 {
		return "", false
	}
	return strconv.FormatInt(id, 10), true
}

// logLookupError logs infra failures; misses and corrupt records are routine.
func logLookupError(what string, err error) {
	if errors.Is(err, store.ErrCacheMiss) {
		return
	}
	slog.Warn("auth: "+what+" lookup failed", "error", err)
}
