// Package session owns the lifecycle of a subject's delegated Strava credentials:
// load, persist, delete, and refresh-when-due.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/radiansnail-1/strava-mcp-oauth/internal/oauth"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/store"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/strava"
	"golang.org/x/sync/singleflight"
)

// RefreshWindow is how close to expiry a token may get before it is refreshed.
const RefreshWindow = 300 * time.Second

var (
	// ErrNotFound is returned when no usable session exists for a subject.
	// Covers both a missing key and a record that no longer decodes.
	ErrNotFound = errors.New("session not found")

	// ErrRefreshFailed wraps any failure of the token endpoint during refresh.
	ErrRefreshFailed = errors.New("token refresh failed")
)

// Session is the delegated credential set for one athlete.
// ExpiresAt always belongs to AccessToken; both are replaced in one Put.
type Session struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	ExpiresAt    int64           `json:"expires_at"` // unix seconds
	CreatedAt    time.Time       `json:"created_at"`
	Scopes       []string        `json:"scopes"`
	AthleteID    int64           `json:"athlete_id"`
	Athlete      *strava.Athlete `json:"athlete,omitempty"`
}

// SubjectID is the athlete id as it appears in keys and cookies.
func (s *Session) SubjectID() string {
	return strconv.FormatInt(s.AthleteID, 10)
}

// CredentialStore is the key-value store sessions live in.
// Satisfied by *store.RedisStore -- defined here (at consumer) per Go convention.
// Get must return store.ErrCacheMiss for an absent or expired key.
type CredentialStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Refresher trades a refresh token for a new token triple.
// Satisfied by any oauth.Provider.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth.Token, error)
}

// Manager loads, stores, and refreshes sessions. Safe for concurrent use.
type Manager struct {
	store    CredentialStore
	provider Refresher
	group    singleflight.Group

	// Now is the clock used for expiry checks. Tests may replace it.
	Now func() time.Time
}

// NewManager returns a Manager over the given store and token refresher.
func NewManager(cs CredentialStore, provider Refresher) *Manager {
	return &Manager{store: cs, provider: provider, Now: time.Now}
}

// Key is the store key holding a subject's session.
func Key(subjectID string) string {
	return "user:" + subjectID
}

// Get loads the session for subjectID.
// Returns ErrNotFound when absent or undecodable; other store failures are wrapped.
func (m *Manager) Get(ctx context.Context, subjectID string) (*Session, error) {
	raw, err := m.store.Get(ctx, Key(subjectID))
	if err != nil {
		if errors.Is(err, store.ErrCacheMiss) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading session %s: %w", subjectID, err)
	}

	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		slog.Warn("discarding undecodable session", "subject_id", subjectID, "error", err)
		return nil, ErrNotFound
	}
	return &s, nil
}

// Put writes s under its subject's key with no expiry. Last writer wins.
func (m *Manager) Put(ctx context.Context, s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := m.store.Put(ctx, Key(s.SubjectID()), raw, 0); err != nil {
		return fmt.Errorf("storing session %s: %w", s.SubjectID(), err)
	}
	return nil
}

// Delete removes the session for subjectID. Absence is not an error.
func (m *Manager) Delete(ctx context.Context, subjectID string) error {
	if err := m.store.Delete(ctx, Key(subjectID)); err != nil {
		return fmt.Errorf("deleting session %s: %w", subjectID, err)
	}
	return nil
}

// NeedsRefresh reports whether s expires within RefreshWindow of now.
func NeedsRefresh(s *Session, now time.Time) bool {
	return s.ExpiresAt <= now.Add(RefreshWindow).Unix()
}

// Refresh exchanges s's refresh token unconditionally, persists the result,
// and returns it. Every field other than the token triple is preserved.
// s itself is not modified.
func (m *Manager) Refresh(ctx context.Context, s *Session) (*Session, error) {
	tok, err := m.provider.Refresh(ctx, s.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("%w: subject %s: %w", ErrRefreshFailed, s.SubjectID(), err)
	}

	next := *s
	next.AccessToken = tok.AccessToken
	next.ExpiresAt = tok.ExpiresAt
	if tok.RefreshToken != "" {
		next.RefreshToken = tok.RefreshToken
	}

	if err := m.Put(ctx, &next); err != nil {
		return nil, err
	}
	slog.Info("refreshed strava token", "subject_id", next.SubjectID(), "expires_at", next.ExpiresAt)
	return &next, nil
}

// EnsureFresh returns s unchanged when its token is not due, otherwise a refreshed copy.
// Concurrent calls for the same subject share one token-endpoint call; the stored
// session is re-read first so a refresh that already landed is not repeated.
func (m *Manager) EnsureFresh(ctx context.Context, s *Session) (*Session, error) {
	if !NeedsRefresh(s, m.Now()) {
		return s, nil
	}

	subject := s.SubjectID()
	// The shared call outlives the caller that started it: other waiters may
	// still be live. The provider's HTTP client timeout bounds it.
	shared := context.WithoutCancel(ctx)
	v, err, _ := m.group.Do(subject, func() (any, error) {
		// A deleted session (deauthorization, logout) must not be resurrected.
		current, err := m.Get(shared, subject)
		if err != nil {
			return nil, err
		}
		if !NeedsRefresh(current, m.Now()) {
			return current, nil
		}
		return m.Refresh(shared, current)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}
