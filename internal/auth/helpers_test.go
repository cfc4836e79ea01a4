// helpers_test.go -- shared fixtures for auth tests.
package auth

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/radiansnail-1/strava-mcp-oauth/internal/oauth"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/session"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/strava"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/testutil"
)

// testEnv wires a Resolver and AuthHandler over in-memory fakes.
type testEnv struct {
	kv       *testutil.MemoryStore
	provider *testutil.MockProvider
	sessions *session.Manager
	resolver *Resolver
	handler  *AuthHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	kv := testutil.NewMemoryStore()
	provider := &testutil.MockProvider{
		RefreshFunc: func(rt string) (*oauth.Token, error) {
			return &oauth.Token{
				AccessToken:  "refreshed-" + rt,
				RefreshToken: rt + "-next",
				ExpiresAt:    time.Now().Add(6 * time.Hour).Unix(),
			}, nil
		},
	}
	sessions := session.NewManager(kv, provider)
	return &testEnv{
		kv:       kv,
		provider: provider,
		sessions: sessions,
		resolver: NewResolver(kv, sessions),
		handler: &AuthHandler{
			KV:           kv,
			Sessions:     sessions,
			Provider:     provider,
			BaseURL:      "https://bridge.example.com",
			DashboardURL: "https://bridge.example.com/dashboard",
			Redis:        kv,
		},
	}
}

// seedSession stores a session for athleteID expiring in expiresIn.
func (e *testEnv) seedSession(t *testing.T, athleteID int64, expiresIn time.Duration) *session.Session {
	t.Helper()
	s := &session.Session{
		AccessToken:  "access-" + strconv.FormatInt(athleteID, 10),
		RefreshToken: "refresh-" + strconv.FormatInt(athleteID, 10),
		ExpiresAt:    time.Now().Add(expiresIn).Unix(),
		CreatedAt:    time.Now().UTC(),
		Scopes:       []string{"profile:read_all"},
		AthleteID:    athleteID,
		Athlete:      &strava.Athlete{ID: athleteID, Firstname: "Athlete" + strconv.FormatInt(athleteID, 10)},
	}
	if err := e.sessions.Put(context.Background(), s); err != nil {
		t.Fatalf("seeding session: %v", err)
	}
	return s
}

// seedPersonalToken stores a personal token record for athleteID.
func (e *testEnv) seedPersonalToken(t *testing.T, token string, athleteID int64) {
	t.Helper()
	rec := PersonalToken{AthleteID: athleteID, CreatedAt: time.Now().Unix(), ExpiresAt: time.Now().Add(PersonalTokenTTL).Unix()}
	if err := PutJSON(context.Background(), e.kv, personalTokenPrefix+HashToken(token), rec, PersonalTokenTTL); err != nil {
		t.Fatalf("seeding personal token: %v", err)
	}
}

// seedDevice binds the fingerprint of (ua, accept) to athleteID.
func (e *testEnv) seedDevice(t *testing.T, ua, accept string, athleteID int64) {
	t.Helper()
	rec := DeviceBinding{AthleteID: athleteID, CreatedAt: time.Now().Unix(), UserAgent: ua}
	if err := PutJSON(context.Background(), e.kv, devicePrefix+Fingerprint(ua, accept), rec, DeviceTTL); err != nil {
		t.Fatalf("seeding device: %v", err)
	}
}
