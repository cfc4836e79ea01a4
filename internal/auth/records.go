// records.go -- Key layout and JSON shapes of the auth records kept in the credential store.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Key prefixes. Sessions themselves live under session.Key.
const (
	statePrefix         = "state:"
	personalTokenPrefix = "personal_mcp:"
	devicePrefix        = "device_auth:"
	clientSessionPrefix = "user_session:"

	// PendingAuthPrefix marks an MCP client session awaiting browser login.
	PendingAuthPrefix = "pending_auth:"
)

// Record lifetimes.
const (
	StateTTL         = 10 * time.Minute
	PersonalTokenTTL = 365 * 24 * time.Hour
	DeviceTTL        = 30 * 24 * time.Hour
	ClientSessionTTL = 30 * 24 * time.Hour
	PendingAuthTTL   = 30 * time.Minute
)

// maxStoredUserAgent truncates the User-Agent kept on a device binding.
const maxStoredUserAgent = 100

// PendingState is written at INITIATE and consumed once at CALLBACK.
// SessionID is the MCP client session that started the flow, if any.
type PendingState struct {
	Pending   bool    `json:"pending"`
	SessionID *string `json:"session_id"`
	CreatedAt int64   `json:"created_at"`
}

// PersonalToken is stored under the hash of the raw token.
type PersonalToken struct {
	AthleteID int64 `json:"athlete_id"`
	CreatedAt int64 `json:"created_at"`
	ExpiresAt int64 `json:"expires_at"`
}

// DeviceBinding maps a device fingerprint to the athlete who logged in from it.
type DeviceBinding struct {
	AthleteID int64  `json:"athlete_id"`
	CreatedAt int64  `json:"created_at"`
	UserAgent string `json:"user_agent"`
}

// ClientSessionLink ties an MCP client session id to the athlete who completed login.
type ClientSessionLink struct {
	AthleteID     int64 `json:"athlete_id"`
	Authenticated bool  `json:"authenticated"`
	CreatedAt     int64 `json:"created_at"`
}

// PendingAuth is written by the authenticate tool before the user opens the login link.
type PendingAuth struct {
	CreatedAt int64  `json:"created_at"`
	Status    string `json:"status"`
}

// PutJSON encodes v and stores it under key with ttl.
func PutJSON(ctx context.Context, kv KV, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return kv.Put(ctx, key, raw, ttl)
}

// getJSON loads key into v. A miss surfaces as store.ErrCacheMiss from kv.
func getJSON(ctx context.Context, kv KV, key string, v any) error {
	raw, err := kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	for i := range s {
		if n == 0 {
			return s[:i]
		}
		n--
	}
	return s
}
