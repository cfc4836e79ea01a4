// session.go

// Token, state, and fingerprint generation plus session cookie management.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/crypto/blake2b"
)

// SessionCookie carries the subject id for browser callers.
const SessionCookie = "sid"

// SessionCookieMaxAge is the lifetime of the sid cookie.
const SessionCookieMaxAge = 30 * 24 * time.Hour

// GenerateToken returns a 256-bit random personal token and its storage hash.
// Token goes to the user once; only the hash is ever stored.
func GenerateToken() (token string, hash string, err error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", "", fmt.Errorf("generating token with rand: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(raw[:])
	return token, HashToken(token), nil
}

// HashToken returns base64url(SHA-256(token)), the key suffix personal tokens are stored under.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// GenerateState returns a 32-byte random hex nonce for the OAuth state parameter.
func GenerateState() (string, error) {
	var raw [32]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("generating state with rand: %w", err)
	}
	return hex.EncodeToString(raw[:]), nil
}

// Fingerprint derives a device identifier from User-Agent and Accept.
// Weak by nature: identical clients collide, and that is accepted.
func Fingerprint(userAgent, accept string) string {
	sum := blake2b.Sum256([]byte(userAgent + ":" + accept))
	return hex.EncodeToString(sum[:])[:32]
}

// SetSessionCookie writes the sid cookie with HttpOnly, Secure, SameSite=Lax.
func SetSessionCookie(w http.ResponseWriter, subjectID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    subjectID,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(SessionCookieMaxAge.Seconds()),
	})
}

// ClearSessionCookie overwrites sid with MaxAge=-1 to trigger browser deletion.
func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}
