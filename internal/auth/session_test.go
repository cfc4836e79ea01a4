package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
)

// --- GenerateToken ---

func TestGenerateToken(t *testing.T) {
	t.Run("returns token and hash without error", func(t *testing.T) {
		token, hash, err := GenerateToken()
		if err != nil {
			t.Fatalf("GenerateToken returned error: %v", err)
		}
		if token == "" || hash == "" {
			t.Fatal("token and hash should not be empty")
		}
		if token == hash {
			t.Error("hash must differ from raw token")
		}
	})

	t.Run("hash matches base64url SHA-256 of token", func(t *testing.T) {
		token, hash, err := GenerateToken()
		if err != nil {
			t.Fatalf("GenerateToken returned error: %v", err)
		}
		sum := sha256.Sum256([]byte(token))
		if want := base64.RawURLEncoding.EncodeToString(sum[:]); hash != want {
			t.Errorf("hash: expected %q, got %q", want, hash)
		}
	})

	t.Run("tokens are unique", func(t *testing.T) {
		a, _, _ := GenerateToken()
		b, _, _ := GenerateToken()
		if a == b {
			t.Error("two calls returned the same token")
		}
	})
}

// --- GenerateState ---

func TestGenerateState(t *testing.T) {
	state, err := GenerateState()
	if err != nil {
		t.Fatalf("GenerateState returned error: %v", err)
	}
	if !regexp.MustCompile(`^[0-9a-f]{64}$`).MatchString(state) {
		t.Errorf("state: expected 64 lowercase hex chars, got %q", state)
	}
}

// --- Fingerprint ---

func TestFingerprint(t *testing.T) {
	t.Run("is 32 hex chars", func(t *testing.T) {
		fp := Fingerprint("Mozilla/5.0", "text/html")
		if !regexp.MustCompile(`^[0-9a-f]{32}$`).MatchString(fp) {
			t.Errorf("fingerprint: expected 32 hex chars, got %q", fp)
		}
	})

	t.Run("is deterministic", func(t *testing.T) {
		if Fingerprint("ua", "accept") != Fingerprint("ua", "accept") {
			t.Error("same inputs produced different fingerprints")
		}
	})

	t.Run("depends on both headers", func(t *testing.T) {
		base := Fingerprint("ua", "accept")
		if base == Fingerprint("ua2", "accept") {
			t.Error("user agent change did not change fingerprint")
		}
		if base == Fingerprint("ua", "accept2") {
			t.Error("accept change did not change fingerprint")
		}
	})
}

// --- Cookies ---

func TestSessionCookie(t *testing.T) {
	t.Run("set writes sid with 30 day max age", func(t *testing.T) {
		w := httptest.NewRecorder()
		SetSessionCookie(w, "42")

		c := findCookie(w.Result().Cookies(), SessionCookie)
		if c == nil {
			t.Fatal("sid cookie not set")
		}
		if c.Value != "42" {
			t.Errorf("value: expected %q, got %q", "42", c.Value)
		}
		if c.MaxAge != 30*24*60*60 {
			t.Errorf("max age: expected %d, got %d", 30*24*60*60, c.MaxAge)
		}
		if !c.HttpOnly || !c.Secure || c.SameSite != http.SameSiteLaxMode || c.Path != "/" {
			t.Errorf("flags: expected HttpOnly Secure Lax Path=/, got %+v", c)
		}
	})

	t.Run("clear expires sid", func(t *testing.T) {
		w := httptest.NewRecorder()
		ClearSessionCookie(w)

		c := findCookie(w.Result().Cookies(), SessionCookie)
		if c == nil {
			t.Fatal("sid cookie not written")
		}
		if c.MaxAge >= 0 || c.Value != "" {
			t.Errorf("expected expired empty cookie, got %+v", c)
		}
	})
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdef", 3); got != "abc" {
		t.Errorf("expected %q, got %q", "abc", got)
	}
	if got := truncate("ab", 3); got != "ab" {
		t.Errorf("expected %q, got %q", "ab", got)
	}
	if got := truncate("héllo", 2); got != "hé" {
		t.Errorf("expected %q, got %q", "hé", got)
	}
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}
