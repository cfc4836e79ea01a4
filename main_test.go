// main_test.go
//
// Level 3 smoke tests
// chi wiring via httptest.NewServer with in-memory stores and a stub Strava API.
// Catches middleware ordering, route grouping, and real HTTP cookie/header behavior
// that httptest.NewRecorder cannot exercise.

package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/radiansnail-1/strava-mcp-oauth/internal/api"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/auth"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/mcp"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/oauth"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/session"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/strava"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/testutil"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/webhook"
)

// --- Smoke fixtures ---

const smokeVerifyToken = "smoke-verify"

// stubStrava is a minimal Strava API: /athlete and /activities/{id}.
// Records the Authorization header of every request.
type stubStrava struct {
	mu    sync.Mutex
	auths []string
}

func (s *stubStrava) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.auths = append(s.auths, r.Header.Get("Authorization"))
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/athlete":
		w.Write([]byte(`{"id":42,"firstname":"Ada","lastname":"Lovelace"}`))
	case strings.HasPrefix(r.URL.Path, "/activities/"):
		w.Write([]byte(`{"id":555,"name":"Morning Ride","type":"Ride","distance":24140.2,"moving_time":3725,"total_elevation_gain":312,"start_date":"2025-10-29T06:15:00Z"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Record Not Found"}`))
	}
}

func (s *stubStrava) authHeaders() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.auths...)
}

// smokeEnv is a running router over in-memory stores.
type smokeEnv struct {
	url      string
	kv       *testutil.MemoryStore
	relay    *testutil.MockRelay
	upstream *stubStrava
	runner   *webhook.Runner
}

// newSmokeEnv wires the same components as run(), with fakes in place of Redis and Strava.
func newSmokeEnv(t *testing.T) *smokeEnv {
	t.Helper()
	upstream := &stubStrava{}
	upstreamSrv := httptest.NewServer(upstream)
	t.Cleanup(upstreamSrv.Close)

	kv := testutil.NewMemoryStore()
	provider := &testutil.MockProvider{
		ExchangeToken: &oauth.Token{
			AccessToken:  "access-42",
			RefreshToken: "refresh-42",
			ExpiresAt:    time.Now().Add(6 * time.Hour).Unix(),
			Athlete:      &strava.Athlete{ID: 42, Firstname: "Ada", Lastname: "Lovelace"},
		},
	}
	sessions := session.NewManager(kv, provider)
	resolver := auth.NewResolver(kv, sessions)
	client := strava.NewClient(upstreamSrv.URL, 5*time.Second)
	relay := &testutil.MockRelay{}

	proc := &webhook.Processor{Sessions: sessions, Fetcher: client, Summaries: kv, Relay: relay}
	runner := webhook.NewRunner(proc, nil, 5*time.Second)

	h := &handlers{
		Auth: &auth.AuthHandler{
			KV:           kv,
			Sessions:     sessions,
			Provider:     provider,
			BaseURL:      "https://bridge.example.com",
			DashboardURL: "https://bridge.example.com/dashboard",
			Redis:        kv,
		},
		Resolver: resolver,
		Webhook:  &webhook.Handler{VerifyToken: smokeVerifyToken, Dispatcher: runner, Relay: relay},
		MCP: &mcp.Handler{
			Dispatcher: &mcp.Dispatcher{API: client, KV: kv, BaseURL: "https://bridge.example.com"},
			Auth:       resolver,
			BaseURL:    "https://bridge.example.com",
		},
		API: &api.Handler{Strava: client},
	}

	srv := httptest.NewServer(buildRouter(h))
	t.Cleanup(srv.Close)

	return &smokeEnv{url: srv.URL, kv: kv, relay: relay, upstream: upstream, runner: runner}
}

// noRedirect is a client that surfaces 302s instead of following them.
var noRedirect = &http.Client{
	CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
}

// login runs /auth then /callback and returns the sid cookie and personal token.
func (e *smokeEnv) login(t *testing.T) (*http.Cookie, string) {
	t.Helper()
	resp, err := noRedirect.Get(e.url + "/auth")
	if err != nil {
		t.Fatalf("GET /auth: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("auth status: expected 302, got %d", resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parsing auth redirect: %v", err)
	}
	state := loc.Query().Get("state")

	resp, err = noRedirect.Get(e.url + "/callback?" + url.Values{"code": {"abc"}, "state": {state}}.Encode())
	if err != nil {
		t.Fatalf("GET /callback: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("callback status: expected 302, got %d", resp.StatusCode)
	}

	var sid *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == auth.SessionCookie {
			sid = c
		}
	}
	if sid == nil || sid.Value != "42" {
		t.Fatalf("expected sid cookie for athlete 42, got %+v", sid)
	}
	dest, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parsing callback redirect: %v", err)
	}
	token := dest.Query().Get("token")
	if token == "" {
		t.Fatal("callback redirect carried no personal token")
	}
	return sid, token
}

// get issues a GET with an optional cookie.
func get(t *testing.T, target string, cookie *http.Cookie) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, target, nil)
	if cookie != nil {
		req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}
	resp, err := noRedirect.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", target, err)
	}
	return resp
}

// --- Tests ---

func TestSmoke_Health(t *testing.T) {
	e := newSmokeEnv(t)

	resp := get(t, e.url+"/health", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status: expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Errorf("content-type: expected application/json, got %q", resp.Header.Get("Content-Type"))
	}
}

func TestSmoke_UnknownRouteIsJSON404(t *testing.T) {
	e := newSmokeEnv(t)

	resp := get(t, e.url+"/nope", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status: expected 404, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Errorf("content-type: expected application/json, got %q", resp.Header.Get("Content-Type"))
	}
}

func TestSmoke_APIRequiresAuth(t *testing.T) {
	e := newSmokeEnv(t)

	resp := get(t, e.url+"/api/athlete/profile", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status: expected 401, got %d", resp.StatusCode)
	}
	if n := len(e.upstream.authHeaders()); n != 0 {
		t.Errorf("upstream calls: expected 0, got %d", n)
	}
}

func TestSmoke_ServerInfo(t *testing.T) {
	e := newSmokeEnv(t)

	resp := get(t, e.url+"/", nil)
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if body["mcpEndpoint"] != "https://bridge.example.com/mcp" {
		t.Errorf("mcpEndpoint: expected bridge /mcp, got %v", body["mcpEndpoint"])
	}
}

// TestSmoke_FullRoundTrip: login -> REST proxy -> MCP tool -> logout -> REST proxy rejected.
func TestSmoke_FullRoundTrip(t *testing.T) {
	e := newSmokeEnv(t)
	sid, token := e.login(t)

	// Cookie-authenticated REST proxy
	resp := get(t, e.url+"/api/athlete/profile", sid)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("profile status: expected 200, got %d: %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), `"firstname":"Ada"`) {
		t.Errorf("profile body: expected athlete, got %s", body)
	}

	// Token-authenticated MCP tool call
	rpc := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get-athlete-profile"}}`
	resp, err := http.Post(e.url+"/mcp?token="+url.QueryEscape(token), "application/json", strings.NewReader(rpc))
	if err != nil {
		t.Fatalf("POST /mcp: %v", err)
	}
	var out struct {
		Result *struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
		Error *mcp.Error `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding mcp response: %v", err)
	}
	resp.Body.Close()
	if out.Error != nil || out.Result == nil || len(out.Result.Content) != 1 {
		t.Fatalf("mcp: expected one content block, got %+v / %+v", out.Result, out.Error)
	}
	if !strings.Contains(out.Result.Content[0].Text, `"firstname": "Ada"`) {
		t.Errorf("mcp text: expected indented athlete, got %q", out.Result.Content[0].Text)
	}

	for _, h := range e.upstream.authHeaders() {
		if h != "Bearer access-42" {
			t.Errorf("upstream auth: expected Bearer access-42, got %q", h)
		}
	}

	// Logout deletes the stored session
	req, _ := http.NewRequest(http.MethodPost, e.url+"/logout", nil)
	req.AddCookie(&http.Cookie{Name: sid.Name, Value: sid.Value})
	resp, err = noRedirect.Do(req)
	if err != nil {
		t.Fatalf("POST /logout: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Errorf("logout status: expected 302, got %d", resp.StatusCode)
	}
	if e.kv.Has(session.Key("42")) {
		t.Error("session still stored after logout")
	}

	resp = get(t, e.url+"/api/athlete/profile", sid)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("profile after logout: expected 401, got %d", resp.StatusCode)
	}
}

func TestSmoke_WebhookHandshake(t *testing.T) {
	e := newSmokeEnv(t)

	q := url.Values{"hub.mode": {"subscribe"}, "hub.verify_token": {smokeVerifyToken}, "hub.challenge": {"c-123"}}
	resp := get(t, e.url+"/webhook?"+q.Encode(), nil)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", resp.StatusCode)
	}
	if strings.TrimSpace(string(body)) != `{"hub.challenge":"c-123"}` {
		t.Errorf("body: expected challenge echo, got %s", body)
	}
}

func TestSmoke_WebhookActivityCreate(t *testing.T) {
	e := newSmokeEnv(t)
	e.login(t)

	ev := `{"object_type":"activity","object_id":555,"aspect_type":"create","owner_id":42,"subscription_id":1,"event_time":1761720000}`
	resp, err := http.Post(e.url+"/webhook", "application/json", strings.NewReader(ev))
	if err != nil {
		t.Fatalf("POST /webhook: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.runner.Wait(ctx); err != nil {
		t.Fatalf("waiting for webhook task: %v", err)
	}

	msgs := e.relay.Messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "Morning Ride") {
		t.Errorf("relay: expected one message about Morning Ride, got %q", msgs)
	}
	if !e.kv.Has("activity_webhook:42:555") {
		t.Error("activity summary not stored")
	}
}
