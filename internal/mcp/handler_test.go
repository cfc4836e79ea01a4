package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiansnail-1/strava-mcp-oauth/internal/auth"
)

// fakeAuth resolves every request to ac (nil = unauthenticated) and accepts one personal token.
type fakeAuth struct {
	ac       *auth.AuthContext
	token    string
	resolves int
}

func (f *fakeAuth) Resolve(*http.Request) (*auth.AuthContext, bool) {
	f.resolves++
	return f.ac, f.ac != nil
}

func (f *fakeAuth) PersonalTokenSubject(_ context.Context, token string) (string, bool) {
	if f.token != "" && token == f.token {
		return "42", true
	}
	return "", false
}

func newHandler(a *fakeAuth) (*Handler, *fakeAPI) {
	d, api, _ := newDispatcher()
	return &Handler{Dispatcher: d, Auth: a, BaseURL: testBaseURL}, api
}

func post(h *Handler, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.Serve(w, httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body)))
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHandler_Serve(t *testing.T) {
	t.Run("malformed body is a 400 parse error", func(t *testing.T) {
		h, _ := newHandler(&fakeAuth{})

		w := post(h, `{"jsonrpc":"2.0",`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		out := decodeResponse(t, w)
		assert.Nil(t, out["id"])
		assert.Contains(t, out, "id")
		errObj := out["error"].(map[string]any)
		assert.Equal(t, float64(CodeParseError), errObj["code"])
		assert.Equal(t, "Parse error", errObj["message"])
	})

	t.Run("missing method is an invalid request", func(t *testing.T) {
		h, _ := newHandler(&fakeAuth{})

		w := post(h, `{"jsonrpc":"2.0","id":1}`)

		assert.Equal(t, http.StatusOK, w.Code)
		errObj := decodeResponse(t, w)["error"].(map[string]any)
		assert.Equal(t, float64(CodeInvalidRequest), errObj["code"])
	})

	t.Run("initialize does not resolve auth", func(t *testing.T) {
		a := &fakeAuth{}
		h, _ := newHandler(a)

		w := post(h, `{"jsonrpc":"2.0","id":"init-1","method":"initialize","params":{}}`)

		assert.Equal(t, http.StatusOK, w.Code)
		out := decodeResponse(t, w)
		assert.Equal(t, "init-1", out["id"])
		assert.Equal(t, "2.0", out["jsonrpc"])
		assert.Equal(t, 0, a.resolves)
	})

	t.Run("notification gets 202 and no body", func(t *testing.T) {
		h, _ := newHandler(&fakeAuth{})

		w := post(h, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Empty(t, w.Body.String())
	})

	t.Run("unauthenticated tool call is a successful prompt", func(t *testing.T) {
		a := &fakeAuth{}
		h, api := newHandler(a)

		w := post(h, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"get-recent-activities","arguments":{"per_page":5}}}`)

		assert.Equal(t, http.StatusOK, w.Code)
		out := decodeResponse(t, w)
		assert.NotContains(t, out, "error")
		content := out["result"].(map[string]any)["content"].([]any)
		text := content[0].(map[string]any)["text"].(string)
		assert.Contains(t, text, "Authentication Required")
		assert.Equal(t, 1, a.resolves)
		assert.Empty(t, api.recorded())
	})

	t.Run("authenticated tool call uses the resolved token", func(t *testing.T) {
		h, api := newHandler(&fakeAuth{ac: authed()})

		w := post(h, `{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"get-athlete-profile"}}`)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, decodeResponse(t, w), "result")
		calls := api.recorded()
		require.Len(t, calls, 1)
		assert.Equal(t, "access-42", calls[0].token)
	})
}

func TestHandler_Describe(t *testing.T) {
	t.Run("unauthenticated includes auth prompt", func(t *testing.T) {
		h, _ := newHandler(&fakeAuth{token: "tok"})
		w := httptest.NewRecorder()
		h.Describe(w, httptest.NewRequest(http.MethodGet, "/mcp", nil))

		out := decodeResponse(t, w)
		assert.Equal(t, "server/initialize", out["method"])
		res := out["result"].(map[string]any)
		assert.Equal(t, false, res["authenticated"])
		assert.Equal(t, "2024-11-05", res["protocolVersion"])
		required := res["authenticationRequired"].(map[string]any)
		assert.Equal(t, testBaseURL+"/auth", required["authUrl"])
	})

	t.Run("valid personal token", func(t *testing.T) {
		h, _ := newHandler(&fakeAuth{token: "tok"})
		w := httptest.NewRecorder()
		h.Describe(w, httptest.NewRequest(http.MethodGet, "/mcp?token=tok", nil))

		res := decodeResponse(t, w)["result"].(map[string]any)
		assert.Equal(t, true, res["authenticated"])
		assert.NotContains(t, res, "authenticationRequired")
	})
}

func TestHandler_Info(t *testing.T) {
	h, _ := newHandler(&fakeAuth{})
	w := httptest.NewRecorder()
	h.Info(w, httptest.NewRequest(http.MethodGet, "/", nil))

	out := decodeResponse(t, w)
	assert.Equal(t, "Strava MCP Server", out["name"])
	assert.Equal(t, "mcp", out["protocol"])
	assert.Equal(t, testBaseURL+"/mcp", out["mcpEndpoint"])
	assert.Equal(t, testBaseURL+"/auth", out["authentication"].(map[string]any)["url"])
}
