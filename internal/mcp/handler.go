// handler.go -- HTTP binding for POST /mcp, GET /mcp and the GET / server descriptor.
package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/radiansnail-1/strava-mcp-oauth/internal/auth"
)

// maxRequestBytes caps a JSON-RPC request body.
const maxRequestBytes = 1 << 20

// Authenticator resolves callers. Satisfied by *auth.Resolver.
type Authenticator interface {
	Resolve(r *http.Request) (*auth.AuthContext, bool)
	PersonalTokenSubject(ctx context.Context, token string) (string, bool)
}

// Handler serves the MCP endpoints.
type Handler struct {
	Dispatcher *Dispatcher
	Auth       Authenticator
	// BaseURL is the public origin used in descriptor links.
	BaseURL string
}

// Serve handles POST /mcp -- one JSON-RPC request per body.
// Authentication is resolved for tools/call only; other methods never touch the store.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		h.parseError(w, r, err)
		return
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		h.parseError(w, r, err)
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		auth.WriteJSON(w, http.StatusOK, errorResponse(req.ID, CodeInvalidRequest, "Invalid Request",
			map[string]string{"message": `expected jsonrpc "2.0" and a method`}))
		return
	}

	var ac *auth.AuthContext
	if req.Method == "tools/call" {
		if resolved, ok := h.Auth.Resolve(r); ok {
			ac = resolved
		}
	}

	resp := h.Dispatcher.Handle(r.Context(), &req, ac)

	attrs := append(auth.RequestAttrs(r), "rpc_method", req.Method, "authenticated", ac != nil)
	if resp.Error != nil {
		attrs = append(attrs, "rpc_error", resp.Error.Code)
	}
	slog.Debug("mcp request handled", attrs...)

	if req.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	auth.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) parseError(w http.ResponseWriter, r *http.Request, err error) {
	slog.Warn("mcp: parse error", append(auth.RequestAttrs(r), "error", err)...)
	auth.WriteJSON(w, http.StatusBadRequest, errorResponse(nil, CodeParseError, "Parse error",
		map[string]string{"message": err.Error()}))
}

// Describe handles GET /mcp -- the capability descriptor. Only a personal token
// counts towards "authenticated" here, since that is what a client URL carries.
func (h *Handler) Describe(w http.ResponseWriter, r *http.Request) {
	authenticated := false
	if token := auth.PersonalTokenFromRequest(r); token != "" {
		_, authenticated = h.Auth.PersonalTokenSubject(r.Context(), token)
	}

	type authRequired struct {
		Message string `json:"message"`
		AuthURL string `json:"authUrl"`
	}
	res := struct {
		ProtocolVersion        string                 `json:"protocolVersion"`
		Capabilities           map[string]any         `json:"capabilities"`
		ServerInfo             *mcpsdk.Implementation `json:"serverInfo"`
		Authenticated          bool                   `json:"authenticated"`
		AuthenticationRequired *authRequired          `json:"authenticationRequired,omitempty"`
	}{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    listCapabilities(),
		ServerInfo:      serverInfo(),
		Authenticated:   authenticated,
	}
	if !authenticated {
		res.AuthenticationRequired = &authRequired{
			Message: "Please authenticate with Strava to access your data",
			AuthURL: h.BaseURL + "/auth",
		}
	}

	auth.WriteJSON(w, http.StatusOK, map[string]any{
		"jsonrpc": "2.0",
		"method":  "server/initialize",
		"result":  res,
	})
}

// Info handles GET / -- a machine-readable description of the server.
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	auth.WriteJSON(w, http.StatusOK, map[string]any{
		"name":            ServerName,
		"version":         ServerVersion,
		"description":     "Model Context Protocol server for Strava API with OAuth authentication",
		"protocol":        "mcp",
		"protocolVersion": ProtocolVersion,
		"capabilities":    listCapabilities(),
		"serverInfo":      serverInfo(),
		"endpoints": map[string]string{
			"auth":     "/auth",
			"callback": "/callback",
			"status":   "/status",
			"logout":   "/logout",
			"mcp":      "/mcp",
		},
		"authentication": map[string]any{
			"type":     "oauth2",
			"url":      h.BaseURL + "/auth",
			"required": true,
		},
		"transport":   "https",
		"mcpEndpoint": h.BaseURL + "/mcp",
	})
}

func listCapabilities() map[string]any {
	return map[string]any{"tools": map[string]any{"listChanged": false}}
}
