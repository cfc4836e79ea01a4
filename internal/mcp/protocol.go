// Package mcp serves the Model Context Protocol over plain JSON-RPC 2.0 POSTs.
//
// protocol.go -- JSON-RPC envelopes, error codes, and the fixed server descriptor.
// Result payloads are the SDK's protocol types; the envelope and HTTP binding
// are ours because the endpoint answers parse errors with HTTP 400 and
// notifications with 202, which the SDK transports do not.
package mcp

import (
	"encoding/json"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Fixed server descriptor values.
const (
	ProtocolVersion = "2024-11-05"
	ServerName      = "Strava MCP Server"
	ServerVersion   = "1.0.0"
)

// Request is one JSON-RPC call. ID is kept raw so it round-trips unchanged;
// an absent ID marks a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the caller expects no response.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Response carries exactly one of Result or Error. A nil ID encodes as null.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is the JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func result(id json.RawMessage, v any) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: v}
}

func errorResponse(id json.RawMessage, code int, message string, data any) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: message, Data: data}}
}

// serverInfo is the serverInfo object of initialize and of the GET descriptors.
func serverInfo() *mcpsdk.Implementation {
	return &mcpsdk.Implementation{Name: ServerName, Version: ServerVersion}
}

func initializeResult() *mcpsdk.InitializeResult {
	return &mcpsdk.InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    &mcpsdk.ServerCapabilities{Tools: &mcpsdk.ToolCapabilities{}},
		ServerInfo:      serverInfo(),
	}
}

// ToolResult is the result of tools/call. UserSession is set by the
// authenticate tool so the client can correlate the login it started.
type ToolResult struct {
	mcpsdk.CallToolResult
	UserSession string
}

// MarshalJSON writes the tool result fields with userSession alongside them.
func (r ToolResult) MarshalJSON() ([]byte, error) {
	content := r.Content
	if content == nil {
		content = []mcpsdk.Content{}
	}
	return json.Marshal(struct {
		Content     []mcpsdk.Content `json:"content"`
		IsError     bool             `json:"isError,omitempty"`
		UserSession string           `json:"userSession,omitempty"`
	}{content, r.IsError, r.UserSession})
}

func textResult(text string) ToolResult {
	return ToolResult{CallToolResult: mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
	}}
}
