// dispatcher.go -- JSON-RPC method dispatch and tool execution.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/radiansnail-1/strava-mcp-oauth/internal/auth"
)

// API is the Strava surface the tools need. Satisfied by *strava.Client.
type API interface {
	GetJSON(ctx context.Context, path, token string, params url.Values) (json.RawMessage, error)
}

// Dispatcher answers JSON-RPC requests. Safe for concurrent use.
type Dispatcher struct {
	API API
	// KV receives pending_auth records written by the authenticate tool.
	KV auth.KV
	// BaseURL is the public origin used in login links.
	BaseURL string

	// Now is overridable in tests.
	Now func() time.Time
}

// Handle dispatches one request. ac is nil when the caller is not authenticated;
// it is only consulted by tools/call.
func (d *Dispatcher) Handle(ctx context.Context, req *Request, ac *auth.AuthContext) *Response {
	switch req.Method {
	case "initialize":
		return result(req.ID, initializeResult())
	case "tools/list":
		return result(req.ID, map[string]any{"tools": Catalog})
	case "tools/call":
		return d.callTool(ctx, req, ac)
	case "notifications/initialized", "ping":
		return result(req.ID, struct{}{})
	default:
		return errorResponse(req.ID, CodeMethodNotFound, "Method not found", map[string]string{"method": req.Method})
	}
}

// toolCall is the params object of tools/call.
type toolCall struct {
	Name      string `json:"name"`
	Arguments args   `json:"arguments"`
}

// invalidParamsError marks a bad or missing tool argument.
type invalidParamsError struct{ msg string }

func (e *invalidParamsError) Error() string { return e.msg }

func invalidParams(format string, a ...any) error {
	return &invalidParamsError{fmt.Sprintf(format, a...)}
}

func (d *Dispatcher) callTool(ctx context.Context, req *Request, ac *auth.AuthContext) *Response {
	var call toolCall
	if len(req.Params) > 0 {
		dec := json.NewDecoder(bytes.NewReader(req.Params))
		dec.UseNumber()
		if err := dec.Decode(&call); err != nil {
			return errorResponse(req.ID, CodeInvalidParams, "Invalid params", map[string]string{"message": err.Error()})
		}
	}
	if call.Name == "" {
		return errorResponse(req.ID, CodeInvalidParams, "Invalid params", map[string]string{"message": "Tool name is required"})
	}

	// The gate applies to every tool name, known or not.
	if ac == nil || ac.Token == "" || ac.Session == nil {
		return result(req.ID, textResult(d.authRequiredText(call.Name)))
	}

	res, err := d.runTool(ctx, call, ac)
	if err != nil {
		var pe *invalidParamsError
		switch {
		case errors.Is(err, errToolNotFound):
			return errorResponse(req.ID, CodeMethodNotFound, "Tool not found", map[string]string{"tool": call.Name})
		case errors.As(err, &pe):
			return errorResponse(req.ID, CodeInvalidParams, "Invalid params", map[string]string{"message": pe.msg, "tool": call.Name})
		default:
			slog.Warn("mcp: tool execution failed", "tool", call.Name, "subject_id", ac.SubjectID, "error", err)
			return errorResponse(req.ID, CodeInternalError, "Tool execution failed", map[string]string{"message": err.Error(), "tool": call.Name})
		}
	}
	return result(req.ID, res)
}

var errToolNotFound = errors.New("tool not found")

// runTool executes one authenticated tool call.
func (d *Dispatcher) runTool(ctx context.Context, call toolCall, ac *auth.AuthContext) (ToolResult, error) {
	a := call.Arguments
	athleteID := strconv.FormatInt(ac.Session.AthleteID, 10)

	var (
		path   string
		params url.Values
	)
	switch call.Name {
	case ToolWelcome:
		return textResult(welcomeText(ac)), nil

	case ToolAuthenticate:
		return d.startClientLogin(ctx)

	case ToolRecentActivities:
		perPage, err := a.perPage("per_page", defaultPerPage)
		if err != nil {
			return ToolResult{}, err
		}
		path, params = "/athlete/activities", url.Values{"per_page": {strconv.FormatInt(perPage, 10)}}

	case ToolAthleteProfile:
		path = "/athlete"

	case ToolAthleteStats:
		path = "/athletes/" + athleteID + "/stats"

	case ToolActivityDetails:
		id, err := a.requiredID("activityId")
		if err != nil {
			return ToolResult{}, err
		}
		path = "/activities/" + strconv.FormatInt(id, 10)

	case ToolActivityStreams:
		id, err := a.requiredID("id")
		if err != nil {
			return ToolResult{}, err
		}
		path = "/activities/" + strconv.FormatInt(id, 10) + "/streams"
		params = url.Values{
			"keys":        {a.stringOr("types", defaultStreamTypes)},
			"key_by_type": {"true"},
			"resolution":  {a.stringOr("resolution", defaultResolution)},
		}

	case ToolStarredSegments:
		path = "/segments/starred"

	case ToolExploreSegments:
		bounds := a.stringOr("bounds", "")
		if bounds == "" {
			return ToolResult{}, invalidParams("bounds is required")
		}
		path, params = "/segments/explore", url.Values{"bounds": {bounds}}
		if t := a.stringOr("activity_type", ""); t != "" {
			params.Set("activity_type", t)
		}

	case ToolAthleteRoutes:
		path, params = "/athletes/"+athleteID+"/routes", url.Values{}
		if page, ok, err := a.integer("page"); err != nil {
			return ToolResult{}, err
		} else if ok && page > 0 {
			params.Set("page", strconv.FormatInt(page, 10))
		}
		if perPage, ok, err := a.integer("per_page"); err != nil {
			return ToolResult{}, err
		} else if ok && perPage > 0 {
			params.Set("per_page", strconv.FormatInt(min(perPage, maxPerPage), 10))
		}

	default:
		return ToolResult{}, errToolNotFound
	}

	raw, err := d.API.GetJSON(ctx, path, ac.Token, params)
	if err != nil {
		return ToolResult{}, err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return ToolResult{}, fmt.Errorf("formatting %s response: %w", path, err)
	}
	return textResult(pretty.String()), nil
}

// startClientLogin records a pending login for a fresh client session id and
// returns the link that carries it through /auth.
func (d *Dispatcher) startClientLogin(ctx context.Context) (ToolResult, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return ToolResult{}, fmt.Errorf("generating client session id: %w", err)
	}
	sessionID := id.String()

	rec := auth.PendingAuth{CreatedAt: d.now().Unix(), Status: "pending"}
	if err := auth.PutJSON(ctx, d.KV, auth.PendingAuthPrefix+sessionID, rec, auth.PendingAuthTTL); err != nil {
		return ToolResult{}, fmt.Errorf("storing pending auth: %w", err)
	}

	authURL := d.BaseURL + "/auth?" + url.Values{"session": {sessionID}}.Encode()
	res := textResult("🔐 **Strava Authentication Required**\n\n" +
		"To access your Strava data, please authenticate first:\n\n" +
		"👉 [Connect your Strava account](" + authURL + ")\n\n" +
		"📄 **Instructions:**\n" +
		"1. Click the link above to authenticate with Strava\n" +
		"2. After authentication, come back and try your request again\n" +
		"3. No need to update any URLs - just ask for your Strava data!\n\n" +
		"🔄 **Then try:** \"Show me my recent Strava activities\"")
	res.UserSession = sessionID
	return res, nil
}

func (d *Dispatcher) authRequiredText(tool string) string {
	return "🔐 **Authentication Required**\n\n" +
		"To use " + tool + ", please connect your Strava account first:\n\n" +
		"👉 [Authenticate with Strava](" + d.BaseURL + "/auth)\n\n" +
		"This will allow the AI to access your Strava data securely. " +
		"Each user authenticates with their own account - your data stays private!\n\n" +
		"After authentication, try your request again."
}

func welcomeText(ac *auth.AuthContext) string {
	name := "athlete"
	if ac.Session.Athlete != nil && ac.Session.Athlete.Firstname != "" {
		name = ac.Session.Athlete.Firstname
	}
	return "🎉 **Welcome back, " + name + "!**\n\n" +
		"Your Strava account is connected and ready to use.\n\n" +
		"🏃 **Try asking me:**\n" +
		"• \"Show me my recent activities\"\n" +
		"• \"What was my heart rate data from my last run?\"\n" +
		"• \"Get the power profile for my weekend ride\"\n" +
		"• \"Find challenging climbs near Boulder, Colorado\"\n\n" +
		"📊 I can access all your Strava data including activities, segments, routes, and stats!"
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// args are tool arguments decoded with json.Number for numbers.
type args map[string]any

// integer returns the named argument as an integer. JSON numbers and numeric
// strings are accepted; ok is false when the argument is absent or null.
func (a args) integer(name string) (n int64, ok bool, err error) {
	v, present := a[name]
	if !present || v == nil {
		return 0, false, nil
	}
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
	default:
		return 0, false, invalidParams("%s must be a number", name)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true, nil
	}
	// Accept integral floats such as 30.0.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, false, invalidParams("%s must be an integer", name)
	}
	return int64(f), true, nil
}

// requiredID returns a positive integer argument or an invalid-params error.
func (a args) requiredID(name string) (int64, error) {
	id, ok, err := a.integer(name)
	if err != nil {
		return 0, err
	}
	if !ok || id <= 0 {
		return 0, invalidParams("%s is required", name)
	}
	return id, nil
}

// perPage returns the page size, defaulting when absent and capped at maxPerPage.
func (a args) perPage(name string, def int64) (int64, error) {
	n, ok, err := a.integer(name)
	if err != nil {
		return 0, err
	}
	if !ok || n <= 0 {
		return def, nil
	}
	return min(n, maxPerPage), nil
}

// stringOr returns the named string argument, or def when absent or empty.
func (a args) stringOr(name, def string) string {
	if s, ok := a[name].(string); ok && s != "" {
		return s
	}
	return def
}
