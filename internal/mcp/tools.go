// tools.go -- the static tool catalog returned by tools/list.
package mcp

import (
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool names.
const (
	ToolWelcome          = "welcome-strava-mcp"
	ToolAuthenticate     = "authenticate-strava"
	ToolRecentActivities = "get-recent-activities"
	ToolAthleteProfile   = "get-athlete-profile"
	ToolAthleteStats     = "get-athlete-stats"
	ToolActivityDetails  = "get-activity-details"
	ToolActivityStreams  = "get-activity-streams"
	ToolStarredSegments  = "get-starred-segments"
	ToolExploreSegments  = "explore-segments"
	ToolAthleteRoutes    = "get-athlete-routes"
)

// Argument defaults. maxPerPage is Strava's documented page-size limit.
const (
	defaultStreamTypes = "time,distance,heartrate,cadence,watts"
	defaultResolution  = "high"
	defaultPerPage     = 30
	maxPerPage         = 200
)

func objectSchema(properties map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	if properties == nil {
		properties = map[string]*jsonschema.Schema{}
	}
	return &jsonschema.Schema{Type: "object", Properties: properties, Required: required}
}

func noArgs() *jsonschema.Schema {
	return objectSchema(nil)
}

func prop(typ, description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: typ, Description: description}
}

// withDefault sets the schema default. v must marshal; all callers pass constants.
func withDefault(s *jsonschema.Schema, v any) *jsonschema.Schema {
	raw, _ := json.Marshal(v)
	s.Default = raw
	return s
}

func withEnum(s *jsonschema.Schema, values ...string) *jsonschema.Schema {
	for _, v := range values {
		s.Enum = append(s.Enum, v)
	}
	return s
}

// Catalog is the fixed list of tools, in the order tools/list returns them.
var Catalog = []*mcpsdk.Tool{
	{
		Name:        ToolWelcome,
		Description: "Welcome message and setup instructions for new users. Use this first to help users get started.",
		InputSchema: noArgs(),
	},
	{
		Name:        ToolAuthenticate,
		Description: "Get the Strava OAuth authentication URL to connect your account",
		InputSchema: noArgs(),
	},
	{
		Name:        ToolRecentActivities,
		Description: "Get recent Strava activities for the authenticated athlete",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"per_page": withDefault(prop("number", "Number of activities to retrieve (max 200)"), defaultPerPage),
		}),
	},
	{
		Name:        ToolAthleteProfile,
		Description: "Get the authenticated athlete profile information",
		InputSchema: noArgs(),
	},
	{
		Name:        ToolAthleteStats,
		Description: "Get athlete activity statistics (recent, YTD, all-time)",
		InputSchema: noArgs(),
	},
	{
		Name:        ToolActivityDetails,
		Description: "Get detailed information about a specific activity",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"activityId": prop("number", "The unique identifier of the activity"),
		}, "activityId"),
	},
	{
		Name:        ToolActivityStreams,
		Description: "Get time-series data streams from a Strava activity",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"id":         prop("number", "The Strava activity identifier"),
			"types":      withDefault(prop("string", "Comma-separated list of stream types"), defaultStreamTypes),
			"resolution": withDefault(withEnum(prop("string", "Data resolution"), "low", "medium", "high"), defaultResolution),
		}, "id"),
	},
	{
		Name:        ToolStarredSegments,
		Description: "List the segments starred by the authenticated athlete",
		InputSchema: noArgs(),
	},
	{
		Name:        ToolExploreSegments,
		Description: "Explore popular segments in a geographical area",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"bounds":        prop("string", "Comma-separated: south_west_lat,south_west_lng,north_east_lat,north_east_lng"),
			"activity_type": withEnum(prop("string", "Filter by activity type"), "running", "riding"),
		}, "bounds"),
	},
	{
		Name:        ToolAthleteRoutes,
		Description: "List routes created by the authenticated athlete",
		InputSchema: objectSchema(map[string]*jsonschema.Schema{
			"page":     withDefault(prop("number", "Page number for pagination"), 1),
			"per_page": withDefault(prop("number", "Number of routes per page"), defaultPerPage),
		}),
	},
}
