// Package api is the authenticated REST pass-through to the Strava API.
// Every route runs behind auth.Resolver.RequireAuth and forwards to one
// upstream endpoint with the caller's access token.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/radiansnail-1/strava-mcp-oauth/internal/auth"
	"github.com/radiansnail-1/strava-mcp-oauth/internal/strava"
)

const (
	defaultPerPage = 30
	maxPerPage     = 200
)

// Strava is the upstream surface the proxy uses. Satisfied by *strava.Client.
type Strava interface {
	GetJSON(ctx context.Context, path, token string, params url.Values) (json.RawMessage, error)
	PutJSON(ctx context.Context, path, token string, body any) (json.RawMessage, error)
	Do(ctx context.Context, method, path, token string, params url.Values, body any) (*http.Response, error)
}

// Handler serves /api/*.
type Handler struct {
	Strava Strava
}

// Mount registers every route on r. The caller applies RequireAuth.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/athlete/profile", h.AthleteProfile)
	r.Get("/athlete/stats", h.AthleteStats)
	r.Get("/athlete/zones", h.AthleteZones)

	r.Get("/activities/recent", h.RecentActivities)
	r.Get("/activities/all", h.AllActivities)
	r.Get("/activities/{id}", h.ActivityDetails)
	r.Get("/activities/{id}/streams", h.ActivityStreams)
	r.Get("/activities/{id}/laps", h.ActivityLaps)

	r.Get("/segments/starred", h.StarredSegments)
	r.Get("/segments/explore", h.ExploreSegments)
	r.Get("/segments/efforts/{id}", h.SegmentEffort)
	r.Get("/segments/{id}", h.Segment)
	r.Post("/segments/{id}/star", h.StarSegment)
	r.Get("/segments/{id}/efforts", h.SegmentEfforts)

	r.Get("/routes", h.AthleteRoutes)
	r.Get("/routes/{id}", h.Route)
	r.Get("/routes/{id}/export/gpx", h.ExportRouteGPX)
	r.Get("/routes/{id}/export/tcx", h.ExportRouteTCX)

	r.Get("/clubs", h.AthleteClubs)
}

// --- Athlete ---

func (h *Handler) AthleteProfile(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, "get athlete profile", "/athlete", nil)
}

func (h *Handler) AthleteStats(w http.ResponseWriter, r *http.Request) {
	ac, ok := identity(w, r)
	if !ok {
		return
	}
	h.forward(w, r, "get athlete stats", "/athletes/"+strconv.FormatInt(ac.Session.AthleteID, 10)+"/stats", nil)
}

func (h *Handler) AthleteZones(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, "get athlete zones", "/athlete/zones", nil)
}

func (h *Handler) AthleteClubs(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, "get athlete clubs", "/athlete/clubs", nil)
}

// --- Activities ---

func (h *Handler) RecentActivities(w http.ResponseWriter, r *http.Request) {
	params := url.Values{"per_page": {strconv.FormatInt(perPage(r, defaultPerPage), 10)}}
	h.forward(w, r, "get recent activities", "/athlete/activities", params)
}

func (h *Handler) AllActivities(w http.ResponseWriter, r *http.Request) {
	page, _ := queryInt(r, "page")
	params := url.Values{
		"page":     {strconv.FormatInt(max(page, 1), 10)},
		"per_page": {strconv.FormatInt(perPage(r, defaultPerPage), 10)},
	}
	h.forward(w, r, "get all activities", "/athlete/activities", params)
}

func (h *Handler) ActivityDetails(w http.ResponseWriter, r *http.Request) {
	if id, ok := pathID(w, r, "activity"); ok {
		h.forward(w, r, "get activity details", "/activities/"+id, nil)
	}
}

func (h *Handler) ActivityStreams(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "activity")
	if !ok {
		return
	}
	params := url.Values{
		"keys":        {queryOr(r, "types", "time,distance,heartrate,cadence,watts")},
		"key_by_type": {"true"},
		"resolution":  {queryOr(r, "resolution", "high")},
		"series_type": {queryOr(r, "series_type", "distance")},
	}
	h.forward(w, r, "get activity streams", "/activities/"+id+"/streams", params)
}

func (h *Handler) ActivityLaps(w http.ResponseWriter, r *http.Request) {
	if id, ok := pathID(w, r, "activity"); ok {
		h.forward(w, r, "get activity laps", "/activities/"+id+"/laps", nil)
	}
}

// --- Segments ---

func (h *Handler) StarredSegments(w http.ResponseWriter, r *http.Request) {
	h.forward(w, r, "get starred segments", "/segments/starred", nil)
}

func (h *Handler) ExploreSegments(w http.ResponseWriter, r *http.Request) {
	bounds := r.URL.Query().Get("bounds")
	if bounds == "" {
		auth.BadRequest(w, r, "Missing bounds parameter")
		return
	}
	params := url.Values{"bounds": {bounds}}
	copyQuery(r, params, "activity_type", "min_cat", "max_cat")
	h.forward(w, r, "explore segments", "/segments/explore", params)
}

func (h *Handler) Segment(w http.ResponseWriter, r *http.Request) {
	if id, ok := pathID(w, r, "segment"); ok {
		h.forward(w, r, "get segment", "/segments/"+id, nil)
	}
}

// StarSegment handles POST /segments/{id}/star with body {"starred": bool}.
func (h *Handler) StarSegment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "segment")
	if !ok {
		return
	}
	var body struct {
		Starred *bool `json:"starred"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&body); err != nil || body.Starred == nil {
		auth.BadRequest(w, r, "Missing or invalid starred parameter")
		return
	}
	ac, ok := identity(w, r)
	if !ok {
		return
	}
	data, err := h.Strava.PutJSON(r.Context(), "/segments/"+id+"/starred", ac.Token, map[string]bool{"starred": *body.Starred})
	if err != nil {
		upstreamError(w, r, "star segment", err)
		return
	}
	writeRaw(w, data)
}

func (h *Handler) SegmentEffort(w http.ResponseWriter, r *http.Request) {
	if id, ok := pathID(w, r, "effort"); ok {
		h.forward(w, r, "get segment effort", "/segment_efforts/"+id, nil)
	}
}

func (h *Handler) SegmentEfforts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "segment")
	if !ok {
		return
	}
	params := url.Values{"segment_id": {id}}
	copyQuery(r, params, "start_date_local", "end_date_local")
	if n, ok := queryInt(r, "per_page"); ok && n > 0 {
		params.Set("per_page", strconv.FormatInt(min(n, maxPerPage), 10))
	}
	h.forward(w, r, "get segment efforts", "/segment_efforts", params)
}

// --- Routes ---

func (h *Handler) AthleteRoutes(w http.ResponseWriter, r *http.Request) {
	ac, ok := identity(w, r)
	if !ok {
		return
	}
	params := url.Values{}
	if page, ok := queryInt(r, "page"); ok {
		params.Set("page", strconv.FormatInt(max(page, 1), 10))
	}
	if n, ok := queryInt(r, "per_page"); ok && n > 0 {
		params.Set("per_page", strconv.FormatInt(min(n, maxPerPage), 10))
	}
	h.forward(w, r, "get athlete routes", "/athletes/"+strconv.FormatInt(ac.Session.AthleteID, 10)+"/routes", params)
}

func (h *Handler) Route(w http.ResponseWriter, r *http.Request) {
	if id, ok := pathID(w, r, "route"); ok {
		h.forward(w, r, "get route", "/routes/"+id, nil)
	}
}

func (h *Handler) ExportRouteGPX(w http.ResponseWriter, r *http.Request) {
	h.exportRoute(w, r, "gpx", "application/gpx+xml")
}

func (h *Handler) ExportRouteTCX(w http.ResponseWriter, r *http.Request) {
	h.exportRoute(w, r, "tcx", "application/tcx+xml")
}

// exportRoute streams the upstream file straight to the client as an attachment.
func (h *Handler) exportRoute(w http.ResponseWriter, r *http.Request, format, contentType string) {
	id, ok := pathID(w, r, "route")
	if !ok {
		return
	}
	ac, ok := identity(w, r)
	if !ok {
		return
	}
	resp, err := h.Strava.Do(r.Context(), http.MethodGet, "/routes/"+id+"/export_"+format, ac.Token, nil, nil)
	if err != nil {
		upstreamError(w, r, "export route "+format, err)
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="route_%s.%s"`, id, format))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, resp.Body); err != nil {
		slog.Warn("api: route export copy failed", append(auth.RequestAttrs(r), "error", err)...)
	}
}

// --- helpers ---

// forward performs one authenticated GET and writes the upstream JSON unchanged.
func (h *Handler) forward(w http.ResponseWriter, r *http.Request, what, path string, params url.Values) {
	ac, ok := identity(w, r)
	if !ok {
		return
	}
	data, err := h.Strava.GetJSON(r.Context(), path, ac.Token, params)
	if err != nil {
		upstreamError(w, r, what, err)
		return
	}
	writeRaw(w, data)
}

// identity returns the AuthContext injected by RequireAuth, or writes 401.
func identity(w http.ResponseWriter, r *http.Request) (*auth.AuthContext, bool) {
	ac, ok := auth.FromContext(r.Context())
	if !ok || ac.Session == nil {
		auth.Unauthorized(w, r, "Connect your Strava account at /auth, or pass your personal token.")
		return nil, false
	}
	return ac, true
}

// upstreamError maps a Strava failure: API errors become 502 with the upstream
// status, anything else a generic 500.
func upstreamError(w http.ResponseWriter, r *http.Request, what string, err error) {
	var apiErr *strava.APIError
	if errors.As(err, &apiErr) {
		slog.Warn("api: strava request failed", append(auth.RequestAttrs(r), "context", what, "status", apiErr.Status, "error", err)...)
		auth.WriteJSON(w, http.StatusBadGateway, struct {
			Error   string `json:"error"`
			Status  int    `json:"status"`
			Message string `json:"message"`
			Context string `json:"context"`
		}{"Strava API error", apiErr.Status, apiErr.StatusText, what})
		return
	}
	auth.InternalServerError(w, r, fmt.Errorf("%s: %w", what, err))
}

func writeRaw(w http.ResponseWriter, data json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// pathID returns the {id} URL param if it is a positive integer, otherwise writes 400.
func pathID(w http.ResponseWriter, r *http.Request, kind string) (string, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		auth.BadRequest(w, r, "Invalid "+kind+" ID")
		return "", false
	}
	return strconv.FormatInt(id, 10), true
}

// queryInt parses an integer query parameter; ok is false when absent or malformed.
func queryInt(r *http.Request, name string) (int64, bool) {
	n, err := strconv.ParseInt(r.URL.Query().Get(name), 10, 64)
	return n, err == nil
}

// perPage returns per_page capped at maxPerPage, or def when absent or invalid.
func perPage(r *http.Request, def int64) int64 {
	n, ok := queryInt(r, "per_page")
	if !ok || n <= 0 {
		return def
	}
	return min(n, maxPerPage)
}

func queryOr(r *http.Request, name, def string) string {
	if v := r.URL.Query().Get(name); v != "" {
		return v
	}
	return def
}

// copyQuery copies the named query parameters into params when present.
func copyQuery(r *http.Request, params url.Values, names ...string) {
	q := r.URL.Query()
	for _, name := range names {
		if v := q.Get(name); v != "" {
			params.Set(name, v)
		}
	}
}
